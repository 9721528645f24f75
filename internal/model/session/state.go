package session

import (
	"maps"
	"math"
)

// Quality is the renderer quality preset.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// Valid reports whether q is one of the known presets.
func (q Quality) Valid() bool {
	switch q {
	case QualityLow, QualityMedium, QualityHigh:
		return true
	}
	return false
}

// Viewport is the output image size in pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Camera holds column-major 4x4 projection and view matrices.
type Camera struct {
	Projection []float64 `json:"projection"`
	View       []float64 `json:"view"`
	Viewport   Viewport  `json:"viewport"`
}

// OpacityPoint is one control point of the opacity ramp.
type OpacityPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TransferFunction maps scalar values to color and opacity.
type TransferFunction struct {
	ColorMap      string         `json:"colorMap"`
	OpacityPoints []OpacityPoint `json:"opacityPoints"`
	Range         [2]float64     `json:"range"`
}

// State is the shared visualization document of a session.
type State struct {
	Camera           Camera           `json:"camera"`
	TransferFunction TransferFunction `json:"transferFunction"`
	Dataset          string           `json:"dataset"`
	TimeStep         int              `json:"timeStep"`
	RenderQuality    Quality          `json:"renderQuality"`
	Overlays         map[string]bool  `json:"overlays"`
}

// ClampTimeStep floors t and clamps it to the non-negative int32 range.
// NaN maps to zero.
func ClampTimeStep(t float64) int {
	if math.IsNaN(t) || t <= 0 {
		return 0
	}
	if t >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Floor(t))
}

// MatrixSize is the element count of a 4x4 matrix.
const MatrixSize = 16

// DefaultState returns the document every new session starts from.
func DefaultState() State {
	return State{
		Camera: Camera{
			Projection: []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1},
			View:       []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, -5, 1},
			Viewport:   Viewport{Width: 1280, Height: 720},
		},
		TransferFunction: TransferFunction{
			ColorMap:      "viridis",
			OpacityPoints: []OpacityPoint{{X: 0, Y: 0}, {X: 1, Y: 1}},
			Range:         [2]float64{0, 1},
		},
		Dataset:       "default",
		TimeStep:      0,
		RenderQuality: QualityMedium,
		Overlays: map[string]bool{
			"paths":    false,
			"barriers": false,
			"hotSpots": false,
		},
	}
}

// Clone returns a copy that shares no slices or maps with s.
func (s State) Clone() State {
	out := s
	out.Camera = s.Camera.Clone()
	out.TransferFunction = s.TransferFunction.Clone()
	out.Overlays = maps.Clone(s.Overlays)
	return out
}

// Clone returns a deep copy of the camera.
func (c Camera) Clone() Camera {
	out := c
	out.Projection = append([]float64(nil), c.Projection...)
	out.View = append([]float64(nil), c.View...)
	return out
}

// Clone returns a deep copy of the transfer function.
func (t TransferFunction) Clone() TransferFunction {
	out := t
	out.OpacityPoints = append([]OpacityPoint(nil), t.OpacityPoints...)
	return out
}

// CameraPatch is a partial camera update; nil fields are left untouched.
type CameraPatch struct {
	Projection []float64 `json:"projection,omitempty"`
	View       []float64 `json:"view,omitempty"`
	Viewport   *Viewport `json:"viewport,omitempty"`
}

// Apply shallow-merges p into c. Matrices that are not 4x4 are skipped and
// reported through the returned field names.
func (p CameraPatch) Apply(c Camera) (Camera, []string) {
	var rejected []string
	if p.Projection != nil {
		if len(p.Projection) == MatrixSize {
			c.Projection = append([]float64(nil), p.Projection...)
		} else {
			rejected = append(rejected, "projection")
		}
	}
	if p.View != nil {
		if len(p.View) == MatrixSize {
			c.View = append([]float64(nil), p.View...)
		} else {
			rejected = append(rejected, "view")
		}
	}
	if p.Viewport != nil {
		c.Viewport = *p.Viewport
	}
	return c, rejected
}

// TransferFunctionPatch is a partial transfer function update.
type TransferFunctionPatch struct {
	ColorMap      *string        `json:"colorMap,omitempty"`
	OpacityPoints []OpacityPoint `json:"opacityPoints,omitempty"`
	Range         *[2]float64    `json:"range,omitempty"`
}

// Apply shallow-merges p into t.
func (p TransferFunctionPatch) Apply(t TransferFunction) TransferFunction {
	if p.ColorMap != nil {
		t.ColorMap = *p.ColorMap
	}
	if p.OpacityPoints != nil {
		t.OpacityPoints = append([]OpacityPoint(nil), p.OpacityPoints...)
	}
	if p.Range != nil {
		t.Range = *p.Range
	}
	return t
}

// MergeOverlays returns a new toggle set with patch applied over current.
func MergeOverlays(current, patch map[string]bool) map[string]bool {
	out := maps.Clone(current)
	if out == nil {
		out = make(map[string]bool, len(patch))
	}
	maps.Copy(out, patch)
	return out
}
