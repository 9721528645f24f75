package control

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zhouzirui/morviq/gateway/internal/model/session"
)

// Command verbs of the renderer control protocol.
const (
	CommandCamera   = "CAMERA"
	CommandTimeStep = "TIMESTEP"
	CommandQuality  = "QUALITY"
)

// FormatCamera renders `CAMERA p0,...,p15;v0,...,v15;W H`.
func FormatCamera(projection, view []float64, viewport session.Viewport) string {
	return fmt.Sprintf("%s %s;%s;%d %d",
		CommandCamera, joinFixed(projection), joinFixed(view), viewport.Width, viewport.Height)
}

// FormatTimeStep renders `TIMESTEP n` with n = max(0, floor(t)).
func FormatTimeStep(t float64) string {
	return fmt.Sprintf("%s %d", CommandTimeStep, session.ClampTimeStep(t))
}

// FormatQuality renders `QUALITY q`.
func FormatQuality(q session.Quality) string {
	return CommandQuality + " " + string(q)
}

func joinFixed(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		if v == 0 {
			v = 0 // normalize -0
		}
		parts[i] = strconv.FormatFloat(v, 'f', 6, 64)
	}
	return strings.Join(parts, ",")
}
