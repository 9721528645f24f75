package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhouzirui/morviq/gateway/internal/metrics"
	model "github.com/zhouzirui/morviq/gateway/internal/model/session"
)

// Inbound message kinds.
const (
	TypeCamera           = "camera"
	TypeTransferFunction = "transferFunction"
	TypeDataset          = "dataset"
	TypeTimeStep         = "timeStep"
	TypeQuality          = "quality"
	TypeOverlays         = "overlays"
	TypeHeartbeat        = "heartbeat"
)

// Outbound message kinds.
const (
	TypeFullState   = "fullState"
	TypeStateUpdate = "stateUpdate"
)

// Close codes used when a session tears its connections down.
const (
	CloseNormal        = 1000
	ReasonSessionEnded = "Session ended"
)

var errUnrecognizedType = errors.New("unrecognized message type")

// Message is an inbound viewer edit.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound is what a session sends to attached connections.
type Outbound struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Conn is one attached real-time connection.
type Conn interface {
	// Open reports whether the connection can currently accept writes.
	Open() bool
	Send(data []byte) error
	Close(code int, reason string) error
}

// Renderer receives the state changes that affect rendering.
type Renderer interface {
	SetCamera(projection, view []float64, viewport model.Viewport)
	SetTimeStep(t float64)
	SetQuality(q model.Quality)
}

// Session is one shared visualization context. All mutation and the
// broadcast that follows it happen under mu, so every attached connection
// observes deltas in the same order.
type Session struct {
	id       string
	userID   string
	renderer Renderer

	// lastActivity is Unix nanoseconds, readable without mu.
	lastActivity atomic.Int64

	mu        sync.Mutex
	state     model.State
	clients   map[Conn]struct{}
	destroyed bool
}

// New creates a session with the default state. renderer may be nil.
func New(id, userID string, renderer Renderer) *Session {
	s := &Session{
		id:       id,
		userID:   userID,
		renderer: renderer,
		state:    model.DefaultState(),
		clients:  make(map[Conn]struct{}),
	}
	s.touch(time.Now())
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the optional user identifier.
func (s *Session) UserID() string { return s.userID }

// LastActivity returns the time of the last inbound message or attachment.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) touch(t time.Time) {
	s.lastActivity.Store(t.UnixNano())
}

// ClientCount returns the number of attached connections.
func (s *Session) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Snapshot returns a deep copy of the current state.
func (s *Session) Snapshot() model.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Attach adds conn and sends it the full state.
func (s *Session) Attach(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		_ = conn.Close(CloseNormal, ReasonSessionEnded)
		return
	}

	if !conn.Open() {
		return
	}
	s.clients[conn] = struct{}{}
	s.touch(time.Now())

	data, err := json.Marshal(Outbound{Type: TypeFullState, Data: s.state})
	if err != nil {
		log.Printf("[session] marshal full state session=%s: %v", s.id, err)
		return
	}
	if err := conn.Send(data); err != nil {
		log.Printf("[session] send full state session=%s: %v", s.id, err)
	}
}

// Detach removes conn. Unknown connections are ignored.
func (s *Session) Detach(conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, conn)
}

// HandleMessage applies one viewer message and broadcasts the resulting delta.
// Undecodable payloads and unknown kinds are logged and dropped.
func (s *Session) HandleMessage(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	s.touch(time.Now())

	if err := s.applyLocked(msg); err != nil {
		log.Printf("[session] dropped %s message session=%s: %v", msg.Type, s.id, err)
		return
	}
	metrics.RecordSessionMessage(msg.Type)
}

func (s *Session) applyLocked(msg Message) error {
	switch msg.Type {
	case TypeCamera:
		var patch model.CameraPatch
		if err := decode(msg.Data, &patch); err != nil {
			return err
		}
		camera, rejected := patch.Apply(s.state.Camera)
		if len(rejected) > 0 {
			log.Printf("[session] ignoring malformed camera fields session=%s fields=%s", s.id, strings.Join(rejected, ","))
		}
		s.state.Camera = camera
		if s.renderer != nil {
			s.renderer.SetCamera(camera.Projection, camera.View, camera.Viewport)
		}
		s.broadcastUpdateLocked("camera", s.state.Camera)

	case TypeTransferFunction:
		var patch model.TransferFunctionPatch
		if err := decode(msg.Data, &patch); err != nil {
			return err
		}
		s.state.TransferFunction = patch.Apply(s.state.TransferFunction)
		s.broadcastUpdateLocked("transferFunction", s.state.TransferFunction)

	case TypeDataset:
		var dataset string
		if err := decode(msg.Data, &dataset); err != nil {
			return err
		}
		s.state.Dataset = dataset
		s.broadcastUpdateLocked("dataset", s.state.Dataset)

	case TypeTimeStep:
		var t float64
		if err := decode(msg.Data, &t); err != nil {
			return err
		}
		s.state.TimeStep = model.ClampTimeStep(t)
		if s.renderer != nil {
			s.renderer.SetTimeStep(t)
		}
		s.broadcastUpdateLocked("timeStep", s.state.TimeStep)

	case TypeQuality:
		var q model.Quality
		if err := decode(msg.Data, &q); err != nil {
			return err
		}
		if !q.Valid() {
			return fmt.Errorf("unknown quality %q", q)
		}
		s.state.RenderQuality = q
		if s.renderer != nil {
			s.renderer.SetQuality(q)
		}
		s.broadcastUpdateLocked("renderQuality", s.state.RenderQuality)

	case TypeOverlays:
		var patch map[string]bool
		if err := decode(msg.Data, &patch); err != nil {
			return err
		}
		s.state.Overlays = model.MergeOverlays(s.state.Overlays, patch)
		s.broadcastUpdateLocked("overlays", s.state.Overlays)

	case TypeHeartbeat:
		s.broadcastLocked(Outbound{Type: TypeHeartbeat, Timestamp: time.Now().UnixMilli()})

	default:
		return errUnrecognizedType
	}
	return nil
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing data")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func (s *Session) broadcastUpdateLocked(key string, value any) {
	s.broadcastLocked(Outbound{Type: TypeStateUpdate, Data: map[string]any{key: value}})
}

// Broadcast sends msg to every open connection. Delivery is at most once:
// closed connections are skipped and failed writes are not retried.
func (s *Session) Broadcast(msg Outbound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(msg)
}

func (s *Session) broadcastLocked(msg Outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[session] marshal broadcast session=%s: %v", s.id, err)
		return
	}
	metrics.RecordBroadcast()
	for conn := range s.clients {
		if !conn.Open() {
			continue
		}
		if err := conn.Send(data); err != nil {
			log.Printf("[session] broadcast write failed session=%s: %v", s.id, err)
		}
	}
}

// Teardown closes every attached connection and marks the session destroyed.
func (s *Session) Teardown(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.destroyed = true
	for conn := range s.clients {
		if err := conn.Close(code, reason); err != nil {
			log.Printf("[session] close connection session=%s: %v", s.id, err)
		}
	}
	clear(s.clients)
}
