package session

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	model "github.com/zhouzirui/morviq/gateway/internal/model/session"
	sessionService "github.com/zhouzirui/morviq/gateway/internal/service/session"
)

func setupRouter(maxSessions int) (*chi.Mux, *sessionService.Registry) {
	registry := sessionService.NewRegistry(sessionService.Options{
		MaxSessions:   maxSessions,
		Timeout:       time.Hour,
		SweepInterval: time.Minute,
	}, nil)
	handler := New(registry)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, registry
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestCreateSessionReturnsUrls(t *testing.T) {
	r, registry := setupRouter(10)

	resp := do(r, http.MethodPost, "/sessions", `{"userId":"alice"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body createResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.SessionID == "" || body.UserID != "alice" {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.StreamURL != "/api/stream?session="+body.SessionID {
		t.Fatalf("unexpected streamUrl %q", body.StreamURL)
	}
	if body.WebsocketURL != "/ws?session="+body.SessionID {
		t.Fatalf("unexpected websocketUrl %q", body.WebsocketURL)
	}
	if _, ok := registry.Get(body.SessionID); !ok {
		t.Fatal("session not registered")
	}
}

func TestCreateSessionWithoutBody(t *testing.T) {
	r, _ := setupRouter(10)

	for _, body := range []string{"", "not json"} {
		resp := do(r, http.MethodPost, "/sessions", body)
		if resp.Code != http.StatusOK {
			t.Fatalf("body %q: expected 200, got %d", body, resp.Code)
		}
		if strings.Contains(resp.Body.String(), "userId") {
			t.Fatalf("body %q: expected no userId, got %s", body, resp.Body.String())
		}
	}
}

func TestCreateSessionAtCapacity(t *testing.T) {
	r, _ := setupRouter(1)

	if resp := do(r, http.MethodPost, "/sessions", ""); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	resp := do(r, http.MethodPost, "/sessions", "")
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "Failed to create session") {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestGetSessionReturnsDefaultState(t *testing.T) {
	r, registry := setupRouter(10)
	s, _ := registry.Create("bob")

	resp := do(r, http.MethodGet, "/sessions/"+s.ID(), "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		ID           string      `json:"id"`
		UserID       string      `json:"userId"`
		LastActivity int64       `json:"lastActivity"`
		State        model.State `json:"state"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.ID != s.ID() || body.UserID != "bob" || body.LastActivity == 0 {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.State.Dataset != "default" || body.State.Camera.Viewport.Width != 1280 {
		t.Fatalf("unexpected state %+v", body.State)
	}
}

func TestListSessions(t *testing.T) {
	r, registry := setupRouter(10)
	registry.Create("a")
	registry.Create("b")

	resp := do(r, http.MethodGet, "/sessions", "")
	var body struct {
		Sessions []summary `json:"sessions"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(body.Sessions))
	}
}

func TestListSessionsEmptyIsArray(t *testing.T) {
	r, _ := setupRouter(10)

	resp := do(r, http.MethodGet, "/sessions", "")
	if got := strings.TrimSpace(resp.Body.String()); got != `{"sessions":[]}` {
		t.Fatalf("unexpected body %s", got)
	}
}

func TestDeleteSessionTwice(t *testing.T) {
	r, registry := setupRouter(10)
	s, _ := registry.Create("")

	resp := do(r, http.MethodDelete, "/sessions/"+s.ID(), "")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "Session deleted") {
		t.Fatalf("unexpected first delete: %d %s", resp.Code, resp.Body.String())
	}

	resp = do(r, http.MethodDelete, "/sessions/"+s.ID(), "")
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestPatchCameraUpdatesState(t *testing.T) {
	r, registry := setupRouter(10)
	s, _ := registry.Create("")

	payload, _ := json.Marshal(map[string]any{"viewport": map[string]int{"width": 800, "height": 600}})
	req := httptest.NewRequest(http.MethodPatch, "/sessions/"+s.ID()+"/camera", bytes.NewReader(payload))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "Camera updated") {
		t.Fatalf("unexpected response: %d %s", resp.Code, resp.Body.String())
	}
	if got := s.Snapshot().Camera.Viewport; got != (model.Viewport{Width: 800, Height: 600}) {
		t.Fatalf("unexpected viewport %+v", got)
	}
}

func TestPatchTransferFunctionAndOverlays(t *testing.T) {
	r, registry := setupRouter(10)
	s, _ := registry.Create("")

	resp := do(r, http.MethodPatch, "/sessions/"+s.ID()+"/transfer-function", `{"colorMap":"plasma"}`)
	if !strings.Contains(resp.Body.String(), "Transfer function updated") {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
	resp = do(r, http.MethodPatch, "/sessions/"+s.ID()+"/overlays", `{"hotSpots":true}`)
	if !strings.Contains(resp.Body.String(), "Overlays updated") {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}

	state := s.Snapshot()
	if state.TransferFunction.ColorMap != "plasma" {
		t.Fatalf("expected plasma, got %s", state.TransferFunction.ColorMap)
	}
	if !state.Overlays["hotSpots"] || state.Overlays["paths"] {
		t.Fatalf("unexpected overlays %+v", state.Overlays)
	}
}

func TestPatchUnknownSession(t *testing.T) {
	r, _ := setupRouter(10)

	for _, path := range []string{"/sessions/nope/camera", "/sessions/nope/transfer-function", "/sessions/nope/overlays"} {
		resp := do(r, http.MethodPatch, path, `{}`)
		if resp.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, resp.Code)
		}
	}
	if resp := do(r, http.MethodGet, "/sessions/nope", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestPatchInvalidBody(t *testing.T) {
	r, registry := setupRouter(10)
	s, _ := registry.Create("")

	resp := do(r, http.MethodPatch, "/sessions/"+s.ID()+"/camera", `{"viewport":`)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
