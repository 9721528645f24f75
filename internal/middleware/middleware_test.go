package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestCORSSetsOriginHeader(t *testing.T) {
	h := CORS("https://viewer.example")(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "https://viewer.example" {
		t.Fatalf("unexpected origin header %q", got)
	}
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestCORSAnswersPreflight(t *testing.T) {
	called := false
	h := CORS("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodOptions, "/api/sessions/x/camera", nil)
	req.Header.Set("Access-Control-Request-Method", "PATCH")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if called {
		t.Fatal("preflight should not reach the handler")
	}
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
}

func TestRateLimiterRejectsOverLimit(t *testing.T) {
	h := NewRateLimiter(2, time.Minute).Middleware(okHandler)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		resp := httptest.NewRecorder()
		h.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}

	// A different client has its own budget.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "10.0.0.2:5000"
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for second client, got %d", resp.Code)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	if l := NewRateLimiter(0, time.Minute); l != nil {
		t.Fatal("expected nil limiter when max is zero")
	}

	var l *RateLimiter
	h := l.Middleware(okHandler)
	for i := 0; i < 5; i++ {
		resp := httptest.NewRecorder()
		h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.Code)
		}
	}
}
