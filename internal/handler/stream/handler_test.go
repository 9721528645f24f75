package stream

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	sessionService "github.com/zhouzirui/morviq/gateway/internal/service/session"
)

type fakeFrames struct {
	mu     sync.Mutex
	latest int64
	data   map[int64][]byte
}

func newFakeFrames() *fakeFrames {
	return &fakeFrames{latest: -1, data: make(map[int64][]byte)}
}

func (f *fakeFrames) put(id int64, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[id] = data
	if id > f.latest {
		f.latest = id
	}
}

func (f *fakeFrames) LatestID() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

func (f *fakeFrames) ReadFrame(id int64) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[id]
	return data, ok
}

func (f *fakeFrames) Format() string { return "png" }

func setupServer(t *testing.T) (*httptest.Server, *sessionService.Registry, *fakeFrames) {
	t.Helper()
	registry := sessionService.NewRegistry(sessionService.Options{
		MaxSessions:   10,
		Timeout:       time.Hour,
		SweepInterval: time.Minute,
	}, nil)
	frames := newFakeFrames()

	r := chi.NewRouter()
	New(registry, frames, 5*time.Millisecond).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, registry, frames
}

func TestStreamRejectsMissingSession(t *testing.T) {
	srv, _, _ := setupServer(t)

	for _, path := range []string{"/stream", "/stream?session=unknown"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, resp.StatusCode)
		}
		if string(body) != "{\"error\":\"Invalid or missing session\"}\n" {
			t.Fatalf("%s: unexpected body %q", path, body)
		}
	}
}

// readPart reads one multipart part and returns its body.
func readPart(t *testing.T, r *bufio.Reader) string {
	t.Helper()

	lines := []string{}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		if line == "\r\n" {
			break
		}
		lines = append(lines, line)
	}
	if len(lines) != 3 || lines[0] != "--frame\r\n" || lines[1] != "Content-Type: image/png\r\n" {
		t.Fatalf("unexpected part headers %q", lines)
	}
	length, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(lines[2], "Content-Length: "), "\r\n"))
	if err != nil {
		t.Fatalf("unexpected content length line %q", lines[2])
	}

	body := make([]byte, length+2)
	if _, err := io.ReadFull(r, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body[length:]) != "\r\n" {
		t.Fatalf("part not terminated by CRLF: %q", body[length:])
	}
	return string(body[:length])
}

func TestStreamPushesInitialAndNewerFrames(t *testing.T) {
	srv, registry, frames := setupServer(t)
	s, _ := registry.Create("")
	frames.put(1, []byte("first"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream?session="+s.ID(), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); got != "multipart/x-mixed-replace; boundary=frame" {
		t.Fatalf("unexpected content type %q", got)
	}

	reader := bufio.NewReader(resp.Body)
	if got := readPart(t, reader); got != "first" {
		t.Fatalf("expected initial frame, got %q", got)
	}

	// An older id is never sent; the next newer one is.
	frames.put(0, []byte("stale"))
	frames.put(4, []byte("fourth"))
	if got := readPart(t, reader); got != "fourth" {
		t.Fatalf("expected frame 4, got %q", got)
	}
}

func TestStreamWaitsForFirstFrame(t *testing.T) {
	srv, registry, frames := setupServer(t)
	s, _ := registry.Create("")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream?session="+s.ID(), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	frames.put(0, []byte("0123456789"))
	if got := readPart(t, bufio.NewReader(resp.Body)); got != "0123456789" {
		t.Fatalf("unexpected frame %q", got)
	}
}
