package stream

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/morviq/gateway/internal/metrics"
	"github.com/zhouzirui/morviq/gateway/internal/model/frame"
	sessionService "github.com/zhouzirui/morviq/gateway/internal/service/session"
	"github.com/zhouzirui/morviq/gateway/pkg/utils"
)

// FrameSource is the part of the frame watcher the stream reads from.
type FrameSource interface {
	LatestID() int64
	ReadFrame(id int64) ([]byte, bool)
	Format() string
}

// Handler pushes the newest rendered frame to viewers as a multipart stream
type Handler struct {
	registry     *sessionService.Registry
	frames       FrameSource
	pollInterval time.Duration
}

// New creates a new stream handler
func New(registry *sessionService.Registry, frames FrameSource, pollInterval time.Duration) *Handler {
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	return &Handler{
		registry:     registry,
		frames:       frames,
		pollInterval: pollInterval,
	}
}

// RegisterRoutes 注册推流路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	log.Printf("[stream] stream request received session=%s", sessionID)

	if sessionID == "" {
		utils.RespondError(w, http.StatusUnauthorized, "Invalid or missing session")
		return
	}
	if _, ok := h.registry.Get(sessionID); !ok {
		utils.RespondError(w, http.StatusUnauthorized, "Invalid or missing session")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupMultipartHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.StreamOpened()
	defer metrics.StreamClosed()

	v := &viewer{
		w:           w,
		flusher:     flusher,
		frames:      h.frames,
		contentType: frame.ContentType(h.frames.Format()),
		last:        -1,
	}

	initial := h.frames.LatestID()
	if initial < 0 {
		log.Printf("[stream] no frames available for streaming session=%s", sessionID)
	} else if err := v.push(initial); err != nil {
		log.Printf("[stream] failed to send initial frame session=%s: %v", sessionID, err)
		return
	}

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[stream] stream closed session=%s", sessionID)
			return
		case <-ticker.C:
			if current := h.frames.LatestID(); current > v.last {
				if err := v.push(current); err != nil {
					log.Printf("[stream] write failed session=%s: %v", sessionID, err)
					return
				}
			}
		}
	}
}

// viewer tracks what one stream client has already been sent.
type viewer struct {
	w           http.ResponseWriter
	flusher     http.Flusher
	frames      FrameSource
	contentType string
	last        int64
}

// push writes frame id. An unreadable frame is skipped and retried on the
// next tick; only write errors are returned.
func (v *viewer) push(id int64) error {
	data, ok := v.frames.ReadFrame(id)
	if !ok {
		log.Printf("[stream] failed to read frame id=%d", id)
		return nil
	}
	if err := utils.WriteMultipartPart(v.w, v.flusher, v.contentType, data); err != nil {
		return err
	}
	v.last = id
	metrics.RecordStreamFrame()
	return nil
}
