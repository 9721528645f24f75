package frames

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/morviq/gateway/internal/model/frame"
	"github.com/zhouzirui/morviq/gateway/pkg/utils"
)

// Store is the read side of the frame watcher.
type Store interface {
	LatestID() int64
	List() []frame.Frame
	ReadFrame(id int64) ([]byte, bool)
	Format() string
}

// Handler 帧索引查询处理器
type Handler struct {
	store Store
}

// New 创建帧处理器
func New(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册帧相关路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/frames", h.handleList)
	r.Get("/frames/{frameID}", h.handleGet)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	frames := h.store.List()
	if frames == nil {
		frames = []frame.Frame{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"frames": frames,
		"latest": h.store.LatestID(),
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "frameID"), 10, 64)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "Frame not found")
		return
	}

	data, ok := h.store.ReadFrame(id)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "Frame not found")
		return
	}

	w.Header().Set("Content-Type", frame.ContentType(h.store.Format()))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
