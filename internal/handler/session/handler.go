package session

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	model "github.com/zhouzirui/morviq/gateway/internal/model/session"
	sessionService "github.com/zhouzirui/morviq/gateway/internal/service/session"
	"github.com/zhouzirui/morviq/gateway/pkg/utils"
)

// Handler 会话管理的HTTP处理器
type Handler struct {
	registry *sessionService.Registry
}

// New 创建会话处理器
func New(registry *sessionService.Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{sessionID}", h.handleGet)
		r.Delete("/{sessionID}", h.handleDelete)
		r.Patch("/{sessionID}/camera", h.patchHandler(sessionService.TypeCamera, "Camera updated"))
		r.Patch("/{sessionID}/transfer-function", h.patchHandler(sessionService.TypeTransferFunction, "Transfer function updated"))
		r.Patch("/{sessionID}/overlays", h.patchHandler(sessionService.TypeOverlays, "Overlays updated"))
	})
}

type createResponse struct {
	SessionID    string `json:"sessionId"`
	UserID       string `json:"userId,omitempty"`
	StreamURL    string `json:"streamUrl"`
	WebsocketURL string `json:"websocketUrl"`
}

type summary struct {
	ID           string `json:"id"`
	UserID       string `json:"userId,omitempty"`
	LastActivity int64  `json:"lastActivity"`
}

type detail struct {
	summary
	State model.State `json:"state"`
}

func summarize(s *sessionService.Session) summary {
	return summary{
		ID:           s.ID(),
		UserID:       s.UserID(),
		LastActivity: s.LastActivity().UnixMilli(),
	}
}

// handleCreate 创建会话，请求体可选
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID string `json:"userId"`
	}
	// 请求体缺失或格式错误时按匿名会话处理
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		log.Printf("[session] ignoring unreadable create body: %v", err)
		payload.UserID = ""
	}

	session, err := h.registry.Create(payload.UserID)
	if err != nil {
		log.Printf("[session] failed to create session: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	utils.RespondJSON(w, http.StatusOK, createResponse{
		SessionID:    session.ID(),
		UserID:       session.UserID(),
		StreamURL:    "/api/stream?session=" + session.ID(),
		WebsocketURL: "/ws?session=" + session.ID(),
	})
}

// handleList 列出所有活跃会话
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	sessions := h.registry.List()
	out := make([]summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, summarize(s))
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// handleGet 获取会话详情及当前状态
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, detail{
		summary: summarize(session),
		State:   session.Snapshot(),
	})
}

// handleDelete 删除会话并断开所有连接
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !h.registry.Delete(chi.URLParam(r, "sessionID")) {
		utils.RespondError(w, http.StatusNotFound, "Session not found")
		return
	}
	utils.RespondMessage(w, "Session deleted")
}

// patchHandler 把请求体作为 kind 类型的消息交给会话处理
func (h *Handler) patchHandler(kind, message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := h.lookup(w, r)
		if !ok {
			return
		}

		var data json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			utils.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		session.HandleMessage(sessionService.Message{Type: kind, Data: data})
		utils.RespondMessage(w, message)
	}
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*sessionService.Session, bool) {
	session, err := h.registry.Lookup(chi.URLParam(r, "sessionID"))
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "Session not found")
		return nil, false
	}
	return session, true
}
