package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/morviq/gateway/internal/metrics"
	sessionService "github.com/zhouzirui/morviq/gateway/internal/service/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// ClosePolicyViolation is sent when the session query is missing or unknown.
	ClosePolicyViolation = websocket.ClosePolicyViolation
)

// Options WebSocket 连接参数
type Options struct {
	// MaxMessageSize 单条入站消息的最大字节数，0 表示不限制
	MaxMessageSize int64
}

// Handler WebSocket 实时状态同步处理器
type Handler struct {
	registry *sessionService.Registry
	opts     Options
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器
func New(registry *sessionService.Registry, opts Options) *Handler {
	return &Handler{
		registry: registry,
		opts:     opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	c := newConn(ws, writeWait)

	if sessionID == "" {
		_ = c.Close(ClosePolicyViolation, "Session ID required")
		return
	}
	session, ok := h.registry.Get(sessionID)
	if !ok {
		_ = c.Close(ClosePolicyViolation, "Invalid session")
		return
	}

	log.Printf("[websocket] connected session=%s", sessionID)
	metrics.WebSocketOpened()
	defer metrics.WebSocketClosed()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if h.opts.MaxMessageSize > 0 {
		ws.SetReadLimit(h.opts.MaxMessageSize)
	}
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go h.pingLoop(ctx, c)

	session.Attach(c)
	defer func() {
		session.Detach(c)
		c.release()
		log.Printf("[websocket] disconnected session=%s", sessionID)
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[websocket] read error session=%s: %v", sessionID, err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))

		var msg sessionService.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[websocket] failed to parse message session=%s: %v", sessionID, err)
			continue
		}
		session.HandleMessage(msg)
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
