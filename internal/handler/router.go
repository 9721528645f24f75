package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhouzirui/morviq/gateway/internal/config"
	"github.com/zhouzirui/morviq/gateway/internal/handler/frames"
	"github.com/zhouzirui/morviq/gateway/internal/handler/realtime"
	"github.com/zhouzirui/morviq/gateway/internal/handler/session"
	"github.com/zhouzirui/morviq/gateway/internal/handler/stream"
	"github.com/zhouzirui/morviq/gateway/internal/metrics"
	middlewarePkg "github.com/zhouzirui/morviq/gateway/internal/middleware"
	frameService "github.com/zhouzirui/morviq/gateway/internal/service/frames"
	sessionService "github.com/zhouzirui/morviq/gateway/internal/service/session"
	"github.com/zhouzirui/morviq/gateway/pkg/utils"
)

const (
	serviceName    = "Morviq Gateway"
	serviceVersion = "0.1.0"
)

// Deps 路由依赖的核心服务
type Deps struct {
	Config   *config.Config
	Registry *sessionService.Registry
	Frames   *frameService.Watcher
	// Metrics 为 nil 时不暴露 /metrics
	Metrics *prometheus.Registry
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.Security.CORSOrigin))

	// Create handlers
	sessionHandler := session.New(deps.Registry)
	framesHandler := frames.New(deps.Frames)
	streamHandler := stream.New(deps.Registry, deps.Frames, cfg.Frames.PollInterval)
	realtimeHandler := realtime.New(deps.Registry, realtime.Options{MaxMessageSize: cfg.Security.MaxRequestSize})

	r.Get("/", handleIndex)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":      "healthy",
			"timestamp":   time.Now().UnixMilli(),
			"sessions":    deps.Registry.Count(),
			"latestFrame": deps.Frames.LatestID(),
		})
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Metrics))
	}

	// /ws lives outside /api and is not rate limited.
	realtimeHandler.RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		api.Use(middlewarePkg.NewRateLimiter(cfg.Security.RateLimitMax, cfg.Security.RateLimitWindow).Middleware)

		api.Group(func(body chi.Router) {
			if cfg.Security.MaxRequestSize > 0 {
				body.Use(middleware.RequestSize(cfg.Security.MaxRequestSize))
			}
			sessionHandler.RegisterRoutes(body)
		})

		framesHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
	})

	return r
}

func handleIndex(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"service": serviceName,
		"version": serviceVersion,
		"endpoints": map[string]string{
			"sessions":  "/api/sessions",
			"stream":    "/api/stream",
			"frames":    "/api/frames",
			"websocket": "/ws",
			"health":    "/health",
		},
	})
}
