package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zhouzirui/morviq/gateway/pkg/utils"
)

// RateLimiter 按客户端地址限流，每个窗口最多 maxRequests 次请求
type RateLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter 创建限流器；maxRequests <= 0 或 window <= 0 时返回 nil，表示不限流
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	if maxRequests <= 0 || window <= 0 {
		return nil
	}
	return &RateLimiter{
		limit:   rate.Every(window / time.Duration(maxRequests)),
		burst:   maxRequests,
		idle:    window,
		clients: make(map[string]*client),
	}
}

// Allow reports whether key may make another request now.
func (l *RateLimiter) Allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	l.evictLocked(now)
	return c.limiter.AllowN(now, 1)
}

// evictLocked drops clients quiet for longer than a window.
func (l *RateLimiter) evictLocked(now time.Time) {
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > l.idle {
			delete(l.clients, key)
		}
	}
}

// Middleware 对超过限额的请求返回 429。nil 限流器直接放行
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientKey(r)) {
			utils.RespondError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey relies on chi's RealIP having rewritten RemoteAddr.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
