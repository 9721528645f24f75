package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Config 聚合整个网关的配置项，启动时构建一次并传入各组件构造函数。
type Config struct {
	Server   ServerConfig
	Frames   FramesConfig
	Session  SessionConfig
	Renderer RendererConfig
	Security SecurityConfig
	Metrics  MetricsConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	frames, err := loadFramesConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	renderer, err := loadRendererConfig()
	if err != nil {
		return nil, err
	}

	security, err := loadSecurityConfig()
	if err != nil {
		return nil, err
	}

	metricsEnabled, err := parseBoolEnv("METRICS_ENABLED", true)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Frames:   frames,
		Session:  session,
		Renderer: renderer,
		Security: security,
		Metrics:  MetricsConfig{Enabled: metricsEnabled},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr        string
	Environment string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	env := getEnvOrDefault("ENVIRONMENT", getEnvOrDefault("NODE_ENV", "development"))

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, Environment: env}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, Environment: env}, nil
}

// FramesConfig 描述渲染帧目录的监听配置。
type FramesConfig struct {
	Directory    string
	PollInterval time.Duration
	Format       string
	Prefix       string
	SettleDelay  time.Duration
}

func loadFramesConfig() (FramesConfig, error) {
	poll, err := parseMillisEnv("FRAME_POLL_INTERVAL", 50*time.Millisecond)
	if err != nil {
		return FramesConfig{}, err
	}
	if poll <= 0 {
		return FramesConfig{}, fmt.Errorf("invalid FRAME_POLL_INTERVAL value: must be positive")
	}

	settle, err := parseMillisEnv("FRAME_SETTLE_DELAY", 100*time.Millisecond)
	if err != nil {
		return FramesConfig{}, err
	}

	format := strings.TrimPrefix(getEnvOrDefault("FRAME_FORMAT", "png"), ".")

	return FramesConfig{
		Directory:    getEnvOrDefault("FRAMES_DIR", "./output/frames/composited"),
		PollInterval: poll,
		Format:       format,
		Prefix:       getEnvOrDefault("FRAME_PREFIX", "frame_"),
		SettleDelay:  settle,
	}, nil
}

// SessionConfig 描述会话上限与过期策略。
type SessionConfig struct {
	MaxSessions       int
	Timeout           time.Duration
	HeartbeatInterval time.Duration
	SweepInterval     time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	maxSessions := 100
	if override, err := parseOptionalIntEnv("MAX_SESSIONS"); err != nil {
		return SessionConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return SessionConfig{}, fmt.Errorf("invalid MAX_SESSIONS value %d: must be at least 1", *override)
		}
		maxSessions = *override
	}

	timeout, err := parseMillisEnv("SESSION_TIMEOUT", time.Hour)
	if err != nil {
		return SessionConfig{}, err
	}

	heartbeat, err := parseMillisEnv("HEARTBEAT_INTERVAL", 30*time.Second)
	if err != nil {
		return SessionConfig{}, err
	}

	// 清理周期默认复用心跳间隔
	sweep, err := parseMillisEnv("SESSION_SWEEP_INTERVAL", heartbeat)
	if err != nil {
		return SessionConfig{}, err
	}
	if sweep <= 0 {
		return SessionConfig{}, fmt.Errorf("invalid SESSION_SWEEP_INTERVAL value: must be positive")
	}

	return SessionConfig{
		MaxSessions:       maxSessions,
		Timeout:           timeout,
		HeartbeatInterval: heartbeat,
		SweepInterval:     sweep,
	}, nil
}

// RendererConfig 描述渲染器控制通道。
type RendererConfig struct {
	Enabled        bool
	Host           string
	Port           int
	ReconnectDelay time.Duration
}

// ControlAddr 返回控制通道的 host:port。
func (c RendererConfig) ControlAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func loadRendererConfig() (RendererConfig, error) {
	enabled, err := parseBoolEnv("RENDERER_CONTROL_ENABLED", true)
	if err != nil {
		return RendererConfig{}, err
	}

	port := 9090
	if override, err := parseOptionalIntEnv("RENDERER_CONTROL_PORT"); err != nil {
		return RendererConfig{}, err
	} else if override != nil {
		if *override <= 0 || *override > 65535 {
			return RendererConfig{}, fmt.Errorf("invalid RENDERER_CONTROL_PORT value %d", *override)
		}
		port = *override
	}

	delay, err := parseMillisEnv("RENDERER_RECONNECT_DELAY", 2*time.Second)
	if err != nil {
		return RendererConfig{}, err
	}

	return RendererConfig{
		Enabled:        enabled,
		Host:           getEnvOrDefault("RENDERER_CONTROL_HOST", "127.0.0.1"),
		Port:           port,
		ReconnectDelay: delay,
	}, nil
}

// SecurityConfig 描述 CORS、请求大小与限流。
type SecurityConfig struct {
	CORSOrigin      string
	MaxRequestSize  int64
	RateLimitWindow time.Duration
	RateLimitMax    int
}

func loadSecurityConfig() (SecurityConfig, error) {
	rawSize := getEnvOrDefault("MAX_REQUEST_SIZE", "10mb")
	size, err := humanize.ParseBytes(rawSize)
	if err != nil {
		return SecurityConfig{}, fmt.Errorf("invalid MAX_REQUEST_SIZE value %q: %w", rawSize, err)
	}

	window, err := parseMillisEnv("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return SecurityConfig{}, err
	}

	// 默认不限流，设置 RATE_LIMIT_MAX 后才启用
	limit := 0
	if override, err := parseOptionalIntEnv("RATE_LIMIT_MAX"); err != nil {
		return SecurityConfig{}, err
	} else if override != nil {
		if *override < 0 {
			limit = 0
		} else {
			limit = *override
		}
	}

	return SecurityConfig{
		CORSOrigin:      getEnvOrDefault("CORS_ORIGIN", "*"),
		MaxRequestSize:  int64(size),
		RateLimitWindow: window,
		RateLimitMax:    limit,
	}, nil
}

// MetricsConfig 控制 /metrics 暴露。
type MetricsConfig struct {
	Enabled bool
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseMillisEnv 读取以毫秒为单位的整数时长。
func parseMillisEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	ms, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if ms == nil {
		return defaultValue, nil
	}
	if *ms < 0 {
		return 0, fmt.Errorf("invalid %s value %d: must not be negative", key, *ms)
	}
	return time.Duration(*ms) * time.Millisecond, nil
}
