package control

import (
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/zhouzirui/morviq/gateway/internal/metrics"
	"github.com/zhouzirui/morviq/gateway/internal/model/session"
)

// Options 控制通道配置
type Options struct {
	Addr           string        // 渲染器控制端口 host:port
	ReconnectDelay time.Duration // 固定重连间隔
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
}

// DefaultOptions 默认控制通道选项
func DefaultOptions(addr string) Options {
	return Options{
		Addr:           addr,
		ReconnectDelay: 2 * time.Second,
		DialTimeout:    5 * time.Second,
		WriteTimeout:   2 * time.Second,
	}
}

// Client is a fire-and-forget line protocol connection to the renderer.
// It never reports delivery failures to callers; it reconnects on its own.
type Client struct {
	opts Options

	mu         sync.Mutex
	conn       net.Conn
	connecting bool
	closed     bool
	retry      *time.Timer
}

// NewClient 创建控制通道客户端，不会立即连接
func NewClient(opts Options) *Client {
	defaults := DefaultOptions(opts.Addr)
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaults.ReconnectDelay
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaults.DialTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	return &Client{opts: opts}
}

// Connect starts a dial in the background unless a connection exists or an
// attempt is already outstanding.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.closed || c.conn != nil || c.connecting {
		c.mu.Unlock()
		return
	}
	c.connecting = true
	c.mu.Unlock()

	go c.dial()
}

func (c *Client) dial() {
	conn, err := net.DialTimeout("tcp", c.opts.Addr, c.opts.DialTimeout)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connecting = false

	if err != nil {
		log.Printf("[control] connect to %s failed: %v", c.opts.Addr, err)
		c.scheduleReconnectLocked()
		return
	}
	if c.closed {
		conn.Close()
		return
	}

	c.conn = conn
	metrics.SetControlConnected(true)
	log.Printf("[control] connected to renderer control addr=%s", c.opts.Addr)

	go c.watch(conn)
}

// watch drains the connection until the renderer closes it.
func (c *Client) watch(conn net.Conn) {
	_, err := io.Copy(io.Discard, conn)

	c.mu.Lock()
	defer c.mu.Unlock()

	// A failed write already tore this connection down.
	if c.conn != conn {
		return
	}
	if err != nil {
		log.Printf("[control] connection error: %v", err)
	} else {
		log.Printf("[control] renderer closed control connection")
	}
	c.teardownLocked()
	c.scheduleReconnectLocked()
}

func (c *Client) scheduleReconnectLocked() {
	if c.closed {
		return
	}
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = time.AfterFunc(c.opts.ReconnectDelay, c.Connect)
}

func (c *Client) teardownLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		metrics.SetControlConnected(false)
	}
}

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// send writes one command line. Without a connection the line is dropped and
// a connection attempt is started.
func (c *Client) send(command, line string) {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		metrics.RecordControlCommand(command, "dropped")
		c.Connect()
		return
	}
	defer c.mu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if _, err := io.WriteString(conn, line+"\n"); err != nil {
		log.Printf("[control] failed to send %s: %v", command, err)
		metrics.RecordControlCommand(command, "failed")
		c.teardownLocked()
		c.scheduleReconnectLocked()
		return
	}
	metrics.RecordControlCommand(command, "sent")
}

// SetCamera sends the camera matrices and viewport.
func (c *Client) SetCamera(projection, view []float64, viewport session.Viewport) {
	c.send(CommandCamera, FormatCamera(projection, view, viewport))
}

// SetTimeStep sends the time step, clamped to a non-negative integer.
func (c *Client) SetTimeStep(t float64) {
	c.send(CommandTimeStep, FormatTimeStep(t))
}

// SetQuality sends the render quality preset.
func (c *Client) SetQuality(q session.Quality) {
	c.send(CommandQuality, FormatQuality(q))
}

// Close drops the connection and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.teardownLocked()
	return nil
}
