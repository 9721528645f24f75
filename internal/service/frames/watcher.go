package frames

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zhouzirui/morviq/gateway/internal/metrics"
	"github.com/zhouzirui/morviq/gateway/internal/model/frame"
)

var ErrNotDirectory = errors.New("frame path is not a directory")

// Options 帧目录监听配置
type Options struct {
	Dir         string
	Format      string        // 文件扩展名，不含点
	Prefix      string        // 帧编号前的固定前缀
	SettleDelay time.Duration // 文件静止多久后才索引，0 表示立即
}

// Watcher indexes numbered frame files in a directory. The event loop is
// the only writer of the index; reads go to disk on demand.
type Watcher struct {
	opts    Options
	pattern *regexp.Regexp

	mu     sync.RWMutex
	frames map[int64]frame.Frame
	latest atomic.Int64

	fsw       *fsnotify.Watcher
	pending   map[string]*time.Timer
	settled   chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewWatcher 创建帧监听器，调用 Start 后才开始工作
func NewWatcher(opts Options) *Watcher {
	opts.Format = strings.TrimPrefix(opts.Format, ".")
	if opts.Format == "" {
		opts.Format = "png"
	}
	if opts.Prefix == "" {
		opts.Prefix = "frame_"
	}

	w := &Watcher{
		opts:    opts,
		pattern: regexp.MustCompile(regexp.QuoteMeta(opts.Prefix) + `(\d+)\.` + regexp.QuoteMeta(opts.Format) + `$`),
		frames:  make(map[int64]frame.Frame),
		pending: make(map[string]*time.Timer),
		settled: make(chan string, 64),
		done:    make(chan struct{}),
	}
	w.latest.Store(-1)
	return w
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.opts.Dir }

// Format returns the frame file extension without the dot.
func (w *Watcher) Format() string { return w.opts.Format }

// Start makes sure the directory exists, seeds the index from a directory
// scan, and processes file-system events until ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := ensureDir(w.opts.Dir); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	if err := fsw.Add(w.opts.Dir); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", w.opts.Dir, err)
	}
	w.fsw = fsw

	resolved, _ := filepath.Abs(w.opts.Dir)
	log.Printf("[frames] watcher initialized dir=%s pattern=%s", resolved, w.pattern)

	w.seed()
	go w.loop(ctx)
	return nil
}

func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%w: %s", ErrNotDirectory, dir)
		}
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat frame directory: %w", err)
	}

	log.Printf("[frames] frame directory %s does not exist, creating it", dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create frame directory: %w", err)
	}
	return nil
}

// seed indexes files already present, in filename order.
func (w *Watcher) seed() {
	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		log.Printf("[frames] failed to seed frames from %s: %v", w.opts.Dir, err)
		return
	}

	suffix := "." + w.opts.Format
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		w.index(filepath.Join(w.opts.Dir, entry.Name()))
	}
	log.Printf("[frames] seeded existing frames count=%d latest=%d", w.Count(), w.LatestID())
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.stopPending()

	for {
		select {
		case <-ctx.Done():
			w.Close()
			return
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("[frames] watcher error: %v", err)
		case path := <-w.settled:
			delete(w.pending, path)
			w.index(path)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if _, ok := w.frameID(event.Name); !ok {
		return
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if timer, ok := w.pending[event.Name]; ok {
			timer.Stop()
			delete(w.pending, event.Name)
		}
		w.remove(event.Name)

	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		if w.opts.SettleDelay <= 0 {
			w.index(event.Name)
			return
		}
		w.scheduleIndex(event.Name)
	}
}

// scheduleIndex indexes path once it has not been written for SettleDelay.
func (w *Watcher) scheduleIndex(path string) {
	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.opts.SettleDelay)
		return
	}
	w.pending[path] = time.AfterFunc(w.opts.SettleDelay, func() {
		select {
		case w.settled <- path:
		case <-w.done:
		}
	})
}

func (w *Watcher) stopPending() {
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) frameID(path string) (int64, bool) {
	match := w.pattern.FindStringSubmatch(filepath.Base(path))
	if match == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (w *Watcher) index(path string) {
	id, ok := w.frameID(path)
	if !ok {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		log.Printf("[frames] failed to process frame path=%s: %v", path, err)
		return
	}
	if info.IsDir() {
		return
	}

	w.mu.Lock()
	w.frames[id] = frame.New(id, path, info.ModTime(), info.Size())
	count := len(w.frames)
	w.mu.Unlock()

	if id > w.latest.Load() {
		w.latest.Store(id)
		log.Printf("[frames] new frame detected id=%d path=%s size=%d", id, path, info.Size())
	}
	metrics.SetFrameIndex(count, w.latest.Load())
}

// remove drops path from the index. The latest id is left untouched.
func (w *Watcher) remove(path string) {
	id, ok := w.frameID(path)
	if !ok {
		return
	}

	w.mu.Lock()
	delete(w.frames, id)
	count := len(w.frames)
	w.mu.Unlock()

	metrics.SetFrameIndex(count, w.latest.Load())
}

// LatestID returns the highest frame id observed, or -1 before any frame.
func (w *Watcher) LatestID() int64 {
	return w.latest.Load()
}

// Info returns the metadata of an indexed frame.
func (w *Watcher) Info(id int64) (frame.Frame, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	f, ok := w.frames[id]
	return f, ok
}

// Count returns the number of indexed frames.
func (w *Watcher) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.frames)
}

// List returns the indexed frames sorted by id.
func (w *Watcher) List() []frame.Frame {
	w.mu.RLock()
	out := make([]frame.Frame, 0, len(w.frames))
	for _, f := range w.frames {
		out = append(out, f)
	}
	w.mu.RUnlock()

	slices.SortFunc(out, func(a, b frame.Frame) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// ReadFrame reads an indexed frame from disk. Any failure yields false.
func (w *Watcher) ReadFrame(id int64) ([]byte, bool) {
	f, ok := w.Info(id)
	if !ok {
		return nil, false
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		log.Printf("[frames] failed to read frame id=%d: %v", id, err)
		return nil, false
	}
	return data, true
}

// ReadLatest reads the frame at the latest id.
func (w *Watcher) ReadLatest() ([]byte, bool) {
	id := w.LatestID()
	if id < 0 {
		return nil, false
	}
	return w.ReadFrame(id)
}

// Close stops the event loop and releases the fs watcher.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		if w.fsw != nil {
			err = w.fsw.Close()
		}
	})
	return err
}
