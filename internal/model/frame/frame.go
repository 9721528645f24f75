package frame

import (
	"mime"
	"strings"
	"time"
)

// Frame describes one rendered image on disk. Bytes are never held here.
type Frame struct {
	ID        int64     `json:"id"`
	Path      string    `json:"-"`
	ModTime   time.Time `json:"-"`
	Timestamp int64     `json:"timestamp"`
	Size      int64     `json:"size"`
}

// New builds a Frame, deriving the Unix-millisecond timestamp from modTime.
func New(id int64, path string, modTime time.Time, size int64) Frame {
	return Frame{
		ID:        id,
		Path:      path,
		ModTime:   modTime,
		Timestamp: modTime.UnixMilli(),
		Size:      size,
	}
}

// ContentType maps a frame file extension to its MIME type.
func ContentType(format string) string {
	if t := mime.TypeByExtension("." + strings.TrimPrefix(format, ".")); t != "" {
		return t
	}
	return "application/octet-stream"
}
