package utils

import (
	"fmt"
	"net/http"
)

// MultipartBoundary 推流使用的 multipart 分隔符
const MultipartBoundary = "frame"

// SetupMultipartHeaders 设置 multipart/x-mixed-replace 推流响应头
func SetupMultipartHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+MultipartBoundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Connection", "close")
}

// WriteMultipartPart 写出一个完整的 multipart 分段并刷新
func WriteMultipartPart(w http.ResponseWriter, flusher http.Flusher, contentType string, data []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n",
		MultipartBoundary, contentType, len(data)); err != nil {
		return fmt.Errorf("write part header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write part body: %w", err)
	}
	if _, err := w.Write([]byte("\r\n")); err != nil {
		return fmt.Errorf("write part terminator: %w", err)
	}
	flusher.Flush()
	return nil
}
