package utils

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// SendSSEChunk 发送Server-Sent Events数据块
func SendSSEChunk(w http.ResponseWriter, flusher http.Flusher, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal sse payload", "error", err)
		return err
	}
	return SendSSERaw(w, flusher, string(data))
}

// SendSSERaw 发送未经编码的数据行，例如流结束标记
func SendSSERaw(w http.ResponseWriter, flusher http.Flusher, data string) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	flusher.Flush()
	return nil
}

// SetupSSEHeaders 设置Server-Sent Events响应头
func SetupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
