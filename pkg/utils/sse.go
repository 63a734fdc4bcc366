package utils

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SSEWriter 按 "data: ...\n\n" 格式写出事件并立即刷新。
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter 设置响应头并返回写入器，ResponseWriter 不支持刷新时返回 false。
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	SetupSSEHeaders(w)
	return &SSEWriter{w: w, flusher: flusher}, true
}

// SetupSSEHeaders 设置Server-Sent Events响应头
func SetupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// Data 发送一个 JSON 数据块
func (s *SSEWriter) Data(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	return s.Raw(string(data))
}

// Raw 原样发送一行数据，例如 [DONE]。
func (s *SSEWriter) Raw(data string) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write sse data: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// Event 发送带事件类型的SSE消息
func (s *SSEWriter) Event(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sse event data: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("write sse event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// Comment 发送注释行，用作心跳。
func (s *SSEWriter) Comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return fmt.Errorf("write sse comment: %w", err)
	}
	s.flusher.Flush()
	return nil
}
