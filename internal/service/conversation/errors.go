package conversation

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/zhouzirui/career-counsel/backend/internal/protocol/realtime"
	"github.com/zhouzirui/career-counsel/backend/internal/protocol/sse"
)

var (
	// ErrTurnInProgress 文本通道同一时间只允许一个未完成的回复。
	ErrTurnInProgress = errors.New("conversation: a reply is already streaming")
	// ErrEmptyMessage 消息内容为空。
	ErrEmptyMessage = errors.New("conversation: message is empty")
	// ErrTextUnavailable 未配置文本通道。
	ErrTextUnavailable = errors.New("conversation: text chat is not configured")
	// ErrSessionClosed 会话在建立过程中被关闭。
	ErrSessionClosed = errors.New("conversation: session closed")
	// ErrEstablishTimeout 麦克风授权、拨号与握手没有在限定时间内完成。
	ErrEstablishTimeout = errors.New("conversation: session was not established in time")
)

// PermissionError 麦克风权限被拒绝，重新调用 StartSession 可重试。
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("conversation: microphone unavailable: %v", e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// TransportError 连接建立失败或连接中断，会话随之关闭。
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("conversation: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RateLimitError 上游限流，会话仍可继续使用。
type RateLimitError struct {
	Message string
}

func (e *RateLimitError) Error() string {
	if e.Message == "" {
		return "conversation: rate limits exceeded, please try again later"
	}
	return "conversation: rate limited: " + e.Message
}

// QuotaError 上游额度不足。
type QuotaError struct {
	Message string
}

func (e *QuotaError) Error() string {
	if e.Message == "" {
		return "conversation: service temporarily unavailable"
	}
	return "conversation: quota exceeded: " + e.Message
}

// UpstreamError 上游显式返回的错误。
type UpstreamError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *UpstreamError) Error() string {
	var b strings.Builder
	b.WriteString("conversation: upstream error")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// IsProtocolError 报告 err 是否为流解析的致命错误。
func IsProtocolError(err error) bool {
	var pe *sse.ProtocolError
	return errors.As(err, &pe)
}

func classify(errType, code, message string) error {
	switch {
	case code == "rate_limit_exceeded" || errType == "rate_limit_error" || errType == "rate_limit_exceeded":
		return &RateLimitError{Message: message}
	case code == "insufficient_quota" || errType == "insufficient_quota":
		return &QuotaError{Message: message}
	default:
		return &UpstreamError{Type: errType, Code: code, Message: message}
	}
}

// classifyEvent 把实时通道的 error 事件映射到错误分类。
func classifyEvent(detail *realtime.ErrorDetail) error {
	if detail == nil {
		return &UpstreamError{Message: "unknown error"}
	}
	return classify(detail.Type, detail.Code, detail.Message)
}

// classifyChunk 把流内 error 块映射到错误分类。
func classifyChunk(detail *sse.ChunkError) error {
	if detail == nil {
		return &UpstreamError{Message: "unknown error"}
	}
	return classify(detail.Type, detail.CodeString(), detail.Message)
}

// classifyStatus 按 HTTP 状态码映射文本通道的错误。
func classifyStatus(status int, code, message string) error {
	switch status {
	case http.StatusTooManyRequests:
		return &RateLimitError{Message: message}
	case http.StatusPaymentRequired:
		return &QuotaError{Message: message}
	default:
		return &UpstreamError{StatusCode: status, Code: code, Message: message}
	}
}
