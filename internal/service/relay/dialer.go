package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrUpstreamUnavailable 上游实时服务无法建立连接。
var ErrUpstreamUnavailable = errors.New("relay: upstream unavailable")

// Conn 一端的消息连接，*websocket.Conn 满足该接口。
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer 建立到上游的连接。
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerOptions WebSocket 上游连接参数。
type DialerOptions struct {
	URL              string
	APIKey           string
	Header           http.Header
	HandshakeTimeout time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
}

// WebSocketDialer 使用 gorilla/websocket 连接上游，失败时线性退避重试。
type WebSocketDialer struct {
	opts   DialerOptions
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewWebSocketDialer 创建上游拨号器。
func NewWebSocketDialer(opts DialerOptions, logger *zap.Logger) *WebSocketDialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	return &WebSocketDialer{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		logger: logger.Named("dialer"),
	}
}

// Dial 带重试地建立连接。
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	var lastErr error

	for attempt := 0; attempt < d.opts.MaxRetries; attempt++ {
		conn, err := d.connect(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, ctx.Err())
		}
		if attempt == d.opts.MaxRetries-1 {
			break
		}

		retryDelay := time.Duration(attempt+1) * d.opts.RetryDelay
		d.logger.Warn("upstream dial failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", retryDelay),
			zap.Error(err))

		timer := time.NewTimer(retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, ctx.Err())
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("%w: after %d attempts: %w", ErrUpstreamUnavailable, d.opts.MaxRetries, lastErr)
}

func (d *WebSocketDialer) connect(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	for k, v := range d.opts.Header {
		header[k] = append([]string(nil), v...)
	}
	if d.opts.APIKey != "" {
		header.Set("Authorization", "Bearer "+d.opts.APIKey)
	}
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := d.dialer.DialContext(ctx, d.opts.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}
