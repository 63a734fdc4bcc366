// Package realtime 暴露浏览器连接实时语音中继的 WebSocket 端点。
package realtime

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/career-counsel/backend/internal/service/relay"
	"github.com/zhouzirui/career-counsel/backend/pkg/utils"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	writeWait    = 10 * time.Second
	maxFrameSize = 1 << 20
)

// Handler 升级客户端连接并交给 relay 转发。
type Handler struct {
	relay    *relay.Relay
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// New 创建实时语音处理器，allowedOrigins 包含 "*" 时不校验来源。
func New(r *relay.Relay, allowedOrigins []string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		relay: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger.Named("realtime"),
	}
}

// RegisterRoutes 注册 WebSocket 端点
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/realtime", h.handleRealtime)
}

func (h *Handler) handleRealtime(w http.ResponseWriter, r *http.Request) {
	if h.relay == nil {
		_ = utils.RespondError(w, http.StatusServiceUnavailable, "realtime voice unavailable")
		return
	}
	if !websocket.IsWebSocketUpgrade(r) {
		_ = utils.RespondError(w, http.StatusBadRequest, "websocket upgrade required")
		return
	}

	// 先连上游，失败时客户端拿到的是明确的 HTTP 错误而不是一个随即关闭的连接。
	upstream, err := h.relay.Connect(r.Context())
	if err != nil {
		h.logger.Warn("upstream connect failed", zap.Error(err))
		_ = utils.RespondErrorCode(w, http.StatusBadGateway, "upstream_unavailable", "realtime upstream unavailable")
		return
	}

	client, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		_ = upstream.Close()
		return
	}
	client.SetReadLimit(maxFrameSize)
	_ = client.SetReadDeadline(time.Now().Add(pongWait))
	client.SetPongHandler(func(string) error {
		return client.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go keepAlive(client, done)

	logger := h.logger.With(zap.String("remote", r.RemoteAddr))
	logger.Info("realtime session opened")
	err = h.relay.Serve(r.Context(), client, upstream)
	close(done)

	switch {
	case errors.Is(err, relay.ErrNotReady):
		logger.Warn("realtime session never became ready")
	case err != nil:
		logger.Info("realtime session closed with error", zap.Error(err))
	default:
		logger.Info("realtime session closed")
	}
}

// keepAlive 定期发送 ping，WriteControl 可与其它写操作并发调用。
func keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	allowAll := len(allowed) == 0
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			allowAll = true
		}
		set[strings.TrimRight(origin, "/")] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if allowAll || origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}
