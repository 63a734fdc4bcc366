package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	focusAnalysis "github.com/zhouzirui/career-counsel/backend/internal/analysis/focus"
	"github.com/zhouzirui/career-counsel/backend/internal/metrics"
	"github.com/zhouzirui/career-counsel/backend/internal/model/chat"
	"github.com/zhouzirui/career-counsel/backend/internal/protocol/sse"
	aiService "github.com/zhouzirui/career-counsel/backend/internal/service/ai"
	chatService "github.com/zhouzirui/career-counsel/backend/internal/service/chat"
	focusService "github.com/zhouzirui/career-counsel/backend/internal/service/focus"
	"github.com/zhouzirui/career-counsel/backend/pkg/utils"
)

const (
	// ConversationHeader 新建会话时通过该响应头返回会话 ID。
	ConversationHeader = "X-Conversation-Id"
	// FocusHeader 本次回复实际使用的侧重点。
	FocusHeader = "X-Counsel-Focus"
)

// 流结果标签。
const (
	statusOK          = "ok"
	statusError       = "error"
	statusRateLimited = "rate_limited"
	statusCanceled    = "canceled"
)

// Generator 产生流式回复，由 ai.Service 实现。
type Generator interface {
	Stream(ctx context.Context, focus string, turns []chat.Turn) (*schema.StreamReader[*schema.Message], error)
}

// FocusClassifier 在客户端未指定侧重点时做判断，由 focus.Service 实现。
type FocusClassifier interface {
	Classify(ctx context.Context, turns []chat.Turn) focusService.Guidance
}

// Options 流式接口参数。
type Options struct {
	Model     string
	RateLimit rate.Limit
	RateBurst int
	// Classifier 为 nil 时使用关键词规则。
	Classifier FocusClassifier
}

// Handler manages streaming AI responses via Server-Sent Events
type Handler struct {
	generator Generator
	chatSvc   *chatService.Service
	limiter   *rate.Limiter
	classify  FocusClassifier
	model     string
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// New creates a new stream handler
func New(generator Generator, chatSvc *chatService.Service, opts Options, m *metrics.Metrics, logger *zap.Logger) *Handler {
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(opts.RateLimit, max(opts.RateBurst, 1))
	}

	return &Handler{
		generator: generator,
		chatSvc:   chatSvc,
		limiter:   limiter,
		classify:  opts.Classifier,
		model:     opts.Model,
		metrics:   m,
		logger:    logger.Named("stream"),
	}
}

// RegisterRoutes 注册流式补全接口。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/completions", h.handleCompletions)
}

// CompletionRequest 客户端提交完整的历史消息。
type CompletionRequest struct {
	Messages       []chat.Turn `json:"messages"`
	Focus          string      `json:"focus,omitempty"`
	ConversationID string      `json:"conversationId,omitempty"`
	UserID         string      `json:"userId,omitempty"`
}

func (h *Handler) handleCompletions(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow() {
		h.metrics.ChatStreams.WithLabelValues(statusRateLimited).Inc()
		_ = utils.RespondErrorCode(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Rate limits exceeded, please try again later.")
		return
	}

	if h.generator == nil {
		_ = utils.RespondError(w, http.StatusServiceUnavailable, "ai streaming unavailable")
		return
	}

	var req CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateTurns(req.Messages); err != nil {
		_ = utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	conversationID, err := h.persistUserTurn(ctx, req)
	if err != nil {
		h.respondPersistError(w, err)
		return
	}

	if req.Focus == "" {
		req.Focus = h.inferFocus(ctx, req.Messages)
	}

	stream, err := h.generator.Stream(ctx, req.Focus, req.Messages)
	if err != nil {
		h.logger.Error("failed to start stream", zap.Error(err))
		switch err = aiService.ClassifyError(err); {
		case errors.Is(err, aiService.ErrRateLimited):
			h.metrics.ChatStreams.WithLabelValues(statusRateLimited).Inc()
			_ = utils.RespondErrorCode(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Rate limits exceeded, please try again later.")
		case errors.Is(err, aiService.ErrQuotaExceeded):
			h.metrics.ChatStreams.WithLabelValues(statusError).Inc()
			_ = utils.RespondErrorCode(w, http.StatusPaymentRequired, "insufficient_quota", "AI credits exhausted, please add funds.")
		default:
			h.metrics.ChatStreams.WithLabelValues(statusError).Inc()
			_ = utils.RespondError(w, http.StatusBadGateway, "AI generation failed")
		}
		return
	}
	defer stream.Close()

	w.Header().Set(FocusHeader, req.Focus)
	if conversationID != "" {
		w.Header().Set(ConversationHeader, conversationID)
	}
	sw, ok := utils.NewSSEWriter(w)
	if !ok {
		_ = utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	started := time.Now()
	content, status := h.pump(ctx, sw, stream)
	h.metrics.ChatStreams.WithLabelValues(status).Inc()
	h.metrics.ChatDuration.Observe(time.Since(started).Seconds())

	if conversationID != "" && strings.TrimSpace(content) != "" {
		// 客户端已断开时仍然保存已生成的内容。
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, err := h.chatSvc.SaveMessage(saveCtx, chat.Message{
			ConversationID: conversationID,
			UserID:         req.UserID,
			Role:           chat.RoleAssistant,
			Content:        content,
		}); err != nil {
			h.logger.Warn("failed to save assistant message", zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}

	h.logger.Debug("stream finished",
		zap.String("status", status),
		zap.String("conversation_id", conversationID),
		zap.Int("length", len(content)),
	)
}

// inferFocus 未指定侧重点时根据对话推断。
func (h *Handler) inferFocus(ctx context.Context, turns []chat.Turn) string {
	if h.classify != nil {
		g := h.classify.Classify(ctx, turns)
		h.logger.Debug("focus classified",
			zap.String("focus", g.Decision.Focus),
			zap.Float32("confidence", g.Confidence),
			zap.String("reason", g.Reason),
		)
		return g.Decision.Focus
	}
	return focusAnalysis.Detect(turns[len(turns)-1].Content).Focus
}

// pump 把模型输出转换为 OpenAI 增量块，最后发送 [DONE]。
func (h *Handler) pump(ctx context.Context, sw *utils.SSEWriter, stream *schema.StreamReader[*schema.Message]) (string, string) {
	id := "chatcmpl-" + uuid.NewString()
	var sb strings.Builder

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return sb.String(), statusCanceled
			}
			h.logger.Error("stream receive failed", zap.Error(err))
			_ = sw.Data(sse.NewErrorChunk("AI generation failed", "upstream_error"))
			_ = sw.Raw(sse.DoneSentinel)
			return sb.String(), statusError
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}

		sb.WriteString(chunk.Content)
		if err := sw.Data(sse.NewDeltaChunk(id, h.model, chunk.Content)); err != nil {
			h.logger.Debug("client went away", zap.Error(err))
			return sb.String(), statusCanceled
		}
	}

	if err := sw.Raw(sse.DoneSentinel); err != nil {
		return sb.String(), statusCanceled
	}
	return sb.String(), statusOK
}

// persistUserTurn 在开始生成前保存最后一条用户消息，必要时新建会话。
func (h *Handler) persistUserTurn(ctx context.Context, req CompletionRequest) (string, error) {
	if h.chatSvc == nil || (req.ConversationID == "" && req.UserID == "") {
		return "", nil
	}

	last := req.Messages[len(req.Messages)-1]
	conversationID := req.ConversationID
	if conversationID == "" {
		conv, err := h.chatSvc.CreateConversation(ctx, req.UserID, last.Content)
		if err != nil {
			return "", err
		}
		conversationID = conv.ID
	}

	if _, err := h.chatSvc.SaveMessage(ctx, chat.Message{
		ConversationID: conversationID,
		UserID:         req.UserID,
		Role:           chat.RoleUser,
		Content:        last.Content,
	}); err != nil {
		return "", err
	}
	return conversationID, nil
}

func (h *Handler) respondPersistError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrConversationNotFound):
		_ = utils.RespondError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, chatService.ErrUserRequired):
		_ = utils.RespondError(w, http.StatusBadRequest, "userId is required")
	default:
		h.logger.Error("failed to persist user message", zap.Error(err))
		_ = utils.RespondError(w, http.StatusInternalServerError, "failed to save message")
	}
}

func validateTurns(turns []chat.Turn) error {
	if len(turns) == 0 {
		return errors.New("messages are required")
	}
	for _, t := range turns {
		if !t.Role.Valid() {
			return errors.New("message role must be user or assistant")
		}
	}
	last := turns[len(turns)-1]
	if last.Role != chat.RoleUser {
		return errors.New("last message must be from the user")
	}
	if strings.TrimSpace(last.Content) == "" {
		return errors.New("last message content is required")
	}
	return nil
}

var (
	_ Generator       = (*aiService.Service)(nil)
	_ FocusClassifier = (*focusService.Service)(nil)
)
