package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/career-counsel/backend/internal/model/chat"
	chatService "github.com/zhouzirui/career-counsel/backend/internal/service/chat"
	"github.com/zhouzirui/career-counsel/backend/pkg/utils"
)

// Handler 会话历史的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	logger  *zap.Logger
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chatSvc: chatSvc,
		logger:  logger.Named("conversations"),
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/conversations", func(cr chi.Router) {
		cr.Post("/", h.handleCreateConversation)
		cr.Get("/", h.handleListConversations)
		cr.Get("/{conversationID}", h.handleGetConversation)
		cr.Delete("/{conversationID}", h.handleDeleteConversation)
		cr.Get("/{conversationID}/messages", h.handleListMessages)
		cr.Post("/{conversationID}/messages", h.handleSaveMessage)
	})
}

// handleCreateConversation 以首条消息创建会话
func (h *Handler) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID       string `json:"userId"`
		FirstMessage string `json:"firstMessage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		_ = utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conv, err := h.chatSvc.CreateConversation(r.Context(), payload.UserID, payload.FirstMessage)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	_ = utils.RespondJSON(w, http.StatusCreated, conv)
}

func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.chatSvc.ListConversations(r.Context(), r.URL.Query().Get("userId"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	_ = utils.RespondJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

func (h *Handler) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.chatSvc.GetConversation(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	_ = utils.RespondJSON(w, http.StatusOK, conv)
}

func (h *Handler) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.DeleteConversation(r.Context(), chi.URLParam(r, "conversationID")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chatSvc.LoadTranscript(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	_ = utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// handleSaveMessage 保存消息
func (h *Handler) handleSaveMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID   string `json:"userId"`
		Role     string `json:"role"`
		Content  string `json:"content"`
		ImageURL string `json:"imageUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		_ = utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	message, err := h.chatSvc.SaveMessage(r.Context(), chat.Message{
		ConversationID: chi.URLParam(r, "conversationID"),
		UserID:         payload.UserID,
		Role:           chat.Role(strings.ToLower(payload.Role)),
		Content:        payload.Content,
		ImageURL:       payload.ImageURL,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	_ = utils.RespondJSON(w, http.StatusCreated, message)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrConversationNotFound):
		_ = utils.RespondError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, chatService.ErrUserRequired):
		_ = utils.RespondError(w, http.StatusBadRequest, "userId is required")
	case errors.Is(err, chatService.ErrInvalidRole):
		_ = utils.RespondError(w, http.StatusBadRequest, "role must be user or assistant")
	case errors.Is(err, chatService.ErrEmptyContent):
		_ = utils.RespondError(w, http.StatusBadRequest, "content is required")
	default:
		h.logger.Error("conversation store failure", zap.Error(err))
		_ = utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
