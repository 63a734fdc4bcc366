package chat

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/zhouzirui/career-counsel/backend/internal/model/chat"
)

// titleLimit 会话标题取首条消息的前若干个字符。
const titleLimit = 50

// Service encapsulates conversation history management.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService 基于给定存储创建服务，store 为 nil 时使用内存存储。
func NewService(store Store) *Service {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Title 由首条消息生成会话标题。
func Title(firstMessage string) string {
	firstMessage = strings.TrimSpace(firstMessage)
	if utf8.RuneCountInString(firstMessage) <= titleLimit {
		return firstMessage
	}
	runes := []rune(firstMessage)
	return string(runes[:titleLimit]) + "..."
}

// CreateConversation 以首条消息为标题新建会话。
func (s *Service) CreateConversation(ctx context.Context, userID, firstMessage string) (chat.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return chat.Conversation{}, ErrUserRequired
	}

	now := s.now()
	conv := chat.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     Title(firstMessage),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if conv.Title == "" {
		conv.Title = "New conversation"
	}

	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return chat.Conversation{}, err
	}
	return conv, nil
}

// GetConversation retrieves a conversation by identifier.
func (s *Service) GetConversation(ctx context.Context, id string) (chat.Conversation, error) {
	return s.store.GetConversation(ctx, id)
}

// ListConversations 返回用户的会话，最近更新的在前。
func (s *Service) ListConversations(ctx context.Context, userID string) ([]chat.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserRequired
	}
	return s.store.ListConversations(ctx, userID)
}

// DeleteConversation 删除会话及其全部消息。
func (s *Service) DeleteConversation(ctx context.Context, id string) error {
	return s.store.DeleteConversation(ctx, id)
}

// SaveMessage appends a message to the conversation history.
func (s *Service) SaveMessage(ctx context.Context, message chat.Message) (chat.Message, error) {
	if message.ConversationID == "" {
		return chat.Message{}, ErrConversationNotFound
	}
	if !message.Role.Valid() {
		return chat.Message{}, ErrInvalidRole
	}
	if strings.TrimSpace(message.Content) == "" && message.ImageURL == "" {
		return chat.Message{}, ErrEmptyContent
	}

	message.ID = uuid.NewString()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = s.now()
	}

	if err := s.store.AppendMessage(ctx, message); err != nil {
		return chat.Message{}, err
	}
	return message, nil
}

// LoadTranscript returns stored messages in creation order.
func (s *Service) LoadTranscript(ctx context.Context, conversationID string) ([]chat.Message, error) {
	return s.store.ListMessages(ctx, conversationID)
}

// History 将最近 limit 条消息转换为模型上下文，limit <= 0 表示全部。
func (s *Service) History(ctx context.Context, conversationID string, limit int) ([]chat.Turn, error) {
	messages, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	turns := make([]chat.Turn, 0, len(messages))
	for _, m := range messages {
		turns = append(turns, chat.Turn{Role: m.Role, Content: m.Content})
	}
	return turns, nil
}

// Close 释放底层存储。
func (s *Service) Close() error {
	return s.store.Close()
}
