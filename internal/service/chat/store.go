package chat

import (
	"context"
	"errors"
	"time"

	"github.com/zhouzirui/career-counsel/backend/internal/model/chat"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrUserRequired         = errors.New("user id is required")
	ErrEmptyContent         = errors.New("message content is required")
	ErrInvalidRole          = errors.New("message role must be user or assistant")
)

// Store 会话与消息的持久化接口。
type Store interface {
	CreateConversation(ctx context.Context, conv chat.Conversation) error
	GetConversation(ctx context.Context, id string) (chat.Conversation, error)
	// ListConversations 按 UpdatedAt 倒序返回用户的会话。
	ListConversations(ctx context.Context, userID string) ([]chat.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	// AppendMessage 追加消息并刷新会话的 UpdatedAt。
	AppendMessage(ctx context.Context, msg chat.Message) error
	// ListMessages 按创建顺序返回消息。
	ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error)
	Close() error
}

func touch(conv *chat.Conversation, at time.Time) {
	if at.After(conv.UpdatedAt) {
		conv.UpdatedAt = at
	}
}
