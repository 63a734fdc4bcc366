package chat

import "time"

// Role 消息发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid 报告 role 是否为可持久化的角色。
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message persists individual turns of a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	ImageURL       string    `json:"imageUrl,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Turn 是发往模型的一条上下文消息。
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
