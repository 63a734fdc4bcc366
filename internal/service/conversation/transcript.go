package conversation

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/career-counsel/backend/internal/model/chat"
)

// Message 会话中的一条消息。流式回复期间 Content 持续增长，Final 之后不再变化。
type Message struct {
	ID        string    `json:"id"`
	Role      chat.Role `json:"role"`
	Content   string    `json:"content"`
	MediaURL  string    `json:"mediaUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Final     bool      `json:"final"`
}

func newMessage(role chat.Role, content string, now time.Time) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}
}

// Transcript 有序消息列表，最多只有一条进行中的助手消息。
type Transcript struct {
	mu         sync.Mutex
	messages   []Message
	inProgress *Message
	sealed     bool
	now        func() time.Time
}

// NewTranscript 创建空的消息列表。
func NewTranscript() *Transcript {
	return &Transcript{now: time.Now}
}

// AppendDelta 向进行中的助手消息追加内容，首个增量时创建消息。返回消息快照。
// Seal 之后返回 false。
func (t *Transcript) AppendDelta(delta string) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sealed {
		return Message{}, false
	}
	if t.inProgress == nil {
		t.inProgress = newMessage(chat.RoleAssistant, "", t.now())
	}
	t.inProgress.Content += delta
	return *t.inProgress, true
}

// Finalize 结束进行中的消息并追加到列表。fallback 仅在没有收到任何增量时使用。
// 没有可追加的内容时返回 false。
func (t *Transcript) Finalize(fallback string) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sealed {
		return Message{}, false
	}
	msg := t.inProgress
	t.inProgress = nil
	if msg == nil || msg.Content == "" {
		if strings.TrimSpace(fallback) == "" {
			return Message{}, false
		}
		msg = newMessage(chat.RoleAssistant, fallback, t.now())
	}

	msg.Final = true
	t.messages = append(t.messages, *msg)
	return *msg, true
}

// Abort 丢弃进行中的消息。
func (t *Transcript) Abort() {
	t.mu.Lock()
	t.inProgress = nil
	t.mu.Unlock()
}

// Seal 丢弃进行中的消息，之后的追加全部被拒绝。会话关闭时调用。
func (t *Transcript) Seal() {
	t.mu.Lock()
	t.inProgress = nil
	t.sealed = true
	t.mu.Unlock()
}

// AppendCompleted 直接追加一条完整消息，用于用户消息。Seal 之后返回 false。
func (t *Transcript) AppendCompleted(role chat.Role, content string) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sealed {
		return Message{}, false
	}
	msg := newMessage(role, content, t.now())
	msg.Final = true
	t.messages = append(t.messages, *msg)
	return *msg, true
}

// InProgress 返回进行中消息的快照。
func (t *Transcript) InProgress() (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inProgress == nil {
		return Message{}, false
	}
	return *t.inProgress, true
}

// Messages 返回已完成消息的副本。
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.messages...)
}

// Turns 把已完成消息转换为模型上下文。
func (t *Transcript) Turns() []chat.Turn {
	t.mu.Lock()
	defer t.mu.Unlock()

	turns := make([]chat.Turn, 0, len(t.messages))
	for _, m := range t.messages {
		turns = append(turns, chat.Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}
