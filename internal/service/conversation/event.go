package conversation

import "fmt"

// EventKind 通知展示层的事件种类。
type EventKind uint8

const (
	EventMessageAppended EventKind = iota + 1
	EventMessageUpdated
	EventListeningChanged
	EventSpeakingChanged
	EventStateChanged
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventMessageAppended:
		return "message-appended"
	case EventMessageUpdated:
		return "message-updated"
	case EventListeningChanged:
		return "listening-changed"
	case EventSpeakingChanged:
		return "speaking-changed"
	case EventStateChanged:
		return "state-changed"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", uint8(k))
	}
}

// Event 按 Kind 只填充对应字段。SessionID 为空表示来自文本通道。
type Event struct {
	Kind      EventKind
	SessionID string
	Message   Message
	Listening bool
	Speaking  bool
	State     State
	Err       error
}

// EventHandler 事件回调，可能在不同协程中被调用，实现需自行保证并发安全。
// 回调在读协程中同步执行，不应阻塞，也不能直接调用 StopSession。
type EventHandler func(Event)
