// Package realtime 定义实时语音通道上交换的 JSON 事件。
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// 服务端事件类型。
const (
	TypeSessionCreated              = "session.created"
	TypeSessionUpdated              = "session.updated"
	TypeAudioDelta                  = "response.audio.delta"
	TypeAudioTranscriptDelta        = "response.audio_transcript.delta"
	TypeAudioTranscriptDone         = "response.audio_transcript.done"
	TypeInputTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	TypeSpeechStarted               = "input_audio_buffer.speech_started"
	TypeSpeechStopped               = "input_audio_buffer.speech_stopped"
	TypeFunctionCallArgumentsDone   = "response.function_call_arguments.done"
	TypeResponseDone                = "response.done"
	TypeError                       = "error"
)

// 客户端事件类型。
const (
	TypeInputAudioAppend   = "input_audio_buffer.append"
	TypeSessionUpdate      = "session.update"
	TypeConversationCreate = "conversation.item.create"
	TypeResponseCreate     = "response.create"
)

// ErrMissingType 事件缺少 type 字段。
var ErrMissingType = errors.New("realtime: event has no type")

// Kind 是事件类型的显式枚举，未识别的类型落入 KindUnknown。
type Kind int

const (
	KindUnknown Kind = iota
	KindSessionCreated
	KindSessionUpdated
	KindAudioDelta
	KindTranscriptDelta
	KindTranscriptDone
	KindInputTranscriptionCompleted
	KindSpeechStarted
	KindSpeechStopped
	KindFunctionCallArgumentsDone
	KindResponseDone
	KindError
)

var kindByType = map[string]Kind{
	TypeSessionCreated:              KindSessionCreated,
	TypeSessionUpdated:              KindSessionUpdated,
	TypeAudioDelta:                  KindAudioDelta,
	TypeAudioTranscriptDelta:        KindTranscriptDelta,
	TypeAudioTranscriptDone:         KindTranscriptDone,
	TypeInputTranscriptionCompleted: KindInputTranscriptionCompleted,
	TypeSpeechStarted:               KindSpeechStarted,
	TypeSpeechStopped:               KindSpeechStopped,
	TypeFunctionCallArgumentsDone:   KindFunctionCallArgumentsDone,
	TypeResponseDone:                KindResponseDone,
	TypeError:                       KindError,
}

// KindOf 将 type 字符串映射为 Kind。
func KindOf(eventType string) Kind {
	if k, ok := kindByType[eventType]; ok {
		return k
	}
	return KindUnknown
}

func (k Kind) String() string {
	for t, kind := range kindByType {
		if kind == k {
			return t
		}
	}
	return "unknown"
}

// ErrorDetail 上游 error 事件携带的错误信息。
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
}

// Event 是解码后的服务端事件。Raw 保留原始帧，供透传使用。
type Event struct {
	Kind Kind
	Type string
	Raw  json.RawMessage

	EventID    string
	ItemID     string
	Delta      string
	Transcript string
	CallID     string
	Name       string
	Arguments  string
	Error      *ErrorDetail
}

type wireEvent struct {
	Type       string       `json:"type"`
	EventID    string       `json:"event_id,omitempty"`
	ItemID     string       `json:"item_id,omitempty"`
	Delta      string       `json:"delta,omitempty"`
	Transcript string       `json:"transcript,omitempty"`
	CallID     string       `json:"call_id,omitempty"`
	Name       string       `json:"name,omitempty"`
	Arguments  string       `json:"arguments,omitempty"`
	Error      *ErrorDetail `json:"error,omitempty"`
}

// Decode 解析一帧服务端事件。
func Decode(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("decode realtime event: %w", err)
	}
	if w.Type == "" {
		return Event{}, ErrMissingType
	}

	return Event{
		Kind:       KindOf(w.Type),
		Type:       w.Type,
		Raw:        append(json.RawMessage(nil), data...),
		EventID:    w.EventID,
		ItemID:     w.ItemID,
		Delta:      w.Delta,
		Transcript: w.Transcript,
		CallID:     w.CallID,
		Name:       w.Name,
		Arguments:  w.Arguments,
		Error:      w.Error,
	}, nil
}

// PeekType 只读取 type 字段，不做完整解码。
func PeekType(data []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("peek realtime event: %w", err)
	}
	if head.Type == "" {
		return "", ErrMissingType
	}
	return head.Type, nil
}

// InputAudioAppend 构造上行音频追加事件，audio 为 base64 编码的 PCM16。
func InputAudioAppend(audio string) ([]byte, error) {
	return json.Marshal(struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}{TypeInputAudioAppend, audio})
}

// SessionUpdate 构造会话配置事件。
func SessionUpdate(profile Profile) ([]byte, error) {
	return json.Marshal(struct {
		Type    string  `json:"type"`
		Session Profile `json:"session"`
	}{TypeSessionUpdate, profile})
}

// FunctionCallOutput 构造工具调用结果事件。
func FunctionCallOutput(callID, output string) ([]byte, error) {
	type item struct {
		Type   string `json:"type"`
		CallID string `json:"call_id"`
		Output string `json:"output"`
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		Item item   `json:"item"`
	}{TypeConversationCreate, item{Type: "function_call_output", CallID: callID, Output: output}})
}

// ResponseCreate 请求上游生成新的回复。
func ResponseCreate() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
	}{TypeResponseCreate})
}
