package conversation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/career-counsel/backend/internal/model/chat"
	"github.com/zhouzirui/career-counsel/backend/internal/protocol/realtime"
	"github.com/zhouzirui/career-counsel/backend/internal/service/audio"
)

// ToolCall 上游请求执行的函数调用。
type ToolCall struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
}

// ToolHandler 执行一次函数调用，返回值作为 function_call_output 回传上游。
type ToolHandler func(ctx context.Context, call ToolCall) (string, error)

func realtimeAudioFrame(pcm []byte) ([]byte, error) {
	return realtime.InputAudioAppend(base64.StdEncoding.EncodeToString(pcm))
}

// readLoop 在单独的协程中读取上游事件并分发，连接断开时关闭会话。
func (m *Manager) readLoop(s *Session) {
	defer s.wg.Done()

	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()

	for {
		mt, data, err := transport.ReadMessage()
		if err != nil {
			if s.active() {
				s.logger.Info("upstream connection closed", zap.Error(err))
				s.teardown(&TransportError{Op: "read", Err: err})
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		ev, err := realtime.Decode(data)
		if err != nil {
			s.logger.Warn("dropping undecodable event", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		if !s.active() {
			return
		}
		m.dispatch(s, ev)
	}
}

func (m *Manager) dispatch(s *Session, ev realtime.Event) {
	switch ev.Kind {
	case realtime.KindSessionCreated:
		s.markReady()

	case realtime.KindSessionUpdated:
		s.logger.Debug("session configuration applied")

	case realtime.KindAudioDelta:
		pcm, err := audio.DecodeBase64PCM(ev.Delta)
		if err != nil {
			s.logger.Warn("invalid audio delta", zap.Error(err))
			return
		}
		s.mu.Lock()
		playback := s.playback
		s.mu.Unlock()
		if playback != nil && len(pcm) > 0 {
			playback.Enqueue(pcm)
		}

	case realtime.KindTranscriptDelta:
		if ev.Delta == "" {
			return
		}
		// 会话关闭后 transcript 已封存，迟到的增量被丢弃
		if msg, ok := s.transcript.AppendDelta(ev.Delta); ok && s.active() {
			s.emit(Event{Kind: EventMessageUpdated, SessionID: s.id, Message: msg})
		}

	case realtime.KindTranscriptDone, realtime.KindResponseDone:
		if msg, ok := s.transcript.Finalize(ev.Transcript); ok && s.active() {
			s.emit(Event{Kind: EventMessageAppended, SessionID: s.id, Message: msg})
		}

	case realtime.KindInputTranscriptionCompleted:
		if ev.Transcript == "" {
			return
		}
		if msg, ok := s.transcript.AppendCompleted(chat.RoleUser, ev.Transcript); ok && s.active() {
			s.emit(Event{Kind: EventMessageAppended, SessionID: s.id, Message: msg})
		}

	case realtime.KindSpeechStarted:
		// 用户插话时立即停止播放
		s.mu.Lock()
		playback := s.playback
		s.mu.Unlock()
		if playback != nil {
			playback.Clear()
		}
		m.setListening(s, true)

	case realtime.KindSpeechStopped:
		m.setListening(s, false)

	case realtime.KindFunctionCallArgumentsDone:
		m.invokeTool(s, ToolCall{CallID: ev.CallID, Name: ev.Name, Arguments: json.RawMessage(ev.Arguments)})

	case realtime.KindError:
		err := classifyEvent(ev.Error)
		s.logger.Warn("upstream reported error", zap.Error(err))
		s.emit(Event{Kind: EventError, SessionID: s.id, Err: err})

	default:
		s.logger.Debug("ignoring event", zap.String("type", ev.Type))
	}
}

func (m *Manager) setListening(s *Session, listening bool) {
	s.mu.Lock()
	changed := s.listening != listening
	s.listening = listening
	s.mu.Unlock()
	if changed {
		s.emit(Event{Kind: EventListeningChanged, SessionID: s.id, Listening: listening})
	}
}

// invokeTool 执行工具并回传结果，失败只记录日志。
func (m *Manager) invokeTool(s *Session, call ToolCall) {
	m.mu.RLock()
	handler, ok := m.tools[call.Name]
	m.mu.RUnlock()
	if !ok {
		s.logger.Warn("no handler registered for tool", zap.String("tool", call.Name))
		return
	}

	output, err := safeInvoke(s.ctx, handler, call)
	if err != nil {
		s.logger.Warn("tool failed", zap.String("tool", call.Name), zap.Error(err))
		output = fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	if !s.active() {
		return
	}

	item, err := realtime.FunctionCallOutput(call.CallID, output)
	if err != nil {
		s.logger.Warn("encode tool output failed", zap.Error(err))
		return
	}
	next, err := realtime.ResponseCreate()
	if err != nil {
		s.logger.Warn("encode response.create failed", zap.Error(err))
		return
	}
	for _, frame := range [][]byte{item, next} {
		if err := s.write(frame); err != nil {
			s.logger.Debug("send tool output failed", zap.Error(err))
			return
		}
	}
}

func safeInvoke(ctx context.Context, handler ToolHandler, call ToolCall) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Sprint("tool panicked: ", r))
		}
	}()
	return handler(ctx, call)
}
