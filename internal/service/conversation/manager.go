// Package conversation 编排语音会话与文本对话：连接、静音、消息组装以及向展示层分发事件。
package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/career-counsel/backend/internal/model/chat"
	"github.com/zhouzirui/career-counsel/backend/internal/protocol/sse"
	"github.com/zhouzirui/career-counsel/backend/internal/service/audio"
	"github.com/zhouzirui/career-counsel/backend/internal/service/relay"
)

const (
	defaultEstablishTimeout = 15 * time.Second
	readBufferSize          = 4096
)

// Options Manager 依赖。语音通道需要 Device、Sink 与 Dialer，文本通道需要 Chat。
type Options struct {
	Device audio.Device
	Sink   audio.Sink
	Dialer relay.Dialer
	Chat   ChatTransport

	EstablishTimeout time.Duration
	// MaxCarryOver 文本流解析器的缓冲上限，0 使用默认值。
	MaxCarryOver int
	Logger       *zap.Logger
}

// Manager 同一时间最多持有一个语音会话，另外维护一份文本对话记录。
type Manager struct {
	opts   Options
	logger *zap.Logger

	mu       sync.RWMutex
	session  *Session
	handlers map[uint64]EventHandler
	nextID   uint64
	tools    map[string]ToolHandler

	text     *Transcript
	textBusy atomic.Bool
}

// NewManager 创建会话管理器。
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.EstablishTimeout <= 0 {
		opts.EstablishTimeout = defaultEstablishTimeout
	}
	return &Manager{
		opts:     opts,
		logger:   opts.Logger.Named("conversation"),
		handlers: make(map[uint64]EventHandler),
		tools:    make(map[string]ToolHandler),
		text:     NewTranscript(),
	}
}

// Subscribe 注册事件回调，返回取消订阅函数。
func (m *Manager) Subscribe(handler EventHandler) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = handler
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.handlers, id)
		m.mu.Unlock()
	}
}

// RegisterTool 按名称注册函数调用处理器。
func (m *Manager) RegisterTool(name string, handler ToolHandler) {
	m.mu.Lock()
	m.tools[name] = handler
	m.mu.Unlock()
}

// emit 在锁外调用回调。
func (m *Manager) emit(ev Event) {
	m.mu.RLock()
	handlers := make([]EventHandler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Session 返回当前语音会话，可能已关闭。
func (m *Manager) Session() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// StartSession 打开麦克风、连接中继并在上游发出 session.created 后开始采集。
// 已有连接中或已打开的会话时直接返回该会话。
func (m *Manager) StartSession(ctx context.Context) (*Session, error) {
	if m.opts.Device == nil || m.opts.Dialer == nil || m.opts.Sink == nil {
		return nil, errors.New("conversation: voice is not configured")
	}

	m.mu.Lock()
	prev := m.session
	if prev != nil {
		if st := prev.State(); st == StateConnecting || st == StateOpen {
			m.mu.Unlock()
			return prev, nil
		}
	}
	s := newSession(m.emit, m.logger)
	s.state = StateConnecting
	m.session = s
	m.mu.Unlock()

	// 上一个会话可能仍在释放麦克风
	if prev != nil {
		select {
		case <-prev.Done():
		case <-ctx.Done():
			s.teardown(nil)
			return nil, ctx.Err()
		}
	}

	m.emit(Event{Kind: EventStateChanged, SessionID: s.id, State: StateConnecting})

	if err := m.establish(ctx, s); err != nil {
		s.teardown(err)
		s.wg.Wait()
		return nil, err
	}
	return s, nil
}

func (m *Manager) establish(ctx context.Context, s *Session) error {
	// 建立阶段受调用方 ctx、EstablishTimeout 与会话生命周期共同约束，
	// 权限弹窗或拨号期间 StopSession 也能打断。
	ctx, cancel := context.WithTimeoutCause(ctx, m.opts.EstablishTimeout, ErrEstablishTimeout)
	defer cancel()
	defer context.AfterFunc(s.ctx, cancel)()

	stream, err := m.opts.Device.Open(ctx)
	if err != nil {
		if aborted := establishAborted(ctx, s); aborted != nil {
			return aborted
		}
		if errors.Is(err, audio.ErrPermissionDenied) {
			return &PermissionError{Err: err}
		}
		return fmt.Errorf("open microphone: %w", err)
	}
	capture := audio.NewCapture(stream, m.logger)
	if !s.adoptCapture(capture) {
		_ = capture.Stop()
		return ErrSessionClosed
	}

	conn, err := m.opts.Dialer.Dial(ctx)
	if err != nil {
		if aborted := establishAborted(ctx, s); aborted != nil {
			return aborted
		}
		return &TransportError{Op: "dial", Err: err}
	}
	if !s.adoptTransport(conn) {
		_ = conn.Close()
		return ErrSessionClosed
	}

	playback := audio.NewPlaybackQueue(m.opts.Sink, m.logger)
	playback.OnStateChange(func(playing bool) {
		s.emit(Event{Kind: EventSpeakingChanged, SessionID: s.id, Speaking: playing})
	})
	if !s.adoptPlayback(playback) {
		playback.Close()
		return ErrSessionClosed
	}

	s.wg.Add(1)
	go m.readLoop(s)

	select {
	case <-s.ready:
	case <-ctx.Done():
		return establishAborted(ctx, s)
	}

	if !s.transition(StateOpen) {
		return ErrSessionClosed
	}
	capture.Start(s.sendAudio)
	s.logger.Info("session open")
	return nil
}

// establishAborted 区分会话已被停止与建立超时或调用方取消，两者都不是时返回 nil。
func establishAborted(ctx context.Context, s *Session) error {
	if !s.active() {
		return ErrSessionClosed
	}
	if ctx.Err() != nil {
		return &TransportError{Op: "establish", Err: context.Cause(ctx)}
	}
	return nil
}

// StopSession 关闭当前会话并等待读协程退出，可重复调用。
// 不要在事件回调中同步调用。
func (m *Manager) StopSession() {
	m.mu.RLock()
	s := m.session
	m.mu.RUnlock()
	if s == nil {
		return
	}
	s.teardown(nil)
	s.wg.Wait()
}

// ToggleMute 切换静音并返回新的状态。静音时采集继续，只是不发送。
func (m *Manager) ToggleMute() bool {
	s := m.Session()
	if s == nil {
		return false
	}
	for {
		old := s.muted.Load()
		if s.muted.CompareAndSwap(old, !old) {
			s.logger.Debug("mute toggled", zap.Bool("muted", !old))
			return !old
		}
	}
}

// Transcript 文本对话记录。
func (m *Manager) Transcript() *Transcript { return m.text }

// SendTextMessage 发送一条文本消息并流式接收回复，返回最终的助手消息。
func (m *Manager) SendTextMessage(ctx context.Context, text string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyMessage
	}
	if m.opts.Chat == nil {
		return Message{}, ErrTextUnavailable
	}
	if !m.textBusy.CompareAndSwap(false, true) {
		return Message{}, ErrTurnInProgress
	}
	defer m.textBusy.Store(false)

	userMsg, _ := m.text.AppendCompleted(chat.RoleUser, text)
	m.emit(Event{Kind: EventMessageAppended, Message: userMsg})

	body, err := m.opts.Chat.Stream(ctx, m.text.Turns())
	if err != nil {
		m.logger.Warn("chat request failed", zap.Error(err))
		m.emit(Event{Kind: EventError, Err: err})
		return Message{}, err
	}
	defer body.Close()

	var streamErr error
	err = m.consume(body, func(err error) { streamErr = err })
	if err != nil {
		m.text.Abort()
		m.logger.Warn("chat stream failed", zap.Error(err))
		m.emit(Event{Kind: EventError, Err: err})
		return Message{}, err
	}

	msg, ok := m.text.Finalize("")
	if ok {
		m.emit(Event{Kind: EventMessageAppended, Message: msg})
	}
	if streamErr != nil {
		m.emit(Event{Kind: EventError, Err: streamErr})
		if !ok {
			return Message{}, streamErr
		}
	}
	return msg, nil
}

// consume 用 Stream Frame Parser 解析响应体，直到 [DONE] 或 EOF。
// 流内的 error 块交给 onError，返回值只表示致命错误。
func (m *Manager) consume(body io.Reader, onError func(error)) error {
	var opts []sse.Option
	if m.opts.MaxCarryOver > 0 {
		opts = append(opts, sse.WithMaxCarryOver(m.opts.MaxCarryOver))
	}
	parser := sse.NewParser(opts...)

	handle := func(frame sse.Frame) {
		switch frame.Kind {
		case sse.KindDelta:
			msg, _ := m.text.AppendDelta(frame.Content)
			m.emit(Event{Kind: EventMessageUpdated, Message: msg})
		case sse.KindError:
			onError(classifyChunk(frame.Err))
		}
	}

	buf := make([]byte, readBufferSize)
	for !parser.Done() {
		n, rerr := body.Read(buf)
		if n > 0 {
			for frame, err := range parser.Feed(buf[:n]) {
				if err != nil {
					return err
				}
				handle(frame)
			}
		}
		if errors.Is(rerr, io.EOF) {
			for frame := range parser.Flush() {
				handle(frame)
			}
			break
		}
		if rerr != nil {
			return &TransportError{Op: "chat stream", Err: rerr}
		}
	}
	return nil
}
