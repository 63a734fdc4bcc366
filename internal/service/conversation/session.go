package conversation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/career-counsel/backend/internal/service/audio"
	"github.com/zhouzirui/career-counsel/backend/internal/service/relay"
)

// State 会话生命周期状态，只会单调前进。
type State uint8

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Session 一次语音会话。连接、采集与播放资源都归会话所有，关闭后不会复用。
type Session struct {
	id         string
	transcript *Transcript
	emit       func(Event)
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	ready     chan struct{}
	readyOnce sync.Once
	closed    chan struct{}

	mu        sync.Mutex
	state     State
	transport *lockedConn
	capture   *audio.Capture
	playback  *audio.PlaybackQueue
	listening bool

	muted    atomic.Bool
	captured atomic.Uint64
	sent     atomic.Uint64

	teardownOnce sync.Once
}

func newSession(emit func(Event), logger *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Session{
		id:         id,
		transcript: NewTranscript(),
		emit:       emit,
		logger:     logger.With(zap.String("session_id", id)),
		ctx:        ctx,
		cancel:     cancel,
		ready:      make(chan struct{}),
		closed:     make(chan struct{}),
	}
}

// ID 会话标识。
func (s *Session) ID() string { return s.id }

// State 当前状态。
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Muted 是否静音。
func (s *Session) Muted() bool { return s.muted.Load() }

// Listening 上游是否检测到用户正在说话。
func (s *Session) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// Speaking 是否正在播放助手语音。
func (s *Session) Speaking() bool {
	s.mu.Lock()
	playback := s.playback
	s.mu.Unlock()
	return playback != nil && playback.Playing()
}

// Messages 已完成消息的副本。
func (s *Session) Messages() []Message { return s.transcript.Messages() }

// InProgress 正在流式生成的助手消息。
func (s *Session) InProgress() (Message, bool) { return s.transcript.InProgress() }

// CapturedChunks 采集到的音频块数量，静音时也会增长。
func (s *Session) CapturedChunks() uint64 { return s.captured.Load() }

// SentChunks 实际发送到上游的音频块数量。
func (s *Session) SentChunks() uint64 { return s.sent.Load() }

// Done 会话关闭后关闭的通道。
func (s *Session) Done() <-chan struct{} { return s.closed }

func (s *Session) active() bool {
	return s.ctx.Err() == nil
}

// transition 前进到 next，已处于或越过 next 时返回 false。
func (s *Session) transition(next State) bool {
	s.mu.Lock()
	if s.state >= next {
		s.mu.Unlock()
		return false
	}
	s.state = next
	s.mu.Unlock()

	s.emit(Event{Kind: EventStateChanged, SessionID: s.id, State: next})
	return true
}

// adopt* 在会话仍存活时接管资源，否则返回 false，由调用方自行释放。
func (s *Session) adoptTransport(conn relay.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state >= StateClosing {
		return false
	}
	s.transport = &lockedConn{conn: conn}
	return true
}

func (s *Session) adoptCapture(c *audio.Capture) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state >= StateClosing {
		return false
	}
	s.capture = c
	return true
}

func (s *Session) adoptPlayback(q *audio.PlaybackQueue) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state >= StateClosing {
		return false
	}
	s.playback = q
	return true
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// teardown 是所有关闭路径的汇合点，资源只释放一次。
// Open 会话经过 Closing，尚未建立的会话直接进入 Closed。
func (s *Session) teardown(cause error) {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		wasOpen := s.state == StateOpen
		s.mu.Unlock()
		if wasOpen {
			s.transition(StateClosing)
		} else {
			// 阻止后续 adopt
			s.mu.Lock()
			s.state = StateClosing
			s.mu.Unlock()
		}

		s.cancel()

		s.mu.Lock()
		transport, capture, playback := s.transport, s.capture, s.playback
		s.mu.Unlock()

		if transport != nil {
			if err := transport.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("close transport failed", zap.Error(err))
			}
		}
		if capture != nil {
			if err := capture.Stop(); err != nil {
				s.logger.Debug("release microphone failed", zap.Error(err))
			}
		}
		if playback != nil {
			playback.Clear()
			playback.Close()
		}
		s.transcript.Seal()

		s.transition(StateClosed)
		if cause != nil {
			s.emit(Event{Kind: EventError, SessionID: s.id, Err: cause})
		}
		close(s.closed)
		s.logger.Info("session closed", zap.Error(cause))
	})
}

// sendAudio 是采集回调，静音时只计数不发送。
func (s *Session) sendAudio(chunk audio.Chunk) {
	s.captured.Add(1)
	if s.muted.Load() || !s.active() {
		return
	}

	frame, err := realtimeAudioFrame(chunk.PCM)
	if err != nil {
		s.logger.Warn("encode audio frame failed", zap.Error(err))
		return
	}
	if err := s.write(frame); err != nil {
		if s.active() {
			s.logger.Debug("send audio failed", zap.Uint64("seq", chunk.Seq), zap.Error(err))
		}
		return
	}
	s.sent.Add(1)
}

func (s *Session) write(frame []byte) error {
	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()
	if transport == nil {
		return ErrSessionClosed
	}
	return transport.WriteMessage(websocket.TextMessage, frame)
}

// lockedConn 串行化写操作，采集协程与读协程都会写。
type lockedConn struct {
	conn    relay.Conn
	writeMu sync.Mutex
}

func (c *lockedConn) ReadMessage() (int, []byte, error) {
	return c.conn.ReadMessage()
}

func (c *lockedConn) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(messageType, data)
}

func (c *lockedConn) Close() error {
	return c.conn.Close()
}
