// Package relay 在客户端与上游实时语音服务之间双向转发帧。
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/career-counsel/backend/internal/metrics"
	"github.com/zhouzirui/career-counsel/backend/internal/protocol/realtime"
)

// ErrNotReady 上游未在限定时间内完成会话初始化。
var ErrNotReady = errors.New("relay: upstream session not ready in time")

const (
	defaultDialTimeout  = 10 * time.Second
	defaultReadyTimeout = 15 * time.Second
)

// Options 中继参数。
type Options struct {
	DialTimeout  time.Duration
	ReadyTimeout time.Duration
	Profile      realtime.Profile
	// InboundRate 为每连接客户端帧速率上限，0 表示不限速。
	InboundRate  rate.Limit
	InboundBurst int
}

// Relay 负责一次或多次中继会话的建立与转发。
type Relay struct {
	dialer  Dialer
	opts    Options
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New 创建中继。
func New(dialer Dialer, opts Options, m *metrics.Metrics, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = defaultReadyTimeout
	}
	if opts.InboundRate > 0 && opts.InboundBurst <= 0 {
		opts.InboundBurst = int(opts.InboundRate)
		if opts.InboundBurst < 1 {
			opts.InboundBurst = 1
		}
	}
	return &Relay{
		dialer:  dialer,
		opts:    opts,
		metrics: m,
		logger:  logger.Named("relay"),
	}
}

// Connect 在 DialTimeout 内连接上游。调用方应在升级客户端连接前调用。
func (r *Relay) Connect(ctx context.Context) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, r.opts.DialTimeout)
	defer cancel()

	conn, err := r.dialer.Dial(dialCtx)
	if err != nil {
		r.metrics.RelaySessions.WithLabelValues(metrics.ResultDialFailed).Inc()
		if errors.Is(err, ErrUpstreamUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	return conn, nil
}

// Serve 在 client 与 upstream 之间转发，直到任一端关闭。返回前两端都已关闭。
//
// 上游首个 session.created 转发给客户端后，注入一次 session.update，
// 之后才开始转发客户端帧。
func (r *Relay) Serve(ctx context.Context, client, upstream Conn) error {
	s := &session{
		relay:    r,
		client:   client,
		upstream: upstream,
		ready:    make(chan struct{}),
		logger:   r.logger,
	}
	if r.opts.InboundRate > 0 {
		s.limiter = rate.NewLimiter(r.opts.InboundRate, r.opts.InboundBurst)
	}

	started := time.Now()
	r.metrics.RelayActive.Inc()
	defer func() {
		r.metrics.RelayActive.Dec()
		r.metrics.RelayDuration.Observe(time.Since(started).Seconds())
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer s.closeAll()
		return s.pumpUpstream()
	})
	g.Go(func() error {
		defer s.closeAll()
		return s.pumpClient(gctx)
	})
	g.Go(func() error {
		return s.watch(gctx, r.opts.ReadyTimeout)
	})

	err := g.Wait()
	s.closeAll()
	if s.timedOut.Load() {
		err = ErrNotReady
	}

	switch {
	case errors.Is(err, ErrNotReady):
		r.metrics.RelaySessions.WithLabelValues(metrics.ResultNotReady).Inc()
		r.logger.Warn("relay establishment failed", zap.Error(err))
		return err
	case isClosed(err):
		r.logger.Debug("relay finished")
		return nil
	default:
		r.logger.Info("relay finished with error", zap.Error(err))
		return err
	}
}

type session struct {
	relay    *Relay
	client   Conn
	upstream Conn
	limiter  *rate.Limiter
	logger   *zap.Logger

	ready     chan struct{}
	readyOnce sync.Once
	timedOut  atomic.Bool
	closeOnce sync.Once
}

func (s *session) pumpUpstream() error {
	frames := s.relay.metrics.RelayFrames.WithLabelValues(metrics.DirectionDownstream)
	for {
		mt, data, err := s.upstream.ReadMessage()
		if err != nil {
			return fmt.Errorf("read upstream: %w", err)
		}
		if err := s.client.WriteMessage(mt, data); err != nil {
			return fmt.Errorf("write client: %w", err)
		}
		frames.Inc()

		if mt == websocket.TextMessage && !s.isReady() {
			if err := s.maybeConfigure(data); err != nil {
				return err
			}
		}
	}
}

// maybeConfigure 在收到 session.created 后下发会话配置并打开就绪闸门。
func (s *session) maybeConfigure(data []byte) error {
	typ, err := realtime.PeekType(data)
	if err != nil || typ != realtime.TypeSessionCreated {
		return nil
	}

	update, err := realtime.SessionUpdate(s.relay.opts.Profile)
	if err != nil {
		return fmt.Errorf("build session.update: %w", err)
	}
	if err := s.upstream.WriteMessage(websocket.TextMessage, update); err != nil {
		return fmt.Errorf("write session.update: %w", err)
	}
	s.relay.metrics.RelaySessions.WithLabelValues(metrics.ResultEstablished).Inc()
	s.logger.Info("upstream session configured")

	s.readyOnce.Do(func() { close(s.ready) })
	return nil
}

// pumpClient 立即开始读取客户端，以便握手期间也能感知客户端断开；
// 就绪前最多持有一帧，转发等待闸门打开。
func (s *session) pumpClient(ctx context.Context) error {
	frames := s.relay.metrics.RelayFrames.WithLabelValues(metrics.DirectionUpstream)
	for {
		mt, data, err := s.client.ReadMessage()
		if err != nil {
			return fmt.Errorf("read client: %w", err)
		}
		select {
		case <-s.ready:
		case <-ctx.Done():
			return ctx.Err()
		}
		if s.limiter != nil && !s.limiter.Allow() {
			s.relay.metrics.RelayDropped.Inc()
			s.logger.Debug("client frame dropped by rate limiter", zap.Int("bytes", len(data)))
			continue
		}
		if err := s.upstream.WriteMessage(mt, data); err != nil {
			return fmt.Errorf("write upstream: %w", err)
		}
		frames.Inc()
	}
}

func (s *session) watch(ctx context.Context, readyTimeout time.Duration) error {
	timer := time.NewTimer(readyTimeout)
	defer timer.Stop()

	select {
	case <-s.ready:
	case <-timer.C:
		s.timedOut.Store(true)
		s.closeAll()
		return ErrNotReady
	case <-ctx.Done():
		s.closeAll()
		return nil
	}

	<-ctx.Done()
	s.closeAll()
	return nil
}

func (s *session) isReady() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

func (s *session) closeAll() {
	s.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		for _, c := range []Conn{s.client, s.upstream} {
			if wc, ok := c.(interface {
				WriteControl(int, []byte, time.Time) error
			}); ok {
				_ = wc.WriteControl(websocket.CloseMessage, msg, deadline)
			}
			if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("close connection failed", zap.Error(err))
			}
		}
	})
}

func isClosed(err error) bool {
	if err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled) {
		return true
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			return true
		}
	}
	return false
}
