package conversation_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/career-counsel/backend/internal/service/audio"
	"github.com/zhouzirui/career-counsel/backend/internal/service/conversation"
	"github.com/zhouzirui/career-counsel/backend/internal/service/relay"
)

const waitFor = 2 * time.Second

// fakeConn 以 channel 模拟上游连接。
type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32

	mu     sync.Mutex
	writes [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-c.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, data, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.mu.Lock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(event string) { c.in <- []byte(event) }

// hangUp 模拟上游主动断开。
func (c *fakeConn) hangUp() { close(c.in) }

// written 返回指定 type 的上行帧。
func (c *fakeConn) written(eventType string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []map[string]any
	for _, raw := range c.writes {
		var frame map[string]any
		if json.Unmarshal(raw, &frame) == nil && frame["type"] == eventType {
			out = append(out, frame)
		}
	}
	return out
}

func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.writes))
	for _, raw := range c.writes {
		var head struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(raw, &head)
		out = append(out, head.Type)
	}
	return out
}

type fakeDialer struct {
	mu    sync.Mutex
	err   error
	quiet bool // 不发送 session.created
	conns []*fakeConn
}

func (d *fakeDialer) Dial(context.Context) (relay.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	if !d.quiet {
		c.push(`{"type":"session.created","session":{"id":"sess_1"}}`)
	}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

type fakeStream struct {
	frames    chan []float32
	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32
}

func (s *fakeStream) Read(ctx context.Context) ([]float32, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, io.EOF
	}
}

func (s *fakeStream) SampleRate() int { return audio.SampleRate }

func (s *fakeStream) Close() error {
	s.closes.Add(1)
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type fakeDevice struct {
	mu      sync.Mutex
	err     error
	streams []*fakeStream
	// prompting 非 nil 时 Open 模拟一直停留在权限弹窗，进入时关闭该通道。
	prompting chan struct{}
}

func (d *fakeDevice) Open(ctx context.Context) (audio.Stream, error) {
	if d.prompting != nil {
		close(d.prompting)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	s := &fakeStream{frames: make(chan []float32, 8), closed: make(chan struct{})}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDevice) last() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

// holdSink 每段音频都一直“播放”到被打断。
type holdSink struct {
	played      atomic.Int32
	interrupted atomic.Int32
}

func (s *holdSink) Play(ctx context.Context, _ []byte) error {
	s.played.Add(1)
	<-ctx.Done()
	s.interrupted.Add(1)
	return ctx.Err()
}

type recorder struct {
	mu     sync.Mutex
	events []conversation.Event
}

func (r *recorder) handle(ev conversation.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) find(match func(conversation.Event) bool) (conversation.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if match(ev) {
			return ev, true
		}
	}
	return conversation.Event{}, false
}

func (r *recorder) await(t *testing.T, match func(conversation.Event) bool) conversation.Event {
	t.Helper()
	var found conversation.Event
	require.Eventually(t, func() bool {
		ev, ok := r.find(match)
		found = ev
		return ok
	}, waitFor, 5*time.Millisecond)
	return found
}

func (r *recorder) states() []conversation.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []conversation.State
	for _, ev := range r.events {
		if ev.Kind == conversation.EventStateChanged {
			out = append(out, ev.State)
		}
	}
	return out
}

func kind(k conversation.EventKind) func(conversation.Event) bool {
	return func(ev conversation.Event) bool { return ev.Kind == k }
}

func errorEvent[T error]() func(conversation.Event) bool {
	return func(ev conversation.Event) bool {
		if ev.Kind != conversation.EventError {
			return false
		}
		var target T
		return errors.As(ev.Err, &target)
	}
}

type harness struct {
	mgr    *conversation.Manager
	device *fakeDevice
	dialer *fakeDialer
	sink   *holdSink
	events *recorder
}

func newHarness(t *testing.T, opts conversation.Options) *harness {
	t.Helper()
	h := &harness{
		device: &fakeDevice{},
		dialer: &fakeDialer{},
		sink:   &holdSink{},
		events: &recorder{},
	}
	opts.Device = h.device
	opts.Dialer = h.dialer
	opts.Sink = h.sink
	h.mgr = conversation.NewManager(opts)
	h.mgr.Subscribe(h.events.handle)
	t.Cleanup(h.mgr.StopSession)
	return h
}

func (h *harness) start(t *testing.T) (*conversation.Session, *fakeConn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	s, err := h.mgr.StartSession(ctx)
	require.NoError(t, err)
	require.Equal(t, conversation.StateOpen, s.State())
	return s, h.dialer.last()
}
