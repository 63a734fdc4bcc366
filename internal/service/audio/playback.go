package audio

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Sink 播放设备。Play 阻塞到该段音频播完，ctx 取消时应尽快返回。
type Sink interface {
	Play(ctx context.Context, pcm []byte) error
}

// PlaybackQueue 按到达顺序无缝播放音频块。
type PlaybackQueue struct {
	sink   Sink
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}

	mu         sync.Mutex
	queue      []Chunk
	seq        uint64
	playing    bool
	closed     bool
	stopActive context.CancelFunc
	onState    func(playing bool)

	closeOnce sync.Once
}

// NewPlaybackQueue 创建播放队列并启动播放协程。
func NewPlaybackQueue(sink Sink, logger *zap.Logger) *PlaybackQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &PlaybackQueue{
		sink:   sink,
		logger: logger.Named("playback"),
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// OnStateChange 注册播放状态回调，回调在播放协程中执行。
func (q *PlaybackQueue) OnStateChange(fn func(playing bool)) {
	q.mu.Lock()
	q.onState = fn
	q.mu.Unlock()
}

// Enqueue 追加一段 PCM16 音频，关闭后的调用被忽略。
func (q *PlaybackQueue) Enqueue(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.seq++
	q.queue = append(q.queue, Chunk{Seq: q.seq, PCM: pcm})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Playing 报告当前是否在播放。
func (q *PlaybackQueue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Pending 返回尚未开始播放的块数。
func (q *PlaybackQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Clear 中断当前播放并丢弃排队中的音频。
func (q *PlaybackQueue) Clear() {
	q.mu.Lock()
	q.queue = nil
	if q.stopActive != nil {
		q.stopActive()
	}
	q.mu.Unlock()
}

// Close 停止播放协程，可重复调用。
func (q *PlaybackQueue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.queue = nil
		q.mu.Unlock()
		q.cancel()
		<-q.done
	})
}

func (q *PlaybackQueue) run() {
	defer close(q.done)
	defer q.setPlaying(false)

	for {
		chunk, ctx, stop, ok := q.next()
		if !ok {
			if q.ctx.Err() != nil {
				return
			}
			q.setPlaying(false)
			select {
			case <-q.wake:
				continue
			case <-q.ctx.Done():
				return
			}
		}

		q.setPlaying(true)
		err := q.sink.Play(ctx, chunk.PCM)
		q.mu.Lock()
		q.stopActive = nil
		q.mu.Unlock()
		stop()

		if err != nil && !errors.Is(err, context.Canceled) {
			q.logger.Warn("play chunk failed", zap.Uint64("seq", chunk.Seq), zap.Error(err))
		}
	}
}

func (q *PlaybackQueue) next() (Chunk, context.Context, context.CancelFunc, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.queue) == 0 {
		return Chunk{}, nil, nil, false
	}

	chunk := q.queue[0]
	q.queue = q.queue[1:]
	ctx, stop := context.WithCancel(q.ctx)
	q.stopActive = stop
	return chunk, ctx, stop, true
}

func (q *PlaybackQueue) setPlaying(v bool) {
	q.mu.Lock()
	if q.playing == v {
		q.mu.Unlock()
		return
	}
	q.playing = v
	fn := q.onState
	q.mu.Unlock()

	if fn != nil {
		fn(v)
	}
}
