package audio

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrPermissionDenied 用户或系统拒绝了麦克风访问。
	ErrPermissionDenied = errors.New("audio: microphone permission denied")
	// ErrDeviceBusy 设备句柄尚未释放。
	ErrDeviceBusy = errors.New("audio: device already in use")
)

// Device 麦克风抽象。Open 返回独占的采集流，Close 之前不能再次打开。
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream 已打开的采集流。
type Stream interface {
	// Read 阻塞直到读到一帧样本，流结束时返回 io.EOF。
	Read(ctx context.Context) ([]float32, error)
	SampleRate() int
	Close() error
}

// Chunk 一段 PCM16 音频及其单调递增的序号。
type Chunk struct {
	Seq uint64
	PCM []byte
}

// Capture 持有采集流，把每一帧重采样到 24kHz 并编码为 PCM16 交给回调。
type Capture struct {
	stream Stream
	logger *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	seq     uint64
	stopped bool

	closeOnce sync.Once
	closeErr  error
}

// NewCapture 接管一个已打开的 Stream。
func NewCapture(stream Stream, logger *zap.Logger) *Capture {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Capture{
		stream: stream,
		logger: logger.Named("capture"),
	}
}

// Start 启动采集循环，重复调用无效。
func (c *Capture) Start(send func(Chunk)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(ctx, send)
}

func (c *Capture) loop(ctx context.Context, send func(Chunk)) {
	defer close(c.done)

	rate := c.stream.SampleRate()
	for {
		frame, err := c.stream.Read(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				c.logger.Warn("capture read failed", zap.Error(err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		pcm := EncodePCM16(Resample(frame, rate, SampleRate))
		if len(pcm) == 0 {
			continue
		}
		c.seq++
		send(Chunk{Seq: c.seq, PCM: pcm})
	}
}

// Stop 停止采集并释放设备，只会关闭一次底层流，返回前等待循环退出。
func (c *Capture) Stop() error {
	c.mu.Lock()
	c.stopped = true
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.closeOnce.Do(func() {
		c.closeErr = c.stream.Close()
	})
	if done != nil {
		<-done
	}
	return c.closeErr
}
