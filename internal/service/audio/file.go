package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"
)

// WAVFileDevice 以 WAV 文件充当麦克风，供命令行工具与测试使用。
type WAVFileDevice struct {
	Path string
	// Realtime 为 true 时按音频时长节奏输出帧。
	Realtime bool
	// TrailingSilence 文件读完后追加的静音时长，便于服务端 VAD 判定说话结束。
	TrailingSilence time.Duration

	mu   sync.Mutex
	open bool
}

// Open 读取并解码整个文件。
func (d *WAVFileDevice) Open(ctx context.Context) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return nil, ErrDeviceBusy
	}

	data, err := os.ReadFile(d.Path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("open wav device: %w", err)
	}
	pcm, rate, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}

	samples := DecodePCM16(pcm)
	if d.TrailingSilence > 0 {
		pad := int(d.TrailingSilence.Seconds() * float64(rate))
		samples = append(samples, make([]float32, pad)...)
	}

	d.open = true
	return &sampleStream{
		samples:  samples,
		rate:     rate,
		realtime: d.Realtime,
		release: func() {
			d.mu.Lock()
			d.open = false
			d.mu.Unlock()
		},
		closed: make(chan struct{}),
	}, nil
}

type sampleStream struct {
	samples  []float32
	rate     int
	pos      int
	realtime bool
	release  func()

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *sampleStream) SampleRate() int { return s.rate }

func (s *sampleStream) Read(ctx context.Context) ([]float32, error) {
	select {
	case <-s.closed:
		return nil, io.EOF
	default:
	}
	if s.pos >= len(s.samples) {
		return nil, io.EOF
	}

	end := min(s.pos+FrameSize, len(s.samples))
	frame := s.samples[s.pos:end]
	s.pos = end

	if s.realtime {
		wait := time.Duration(len(frame)) * time.Second / time.Duration(s.rate)
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closed:
			return nil, io.EOF
		}
	}
	return frame, nil
}

func (s *sampleStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.release()
	})
	return nil
}

// WAVFileSink 把播放的音频写入内存，Close 时落盘为 WAV 文件。
type WAVFileSink struct {
	Path string
	// Realtime 为 true 时 Play 按音频时长阻塞。
	Realtime bool

	mu  sync.Mutex
	pcm []byte
}

// Play 记录一段 PCM16 音频。
func (s *WAVFileSink) Play(ctx context.Context, pcm []byte) error {
	if s.Realtime {
		wait := time.Duration(len(pcm)/2) * time.Second / SampleRate
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	s.pcm = append(s.pcm, pcm...)
	s.mu.Unlock()
	return nil
}

// Bytes 返回目前为止播放的 PCM16 数据副本。
func (s *WAVFileSink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.pcm...)
}

// Close 写出 WAV 文件；Path 为空时只丢弃数据。
func (s *WAVFileSink) Close() error {
	if s.Path == "" {
		return nil
	}
	wav, err := EncodeWAV(s.Bytes(), SampleRate)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.Path, wav, 0o644); err != nil {
		return fmt.Errorf("write wav sink: %w", err)
	}
	return nil
}
