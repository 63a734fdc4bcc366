package audio

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func sine(n, rate int, freq float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

func TestPCM16_RoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		samples := rapid.SliceOf(rapid.Float32Range(-1, 1)).Draw(rt, "samples")
		decoded := DecodePCM16(EncodePCM16(samples))
		if len(decoded) != len(samples) {
			rt.Fatalf("length %d, want %d", len(decoded), len(samples))
		}
		for i := range samples {
			if math.Abs(float64(decoded[i]-samples[i])) > 1.0/16000 {
				rt.Fatalf("sample %d: got %v want %v", i, decoded[i], samples[i])
			}
		}
	})
}

func TestEncodePCM16_Clamps(t *testing.T) {
	pcm := EncodePCM16([]float32{2, -2, 0})
	require.Len(t, pcm, 6)
	got := DecodePCM16(pcm)
	assert.InDelta(t, 1.0, got[0], 1e-6)
	assert.InDelta(t, -1.0, got[1], 1e-6)
	assert.InDelta(t, 0.0, got[2], 1e-6)

	assert.Len(t, DecodePCM16([]byte{1, 2, 3}), 1)
}

func TestBase64PCM(t *testing.T) {
	encoded := EncodeBase64PCM([]float32{0.25, -0.25})
	pcm, err := DecodeBase64PCM(encoded)
	require.NoError(t, err)
	assert.Len(t, pcm, 4)

	_, err = DecodeBase64PCM("%%%")
	assert.Error(t, err)
}

func TestResample(t *testing.T) {
	in := sine(4800, 48000, 440)
	out := Resample(in, 48000, SampleRate)
	assert.Len(t, out, 2400)
	assert.InDelta(t, in[2], out[1], 1e-6)

	assert.Equal(t, in, Resample(in, SampleRate, SampleRate))
	assert.Len(t, Resample(sine(160, 16000, 200), 16000, SampleRate), 240)
}

func TestWAV_RoundTrip(t *testing.T) {
	pcm := EncodePCM16(sine(2400, SampleRate, 440))
	wav, err := EncodeWAV(pcm, SampleRate)
	require.NoError(t, err)
	assert.Len(t, wav, wavHeaderSize+len(pcm))

	got, rate, err := DecodeWAV(wav)
	require.NoError(t, err)
	assert.Equal(t, SampleRate, rate)
	assert.Equal(t, pcm, got)
}

func TestDecodeWAV_Invalid(t *testing.T) {
	_, _, err := DecodeWAV([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidWAV)

	wav, err := EncodeWAV(make([]byte, 8), 8000)
	require.NoError(t, err)
	copy(wav[0:4], "RIFX")
	_, _, err = DecodeWAV(wav)
	assert.ErrorIs(t, err, ErrInvalidWAV)

	// 采样率字段为 0
	wav, err = EncodeWAV(make([]byte, 8), 8000)
	require.NoError(t, err)
	copy(wav[24:28], []byte{0, 0, 0, 0})
	_, _, err = DecodeWAV(wav)
	assert.ErrorIs(t, err, ErrInvalidWAV)

	path := filepath.Join(t.TempDir(), "zero-rate.wav")
	require.NoError(t, os.WriteFile(path, wav, 0o600))
	_, err = (&WAVFileDevice{Path: path, Realtime: true}).Open(context.Background())
	assert.ErrorIs(t, err, ErrInvalidWAV)

	_, err = EncodeWAV(nil, 0)
	assert.Error(t, err)
}

func writeWAV(t *testing.T, samples []float32, rate int) string {
	t.Helper()
	wav, err := EncodeWAV(EncodePCM16(samples), rate)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "mic.wav")
	require.NoError(t, os.WriteFile(path, wav, 0o600))
	return path
}

func TestCapture_EmitsResampledChunks(t *testing.T) {
	path := writeWAV(t, sine(FrameSize*2, 16000, 300), 16000)
	dev := &WAVFileDevice{Path: path}

	stream, err := dev.Open(context.Background())
	require.NoError(t, err)

	_, err = dev.Open(context.Background())
	assert.ErrorIs(t, err, ErrDeviceBusy)

	var (
		mu     sync.Mutex
		chunks []Chunk
	)
	c := NewCapture(stream, nil)
	c.Start(func(ch Chunk) {
		mu.Lock()
		chunks = append(chunks, ch)
		mu.Unlock()
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(chunks) == 2
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, uint64(1), chunks[0].Seq)
	assert.Equal(t, uint64(2), chunks[1].Seq)
	// 4096 个 16kHz 样本重采样到 24kHz 为 6144 个样本。
	assert.Len(t, chunks[0].PCM, 6144*2)

	again, err := dev.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestCapture_StopBeforeStart(t *testing.T) {
	path := writeWAV(t, sine(100, SampleRate, 300), SampleRate)
	dev := &WAVFileDevice{Path: path}
	stream, err := dev.Open(context.Background())
	require.NoError(t, err)

	c := NewCapture(stream, nil)
	require.NoError(t, c.Stop())
	c.Start(func(Chunk) { t.Fatal("capture should not run after stop") })

	_, err = dev.Open(context.Background())
	assert.NoError(t, err)
}

func TestWAVFileDevice_TrailingSilence(t *testing.T) {
	path := writeWAV(t, sine(10, SampleRate, 300), SampleRate)
	dev := &WAVFileDevice{Path: path, TrailingSilence: 100 * time.Millisecond}
	stream, err := dev.Open(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	frame, err := stream.Read(context.Background())
	require.NoError(t, err)
	assert.Len(t, frame, 10+SampleRate/10)
}

type recordingSink struct {
	mu      sync.Mutex
	played  [][]byte
	block   chan struct{}
	started chan struct{}
}

func (s *recordingSink) Play(ctx context.Context, pcm []byte) error {
	if s.started != nil {
		select {
		case s.started <- struct{}{}:
		default:
		}
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	s.played = append(s.played, pcm)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.played...)
}

func TestPlaybackQueue_PlaysInArrivalOrder(t *testing.T) {
	sink := &recordingSink{}
	q := NewPlaybackQueue(sink, nil)
	defer q.Close()

	var (
		mu     sync.Mutex
		states []bool
	)
	q.OnStateChange(func(playing bool) {
		mu.Lock()
		states = append(states, playing)
		mu.Unlock()
	})

	for i := byte(1); i <= 5; i++ {
		q.Enqueue([]byte{i, i})
	}

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 5 }, time.Second, time.Millisecond)
	played := sink.snapshot()
	for i, pcm := range played {
		assert.Equal(t, byte(i+1), pcm[0])
	}

	require.Eventually(t, func() bool { return !q.Playing() }, time.Second, time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	assert.True(t, states[0])
	assert.False(t, states[len(states)-1])
}

func TestPlaybackQueue_ClearStopsCurrentAndDropsQueued(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{}), started: make(chan struct{}, 1)}
	q := NewPlaybackQueue(sink, nil)
	defer q.Close()

	q.Enqueue([]byte{1, 1})
	q.Enqueue([]byte{2, 2})
	q.Enqueue([]byte{3, 3})

	select {
	case <-sink.started:
	case <-time.After(time.Second):
		t.Fatal("playback did not start")
	}
	assert.True(t, q.Playing())

	q.Clear()
	require.Eventually(t, func() bool { return !q.Playing() }, time.Second, time.Millisecond)
	assert.Zero(t, q.Pending())
	assert.Empty(t, sink.snapshot())
}

func TestPlaybackQueue_CloseIsIdempotent(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	q := NewPlaybackQueue(sink, nil)
	q.Enqueue([]byte{1, 1})

	q.Close()
	q.Close()
	assert.False(t, q.Playing())

	q.Enqueue([]byte{2, 2})
	assert.Zero(t, q.Pending())
}

func TestWAVFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	sink := &WAVFileSink{Path: path}
	require.NoError(t, sink.Play(context.Background(), []byte{1, 0, 2, 0}))
	require.NoError(t, sink.Play(context.Background(), []byte{3, 0}))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	pcm, rate, err := DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, SampleRate, rate)
	assert.Equal(t, []byte{1, 0, 2, 0, 3, 0}, pcm)
}
