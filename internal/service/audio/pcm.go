// Package audio 提供麦克风采集、PCM16 编解码以及按到达顺序播放的队列。
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// SampleRate 实时语音通道使用的采样率。
	SampleRate = 24000
	// FrameSize 单次采集回调的样本数。
	FrameSize = 4096
)

// EncodePCM16 将 [-1, 1] 范围的浮点样本编码为 16 位小端 PCM，越界值会被截断。
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// DecodePCM16 将 16 位小端 PCM 解码为浮点样本，末尾不足两个字节的部分被忽略。
func DecodePCM16(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		if v < 0 {
			out[i] = float32(v) / 0x8000
		} else {
			out[i] = float32(v) / 0x7FFF
		}
	}
	return out
}

// EncodeBase64PCM 编码为 PCM16 后再做 base64。
func EncodeBase64PCM(samples []float32) string {
	return base64.StdEncoding.EncodeToString(EncodePCM16(samples))
}

// DecodeBase64PCM 解码上游下发的 base64 PCM16 音频。
func DecodeBase64PCM(encoded string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64 audio: %w", err)
	}
	return pcm, nil
}

// Resample 以线性插值把样本从 from Hz 转换到 to Hz。
func Resample(samples []float32, from, to int) []float32 {
	if from <= 0 || to <= 0 || from == to || len(samples) == 0 {
		return samples
	}

	ratio := float64(from) / float64(to)
	n := int(math.Round(float64(len(samples)) / ratio))
	if n == 0 {
		return nil
	}

	out := make([]float32, n)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = samples[idx] + (samples[idx+1]-samples[idx])*frac
	}
	return out
}

func floatToInt16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}
