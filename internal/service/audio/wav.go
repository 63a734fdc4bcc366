package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidWAV 输入不是单声道 16 位 PCM WAV。
var ErrInvalidWAV = errors.New("audio: invalid wav data")

const wavHeaderSize = 44

// wavHeader 标准 44 字节 RIFF 头。
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// EncodeWAV 将单声道 PCM16LE 数据封装为 WAV。
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}

	const channels, bits = 1, 16
	dataSize := uint32(len(pcm))
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * channels * bits / 8,
		BlockAlign:    channels * bits / 8,
		BitsPerSample: bits,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// DecodeWAV 解析 WAV，返回 PCM16LE 数据与采样率。
func DecodeWAV(data []byte) ([]byte, int, error) {
	if len(data) < wavHeaderSize {
		return nil, 0, fmt.Errorf("%w: need at least %d bytes, got %d", ErrInvalidWAV, wavHeaderSize, len(data))
	}

	var header wavHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, 0, fmt.Errorf("read wav header: %w", err)
	}

	switch {
	case string(header.ChunkID[:]) != "RIFF":
		return nil, 0, fmt.Errorf("%w: missing RIFF header", ErrInvalidWAV)
	case string(header.Format[:]) != "WAVE":
		return nil, 0, fmt.Errorf("%w: missing WAVE format", ErrInvalidWAV)
	case string(header.Subchunk1ID[:]) != "fmt ":
		return nil, 0, fmt.Errorf("%w: missing fmt chunk", ErrInvalidWAV)
	case string(header.Subchunk2ID[:]) != "data":
		return nil, 0, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
	case header.AudioFormat != 1:
		return nil, 0, fmt.Errorf("%w: unsupported audio format %d", ErrInvalidWAV, header.AudioFormat)
	case header.BitsPerSample != 16:
		return nil, 0, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, header.BitsPerSample)
	case header.NumChannels != 1:
		return nil, 0, fmt.Errorf("%w: unsupported channel count %d", ErrInvalidWAV, header.NumChannels)
	case header.SampleRate == 0:
		return nil, 0, fmt.Errorf("%w: zero sample rate", ErrInvalidWAV)
	}

	size := int(header.Subchunk2Size)
	if avail := len(data) - wavHeaderSize; size > avail {
		size = avail
	}
	pcm := make([]byte, size&^1)
	copy(pcm, data[wavHeaderSize:])
	return pcm, int(header.SampleRate), nil
}
