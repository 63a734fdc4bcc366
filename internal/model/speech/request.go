package speech

// 音频格式。
const (
	FormatPCM16 = "pcm16"
	FormatWAV   = "wav"
)

// TranscriptionRequest 语音转写请求，Audio 为 base64 编码的音频。
type TranscriptionRequest struct {
	Audio      string `json:"audio"`
	Format     string `json:"format,omitempty"`     // pcm16, wav
	SampleRate int    `json:"sampleRate,omitempty"` // 仅 pcm16 使用
	Language   string `json:"language,omitempty"`   // zh, en, etc.
}
