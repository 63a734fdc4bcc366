package speech

import "time"

// TranscriptionResponse 语音转写结果
type TranscriptionResponse struct {
	Text      string    `json:"text"`
	Language  string    `json:"language,omitempty"`
	Duration  float64   `json:"duration,omitempty"` // seconds
	CreatedAt time.Time `json:"createdAt"`
}
