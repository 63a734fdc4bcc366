package sse

import (
	"encoding/json"
	"strings"
)

// Chunk 是 OpenAI 兼容流式补全的单个数据块。
type Chunk struct {
	ID      string        `json:"id,omitempty"`
	Object  string        `json:"object,omitempty"`
	Created int64         `json:"created,omitempty"`
	Model   string        `json:"model,omitempty"`
	Choices []ChunkChoice `json:"choices,omitempty"`
	Error   *ChunkError   `json:"error,omitempty"`
}

// ChunkChoice 单个候选的增量。
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason,omitempty"`
}

// ChunkDelta 增量内容。
type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// ChunkError 流内错误负载。
type ChunkError struct {
	Message string          `json:"message"`
	Type    string          `json:"type,omitempty"`
	Code    json.RawMessage `json:"code,omitempty"`
}

// CodeString 返回去掉引号的错误码。
func (e *ChunkError) CodeString() string {
	if e == nil || len(e.Code) == 0 {
		return ""
	}
	code := strings.Trim(string(e.Code), `"`)
	if code == "null" {
		return ""
	}
	return code
}

// DeltaContent 返回首个候选的增量文本。
func (c *Chunk) DeltaContent() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}

// NewDeltaChunk 构造只携带一段增量文本的数据块。
func NewDeltaChunk(id, model, content string) Chunk {
	return Chunk{
		ID:     id,
		Object: "chat.completion.chunk",
		Model:  model,
		Choices: []ChunkChoice{{
			Delta: ChunkDelta{Role: "assistant", Content: content},
		}},
	}
}

// NewErrorChunk 构造流内错误块。
func NewErrorChunk(message, errType string) Chunk {
	return Chunk{Error: &ChunkError{Message: message, Type: errType}}
}
