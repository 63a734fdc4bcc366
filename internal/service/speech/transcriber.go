package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/career-counsel/backend/internal/config"
	"github.com/zhouzirui/career-counsel/backend/internal/metrics"
	"github.com/zhouzirui/career-counsel/backend/internal/model/speech"
	"github.com/zhouzirui/career-counsel/backend/internal/service/audio"
)

var (
	ErrNotConfigured = errors.New("speech: transcription is not configured")
	ErrEmptyAudio    = errors.New("speech: audio is required")
	ErrInvalidAudio  = errors.New("speech: invalid audio payload")
)

// maxResponseBytes 转写响应体上限。
const maxResponseBytes = 1 << 20

// APIError 转写服务返回的非 2xx 响应。
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("speech: transcription failed with status %d: %s", e.StatusCode, e.Message)
}

// Transcriber 调用 /audio/transcriptions 接口把语音转为文本。
type Transcriber struct {
	cfg     config.SpeechConfig
	client  *http.Client
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewTranscriber 创建转写客户端，httpClient 为 nil 时按配置的超时新建。
func NewTranscriber(cfg config.SpeechConfig, httpClient *http.Client, m *metrics.Metrics, logger *zap.Logger) *Transcriber {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transcriber{
		cfg:     cfg,
		client:  httpClient,
		metrics: m,
		logger:  logger.Named("speech"),
		now:     time.Now,
	}
}

// Enabled 是否可以发起转写。
func (t *Transcriber) Enabled() bool {
	return t != nil && t.cfg.Enabled()
}

// Transcribe 解码请求中的音频，必要时封装为 WAV 后上传。
func (t *Transcriber) Transcribe(ctx context.Context, req speech.TranscriptionRequest) (*speech.TranscriptionResponse, error) {
	resp, err := t.transcribe(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	t.metrics.Transcriptions.WithLabelValues(status).Inc()
	return resp, err
}

func (t *Transcriber) transcribe(ctx context.Context, req speech.TranscriptionRequest) (*speech.TranscriptionResponse, error) {
	if !t.Enabled() {
		return nil, ErrNotConfigured
	}

	wav, err := toWAV(req)
	if err != nil {
		return nil, err
	}

	language := req.Language
	if language == "" {
		language = t.cfg.Language
	}

	body, contentType, err := buildMultipart(wav, t.cfg.Model, language)
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(t.cfg.BaseURL, "/") + "/audio/transcriptions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build transcription request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)

	started := t.now()
	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send transcription request: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read transcription response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: httpResp.StatusCode, Message: errorMessage(data)}
		t.logger.Warn("transcription rejected", zap.Int("status", apiErr.StatusCode), zap.String("message", apiErr.Message))
		return nil, apiErr
	}

	var parsed struct {
		Text     string  `json:"text"`
		Language string  `json:"language"`
		Duration float64 `json:"duration"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("decode transcription response: %w", err)
	}

	t.logger.Debug("transcription completed",
		zap.Int("audio_bytes", len(wav)),
		zap.Duration("elapsed", t.now().Sub(started)),
	)

	return &speech.TranscriptionResponse{
		Text:      strings.TrimSpace(parsed.Text),
		Language:  parsed.Language,
		Duration:  parsed.Duration,
		CreatedAt: t.now().UTC(),
	}, nil
}

// toWAV 把 base64 音频转换为 WAV 字节。
func toWAV(req speech.TranscriptionRequest) ([]byte, error) {
	if strings.TrimSpace(req.Audio) == "" {
		return nil, ErrEmptyAudio
	}

	raw, err := audio.DecodeBase64PCM(req.Audio)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}
	if len(raw) == 0 {
		return nil, ErrEmptyAudio
	}

	switch strings.ToLower(req.Format) {
	case speech.FormatWAV:
		if _, _, err := audio.DecodeWAV(raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
		}
		return raw, nil
	case "", speech.FormatPCM16:
		rate := req.SampleRate
		if rate <= 0 {
			rate = audio.SampleRate
		}
		wav, err := audio.EncodeWAV(raw, rate)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
		}
		return wav, nil
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalidAudio, req.Format)
	}
}

func buildMultipart(wav []byte, model, language string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, "", fmt.Errorf("write audio: %w", err)
	}

	fields := map[string]string{"model": model, "response_format": "json"}
	if language != "" {
		fields["language"] = language
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

func errorMessage(data []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return "empty response"
	}
	return msg
}
