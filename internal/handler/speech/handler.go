package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/career-counsel/backend/internal/model/speech"
	speechsvc "github.com/zhouzirui/career-counsel/backend/internal/service/speech"
	"github.com/zhouzirui/career-counsel/backend/pkg/utils"
)

// maxUploadBytes 语音条上传上限。
const maxUploadBytes = 25 << 20

// Transcriber 抽象语音转写，便于测试与替换实现
type Transcriber interface {
	Transcribe(ctx context.Context, req speech.TranscriptionRequest) (*speech.TranscriptionResponse, error)
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	transcriber Transcriber
	logger      *zap.Logger
}

// New 创建语音处理器，transcriber 为 nil 时接口返回 503。
func New(transcriber Transcriber, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{transcriber: transcriber, logger: logger.Named("speech")}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		speechRouter.Post("/transcribe", h.handleTranscribe)
		speechRouter.Get("/health", h.handleHealth)
	})
}

// handleTranscribe 支持 JSON {audio: base64} 与 multipart 上传两种方式。
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if h.transcriber == nil {
		_ = utils.RespondError(w, http.StatusServiceUnavailable, "speech transcription unavailable")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	req, err := decodeRequest(r)
	if err != nil {
		_ = utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.transcriber.Transcribe(r.Context(), req)
	if err != nil {
		h.respondTranscribeError(w, err)
		return
	}
	_ = utils.RespondJSON(w, http.StatusOK, resp)
}

func decodeRequest(r *http.Request) (speech.TranscriptionRequest, error) {
	var req speech.TranscriptionRequest

	if err := r.ParseMultipartForm(maxUploadBytes); err == nil {
		defer r.MultipartForm.RemoveAll()

		file, _, err := r.FormFile("audio")
		if err != nil {
			return req, errors.New("audio file is required")
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return req, errors.New("failed to read audio file")
		}
		req.Audio = base64.StdEncoding.EncodeToString(data)
		req.Format = r.FormValue("format")
		if req.Format == "" {
			req.Format = speech.FormatWAV
		}
		req.Language = r.FormValue("language")
		return req, nil
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, errors.New("invalid request body")
	}
	return req, nil
}

func (h *Handler) respondTranscribeError(w http.ResponseWriter, err error) {
	var apiErr *speechsvc.APIError
	switch {
	case errors.Is(err, speechsvc.ErrEmptyAudio), errors.Is(err, speechsvc.ErrInvalidAudio):
		_ = utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, speechsvc.ErrNotConfigured):
		_ = utils.RespondError(w, http.StatusServiceUnavailable, "speech transcription unavailable")
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests:
		_ = utils.RespondErrorCode(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Rate limits exceeded, please try again later.")
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusPaymentRequired:
		_ = utils.RespondErrorCode(w, http.StatusPaymentRequired, "insufficient_quota", "Service temporarily unavailable.")
	default:
		h.logger.Error("transcription failed", zap.Error(err))
		_ = utils.RespondError(w, http.StatusBadGateway, "speech recognition failed")
	}
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "healthy"
	if h.transcriber == nil {
		status = "disabled"
	}
	_ = utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"service": "speech",
	})
}
