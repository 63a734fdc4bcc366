package career

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	careerModel "github.com/zhouzirui/career-counsel/backend/internal/model/career"
	aiService "github.com/zhouzirui/career-counsel/backend/internal/service/ai"
	careerService "github.com/zhouzirui/career-counsel/backend/internal/service/career"
	"github.com/zhouzirui/career-counsel/backend/pkg/utils"
)

// maxBodyBytes 简历正文上限 50000 字符，按 UTF-8 最坏情况留足余量。
const maxBodyBytes = 1 << 20

// Advisor 简历点评与岗位推荐
type Advisor interface {
	AnalyzeResume(ctx context.Context, req careerModel.ResumeAnalysisRequest) (careerModel.ResumeAnalysis, error)
	RecommendJobs(ctx context.Context, req careerModel.RecommendationRequest) (careerModel.Recommendations, error)
}

var _ Advisor = (*careerService.Service)(nil)

// Handler 职业建议的HTTP处理器
type Handler struct {
	advisor Advisor
	logger  *zap.Logger
}

// New 创建处理器，advisor 为 nil 时接口返回 503。
func New(advisor Advisor, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{advisor: advisor, logger: logger.Named("career")}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/resume/analyze", h.handleAnalyzeResume)
	r.Post("/jobs/recommendations", h.handleRecommendJobs)
}

func (h *Handler) handleAnalyzeResume(w http.ResponseWriter, r *http.Request) {
	if h.advisor == nil {
		_ = utils.RespondError(w, http.StatusServiceUnavailable, "resume analysis unavailable")
		return
	}

	var req careerModel.ResumeAnalysisRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		_ = utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.advisor.AnalyzeResume(r.Context(), req)
	if err != nil {
		h.respondError(w, err, "Failed to analyze resume")
		return
	}
	_ = utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRecommendJobs(w http.ResponseWriter, r *http.Request) {
	if h.advisor == nil {
		_ = utils.RespondError(w, http.StatusServiceUnavailable, "job recommendations unavailable")
		return
	}

	var req careerModel.RecommendationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		_ = utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.advisor.RecommendJobs(r.Context(), req)
	if err != nil {
		h.respondError(w, err, "Failed to generate recommendations")
		return
	}
	_ = utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) respondError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, careerService.ErrEmptyResume), errors.Is(err, careerService.ErrResumeTooLong):
		_ = utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, aiService.ErrRateLimited):
		_ = utils.RespondErrorCode(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Rate limits exceeded, please try again later.")
	case errors.Is(err, aiService.ErrQuotaExceeded):
		_ = utils.RespondErrorCode(w, http.StatusPaymentRequired, "insufficient_quota", "AI credits exhausted, please add funds.")
	default:
		h.logger.Error(fallback, zap.Error(err))
		_ = utils.RespondError(w, http.StatusInternalServerError, fallback)
	}
}
