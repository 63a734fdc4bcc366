package focus

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	focusAnalysis "github.com/zhouzirui/career-counsel/backend/internal/analysis/focus"
	"github.com/zhouzirui/career-counsel/backend/internal/model/chat"
	"github.com/zhouzirui/career-counsel/backend/internal/model/focus"
	focusService "github.com/zhouzirui/career-counsel/backend/internal/service/focus"
	"github.com/zhouzirui/career-counsel/backend/pkg/utils"
)

// Classifier 由 focus.Service 实现
type Classifier interface {
	Classify(ctx context.Context, turns []chat.Turn) focusService.Guidance
}

// Handler 对话侧重点的HTTP处理器
type Handler struct {
	catalog    []focus.Focus
	classifier Classifier
}

// New 创建侧重点处理器，classifier 为 nil 时只用关键词规则。
func New(classifier Classifier) *Handler {
	return &Handler{catalog: focus.Catalog(), classifier: classifier}
}

// RegisterRoutes 注册侧重点相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/focuses", h.handleList)
	r.Post("/focuses/detect", h.handleDetect)
}

// handleList 列出所有侧重点
func (h *Handler) handleList(w http.ResponseWriter, _ *http.Request) {
	_ = utils.RespondJSON(w, http.StatusOK, map[string]any{"focuses": h.catalog})
}

type detectRequest struct {
	Text string `json:"text"`
}

// handleDetect 根据一段用户输入推荐侧重点
func (h *Handler) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		_ = utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}
	if h.classifier == nil {
		_ = utils.RespondJSON(w, http.StatusOK, focusAnalysis.Detect(req.Text))
		return
	}
	guidance := h.classifier.Classify(r.Context(), []chat.Turn{{Role: chat.RoleUser, Content: req.Text}})
	_ = utils.RespondJSON(w, http.StatusOK, guidance.Decision)
}
