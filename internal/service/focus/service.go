package focus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	analysis "github.com/zhouzirui/career-counsel/backend/internal/analysis/focus"
	"github.com/zhouzirui/career-counsel/backend/internal/model/chat"
	focusModel "github.com/zhouzirui/career-counsel/backend/internal/model/focus"
)

// Config 控制侧重点分类服务的行为。
type Config struct {
	Enabled      bool
	HistoryLimit int
}

// Guidance 表示侧重点判断结果。
type Guidance struct {
	Decision   analysis.Decision
	Confidence float32
	Reason     string
}

// Service 使用大模型判断当前对话的侧重点，并在必要时回退到关键词规则。
type Service struct {
	enabled      bool
	classifier   compose.Runnable[map[string]any, *schema.Message]
	fallback     func(text string) analysis.Decision
	historyLimit int
	logger       *zap.Logger
}

// NewService 创建侧重点分类服务。chatModel 可重用文本对话的模型实例，为 nil 时只使用关键词规则。
func NewService(ctx context.Context, chatModel model.BaseChatModel, cfg Config, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 6
	}

	svc := &Service{
		enabled:      cfg.Enabled && chatModel != nil,
		fallback:     analysis.Detect,
		historyLimit: historyLimit,
		logger:       logger.Named("focus"),
	}
	if !svc.enabled {
		return svc, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(classifierSystemPrompt),
		schema.UserMessage(classifierUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile focus classifier chain: %w", err)
	}

	svc.classifier = runnable
	return svc, nil
}

// Enabled 返回是否启用了大模型分类。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.classifier != nil
}

// Classify 根据历史与最后一条用户消息判断侧重点。turns 为空时返回 general。
func (s *Service) Classify(ctx context.Context, turns []chat.Turn) Guidance {
	var latest string
	if len(turns) > 0 {
		latest = turns[len(turns)-1].Content
	}
	if !s.Enabled() {
		return s.fallbackGuidance(latest)
	}

	input := map[string]any{
		"history":      formatHistory(turns[:max(len(turns)-1, 0)], s.historyLimit),
		"user_message": strings.TrimSpace(latest),
	}

	msg, err := s.classifier.Invoke(ctx, input)
	if err != nil {
		s.logger.Warn("classifier invoke failed, use fallback", zap.Error(err))
		return s.fallbackGuidance(latest)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return s.fallbackGuidance(latest)
	}

	result, err := parseClassifierOutput(msg.Content)
	if err != nil {
		s.logger.Warn("classifier output parse failed, use fallback", zap.Error(err))
		return s.fallbackGuidance(latest)
	}

	label := strings.ToLower(strings.TrimSpace(result.Focus))
	if !focusModel.Valid(label) {
		return s.fallbackGuidance(latest)
	}

	confidence := result.Confidence
	if confidence <= 0 {
		confidence = 0.6
	}
	if confidence > 1 {
		confidence = 1
	}

	return Guidance{
		Decision:   analysis.Decision{Focus: label, Score: int(confidence * 10)},
		Confidence: confidence,
		Reason:     strings.TrimSpace(result.Reason),
	}
}

func (s *Service) fallbackGuidance(text string) Guidance {
	decision := analysis.Detect(text)
	if s != nil && s.fallback != nil {
		decision = s.fallback(text)
	}
	confidence := float32(0.3)
	if decision.Score > 0 {
		confidence = 0.55
	}
	return Guidance{
		Decision:   decision,
		Confidence: confidence,
		Reason:     "fallback",
	}
}

// parseClassifierOutput 解析大模型返回的 JSON，容忍前后多余文本。
func parseClassifierOutput(content string) (*classifierPayload, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &classifierPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func formatHistory(turns []chat.Turn, limit int) string {
	if limit < 1 {
		limit = 1
	}
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		role := "用户"
		if turn.Role == chat.RoleAssistant {
			role = "顾问"
		}
		lines = append(lines, role+": "+content)
	}
	if len(lines) == 0 {
		return "无历史对话"
	}
	return strings.Join(lines, "\n")
}

type classifierPayload struct {
	Focus      string  `json:"focus"`
	Confidence float32 `json:"confidence"`
	Reason     string  `json:"reason"`
}

const classifierSystemPrompt = "你是一名职业咨询的分诊助手。阅读最近对话和用户的最新输入，判断顾问接下来应侧重哪一类帮助。\n输出要求：只返回一个 JSON 对象，字段如下：focus (必须是 general/interview/resume/career-path 之一)、confidence (0~1 之间的小数)、reason (简要理由)。不得输出多余文本。"

const classifierUserPrompt = "最近对话：\n{history}\n\n用户最新输入：\n{user_message}\n\n请基于这些信息给出 JSON。"
