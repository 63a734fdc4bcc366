// Package career 提供一次性的职业建议生成：简历点评与岗位推荐。
package career

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	careerModel "github.com/zhouzirui/career-counsel/backend/internal/model/career"
	"github.com/zhouzirui/career-counsel/backend/internal/service/ai"
)

// MaxResumeChars 简历文本长度上限。
const MaxResumeChars = 50000

var (
	// ErrEmptyResume 简历文本为空。
	ErrEmptyResume = errors.New("career: resume text is required")
	// ErrResumeTooLong 简历文本超过 MaxResumeChars。
	ErrResumeTooLong = fmt.Errorf("career: resume text exceeds %d characters", MaxResumeChars)
	// ErrNoRecommendations 模型输出无法解析为推荐列表。
	ErrNoRecommendations = errors.New("career: could not parse recommendations")
)

const fallbackFeedback = "Unable to generate feedback"

// Service 简历点评与岗位推荐。
type Service struct {
	resumeChain compose.Runnable[map[string]any, *schema.Message]
	jobsChain   compose.Runnable[map[string]any, *schema.Message]
	tools       []*schema.ToolInfo
	logger      *zap.Logger
}

// NewService 构建两条链。jobModel 会通过 BindTools 绑定推荐函数，
// 不要与文本对话共用同一个实例。
func NewService(ctx context.Context, chatModel model.BaseChatModel, jobModel model.ChatModel, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	tools := []*schema.ToolInfo{recommendationToolInfo()}
	if err := jobModel.BindTools(tools); err != nil {
		return nil, fmt.Errorf("failed to bind recommendation tool: %w", err)
	}

	resumeChain, err := compileChain(ctx, chatModel, resumeSystemPrompt, resumeUserPrompt)
	if err != nil {
		return nil, fmt.Errorf("failed to compile resume chain: %w", err)
	}
	jobsChain, err := compileChain(ctx, jobModel, jobsSystemPrompt, jobsUserPrompt)
	if err != nil {
		return nil, fmt.Errorf("failed to compile recommendation chain: %w", err)
	}

	return &Service{
		resumeChain: resumeChain,
		jobsChain:   jobsChain,
		tools:       tools,
		logger:      logger.Named("career"),
	}, nil
}

func compileChain(ctx context.Context, chatModel model.BaseChatModel, system, user string) (compose.Runnable[map[string]any, *schema.Message], error) {
	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(system),
		schema.UserMessage(user),
	))
	chain.AppendChatModel(chatModel)
	return chain.Compile(ctx)
}

// AnalyzeResume 返回 Markdown 格式的简历点评。
func (s *Service) AnalyzeResume(ctx context.Context, req careerModel.ResumeAnalysisRequest) (careerModel.ResumeAnalysis, error) {
	text := strings.TrimSpace(req.ResumeText)
	if text == "" {
		return careerModel.ResumeAnalysis{}, ErrEmptyResume
	}
	if utf8.RuneCountInString(text) > MaxResumeChars {
		return careerModel.ResumeAnalysis{}, ErrResumeTooLong
	}

	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		fileName = "resume.txt"
	}
	s.logger.Info("analyzing resume", zap.String("file", fileName), zap.Int("chars", len(text)))

	msg, err := s.resumeChain.Invoke(ctx, map[string]any{
		"resume_text": text,
		"file_name":   fileName,
	})
	if err != nil {
		return careerModel.ResumeAnalysis{}, fmt.Errorf("analyze resume: %w", ai.ClassifyError(err))
	}

	feedback := ""
	if msg != nil {
		feedback = strings.TrimSpace(msg.Content)
	}
	if feedback == "" {
		feedback = fallbackFeedback
	}
	return careerModel.ResumeAnalysis{Feedback: feedback}, nil
}

// RecommendJobs 强制模型调用推荐函数并解析其参数；模型改为直接输出 JSON 时同样接受。
func (s *Service) RecommendJobs(ctx context.Context, req careerModel.RecommendationRequest) (careerModel.Recommendations, error) {
	path := strings.TrimSpace(req.CareerPath)
	if path == "" {
		path = "General"
	}
	s.logger.Info("generating job recommendations", zap.String("career_path", path))

	msg, err := s.jobsChain.Invoke(ctx, map[string]any{
		"profile":     describeProfile(req.Profile),
		"career_path": path,
	}, compose.WithChatModelOption(
		model.WithTools(s.tools),
		model.WithToolChoice(schema.ToolChoiceForced),
	))
	if err != nil {
		return careerModel.Recommendations{}, fmt.Errorf("recommend jobs: %w", ai.ClassifyError(err))
	}
	if msg == nil {
		return careerModel.Recommendations{}, ErrNoRecommendations
	}

	recs, err := parseRecommendations(msg)
	if err != nil {
		s.logger.Warn("recommendation output unparseable", zap.Error(err))
		return careerModel.Recommendations{}, fmt.Errorf("%w: %w", ErrNoRecommendations, err)
	}
	return recs, nil
}

func parseRecommendations(msg *schema.Message) (careerModel.Recommendations, error) {
	for _, call := range msg.ToolCalls {
		if call.Function.Name != RecommendationTool || call.Function.Arguments == "" {
			continue
		}
		var out careerModel.Recommendations
		if err := json.Unmarshal([]byte(call.Function.Arguments), &out); err != nil {
			return careerModel.Recommendations{}, fmt.Errorf("decode tool arguments: %w", err)
		}
		return normalize(out), nil
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return careerModel.Recommendations{}, errors.New("empty response")
	}
	var list []careerModel.JobRecommendation
	if err := json.Unmarshal([]byte(content), &list); err == nil {
		return normalize(careerModel.Recommendations{Recommendations: list}), nil
	}
	var out careerModel.Recommendations
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return careerModel.Recommendations{}, fmt.Errorf("decode content: %w", err)
	}
	return normalize(out), nil
}

// normalize 把分数限制在 0~100，并保证 requirements 不为 nil。
func normalize(recs careerModel.Recommendations) careerModel.Recommendations {
	if recs.Recommendations == nil {
		recs.Recommendations = []careerModel.JobRecommendation{}
	}
	for i := range recs.Recommendations {
		r := &recs.Recommendations[i]
		r.MatchScore = min(max(r.MatchScore, 0), 100)
		if r.Requirements == nil {
			r.Requirements = []string{}
		}
	}
	return recs
}
