package career

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	arkmodel "github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"

	careerModel "github.com/zhouzirui/career-counsel/backend/internal/model/career"
	"github.com/zhouzirui/career-counsel/backend/internal/service/ai"
)

// cannedModel 返回预设消息，并记录收到的提示词与调用选项。
type cannedModel struct {
	mu      sync.Mutex
	reply   *schema.Message
	err     error
	bound   []*schema.ToolInfo
	inputs  [][]*schema.Message
	options []*model.Options
}

func (m *cannedModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, input)
	m.options = append(m.options, model.GetCommonOptions(&model.Options{}, opts...))
	if m.err != nil {
		return nil, m.err
	}
	return m.reply, nil
}

func (m *cannedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *cannedModel) BindTools(tools []*schema.ToolInfo) error {
	m.bound = tools
	return nil
}

func (m *cannedModel) lastUserPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	in := m.inputs[len(m.inputs)-1]
	return in[len(in)-1].Content
}

func newService(t *testing.T, chat, jobs *cannedModel) *Service {
	t.Helper()
	svc, err := NewService(context.Background(), chat, jobs, nil)
	require.NoError(t, err)
	return svc
}

func TestAnalyzeResume(t *testing.T) {
	chat := &cannedModel{reply: schema.AssistantMessage("## Overall Impression\nSolid.", nil)}
	svc := newService(t, chat, &cannedModel{})

	got, err := svc.AnalyzeResume(context.Background(), careerModel.ResumeAnalysisRequest{
		ResumeText: "  Jane Doe\nData Analyst, 3 years  ",
		FileName:   "jane.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, "## Overall Impression\nSolid.", got.Feedback)

	prompt := chat.lastUserPrompt()
	assert.Contains(t, prompt, "---\nJane Doe\nData Analyst, 3 years\n---")
	assert.Contains(t, prompt, "File name: jane.pdf")
	assert.Contains(t, chat.inputs[0][0].Content, "ATS Optimization Tips")
}

func TestAnalyzeResume_EmptyReplyFallsBack(t *testing.T) {
	svc := newService(t, &cannedModel{reply: schema.AssistantMessage(" ", nil)}, &cannedModel{})
	got, err := svc.AnalyzeResume(context.Background(), careerModel.ResumeAnalysisRequest{ResumeText: "cv"})
	require.NoError(t, err)
	assert.Equal(t, fallbackFeedback, got.Feedback)
}

func TestAnalyzeResume_Validation(t *testing.T) {
	chat := &cannedModel{reply: schema.AssistantMessage("ok", nil)}
	svc := newService(t, chat, &cannedModel{})

	_, err := svc.AnalyzeResume(context.Background(), careerModel.ResumeAnalysisRequest{ResumeText: " \n "})
	assert.ErrorIs(t, err, ErrEmptyResume)

	_, err = svc.AnalyzeResume(context.Background(), careerModel.ResumeAnalysisRequest{ResumeText: strings.Repeat("简", MaxResumeChars+1)})
	assert.ErrorIs(t, err, ErrResumeTooLong)
	assert.Empty(t, chat.inputs)
}

func TestAnalyzeResume_RateLimited(t *testing.T) {
	chat := &cannedModel{err: &arkmodel.APIError{HTTPStatusCode: http.StatusTooManyRequests}}
	svc := newService(t, chat, &cannedModel{})

	_, err := svc.AnalyzeResume(context.Background(), careerModel.ResumeAnalysisRequest{ResumeText: "resume"})
	assert.ErrorIs(t, err, ai.ErrRateLimited)
}

func TestRecommendJobs_ForcedToolCall(t *testing.T) {
	args := `{"recommendations":[{"title":"Product Analyst","companyType":"Startup","matchScore":140,` +
		`"requirements":["SQL","A/B testing"],"whyGoodFit":"Builds on analytics.","salaryRange":"$90k-$110k","growthPotential":"High"},` +
		`{"title":"BI Developer","companyType":"Enterprise","matchScore":72,"whyGoodFit":"Dashboards.","salaryRange":"$85k","growthPotential":"Medium"}]}`
	jobs := &cannedModel{reply: &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       "call_1",
			Type:     "function",
			Function: schema.FunctionCall{Name: RecommendationTool, Arguments: args},
		}},
	}}
	svc := newService(t, &cannedModel{}, jobs)

	got, err := svc.RecommendJobs(context.Background(), careerModel.RecommendationRequest{
		Profile: &careerModel.Profile{
			FullName:          "Jane Doe",
			YearsOfExperience: 3,
			EducationLevel:    "bachelor_degree",
			FieldOfStudy:      "Statistics",
			Skills:            []string{"SQL", "Python"},
		},
		CareerPath: "Product Analytics",
	})
	require.NoError(t, err)
	require.Len(t, got.Recommendations, 2)
	assert.Equal(t, "Product Analyst", got.Recommendations[0].Title)
	assert.Equal(t, float64(100), got.Recommendations[0].MatchScore, "score is clamped")
	assert.Equal(t, careerModel.GrowthHigh, got.Recommendations[0].GrowthPotential)
	assert.NotNil(t, got.Recommendations[1].Requirements)

	require.Len(t, jobs.bound, 1)
	assert.Equal(t, RecommendationTool, jobs.bound[0].Name)
	opts := jobs.options[0]
	require.NotNil(t, opts.ToolChoice)
	assert.Equal(t, schema.ToolChoiceForced, *opts.ToolChoice)
	require.Len(t, opts.Tools, 1)

	prompt := jobs.lastUserPrompt()
	assert.Contains(t, prompt, "- Name: Jane Doe")
	assert.Contains(t, prompt, "- Current Role: Not specified")
	assert.Contains(t, prompt, "- Education: bachelor degree in Statistics")
	assert.Contains(t, prompt, "- Skills: SQL, Python")
	assert.Contains(t, prompt, "Selected Career Path: Product Analytics")
}

func TestRecommendJobs_ContentFallback(t *testing.T) {
	jobs := &cannedModel{reply: schema.AssistantMessage(`[{"title":"Data Engineer","matchScore":80,"requirements":["Spark"]}]`, nil)}
	svc := newService(t, &cannedModel{}, jobs)

	got, err := svc.RecommendJobs(context.Background(), careerModel.RecommendationRequest{})
	require.NoError(t, err)
	require.Len(t, got.Recommendations, 1)
	assert.Equal(t, "Data Engineer", got.Recommendations[0].Title)
	assert.Contains(t, jobs.lastUserPrompt(), "Selected Career Path: General")
	assert.Contains(t, jobs.lastUserPrompt(), "- Skills: Not specified")
}

func TestRecommendJobs_Unparseable(t *testing.T) {
	jobs := &cannedModel{reply: schema.AssistantMessage("Here are some ideas: analyst, engineer.", nil)}
	svc := newService(t, &cannedModel{}, jobs)

	_, err := svc.RecommendJobs(context.Background(), careerModel.RecommendationRequest{CareerPath: "Data"})
	assert.ErrorIs(t, err, ErrNoRecommendations)
}

func TestRecommendJobs_QuotaExceeded(t *testing.T) {
	jobs := &cannedModel{err: arkmodel.NewRequestError(http.StatusPaymentRequired, errors.New("balance"), "req")}
	svc := newService(t, &cannedModel{}, jobs)

	_, err := svc.RecommendJobs(context.Background(), careerModel.RecommendationRequest{})
	assert.ErrorIs(t, err, ai.ErrQuotaExceeded)
}
