package focus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/career-counsel/backend/internal/model/chat"
	focusModel "github.com/zhouzirui/career-counsel/backend/internal/model/focus"
)

type scriptedModel struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts [][]*schema.Message
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, input)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func TestClassify_UsesModelDecision(t *testing.T) {
	m := &scriptedModel{reply: "结果如下：{\"focus\":\"Interview\",\"confidence\":0.9,\"reason\":\"asks for practice\"}"}
	svc, err := NewService(context.Background(), m, Config{Enabled: true, HistoryLimit: 1}, nil)
	require.NoError(t, err)
	require.True(t, svc.Enabled())

	g := svc.Classify(context.Background(), []chat.Turn{
		{Role: chat.RoleUser, Content: "old question"},
		{Role: chat.RoleAssistant, Content: "earlier answer"},
		{Role: chat.RoleUser, Content: "Can we practise for Friday?"},
	})
	assert.Equal(t, focusModel.Interview, g.Decision.Focus)
	assert.InDelta(t, 0.9, g.Confidence, 1e-6)
	assert.Equal(t, "asks for practice", g.Reason)

	require.Len(t, m.prompts, 1)
	user := m.prompts[0][len(m.prompts[0])-1].Content
	assert.Contains(t, user, "Can we practise for Friday?")
	assert.Contains(t, user, "earlier answer")
	assert.NotContains(t, user, "old question", "history is trimmed to the limit")
}

func TestClassify_FallsBack(t *testing.T) {
	cases := []struct {
		name  string
		model *scriptedModel
	}{
		{name: "invoke error", model: &scriptedModel{err: errors.New("timeout")}},
		{name: "not json", model: &scriptedModel{reply: "interview, probably"}},
		{name: "unknown label", model: &scriptedModel{reply: `{"focus":"salary"}`}},
		{name: "empty", model: &scriptedModel{reply: "  "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewService(context.Background(), tc.model, Config{Enabled: true}, nil)
			require.NoError(t, err)

			g := svc.Classify(context.Background(), []chat.Turn{{Role: chat.RoleUser, Content: "Please review my resume"}})
			assert.Equal(t, focusModel.Resume, g.Decision.Focus)
			assert.Equal(t, "fallback", g.Reason)
			assert.InDelta(t, 0.55, g.Confidence, 1e-6)
		})
	}
}

func TestClassify_DisabledSkipsModel(t *testing.T) {
	m := &scriptedModel{reply: `{"focus":"interview"}`}
	svc, err := NewService(context.Background(), m, Config{Enabled: false}, nil)
	require.NoError(t, err)
	assert.False(t, svc.Enabled())

	g := svc.Classify(context.Background(), []chat.Turn{{Role: chat.RoleUser, Content: "hello"}})
	assert.Equal(t, focusModel.General, g.Decision.Focus)
	assert.InDelta(t, 0.3, g.Confidence, 1e-6)
	assert.Empty(t, m.prompts)

	var nilSvc *Service
	assert.False(t, nilSvc.Enabled())
}

func TestFormatHistory(t *testing.T) {
	assert.Equal(t, "无历史对话", formatHistory(nil, 3))
	got := formatHistory([]chat.Turn{
		{Role: chat.RoleUser, Content: "a"},
		{Role: chat.RoleAssistant, Content: " "},
		{Role: chat.RoleAssistant, Content: "b"},
	}, 5)
	assert.Equal(t, 2, strings.Count(got, "\n")+1)
	assert.True(t, strings.HasPrefix(got, "用户: a"))
}
