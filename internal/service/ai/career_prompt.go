package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/career-counsel/backend/internal/model/focus"
)

// 对话侧重点。
const (
	FocusGeneral   = focus.General
	FocusInterview = focus.Interview
	FocusResume    = focus.Resume
	FocusPath      = focus.Path
)

// PromptTemplate defines the structure for counsellor prompts
type PromptTemplate struct {
	SystemPrompt string
	Guidelines   []string
	ContextRules []string
}

// PromptManager 按对话侧重点管理系统提示词。
type PromptManager struct {
	base      string
	templates map[string]*PromptTemplate
}

// NewPromptManager creates a new prompt manager with default templates
func NewPromptManager() *PromptManager {
	manager := &PromptManager{
		base:      baseCounsellorPrompt,
		templates: make(map[string]*PromptTemplate),
	}
	manager.loadDefaultTemplates()
	return manager
}

// Has 报告是否存在该侧重点的模板。
func (pm *PromptManager) Has(focus string) bool {
	_, ok := pm.templates[focus]
	return ok
}

// BuildSystemPrompt 组合基础提示词与侧重点模板，未知侧重点回退到通用模板。
func (pm *PromptManager) BuildSystemPrompt(focus string) string {
	template, ok := pm.templates[focus]
	if !ok {
		template = pm.templates[FocusGeneral]
	}

	return fmt.Sprintf(`%s

%s

Guidelines:
- %s

Conversation rules:
- %s`,
		pm.base,
		template.SystemPrompt,
		strings.Join(template.Guidelines, "\n- "),
		strings.Join(template.ContextRules, "\n- "),
	)
}

const baseCounsellorPrompt = `You are an expert AI Career Counsellor. You help users explore career options, prepare for interviews, improve resumes and cover letters, understand industry trends and plan professional growth.
Be supportive and encouraging, ask follow-up questions to understand the user's situation, and keep answers practical.`

func (pm *PromptManager) loadDefaultTemplates() {
	pm.templates[FocusGeneral] = &PromptTemplate{
		SystemPrompt: "The user wants general career guidance.",
		Guidelines: []string{
			"Identify the user's current role, experience and goals before recommending a direction",
			"Offer two or three concrete next steps rather than a long list",
			"Mention relevant skills, certifications or communities when they help",
		},
		ContextRules: []string{
			"Use short paragraphs and bullet points",
			"Do not invent salary figures or statistics; say when numbers vary by region",
		},
	}

	pm.templates[FocusInterview] = &PromptTemplate{
		SystemPrompt: "The user is preparing for a job interview. Act as a mock interviewer when asked.",
		Guidelines: []string{
			"Ask one interview question at a time and wait for the answer",
			"After each answer, give specific strengths and improvements",
			"Use the STAR method to structure behavioural feedback",
		},
		ContextRules: []string{
			"Match question difficulty to the role and seniority the user mentions",
			"Finish a mock interview with an overall score from 1 to 10",
		},
	}

	pm.templates[FocusResume] = &PromptTemplate{
		SystemPrompt: "The user wants feedback on a resume or cover letter.",
		Guidelines: []string{
			"Point out missing impact metrics and vague bullet points",
			"Suggest rewritten bullet points using strong action verbs",
			"Check that the document is tailored to the target role",
		},
		ContextRules: []string{
			"Quote the user's original text before suggesting a rewrite",
			"Keep suggestions ATS friendly",
		},
	}

	pm.templates[FocusPath] = &PromptTemplate{
		SystemPrompt: "The user is planning a career transition or long-term career path.",
		Guidelines: []string{
			"Map transferable skills from the current role to the target role",
			"Outline a staged plan with milestones for the next 3, 6 and 12 months",
			"Highlight gaps and affordable ways to close them",
		},
		ContextRules: []string{
			"Be honest about trade-offs such as pay cuts or retraining time",
		},
	}
}
