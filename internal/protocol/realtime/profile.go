package realtime

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultInstructions 职业顾问语音助手的系统指令。
const DefaultInstructions = `You are an expert AI Career Counsellor having a real-time voice conversation.

Your role is to:
- Help users explore career options and provide personalized guidance
- Assist with job interview preparation and mock interviews
- Offer resume and cover letter advice
- Provide insights on industry trends and skill development
- Guide career transitions and professional growth strategies

Be conversational, supportive, and encouraging. Keep responses concise since this is a voice conversation.
Ask follow-up questions to better understand the user's situation.
When doing mock interviews, role-play as an interviewer and provide constructive feedback.`

// 默认工具名。
const (
	ToolStartMockInterview       = "start_mock_interview"
	ToolProvideInterviewFeedback = "provide_interview_feedback"
)

// Profile 是 session.update 下发的会话配置。
type Profile struct {
	Modalities              []string       `yaml:"modalities" json:"modalities,omitempty"`
	Instructions            string         `yaml:"instructions" json:"instructions,omitempty"`
	Voice                   string         `yaml:"voice" json:"voice,omitempty"`
	InputAudioFormat        string         `yaml:"input_audio_format" json:"input_audio_format,omitempty"`
	OutputAudioFormat       string         `yaml:"output_audio_format" json:"output_audio_format,omitempty"`
	InputAudioTranscription *Transcription `yaml:"input_audio_transcription" json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection `yaml:"turn_detection" json:"turn_detection,omitempty"`
	Tools                   []Tool         `yaml:"tools" json:"tools,omitempty"`
	ToolChoice              string         `yaml:"tool_choice" json:"tool_choice,omitempty"`
	Temperature             float64        `yaml:"temperature" json:"temperature,omitempty"`
	MaxResponseOutputTokens int            `yaml:"max_response_output_tokens" json:"max_response_output_tokens,omitempty"`
}

// Transcription 上行语音转写配置。
type Transcription struct {
	Model string `yaml:"model" json:"model"`
}

// TurnDetection 服务端 VAD 配置。
type TurnDetection struct {
	Type              string  `yaml:"type" json:"type"`
	Threshold         float64 `yaml:"threshold" json:"threshold"`
	PrefixPaddingMS   int     `yaml:"prefix_padding_ms" json:"prefix_padding_ms"`
	SilenceDurationMS int     `yaml:"silence_duration_ms" json:"silence_duration_ms"`
}

// Tool 函数调用工具声明，Parameters 为 JSON Schema。
type Tool struct {
	Type        string         `yaml:"type" json:"type"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description,omitempty"`
	Parameters  map[string]any `yaml:"parameters" json:"parameters,omitempty"`
}

// DefaultProfile 返回内置的职业顾问会话配置。
func DefaultProfile() Profile {
	return Profile{
		Modalities:              []string{"text", "audio"},
		Instructions:            DefaultInstructions,
		Voice:                   "alloy",
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		InputAudioTranscription: &Transcription{Model: "whisper-1"},
		TurnDetection: &TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMS:   300,
			SilenceDurationMS: 800,
		},
		Tools:                   defaultTools(),
		ToolChoice:              "auto",
		Temperature:             0.8,
		MaxResponseOutputTokens: 4096,
	}
}

func defaultTools() []Tool {
	return []Tool{
		{
			Type:        "function",
			Name:        ToolStartMockInterview,
			Description: "Start a mock interview session for a specific role",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"role": map[string]any{
						"type":        "string",
						"description": "The job role to practice interviewing for",
					},
					"difficulty": map[string]any{
						"type":        "string",
						"enum":        []string{"easy", "medium", "hard"},
						"description": "Interview difficulty level",
					},
				},
				"required": []string{"role"},
			},
		},
		{
			Type:        "function",
			Name:        ToolProvideInterviewFeedback,
			Description: "Provide detailed feedback on the user's interview responses",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"strengths": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "What the user did well",
					},
					"improvements": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Areas for improvement",
					},
					"overall_score": map[string]any{
						"type":        "number",
						"description": "Overall score from 1-10",
					},
				},
				"required": []string{"strengths", "improvements", "overall_score"},
			},
		},
	}
}

// LoadProfile 读取 YAML 文件并覆盖默认配置；path 为空时直接返回默认值。
func LoadProfile(path string) (Profile, error) {
	profile := DefaultProfile()
	if path == "" {
		return profile, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read realtime profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return Profile{}, fmt.Errorf("parse realtime profile %s: %w", path, err)
	}
	if profile.InputAudioFormat != "pcm16" {
		return Profile{}, fmt.Errorf("realtime profile %s: unsupported input_audio_format %q", path, profile.InputAudioFormat)
	}
	return profile, nil
}
