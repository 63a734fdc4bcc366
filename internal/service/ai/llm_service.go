package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/career-counsel/backend/internal/config"
	"github.com/zhouzirui/career-counsel/backend/internal/model/chat"
)

var (
	// ErrEmptyConversation 请求中没有任何消息。
	ErrEmptyConversation = errors.New("ai: conversation has no messages")
	// ErrLastTurnNotUser 最后一条消息必须来自用户。
	ErrLastTurnNotUser = errors.New("ai: last message must be from the user")
)

// Service encapsulates AI-powered chat functionality
type Service struct {
	chatModel model.BaseChatModel
	prompts   *PromptManager
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
	logger    *zap.Logger
}

// NewService creates a new AI service instance
func NewService(ctx context.Context, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, cfg, logger)
}

// NewServiceWithModel 使用外部提供的模型构建对话链。
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, cfg config.AIConfig, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		prompts:   NewPromptManager(),
		cfg:       cfg,
		chain:     runnable,
		logger:    logger.Named("ai"),
	}, nil
}

// ChatModel 返回底层模型，供侧重点分类等辅助链复用。
func (s *Service) ChatModel() model.BaseChatModel {
	return s.chatModel
}

// Generate 一次性生成完整回复。
func (s *Service) Generate(ctx context.Context, focus string, turns []chat.Turn) (*schema.Message, error) {
	input, err := s.buildChainInput(focus, turns)
	if err != nil {
		return nil, err
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run AI chain: %w", err)
	}

	s.logger.Debug("generated response", zap.String("focus", focus), zap.Int("length", len(response.Content)))
	return response, nil
}

// Stream streams AI response chunks via the configured chain.
func (s *Service) Stream(ctx context.Context, focus string, turns []chat.Turn) (*schema.StreamReader[*schema.Message], error) {
	input, err := s.buildChainInput(focus, turns)
	if err != nil {
		return nil, err
	}

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	return stream, nil
}

// buildChainInput 拆分出历史与最后一条用户消息。
func (s *Service) buildChainInput(focus string, turns []chat.Turn) (map[string]any, error) {
	if len(turns) == 0 {
		return nil, ErrEmptyConversation
	}
	last := turns[len(turns)-1]
	if last.Role != chat.RoleUser {
		return nil, ErrLastTurnNotUser
	}
	if strings.TrimSpace(last.Content) == "" {
		return nil, ErrEmptyConversation
	}

	return map[string]any{
		"system":  s.prompts.BuildSystemPrompt(focus),
		"history": s.buildHistoryMessages(turns[:len(turns)-1]),
		"query":   last.Content,
	}, nil
}

func (s *Service) buildHistoryMessages(turns []chat.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	limit := s.cfg.HistoryLimit
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		switch turn.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(turn.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return history
}
