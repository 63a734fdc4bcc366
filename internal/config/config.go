package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	AI       AIConfig
	Realtime RealtimeConfig
	Speech   SpeechConfig
	Store    StoreConfig
	Chat     ChatConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	rt, err := loadRealtimeConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		AI:       ai,
		Realtime: rt,
		Speech:   speech,
		Store:    StoreConfig{RedisURL: strings.TrimSpace(os.Getenv("REDIS_URL"))},
		Chat:     chat,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
}

// Development 是否为开发环境。
func (c ServerConfig) Development() bool {
	return c.Env == "" || c.Env == "development" || c.Env == "dev"
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	cfg := ServerConfig{
		Env:            strings.ToLower(getEnvOrDefault("APP_ENV", "development")),
		LogLevel:       strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		AllowedOrigins: splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*")),
	}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		cfg.Addr = port
		return cfg, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	cfg.Addr = ":" + port
	return cfg, nil
}

// AIConfig 描述文本对话所用大模型的配置。
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	// HistoryLimit 构造上下文时保留的最近消息条数。
	HistoryLimit int
	// FocusLLMEnabled 开启后由大模型判断对话侧重点，失败时回退到关键词规则。
	FocusLLMEnabled   bool
	FocusHistoryLimit int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	history := 20
	if override, err := parseOptionalIntEnv("AI_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		history = max(*override, 1)
	}

	focusEnabled, err := parseBoolEnv("AI_FOCUS_LLM_ENABLED", false)
	if err != nil {
		return AIConfig{}, err
	}

	focusHistory := 6
	if override, err := parseOptionalIntEnv("AI_FOCUS_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		focusHistory = max(*override, 1)
	}

	return AIConfig{
		APIKey:       strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:    strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:    strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:        strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:      getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:       getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:  temperature,
		TopP:         topP,
		MaxTokens:    maxTokens,
		HistoryLimit: history,

		FocusLLMEnabled:   focusEnabled,
		FocusHistoryLimit: focusHistory,
	}, nil
}

// RealtimeConfig 描述实时语音上游与中继参数。
type RealtimeConfig struct {
	URL          string
	APIKey       string
	ProfileFile  string
	DialTimeout  time.Duration
	ReadyTimeout time.Duration
	DialRetries  int
	// InboundRate 每连接每秒允许转发的客户端帧数，0 表示不限。
	InboundRate  float64
	InboundBurst int
}

// Enabled 是否配置了上游密钥。
func (c RealtimeConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadRealtimeConfig() (RealtimeConfig, error) {
	dialTimeout, err := parseDurationEnv("REALTIME_DIAL_TIMEOUT", 10*time.Second)
	if err != nil {
		return RealtimeConfig{}, err
	}

	readyTimeout, err := parseDurationEnv("REALTIME_READY_TIMEOUT", 15*time.Second)
	if err != nil {
		return RealtimeConfig{}, err
	}

	retries := 2
	if override, err := parseOptionalIntEnv("REALTIME_DIAL_RETRIES"); err != nil {
		return RealtimeConfig{}, err
	} else if override != nil {
		retries = max(*override, 1)
	}

	var inboundRate float64
	if override, err := parseOptionalFloatEnv("REALTIME_INBOUND_RATE"); err != nil {
		return RealtimeConfig{}, err
	} else if override != nil {
		inboundRate = *override
	}

	burst := 0
	if override, err := parseOptionalIntEnv("REALTIME_INBOUND_BURST"); err != nil {
		return RealtimeConfig{}, err
	} else if override != nil {
		burst = *override
	}

	return RealtimeConfig{
		URL:          getEnvOrDefault("REALTIME_URL", "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-10-01"),
		APIKey:       strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		ProfileFile:  strings.TrimSpace(os.Getenv("REALTIME_PROFILE_FILE")),
		DialTimeout:  dialTimeout,
		ReadyTimeout: readyTimeout,
		DialRetries:  retries,
		InboundRate:  inboundRate,
		InboundBurst: burst,
	}, nil
}

// SpeechConfig 描述语音转写服务配置。
type SpeechConfig struct {
	BaseURL  string
	APIKey   string
	Model    string
	Language string
	Timeout  time.Duration
}

// Enabled 是否配置了转写密钥。
func (c SpeechConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseDurationEnv("SPEECH_TIMEOUT", 30*time.Second)
	if err != nil {
		return SpeechConfig{}, err
	}

	apiKey := strings.TrimSpace(os.Getenv("SPEECH_API_KEY"))
	// 没有单独的转写密钥时复用实时语音的密钥。
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}

	return SpeechConfig{
		BaseURL:  getEnvOrDefault("SPEECH_BASE_URL", "https://api.openai.com/v1"),
		APIKey:   apiKey,
		Model:    getEnvOrDefault("SPEECH_MODEL", "whisper-1"),
		Language: strings.TrimSpace(os.Getenv("SPEECH_LANGUAGE")),
		Timeout:  timeout,
	}, nil
}

// StoreConfig 会话持久化配置，RedisURL 为空时使用内存存储。
type StoreConfig struct {
	RedisURL string
}

// ChatConfig 文本流式接口的限流配置。
type ChatConfig struct {
	RateLimit float64
	RateBurst int
}

func loadChatConfig() (ChatConfig, error) {
	cfg := ChatConfig{RateLimit: 2, RateBurst: 5}

	if override, err := parseOptionalFloatEnv("CHAT_RATE_LIMIT"); err != nil {
		return ChatConfig{}, err
	} else if override != nil {
		cfg.RateLimit = *override
	}

	if override, err := parseOptionalIntEnv("CHAT_RATE_BURST"); err != nil {
		return ChatConfig{}, err
	} else if override != nil {
		cfg.RateBurst = max(*override, 1)
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	// 纯数字按秒处理。
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
