package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "APP_ENV", "OPENAI_API_KEY", "REALTIME_URL", "REALTIME_DIAL_TIMEOUT",
		"SPEECH_API_KEY", "REDIS_URL", "CHAT_RATE_LIMIT", "ARK_MODEL",
		"AI_FOCUS_LLM_ENABLED", "AI_FOCUS_HISTORY_LIMIT",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.True(t, cfg.Server.Development())
	assert.Contains(t, cfg.Realtime.URL, "gpt-4o-realtime-preview")
	assert.Equal(t, 10*time.Second, cfg.Realtime.DialTimeout)
	assert.False(t, cfg.Realtime.Enabled())
	assert.False(t, cfg.AI.Enabled())
	assert.Empty(t, cfg.Store.RedisURL)
	assert.InDelta(t, 2.0, cfg.Chat.RateLimit, 1e-9)
	assert.Equal(t, "whisper-1", cfg.Speech.Model)
	assert.False(t, cfg.AI.FocusLLMEnabled)
	assert.Equal(t, 6, cfg.AI.FocusHistoryLimit)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("APP_ENV", "production")
	t.Setenv("OPENAI_API_KEY", "sk-live")
	t.Setenv("SPEECH_API_KEY", "")
	t.Setenv("REALTIME_DIAL_TIMEOUT", "3")
	t.Setenv("REALTIME_READY_TIMEOUT", "750ms")
	t.Setenv("REALTIME_INBOUND_RATE", "50")
	t.Setenv("CHAT_RATE_BURST", "0")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("AI_FOCUS_LLM_ENABLED", "true")
	t.Setenv("AI_FOCUS_HISTORY_LIMIT", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.False(t, cfg.Server.Development())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 3*time.Second, cfg.Realtime.DialTimeout)
	assert.Equal(t, 750*time.Millisecond, cfg.Realtime.ReadyTimeout)
	assert.InDelta(t, 50.0, cfg.Realtime.InboundRate, 1e-9)
	assert.True(t, cfg.Realtime.Enabled())
	assert.Equal(t, "sk-live", cfg.Speech.APIKey)
	assert.Equal(t, 1, cfg.Chat.RateBurst)
	assert.True(t, cfg.AI.FocusLLMEnabled)
	assert.Equal(t, 1, cfg.AI.FocusHistoryLimit)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("PORT", "80 80")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("PORT", "")
	t.Setenv("REALTIME_READY_TIMEOUT", "soon")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("REALTIME_READY_TIMEOUT", "")
	t.Setenv("ARK_TEMPERATURE", "hot")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("ARK_TEMPERATURE", "")
	t.Setenv("AI_FOCUS_LLM_ENABLED", "sometimes")
	_, err = Load()
	assert.Error(t, err)
}
