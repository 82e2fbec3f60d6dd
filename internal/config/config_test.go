package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/compliance-intelligence/internal/model"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 10*time.Second, cfg.ToolTimeout)
	assert.Equal(t, 30*time.Second, cfg.LLMTimeout)
	assert.Equal(t, 15*time.Minute, cfg.ToolCacheTTL)
	assert.Equal(t, 7, cfg.PulsePeriodDays)
	assert.Equal(t, 0, cfg.ToolRetries)
	assert.Len(t, cfg.ToolEndpoints, 4)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TOOL_SANCTIONS_URL", "https://tools.internal/sanctions")
	t.Setenv("TOOL_TIMEOUT", "2s")
	t.Setenv("LLM_TIMEOUT", "45s")
	t.Setenv("TOOL_RATE_LIMIT", "0.5")
	t.Setenv("PARALLEL_TOOLS", "false")
	t.Setenv("PULSE_PERIOD_DAYS", "30")
	t.Setenv("RETRIEVAL_K", "not-a-number")

	cfg := Load()

	assert.Equal(t, "https://tools.internal/sanctions", cfg.ToolEndpoints[model.FacetSanctions])
	assert.Equal(t, 2*time.Second, cfg.ToolTimeout)
	assert.Equal(t, 45*time.Second, cfg.LLMTimeout)
	assert.InDelta(t, 0.5, cfg.ToolRateLimit, 1e-9)
	assert.False(t, cfg.ParallelTools)
	assert.Equal(t, 30, cfg.PulsePeriodDays)
	assert.Equal(t, 5, cfg.RetrievalK)
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.PulsePeriodDays = 0
	cfg.ToolRetries = -1
	cfg.LLMTimeout = 0
	cfg.DefaultLLM = "cohere"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "PULSE_PERIOD_DAYS")
	assert.ErrorContains(t, err, "TOOL_RETRIES")
	assert.ErrorContains(t, err, "LLM_TIMEOUT")
	assert.ErrorContains(t, err, "DEFAULT_LLM")
}

func TestLLMAPIKey(t *testing.T) {
	cfg := &Config{DefaultLLM: "openai", OpenAIAPIKey: "sk-o", AnthropicAPIKey: "sk-a"}
	assert.Equal(t, "sk-o", cfg.LLMAPIKey())
	cfg.DefaultLLM = "anthropic"
	assert.Equal(t, "sk-a", cfg.LLMAPIKey())
}
