package configutil

import (
	"testing"
	"time"

	"github.com/astronerd/ghostype/pkg/errorsx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type llmSettings struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Breaker     *bool         `mapstructure:"circuit_breaker"`
}

func TestDecodeSettingsNormalizesKeys(t *testing.T) {
	var out llmSettings
	err := DecodeSettings(map[string]any{
		"Base-URL":        "https://ark.example.com/api/v3",
		"apiKey":          "k",
		"max_tokens":      "2048",
		"temperature":     0.7,
		"timeout":         "1500ms",
		"circuit_breaker": true,
	}, &out)
	require.NoError(t, err)

	assert.Equal(t, "https://ark.example.com/api/v3", out.BaseURL)
	assert.Equal(t, "k", out.APIKey)
	assert.Equal(t, 2048, out.MaxTokens)
	assert.InDelta(t, 0.7, out.Temperature, 1e-6)
	assert.Equal(t, 1500*time.Millisecond, out.Timeout)
	assert.True(t, BoolValue(out.Breaker, false))
}

func TestDecodeSettingsIntegerDurationIsMilliseconds(t *testing.T) {
	var out llmSettings
	require.NoError(t, DecodeSettings(map[string]any{"timeout": 250}, &out))
	assert.Equal(t, 250*time.Millisecond, out.Timeout)
}

func TestDecodeSettingsEmpty(t *testing.T) {
	out := llmSettings{APIKey: "keep"}
	require.NoError(t, DecodeSettings(nil, &out))
	assert.Equal(t, "keep", out.APIKey)
}

func TestValidateSettings(t *testing.T) {
	schema := Schema{Required: []string{"api_key", "model"}, Optional: []string{"base_url"}}

	require.NoError(t, ValidateSettings("llm", map[string]any{"apiKey": "k", "model": "m"}, schema))

	err := ValidateSettings("llm", map[string]any{"api_key": " ", "extra": 1}, schema)
	require.Error(t, err)
	assert.Equal(t, "llm settings: missing: api_key, model; unknown: extra", err.Error())
	assert.True(t, errorsx.HasReason(err, errorsx.ReasonConfigInvalid))

	schema.AllowUnknown = true
	require.NoError(t, ValidateSettings("llm", map[string]any{"api_key": "k", "model": "m", "extra": 1}, schema))
}

func TestHelpers(t *testing.T) {
	n := 3
	assert.Equal(t, 3, IntValue(&n, 9))
	assert.Equal(t, 9, IntValue(nil, 9))
	assert.Equal(t, "x", StringValue("  ", "x"))
	assert.Equal(t, 200*time.Millisecond, Millis(200, time.Second))
	assert.Equal(t, time.Second, Millis(0, time.Second))
	assert.EqualError(t, RequireString("", "asr.app_key"), "asr.app_key is required")
}
