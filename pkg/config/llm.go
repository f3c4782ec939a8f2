package config

import (
	"strings"
	"time"

	"github.com/astronerd/ghostype/pkg/configutil"
	"github.com/astronerd/ghostype/pkg/errorsx"
	"github.com/astronerd/ghostype/pkg/polish"
)

// OpenAI-compatible endpoints by provider name.
var providerBaseURLs = map[string]string{
	"openai":  "https://api.openai.com/v1",
	"ark":     "https://ark.cn-beijing.volces.com/api/v3",
	"minimax": "https://api.minimax.chat/v1",
}

var llmSchema = configutil.Schema{
	Required: []string{"api_key", "model"},
	Optional: []string{"base_url", "temperature", "max_tokens", "timeout", "circuit_breaker"},
}

type llmSettings struct {
	BaseURL     string               `mapstructure:"base_url"`
	APIKey      string               `mapstructure:"api_key"`
	Model       string               `mapstructure:"model"`
	Temperature float32              `mapstructure:"temperature"`
	MaxTokens   int                  `mapstructure:"max_tokens"`
	Timeout     time.Duration        `mapstructure:"timeout"`
	Breaker     polish.BreakerConfig `mapstructure:"circuit_breaker"`
}

// PolishSettings builds the polish client config from the llm and polish
// sections.
func (c Config) PolishSettings() (polish.Config, error) {
	provider := strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if err := configutil.ValidateSettings("llm", c.LLM.Settings, llmSchema); err != nil {
		return polish.Config{}, err
	}
	var s llmSettings
	if err := configutil.DecodeSettings(c.LLM.Settings, &s); err != nil {
		return polish.Config{}, errorsx.Wrap(err, errorsx.ReasonConfigInvalid)
	}
	baseURL := s.BaseURL
	if baseURL == "" {
		known, ok := providerBaseURLs[provider]
		if !ok {
			return polish.Config{}, errorsx.Newf(errorsx.ReasonConfigInvalid, "llm: provider %q needs settings.base_url", c.LLM.Provider)
		}
		baseURL = known
	}
	return polish.Config{
		BaseURL:     baseURL,
		APIKey:      s.APIKey,
		Model:       s.Model,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
		Timeout:     s.Timeout,
		Threshold:   c.Polish.Threshold,
		Prompt:      c.Polish.Prompt,
		Breaker:     s.Breaker,
	}, nil
}
