// Package polish cleans up and translates transcripts through an
// OpenAI-compatible chat completions endpoint.
package polish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/astronerd/ghostype/pkg/errorsx"
	"github.com/astronerd/ghostype/pkg/logging"
	"github.com/astronerd/ghostype/pkg/redact"
	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
)

const (
	DefaultTemperature float32 = 0.7
	DefaultMaxTokens           = 2048
	DefaultTimeout             = 30 * time.Second
	// DefaultThreshold is the rune count below which Polish leaves text
	// alone.
	DefaultThreshold = 20
	DefaultPrompt    = "Clean up this dictated text: fix punctuation, remove filler words and repetitions, keep the meaning and language. Output only the result."

	defaultBreakerFailures uint32 = 5
	defaultBreakerTimeout         = 30 * time.Second
	defaultBreakerInterval        = 60 * time.Second
)

// BreakerConfig controls when repeated failures stop reaching the endpoint.
type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Interval    time.Duration `mapstructure:"interval"`
}

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	Threshold   int
	Prompt      string
	Breaker     BreakerConfig
	HTTPClient  *http.Client
}

func (c Config) withDefaults() Config {
	if c.Temperature <= 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if strings.TrimSpace(c.Prompt) == "" {
		c.Prompt = DefaultPrompt
	}
	if c.Breaker.MaxFailures == 0 {
		c.Breaker.MaxFailures = defaultBreakerFailures
	}
	if c.Breaker.Timeout <= 0 {
		c.Breaker.Timeout = defaultBreakerTimeout
	}
	if c.Breaker.Interval <= 0 {
		c.Breaker.Interval = defaultBreakerInterval
	}
	return c
}

// Polisher sends transcripts to the chat model. It is safe for concurrent
// use.
type Polisher struct {
	cfg     Config
	client  *openai.Client
	breaker *gobreaker.CircuitBreaker[string]
	logger  *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Polisher, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errorsx.Newf(errorsx.ReasonConfigInvalid, "polish: api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errorsx.Newf(errorsx.ReasonConfigInvalid, "polish: model is required")
	}
	logger = logging.NewComponentLogger(logger, "polish")

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	maxFailures := cfg.Breaker.MaxFailures
	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "polish:" + cfg.Model,
		MaxRequests: 1,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("polish_breaker_state_change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	return &Polisher{
		cfg:     cfg,
		client:  openai.NewClientWithConfig(oc),
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Polish rewrites text with the configured prompt. Text shorter than the
// threshold is returned unchanged without a request.
func (p *Polisher) Polish(ctx context.Context, text string) (string, error) {
	if n := utf8.RuneCountInString(strings.TrimSpace(text)); n < p.cfg.Threshold {
		p.logger.Debug("polish_skipped_short", slog.Int("runes", n), slog.Int("threshold", p.cfg.Threshold))
		return text, nil
	}
	return p.complete(ctx, p.cfg.Prompt, text)
}

// Translate translates text in the given direction.
func (p *Polisher) Translate(ctx context.Context, text string, lang Language) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	return p.complete(ctx, lang.prompt(), text)
}

// State reports the circuit breaker state.
func (p *Polisher) State() gobreaker.State { return p.breaker.State() }

func (p *Polisher) complete(ctx context.Context, system, text string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	out, err := p.breaker.Execute(func() (string, error) {
		resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: p.cfg.Model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: text},
			},
			Temperature: p.cfg.Temperature,
			MaxTokens:   p.cfg.MaxTokens,
		})
		if err != nil {
			return "", errorsx.Wrap(fmt.Errorf("polish: chat completion: %w", err), errorsx.ReasonPolishRequest)
		}
		if len(resp.Choices) == 0 {
			return "", errorsx.Newf(errorsx.ReasonPolishRequest, "polish: response has no choices")
		}
		content := strings.TrimSpace(resp.Choices[0].Message.Content)
		if content == "" {
			return "", errorsx.Newf(errorsx.ReasonPolishRequest, "polish: empty completion")
		}
		return content, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", errorsx.Wrap(fmt.Errorf("polish: circuit open: %w", err), errorsx.ReasonPolishCircuitOpen)
		}
		p.logger.Warn("polish_failed", slog.String("error", err.Error()))
		return "", err
	}
	p.logger.Info("polish_completed",
		slog.Int64("latency_ms", time.Since(start).Milliseconds()),
		slog.String("text", redact.Text(out)))
	return out, nil
}
