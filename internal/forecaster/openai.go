// Package forecaster asks an LLM completion API for a short rain forecast
// and turns its reply into a Prediction.
package forecaster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sony/gobreaker/v2"

	"github.com/lox/stationcast/internal/metrics"
	"github.com/lox/stationcast/internal/models"
)

const (
	DefaultModel       = openai.ChatModelGPT4oMini
	DefaultMaxTokens   = 500
	DefaultTemperature = 0.3
)

// ErrNoAPIKey is returned by NewOpenAI when no key is configured.
var ErrNoAPIKey = errors.New("OPENAI_API_KEY not set")

// Archive stores raw model replies for later inspection.
type Archive interface {
	StoreRawPayload(source, endpoint string, payload []byte) (int64, error)
}

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	// HTTPClient is optional.
	HTTPClient *http.Client
	// Archive is optional.
	Archive Archive
	// BreakerFailures is the number of consecutive failures that opens the
	// breaker; BreakerCooldown is how long it stays open.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// OpenAI produces predictions through the chat completions API. Calls are
// not retried and go through a circuit breaker so a failing upstream is
// skipped straight to the fallback.
type OpenAI struct {
	client  openai.Client
	model   string
	archive Archive
	breaker *gobreaker.CircuitBreaker[string]
}

func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 3
	}
	if cfg.BreakerCooldown == 0 {
		cfg.BreakerCooldown = time.Minute
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "openai",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("forecaster: breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &OpenAI{
		client:  openai.NewClient(opts...),
		model:   cfg.Model,
		archive: cfg.Archive,
		breaker: breaker,
	}, nil
}

// Forecast asks the model about the reading. Any failure is returned to the
// caller, which is expected to fall back to the heuristic.
func (f *OpenAI) Forecast(ctx context.Context, current models.Reading) (*models.Prediction, error) {
	prompt, err := BuildPrompt(current)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	text, err := f.breaker.Execute(func() (string, error) {
		return f.complete(ctx, prompt)
	})
	metrics.ForecastLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		status := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			status = "breaker_open"
		}
		metrics.ForecastCallsTotal.WithLabelValues(status).Inc()
		return nil, fmt.Errorf("forecast call: %w", err)
	}

	if f.archive != nil {
		if _, err := f.archive.StoreRawPayload("openai", "chat/completions", []byte(text)); err != nil {
			slog.Warn("forecaster: archive reply", "error", err)
		}
	}

	p, err := ParsePrediction(text)
	if err != nil {
		metrics.ForecastCallsTotal.WithLabelValues("parse_error").Inc()
		return nil, err
	}
	metrics.ForecastCallsTotal.WithLabelValues("ok").Inc()
	return p, nil
}

func (f *OpenAI) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := f.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:       f.model,
		MaxTokens:   openai.Int(DefaultMaxTokens),
		Temperature: openai.Float(DefaultTemperature),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}
