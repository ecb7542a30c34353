package question

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/talentloop/interview-gateway/internal/config"
	"github.com/talentloop/interview-gateway/internal/resilience"
)

// New builds the configured generator wrapped in Guarded
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Guarded, error) {
	var (
		backend Generator
		err     error
	)

	switch cfg.QuestionProvider {
	case config.QuestionProviderTemplate:
		backend = NewTemplateGenerator()
	case config.QuestionProviderGemini:
		backend, err = NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case config.QuestionProviderOpenAI:
		backend, err = NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, cfg.QuestionTimeoutDuration())
	case config.QuestionProviderGRPC:
		backend, err = NewRemoteGenerator(cfg.QuestionServiceURL, cfg.QuestionServiceTLSEnabled)
	default:
		return nil, fmt.Errorf("unknown question provider %q", cfg.QuestionProvider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s question generator: %w", cfg.QuestionProvider, err)
	}

	return NewGuarded(cfg.QuestionProvider, backend, GuardOptions{
		Timeout: cfg.QuestionTimeoutDuration(),
		Retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		MaxFailures:  cfg.CircuitBreakerMaxFailures,
		ResetTimeout: time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second,
	}, logger), nil
}
