package question

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"

	"github.com/talentloop/interview-gateway/internal/observability"
	"github.com/talentloop/interview-gateway/internal/resilience"
)

// GuardOptions configures Guarded
type GuardOptions struct {
	Timeout      time.Duration // per attempt
	Retry        *resilience.RetryConfig
	MaxFailures  int
	ResetTimeout time.Duration
}

// Guarded bounds every call of the wrapped generator with a per-attempt
// timeout, retries transient failures and trips a circuit breaker when the
// backend keeps failing.
type Guarded struct {
	next     Generator
	provider string
	opts     GuardOptions
	breaker  *resilience.CircuitBreaker
	logger   zerolog.Logger
}

// NewGuarded wraps next. provider labels metrics, spans and the breaker.
func NewGuarded(provider string, next Generator, opts GuardOptions, logger zerolog.Logger) *Guarded {
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.Retry == nil {
		opts.Retry = resilience.DefaultRetryConfig()
	}

	logger = logger.With().Str("component", "question").Str("provider", provider).Logger()

	breaker := resilience.NewCircuitBreaker("question_"+provider, opts.MaxFailures, opts.ResetTimeout)
	breaker.OnStateChange(func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
		logger.Warn().Str("service", name).Str("state", state.String()).Msg("Circuit breaker state changed")
	})

	return &Guarded{
		next:     next,
		provider: provider,
		opts:     opts,
		breaker:  breaker,
		logger:   logger,
	}
}

func (g *Guarded) NextQuestion(ctx context.Context, prior *string) (question string, err error) {
	ctx, span := observability.StartSpan(ctx, "question.NextQuestion",
		attribute.String("question.provider", g.provider),
		attribute.Bool("question.opening", prior == nil),
	)
	start := time.Now()
	defer func() {
		observability.RecordQuestionRequest(g.provider, time.Since(start), err == nil)
		observability.EndSpan(span, err)
	}()

	err = resilience.Retry(ctx, func(ctx context.Context, attempt int) error {
		callErr := g.breaker.CallIgnoring(func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
			defer cancel()

			q, err := g.next.NextQuestion(attemptCtx, prior)
			if err != nil {
				return err
			}
			if q = cleanQuestion(q); q == "" {
				return ErrEmptyQuestion
			}
			question = q
			return nil
		}, callerGaveUp(ctx))
		if callErr != nil && !errors.Is(callErr, resilience.ErrCircuitOpen) {
			observability.IncrementCircuitBreakerFailures(g.breaker.Name())
			g.logger.Warn().Err(callErr).Int("attempt", attempt).Msg("Question generation attempt failed")
		}
		return callErr
	}, g.opts.Retry, isRetryable)

	if err != nil {
		observability.RecordError("generate", "question")
		return "", fmt.Errorf("question: %s: %w", g.provider, err)
	}

	span.SetAttributes(attribute.Int("question.length", len(question)))
	return question, nil
}

// callerGaveUp keeps cancellations by the caller off the breaker's books
func callerGaveUp(ctx context.Context) func(error) bool {
	return func(error) bool { return ctx.Err() != nil }
}

// HealthCheck fails while the breaker is open, then defers to the backend
func (g *Guarded) HealthCheck(ctx context.Context) error {
	if g.breaker.GetState() == resilience.StateOpen {
		return fmt.Errorf("question %s: %w", g.provider, resilience.ErrCircuitOpen)
	}
	if hc, ok := g.next.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// Close releases the wrapped generator's resources, if it holds any
func (g *Guarded) Close() error {
	if c, ok := g.next.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// isRetryable extends the network classification with the typed errors of the
// LLM SDKs and the gRPC status codes.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, ErrEmptyQuestion) || isRetryableStatus(err) {
		return true
	}

	var geminiErr genai.APIError
	if errors.As(err, &geminiErr) {
		return retryableHTTPStatus(geminiErr.Code)
	}
	var openaiErr *oai.Error
	if errors.As(err, &openaiErr) {
		return retryableHTTPStatus(openaiErr.StatusCode)
	}

	return resilience.IsRetryableNetworkError(err)
}

func retryableHTTPStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
