package stt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/talentloop/interview-gateway/internal/config"
	"github.com/talentloop/interview-gateway/internal/observability"
	"github.com/talentloop/interview-gateway/internal/resilience"
)

const breakerName = "deepgram"

// liveClient is the part of the SDK's WSCallback the provider drives.
// Stop sends CloseStream, then a normal closure, and cancels the client.
type liveClient interface {
	Connect() bool
	Write(p []byte) (int, error)
	Stop()
}

type dialFunc func(ctx context.Context, opts *interfaces.LiveTranscriptionOptions, cb msginterfaces.LiveMessageCallback) (liveClient, error)

// DeepgramProvider opens live transcription streams against Deepgram's streaming API
type DeepgramProvider struct {
	apiKey    string
	options   *interfaces.LiveTranscriptionOptions
	breaker   *resilience.CircuitBreaker
	reconnect *resilience.ReconnectConfig
	dial      dialFunc
	logger    zerolog.Logger
}

// NewDeepgramProvider creates a provider from the Deepgram section of cfg
func NewDeepgramProvider(cfg *config.Config, logger zerolog.Logger) *DeepgramProvider {
	breaker := resilience.NewCircuitBreaker(
		breakerName,
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	breaker.OnStateChange(func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
		logger.Warn().Str("service", name).Str("state", state.String()).Msg("Circuit breaker state changed")
	})

	return &DeepgramProvider{
		apiKey:  cfg.DeepgramAPIKey,
		options: LiveOptions(cfg),
		breaker: breaker,
		reconnect: &resilience.ReconnectConfig{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  5 * time.Second,
		},
		dial:   dialDeepgram(cfg.DeepgramAPIKey, cfg.DeepgramHost),
		logger: logger.With().Str("component", "stt").Logger(),
	}
}

// LiveOptions builds the streaming options. Interim results and utterance-end
// events drive the live transcript and answer boundaries.
func LiveOptions(cfg *config.Config) *interfaces.LiveTranscriptionOptions {
	opts := &interfaces.LiveTranscriptionOptions{
		Model:          cfg.DeepgramModel,
		Language:       cfg.DeepgramLanguage,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		VadEvents:      true,
		UtteranceEndMs: strconv.Itoa(cfg.DeepgramUtteranceEndMs), // string in v3
	}
	if cfg.DeepgramEncoding != "" {
		opts.Encoding = cfg.DeepgramEncoding
		opts.SampleRate = cfg.DeepgramSampleRate
		opts.Channels = cfg.DeepgramChannels
	}
	return opts
}

// dialDeepgram targets host when set, otherwise Deepgram's hosted API
func dialDeepgram(apiKey, host string) dialFunc {
	return func(ctx context.Context, opts *interfaces.LiveTranscriptionOptions, cb msginterfaces.LiveMessageCallback) (liveClient, error) {
		client, err := listenClient.NewWSUsingCallback(
			ctx,
			apiKey,
			&interfaces.ClientOptions{Host: host, EnableKeepAlive: true},
			opts,
			cb,
		)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Open dials Deepgram, retrying with backoff behind the circuit breaker
func (p *DeepgramProvider) Open(ctx context.Context, sink Sink) (Stream, error) {
	start := time.Now()

	var stream *deepgramStream
	err := resilience.Reconnect(ctx, breakerName, func() error {
		return p.breaker.Call(func() error {
			s, err := p.connect(ctx, sink)
			if err != nil {
				observability.IncrementCircuitBreakerFailures(breakerName)
				return err
			}
			stream = s
			return nil
		})
	}, p.reconnect)
	if err != nil {
		observability.RecordError("connect", "stt")
		return nil, fmt.Errorf("deepgram: open stream: %w", err)
	}

	observability.RecordTranscriberOpen(time.Since(start))
	p.logger.Debug().
		Str("model", p.options.Model).
		Str("language", p.options.Language).
		Dur("latency", time.Since(start)).
		Msg("Deepgram stream opened")
	return stream, nil
}

func (p *DeepgramProvider) connect(ctx context.Context, sink Sink) (*deepgramStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	s := &deepgramStream{
		sink:   sink,
		cancel: cancel,
		logger: p.logger,
		onProviderError: func() {
			p.breaker.RecordResult(false)
			observability.IncrementCircuitBreakerFailures(breakerName)
		},
	}

	client, err := p.dial(streamCtx, p.options, &callbackHandler{stream: s})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if !client.Connect() {
		cancel()
		return nil, errors.New("failed to connect to Deepgram")
	}

	s.client = client
	s.ready.Store(true)
	return s, nil
}

// HealthCheck reports whether new streams can currently be opened
func (p *DeepgramProvider) HealthCheck(ctx context.Context) error {
	if p.apiKey == "" {
		return errors.New("deepgram API key not configured")
	}
	if p.breaker.GetState() == resilience.StateOpen {
		return fmt.Errorf("deepgram: %w", resilience.ErrCircuitOpen)
	}
	return ctx.Err()
}

// deepgramStream is one live Deepgram connection
type deepgramStream struct {
	client liveClient
	sink   Sink
	cancel context.CancelFunc
	logger zerolog.Logger

	ready    atomic.Bool
	closed   atomic.Bool
	finished atomic.Bool
	once     sync.Once

	onProviderError func()
}

func (s *deepgramStream) Send(audio []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.ready.Load() {
		return ErrNotReady
	}
	if _, err := s.client.Write(audio); err != nil {
		return fmt.Errorf("deepgram: write audio: %w", err)
	}
	observability.RecordAudioBytes("stt", len(audio))
	return nil
}

func (s *deepgramStream) Ready() bool {
	return s.ready.Load() && !s.closed.Load()
}

// Finish closes the provider side and blocks for the close handshake
func (s *deepgramStream) Finish() {
	s.once.Do(func() {
		s.finished.Store(true)
		s.closed.Store(true)
		s.ready.Store(false)
		if s.client != nil {
			s.client.Stop()
		}
		s.cancel()
	})
}

func (s *deepgramStream) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil || s.finished.Load() {
		return
	}
	if len(msg.Channel.Alternatives) == 0 {
		return
	}

	// Best alternative first
	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return
	}

	observability.RecordFragment(msg.IsFinal)
	s.sink.OnFragment(Fragment{
		Text:       alt.Transcript,
		IsFinal:    msg.IsFinal,
		Confidence: alt.Confidence,
	})
}

func (s *deepgramStream) handleUtteranceEnd() {
	if s.finished.Load() {
		return
	}
	s.sink.OnUtteranceEnd()
}

// handleClose reports closes the stream did not ask for
func (s *deepgramStream) handleClose() {
	if s.finished.Load() || s.closed.Swap(true) {
		return
	}
	s.ready.Store(false)
	s.sink.OnError(fmt.Errorf("deepgram: connection closed by provider: %w", ErrClosed))
}

func (s *deepgramStream) handleError(errResp *msginterfaces.ErrorResponse) {
	if s.finished.Load() {
		return
	}
	observability.RecordError("provider", "stt")
	if s.onProviderError != nil {
		s.onProviderError()
	}

	err := errors.New("deepgram: provider error")
	if errResp != nil {
		err = fmt.Errorf("deepgram: provider error: %+v", *errResp)
	}
	s.closed.Store(true)
	s.ready.Store(false)
	s.sink.OnError(err)
}

// callbackHandler routes SDK callbacks to the stream. Every method is
// implemented so nothing falls through to the SDK's stdout printing.
type callbackHandler struct {
	stream *deepgramStream
}

var _ msginterfaces.LiveMessageCallback = (*callbackHandler)(nil)

func (h *callbackHandler) Open(*msginterfaces.OpenResponse) error {
	h.stream.logger.Debug().Msg("Deepgram connection open")
	return nil
}

func (h *callbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	h.stream.handleMessage(msg)
	return nil
}

func (h *callbackHandler) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	h.stream.handleUtteranceEnd()
	return nil
}

func (h *callbackHandler) SpeechStarted(*msginterfaces.SpeechStartedResponse) error {
	h.stream.logger.Debug().Msg("Deepgram: speech started")
	return nil
}

func (h *callbackHandler) Metadata(md *msginterfaces.MetadataResponse) error {
	h.stream.logger.Debug().Interface("metadata", md).Msg("Deepgram metadata")
	return nil
}

func (h *callbackHandler) Close(*msginterfaces.CloseResponse) error {
	h.stream.handleClose()
	return nil
}

func (h *callbackHandler) Error(errResp *msginterfaces.ErrorResponse) error {
	h.stream.logger.Warn().Interface("error", errResp).Msg("Deepgram error")
	h.stream.handleError(errResp)
	return nil
}

func (h *callbackHandler) UnhandledEvent(data []byte) error {
	h.stream.logger.Debug().Bytes("event", data).Msg("Deepgram: unhandled event")
	return nil
}
