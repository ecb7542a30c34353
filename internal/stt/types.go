package stt

import (
	"context"
	"errors"
)

var (
	// ErrNotReady is returned by Send while the stream is still being established
	ErrNotReady = errors.New("stt: stream not ready")

	// ErrClosed is returned by Send after the stream was finished or dropped by the provider
	ErrClosed = errors.New("stt: stream closed")
)

// Fragment is a piece of recognized speech
type Fragment struct {
	// Text is the transcribed text
	Text string

	// IsFinal indicates the provider will not revise this text any further
	IsFinal bool

	// Confidence is the confidence score (0.0 to 1.0) if available
	Confidence float64
}

// Sink receives the events of one stream. Calls arrive on provider goroutines.
type Sink interface {
	OnFragment(Fragment)
	OnUtteranceEnd()
	OnError(error)
}

// Stream is one live transcription connection
type Stream interface {
	// Send forwards an audio chunk. Returns ErrNotReady or ErrClosed when the
	// chunk cannot be delivered.
	Send(audio []byte) error

	// Ready reports whether Send would currently accept audio
	Ready() bool

	// Finish flushes and closes the stream. Safe to call more than once.
	Finish()
}

// Provider opens transcription streams
type Provider interface {
	// Open dials the provider and blocks until the stream can accept audio
	Open(ctx context.Context, sink Sink) (Stream, error)
}

// SinkFuncs adapts plain functions to Sink. Nil fields are ignored.
type SinkFuncs struct {
	Fragment     func(Fragment)
	UtteranceEnd func()
	Error        func(error)
}

func (s SinkFuncs) OnFragment(f Fragment) {
	if s.Fragment != nil {
		s.Fragment(f)
	}
}

func (s SinkFuncs) OnUtteranceEnd() {
	if s.UtteranceEnd != nil {
		s.UtteranceEnd()
	}
}

func (s SinkFuncs) OnError(err error) {
	if s.Error != nil {
		s.Error(err)
	}
}
