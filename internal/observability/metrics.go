package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "interview_gateway_active_sessions",
		Help: "Number of interview sessions currently in the session store",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interview_gateway_sessions_total",
		Help: "Total number of interview sessions joined",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interview_gateway_session_duration_seconds",
		Help:    "Time from join until the session leaves the store",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
	})

	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "interview_gateway_active_connections",
		Help: "Number of open interview WebSocket connections",
	})

	// Interview flow metrics
	questionsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_questions_total",
		Help: "Questions sent to candidates, by ordinal",
	}, []string{"number"})

	interviewsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_interviews_finished_total",
		Help: "Interviews that reached the finished state",
	}, []string{"reason"})

	// STT metrics
	transcriptFragments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_transcript_fragments_total",
		Help: "Transcript fragments received from the STT provider",
	}, []string{"kind"}) // kind: "interim" or "final"

	droppedAudioFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_audio_frames_dropped_total",
		Help: "Inbound audio frames discarded instead of forwarded",
	}, []string{"reason"})

	transcriberOpenLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interview_gateway_transcriber_open_seconds",
		Help:    "Time to establish a streaming STT connection",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Question generator metrics
	questionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_question_requests_total",
		Help: "Question generation requests",
	}, []string{"provider", "status"})

	questionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "interview_gateway_question_latency_seconds",
		Help:    "Question generation latency in seconds, including retries",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 20.0},
	}, []string{"provider"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "interview_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_gateway_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" (from candidate) or "stt" (forwarded to provider)
)

// SessionMetrics tracks metrics for a single interview session
type SessionMetrics struct {
	startTime time.Time
	mu        sync.Mutex
	ended     bool
}

// NewSessionMetrics creates a new metrics tracker for a session and records its start
func NewSessionMetrics() *SessionMetrics {
	activeSessions.Inc()
	totalSessions.Inc()
	return &SessionMetrics{startTime: time.Now()}
}

// RecordSessionEnd records the session leaving the store. Safe to call more than once.
func (m *SessionMetrics) RecordSessionEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.ended = true
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// ConnectionOpened records a new transport connection
func ConnectionOpened() {
	activeConnections.Inc()
}

// ConnectionClosed records a transport connection going away
func ConnectionClosed() {
	activeConnections.Dec()
}

// RecordQuestion records a question being sent to a candidate
func RecordQuestion(number int) {
	questionsEmitted.WithLabelValues(ordinalLabel(number)).Inc()
}

// RecordInterviewFinished records an interview reaching its terminal state
func RecordInterviewFinished(reason string) {
	if reason == "" {
		reason = "completed"
	}
	interviewsFinished.WithLabelValues(reason).Inc()
}

// RecordFragment records a transcript fragment
func RecordFragment(final bool) {
	kind := "interim"
	if final {
		kind = "final"
	}
	transcriptFragments.WithLabelValues(kind).Inc()
}

// RecordDroppedFrame records an audio frame that was discarded
func RecordDroppedFrame(reason string) {
	droppedAudioFrames.WithLabelValues(reason).Inc()
}

// RecordTranscriberOpen records how long a transcriber dial took
func RecordTranscriberOpen(d time.Duration) {
	transcriberOpenLatency.Observe(d.Seconds())
}

// RecordQuestionRequest records one question generation outcome
func RecordQuestionRequest(provider string, d time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	questionRequests.WithLabelValues(provider, status).Inc()
	questionLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func RecordAudioBytes(direction string, bytes int) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

func ordinalLabel(n int) string {
	if n < 1 || n > 9 {
		return "other"
	}
	return strconv.Itoa(n)
}
