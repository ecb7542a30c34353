package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Question generator backends selectable via QUESTION_PROVIDER
const (
	QuestionProviderTemplate = "template"
	QuestionProviderGemini   = "gemini"
	QuestionProviderOpenAI   = "openai"
	QuestionProviderGRPC     = "grpc"
)

// Config holds all configuration for the interview gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL for this service, used only for the startup log line.
	// Optional; if unset, logs ws://localhost:PORT/ws/interview.
	PublicURL string `envconfig:"PUBLIC_URL" default:""`

	// WebSocket transport
	WSAllowedOrigins []string `envconfig:"WS_ALLOWED_ORIGINS"`                 // Empty allows any origin
	WSReadLimit      int64    `envconfig:"WS_READ_LIMIT" default:"1048576"`     // Max inbound frame size in bytes
	WSPingInterval   int      `envconfig:"WS_PING_INTERVAL" default:"25"`       // seconds
	WSPongTimeout    int      `envconfig:"WS_PONG_TIMEOUT" default:"60"`        // seconds
	WSWriteTimeout   int      `envconfig:"WS_WRITE_TIMEOUT" default:"10"`       // seconds
	WSOutboundQueue  int      `envconfig:"WS_OUTBOUND_QUEUE" default:"256"`     // Pending outbound events per connection

	// Deepgram STT API configuration
	DeepgramAPIKey         string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramHost           string `envconfig:"DEEPGRAM_HOST" default:""`                 // Empty uses api.deepgram.com; wss:// or ws:// for self-hosted
	DeepgramModel          string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`          // nova-2, nova-3, enhanced, base
	DeepgramLanguage       string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`           // Language code (en, es, fr, etc.)
	DeepgramEncoding       string `envconfig:"DEEPGRAM_ENCODING" default:"linear16"`     // Empty lets Deepgram sniff containerized audio
	DeepgramSampleRate     int    `envconfig:"DEEPGRAM_SAMPLE_RATE" default:"16000"`     // Hz, ignored when encoding is empty
	DeepgramChannels       int    `envconfig:"DEEPGRAM_CHANNELS" default:"1"`
	DeepgramUtteranceEndMs int    `envconfig:"DEEPGRAM_UTTERANCE_END_MS" default:"1000"` // Silence gap that ends an answer

	// Question generation
	QuestionProvider string `envconfig:"QUESTION_PROVIDER" default:"template"` // template, gemini, openai, grpc
	QuestionTimeout  int    `envconfig:"QUESTION_TIMEOUT" default:"20"`        // seconds, per attempt

	GeminiAPIKey string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiModel  string `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash"`

	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIModel   string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:""`

	// Remote question service gRPC endpoint
	QuestionServiceURL        string `envconfig:"QUESTION_SERVICE_URL" default:""`
	QuestionServiceTLSEnabled bool   `envconfig:"QUESTION_SERVICE_TLS_ENABLED" default:"false"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"2"`             // Total attempts per question (2 = one retry)
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"250"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"3"`         // Deepgram dial attempts per handle
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"200"`            // Dial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field requirements that envconfig tags cannot express
func (c *Config) Validate() error {
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}

	c.QuestionProvider = strings.ToLower(strings.TrimSpace(c.QuestionProvider))
	switch c.QuestionProvider {
	case QuestionProviderTemplate:
	case QuestionProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when QUESTION_PROVIDER=gemini")
		}
	case QuestionProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when QUESTION_PROVIDER=openai")
		}
	case QuestionProviderGRPC:
		if c.QuestionServiceURL == "" {
			return fmt.Errorf("QUESTION_SERVICE_URL is required when QUESTION_PROVIDER=grpc")
		}
	default:
		return fmt.Errorf("unknown QUESTION_PROVIDER %q", c.QuestionProvider)
	}

	if c.QuestionTimeout <= 0 {
		return fmt.Errorf("QUESTION_TIMEOUT must be positive, got %d", c.QuestionTimeout)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts)
	}
	if c.WSOutboundQueue < 1 {
		return fmt.Errorf("WS_OUTBOUND_QUEUE must be at least 1, got %d", c.WSOutboundQueue)
	}

	return nil
}

// QuestionTimeoutDuration returns the per-attempt question generation budget
func (c *Config) QuestionTimeoutDuration() time.Duration {
	return time.Duration(c.QuestionTimeout) * time.Second
}

// ListenAddr returns the address the HTTP server binds to
func (c *Config) ListenAddr() string {
	return ":" + c.Port
}

// WebSocketURL returns the externally visible interview endpoint
func (c *Config) WebSocketURL() string {
	if c.PublicURL != "" {
		base := strings.TrimSuffix(c.PublicURL, "/")
		base = strings.Replace(base, "https://", "wss://", 1)
		base = strings.Replace(base, "http://", "ws://", 1)
		return base + "/ws/interview"
	}
	return fmt.Sprintf("ws://localhost:%s/ws/interview", c.Port)
}
