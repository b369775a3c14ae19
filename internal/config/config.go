package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Evaluator transports
const (
	EvaluatorStatic = "static"
	EvaluatorHTTP   = "http"
	EvaluatorGRPC   = "grpc"
)

// Capture engines
const (
	CaptureRelay    = "relay"
	CaptureDeepgram = "deepgram"
)

// Config holds all configuration for the interview gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Turn-taking timing
	SilenceWindowMs       int    `envconfig:"SILENCE_WINDOW_MS" default:"3000"`        // Quiet interval before auto-submit
	CaptureRestartDelayMs int    `envconfig:"CAPTURE_RESTART_DELAY_MS" default:"200"`  // Restart delay after engine-imposed end
	CaptureBackoffFloorMs int    `envconfig:"CAPTURE_BACKOFF_FLOOR_MS" default:"300"`  // First restart delay after a transient error
	CaptureBackoffCapMs   int    `envconfig:"CAPTURE_BACKOFF_CAP_MS" default:"5000"`   // Maximum restart delay
	CompletionDelayMs     int    `envconfig:"COMPLETION_DELAY_MS" default:"1500"`      // Delay before leaving a completed session
	PlaybackTimeout       int    `envconfig:"PLAYBACK_TIMEOUT" default:"120"`          // seconds; playback is considered done afterwards
	KickoffPrompt         string `envconfig:"KICKOFF_PROMPT" default:"start the interview"`

	// Evaluation backend
	EvaluatorTransport  string `envconfig:"EVALUATOR_TRANSPORT" default:"static"` // static, http, grpc
	EvaluatorURL        string `envconfig:"EVALUATOR_URL" default:""`
	EvaluatorTimeout    int    `envconfig:"EVALUATOR_TIMEOUT" default:"30"` // seconds
	EvaluatorTLSEnabled bool   `envconfig:"EVALUATOR_TLS_ENABLED" default:"false"`

	// Session admission
	AdmissionMode       string `envconfig:"ADMISSION_MODE" default:"static"` // static, http
	AdmissionURL        string `envconfig:"ADMISSION_URL" default:""`
	AdmissionSigningKey string `envconfig:"ADMISSION_SIGNING_KEY" default:""`
	AdmissionTokenTTL   int    `envconfig:"ADMISSION_TOKEN_TTL" default:"120"` // minutes

	// Speech capture
	CaptureEngine    string `envconfig:"CAPTURE_ENGINE" default:"relay"` // relay, deepgram
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en-US"`
	AudioBufferSize  int    `envconfig:"AUDIO_BUFFER_SIZE" default:"65536"` // Bytes held while the engine restarts

	// Cartesia TTS fallback (optional)
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY" default:""`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"sonic-english"`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`

	// Session store
	SessionStore  string `envconfig:"SESSION_STORE" default:"memory"` // memory, redis
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	SessionTTL    int    `envconfig:"SESSION_TTL" default:"24"` // hours

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
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

// Validate checks the settings that only matter for some transports
func (c *Config) Validate() error {
	switch c.EvaluatorTransport {
	case EvaluatorStatic:
	case EvaluatorHTTP, EvaluatorGRPC:
		if c.EvaluatorURL == "" {
			return fmt.Errorf("EVALUATOR_URL is required for %s evaluator", c.EvaluatorTransport)
		}
	default:
		return fmt.Errorf("unknown EVALUATOR_TRANSPORT %q", c.EvaluatorTransport)
	}

	switch c.AdmissionMode {
	case "static":
		if c.AdmissionSigningKey == "" {
			return fmt.Errorf("ADMISSION_SIGNING_KEY is required for static admission")
		}
	case "http":
		if c.AdmissionURL == "" {
			return fmt.Errorf("ADMISSION_URL is required for http admission")
		}
	default:
		return fmt.Errorf("unknown ADMISSION_MODE %q", c.AdmissionMode)
	}

	switch c.CaptureEngine {
	case CaptureRelay:
	case CaptureDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required for deepgram capture")
		}
	default:
		return fmt.Errorf("unknown CAPTURE_ENGINE %q", c.CaptureEngine)
	}

	switch c.SessionStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown SESSION_STORE %q", c.SessionStore)
	}

	if c.SilenceWindowMs <= 0 {
		return fmt.Errorf("SILENCE_WINDOW_MS must be positive")
	}
	if c.CaptureRestartDelayMs < 0 {
		return fmt.Errorf("CAPTURE_RESTART_DELAY_MS must not be negative")
	}
	if c.PlaybackTimeout <= 0 {
		return fmt.Errorf("PLAYBACK_TIMEOUT must be positive")
	}
	if c.CaptureBackoffFloorMs <= 0 || c.CaptureBackoffCapMs < c.CaptureBackoffFloorMs {
		return fmt.Errorf("capture backoff floor must be positive and not exceed the cap")
	}

	return nil
}

// SilenceWindow returns the debounce quiet interval
func (c *Config) SilenceWindow() time.Duration {
	return time.Duration(c.SilenceWindowMs) * time.Millisecond
}

// CompletionDelay returns the pause between completion and leaving the session
func (c *Config) CompletionDelay() time.Duration {
	return time.Duration(c.CompletionDelayMs) * time.Millisecond
}
