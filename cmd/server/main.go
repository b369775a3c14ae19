package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interview-gateway/internal/admission"
	"github.com/lexiqai/interview-gateway/internal/config"
	"github.com/lexiqai/interview-gateway/internal/evaluation"
	"github.com/lexiqai/interview-gateway/internal/observability"
	"github.com/lexiqai/interview-gateway/internal/resilience"
	"github.com/lexiqai/interview-gateway/internal/session"
	"github.com/lexiqai/interview-gateway/internal/transport"
	"github.com/lexiqai/interview-gateway/internal/tts"
)

// pinger is implemented by backends that can report readiness
type pinger interface {
	Ping(ctx context.Context) (bool, error)
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("evaluator", cfg.EvaluatorTransport).
		Str("admission", cfg.AdmissionMode).
		Str("capture", cfg.CaptureEngine).
		Str("session_store", cfg.SessionStore).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Interview Gateway starting")

	var signer *admission.Signer
	if cfg.AdmissionMode == "static" {
		signer = admission.NewSigner(cfg.AdmissionSigningKey, time.Duration(cfg.AdmissionTokenTTL)*time.Minute)
	}

	evaluator, evaluatorCheck, closeEvaluator, err := newEvaluator(cfg, signer, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create evaluator")
	}
	defer closeEvaluator()

	store, closeStore, err := newStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create session store")
	}
	defer closeStore()

	var synthesizer tts.Synthesizer
	if cfg.CartesiaAPIKey != "" {
		synthesizer = tts.NewCartesiaClient(tts.CartesiaConfig{
			APIKey:  cfg.CartesiaAPIKey,
			VoiceID: cfg.CartesiaVoiceID,
			ModelID: cfg.CartesiaModelID,
		}, logger)
		logger.Info().Msg("Server-side speech synthesis enabled")
	}

	interviews := transport.NewHandler(transport.Deps{
		Config:      cfg,
		Admitter:    newAdmitter(cfg, signer, logger),
		Evaluator:   evaluator,
		Store:       store,
		Synthesizer: synthesizer,
		Logger:      logger,
	})

	// Create HTTP server
	mux := http.NewServeMux()
	mux.Handle("/interviews/ws", interviews)
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	checks := map[string]observability.HealthCheckFunc{
		"session_store": func(ctx context.Context) (bool, error) {
			if err := store.Ping(ctx); err != nil {
				return false, err
			}
			return true, nil
		},
	}
	if evaluatorCheck != nil {
		checks["evaluator"] = evaluatorCheck
	}
	if p, ok := synthesizer.(pinger); ok {
		checks["synthesizer"] = p.Ping
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/interviews/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Int("active_interviews", interviews.Active()).Msg("Shutting down server...")

	// Hijacked WebSocket connections are not reached by Shutdown
	interviews.CloseAll()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}

// newEvaluator builds the configured evaluation transport, each behind its own circuit breaker
func newEvaluator(cfg *config.Config, signer *admission.Signer, logger zerolog.Logger) (evaluation.Evaluator, observability.HealthCheckFunc, func(), error) {
	timeout := time.Duration(cfg.EvaluatorTimeout) * time.Second
	breaker := resilience.NewCircuitBreaker(
		"evaluator",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)

	switch cfg.EvaluatorTransport {
	case config.EvaluatorHTTP:
		e := evaluation.NewHTTPEvaluator(evaluation.HTTPConfig{BaseURL: cfg.EvaluatorURL, Timeout: timeout}, breaker, logger)
		return e, e.Ping, func() {}, nil
	case config.EvaluatorGRPC:
		e, err := evaluation.NewGRPCEvaluator(evaluation.GRPCConfig{
			Target:     cfg.EvaluatorURL,
			Timeout:    timeout,
			TLSEnabled: cfg.EvaluatorTLSEnabled,
		}, breaker, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			if err := e.Close(); err != nil {
				logger.Warn().Err(err).Msg("Error closing evaluator connection")
			}
		}
		return e, e.Ping, closeFn, nil
	default:
		logger.Warn().Msg("Using the built-in scripted evaluator")
		static := evaluation.NewStaticEvaluator(nil, "")
		if signer != nil {
			static.WithVerifier(signer)
		}
		return static, nil, func() {}, nil
	}
}

func newAdmitter(cfg *config.Config, signer *admission.Signer, logger zerolog.Logger) admission.Admitter {
	if cfg.AdmissionMode == "http" {
		return admission.NewHTTPAdmitter(admission.HTTPConfig{
			BaseURL: cfg.AdmissionURL,
			Retry: &resilience.RetryConfig{
				MaxAttempts:       cfg.RetryMaxAttempts,
				InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
				MaxBackoff:        5 * time.Second,
				BackoffMultiplier: 2.0,
			},
		}, logger)
	}
	return admission.NewStaticAdmitter(nil, signer)
}

func newStore(cfg *config.Config) (session.Store, func(), error) {
	if cfg.SessionStore != "redis" {
		return session.NewMemoryStore(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := resilience.RetryWithExponentialBackoff(ctx, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, cfg.RetryMaxAttempts, time.Duration(cfg.RetryInitialBackoff)*time.Millisecond)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	store := session.NewRedisStore(client, session.WithTTL(time.Duration(cfg.SessionTTL)*time.Hour))
	return store, func() { client.Close() }, nil
}
