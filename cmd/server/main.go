package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/talentloop/interview-gateway/internal/config"
	"github.com/talentloop/interview-gateway/internal/gateway"
	"github.com/talentloop/interview-gateway/internal/interview"
	"github.com/talentloop/interview-gateway/internal/observability"
	"github.com/talentloop/interview-gateway/internal/question"
	"github.com/talentloop/interview-gateway/internal/stt"
)

const shutdownTimeout = 30 * time.Second

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
		Str("question_provider", cfg.QuestionProvider).
		Str("deepgram_model", cfg.DeepgramModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Interview Gateway starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transcriber := stt.NewDeepgramProvider(cfg, logger)

	questions, err := question.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create question generator")
	}

	ctrl := interview.NewController(interview.NewStore(), transcriber, questions, logger)

	checks := []observability.HealthCheck{
		{Name: "deepgram", Check: transcriber.HealthCheck},
		{Name: "question_generator", Check: questions.HealthCheck},
	}
	router := gateway.NewRouter(
		gateway.NewHandler(ctrl, cfg, logger),
		gateway.RouterOptions{MetricsEnabled: cfg.MetricsEnabled, ReadyChecks: checks},
		logger,
	)

	// No write timeout: interview sockets are long-lived
	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("addr", server.Addr).
			Str("endpoint", cfg.WebSocketURL()).
			Strs("ready_checks", observability.CheckNames(checks)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := server.Shutdown(shutdownCtx)

		// Hijacked interview sockets are not tracked by the server
		ctrl.Close()
		if cerr := questions.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("Failed to close question generator")
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("Server exited with error")
	}

	logger.Info().Msg("Server exited gracefully")
}
