package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parleyai/voice-session/internal/config"
	"github.com/parleyai/voice-session/internal/device"
	"github.com/parleyai/voice-session/internal/observability"
	"github.com/parleyai/voice-session/internal/session"
	"github.com/parleyai/voice-session/internal/transcript"
	"github.com/parleyai/voice-session/internal/transport"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

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
		Str("live_ws_url", cfg.LiveWSURL).
		Str("model", cfg.LiveModel).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice Session Service starting")

	// Open the playback device first: without it there is nothing to
	// schedule assistant audio onto.
	speaker, err := device.OpenSpeaker(cfg.OutputSampleRate, cfg.FrameSamples, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open playback device")
	}

	mic := device.NewMicrophone(cfg.InputSampleRate, cfg.FrameSamples, cfg.AudioRingSamples, logger)
	live := transport.NewClient(cfg.LiveWSURL, cfg.LiveAPIKey, logger)
	controller := session.NewController(cfg, mic, live, speaker, logger)

	// Ops HTTP surface
	mux := http.NewServeMux()
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	backendCheck := func(ctx context.Context) (bool, error) {
		u, err := url.Parse(cfg.LiveWSURL)
		if err != nil {
			return false, fmt.Errorf("invalid live backend URL: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return false, fmt.Errorf("live backend URL must use ws(s) scheme, got %q", u.Scheme)
		}
		return true, nil
	}
	sessionCheck := func(ctx context.Context) (bool, error) {
		if state := controller.State(); state == session.StateErrored {
			return false, fmt.Errorf("session errored: %s", controller.Status())
		}
		return true, nil
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"live_backend": backendCheck,
		"session":      sessionCheck,
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("Ops server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Ops server failed to start")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := controller.Start(ctx); err != nil {
		logger.Error().Err(err).Str("status", controller.Status()).Msg("Failed to start session")
		_ = speaker.Close()
		os.Exit(1)
	}
	fmt.Println("Session connecting. Speak when ready; Ctrl-C to hang up.")

	renderDone := make(chan struct{})
	go renderTranscript(controller, renderDone)

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down...")
	controller.Stop()
	close(renderDone)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Ops server forced to shutdown")
	}
	if err := speaker.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close playback device")
	}

	printSources(controller.Sources())
	logger.Info().Msg("Session exited gracefully")
}

// renderTranscript prints finalized turns to stdout as they land.
func renderTranscript(controller *session.Controller, done <-chan struct{}) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	printed := 0
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}
		entries := controller.Transcript()
		for ; printed < len(entries); printed++ {
			entry := entries[printed]
			label := "you"
			if entry.Role == transcript.RoleAssistant {
				label = "assistant"
			}
			fmt.Printf("[%s] %s\n", label, entry.Text)
		}
	}
}

func printSources(sources []transcript.Source) {
	if len(sources) == 0 {
		return
	}
	fmt.Println("\nSources:")
	for _, s := range sources {
		if s.Title != "" {
			fmt.Printf("  %s (%s)\n", s.Title, s.URI)
		} else {
			fmt.Printf("  %s\n", s.URI)
		}
	}
}
