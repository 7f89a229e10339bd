package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/redis/go-redis/v9"

	"github.com/nexatel/voicedesk/internal/logger"
	"github.com/nexatel/voicedesk/internal/voice/callcontrol"
	"github.com/nexatel/voicedesk/internal/voice/config"
	"github.com/nexatel/voicedesk/internal/voice/dialogue"
	"github.com/nexatel/voicedesk/internal/voice/handler"
	"github.com/nexatel/voicedesk/internal/voice/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger.Init(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		slog.Error("Failed to create credential", "error", err)
		os.Exit(1)
	}

	sessions, closeSessions := newSessionStore(cfg)
	defer closeSessions()

	control := callcontrol.NewClient(
		cfg.CallAutomationEndpoint,
		cfg.CognitiveServicesEndpoint,
		cfg.VoiceName,
		credential,
	)
	// One shared client so dialogue turns reuse connections.
	dlg := dialogue.NewClient(cfg.APIBaseURL, &http.Client{Timeout: 60 * time.Second})

	h := handler.New(sessions, control, dlg, cfg.Prompts, cfg.PublicBaseURL)
	mux := http.NewServeMux()
	h.Register(mux)

	run(&http.Server{Addr: cfg.Addr, Handler: mux}, cfg)
}

func newSessionStore(cfg *config.Config) (session.Store, func()) {
	if cfg.RedisAddr == "" {
		s := session.NewMemoryStore()
		return s, s.Close
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	slog.Info("Using Redis session store", "addr", cfg.RedisAddr)
	return session.NewRedisStore(client), func() { _ = client.Close() }
}

func run(srv *http.Server, cfg *config.Config) {
	slog.Info("Starting Voicedesk Voice Gateway",
		"addr", cfg.Addr,
		"api_base_url", cfg.APIBaseURL,
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Received signal, shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Shutdown error", "error", err)
	}
}
