package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexatel/voicedesk/internal/conversation/config"
	"github.com/nexatel/voicedesk/internal/conversation/server"
	"github.com/nexatel/voicedesk/internal/conversation/store"
	"github.com/nexatel/voicedesk/internal/conversation/workflow"
	"github.com/nexatel/voicedesk/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger.Init(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	st, closeStore := newConversationStore(cfg)
	defer closeStore()

	team := workflow.NewRemoteTeam(cfg.TeamID, cfg.TeamRemoteURL, &http.Client{Timeout: 120 * time.Second})
	srv := server.NewServer(cfg.Addr, st, team)

	run(srv.HTTPServer(), cfg)
}

func newConversationStore(cfg *config.Config) (store.Store, func()) {
	if cfg.RedisAddr == "" {
		s := store.NewMemoryStore()
		return s, s.Close
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	slog.Info("Using Redis conversation store", "addr", cfg.RedisAddr)
	return store.NewRedisStore(client), func() { _ = client.Close() }
}

func run(srv *http.Server, cfg *config.Config) {
	slog.Info("Starting Voicedesk Conversation API",
		"addr", cfg.Addr,
		"team_remote_url", cfg.TeamRemoteURL,
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

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
