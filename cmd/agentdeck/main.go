package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vibecode/agentdeck/internal/actions"
	"github.com/vibecode/agentdeck/internal/backend"
	"github.com/vibecode/agentdeck/internal/bus"
	"github.com/vibecode/agentdeck/internal/common/config"
	"github.com/vibecode/agentdeck/internal/common/logger"
	"github.com/vibecode/agentdeck/internal/dispatch"
	"github.com/vibecode/agentdeck/internal/protocol"
	"github.com/vibecode/agentdeck/internal/protocol/codex"
	"github.com/vibecode/agentdeck/internal/protocol/geminijson"
	"github.com/vibecode/agentdeck/internal/protocol/opencode"
	"github.com/vibecode/agentdeck/internal/protocol/streamjson"
	"github.com/vibecode/agentdeck/internal/session"
	"github.com/vibecode/agentdeck/internal/stream"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting agentdeck session core...",
		zap.String("provider", cfg.Backend.Provider))

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. In-process event bus for UI notifications
	eventBus := bus.NewMemoryBus(log)
	defer eventBus.Close()

	// 5. Session state cache
	store := session.NewStore(cfg.Cache.MaxSessions, cfg.Cache.MaxMessagesPerSession, log)

	// 6. Provider normalizer registry
	registry, err := registryFor(cfg.Backend.Provider)
	if err != nil {
		log.Fatal("Unknown provider", zap.Error(err))
	}
	dispatcher := dispatch.NewDispatcher(registry, log)

	// 7. Backend collaborator client
	client := backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.RequestTimeoutDuration(), log)

	// 8. Stream lifecycle manager
	transport := stream.NewWSTransport(cfg.Stream.DialTimeoutDuration(), cfg.Stream.MaxFrameBytes)
	manager := stream.NewManager(streamBaseURL(cfg), cfg.Stream.FlushIntervalDuration(),
		transport, store, dispatcher, eventBus, log)
	defer manager.Close()

	// 9. Action layer
	acts := actions.New(store, manager, client, log)
	sessionID := acts.StartNewSession()
	log.Info("Session core ready", zap.String("session_id", sessionID))

	// 10. Poll the session-status feed to gate stream opens
	go pollStatuses(ctx, cfg.Stream.StatusPollIntervalDuration(), client, manager, log)

	// 11. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down agentdeck...")
	cancel()
	manager.Close()
}

// registryFor maps the configured provider name to its normalizer registry.
func registryFor(provider string) (protocol.Registry, error) {
	switch provider {
	case "streamjson":
		return streamjson.New(), nil
	case "geminijson":
		return geminijson.New(), nil
	case "codex":
		return codex.New(), nil
	case "opencode":
		return opencode.New(), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", provider)
	}
}

// streamBaseURL returns the websocket base URL, deriving it from the HTTP
// base URL when not configured explicitly.
func streamBaseURL(cfg *config.Config) string {
	if cfg.Backend.StreamURL != "" {
		return cfg.Backend.StreamURL
	}
	base := cfg.Backend.BaseURL
	if strings.HasPrefix(base, "https://") {
		return "wss://" + strings.TrimPrefix(base, "https://")
	}
	if strings.HasPrefix(base, "http://") {
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

// pollStatuses feeds the external session-status list into the manager until
// the context is cancelled.
func pollStatuses(ctx context.Context, interval time.Duration,
	client *backend.Client, manager *stream.Manager, log *logger.Logger) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			statuses, err := client.ListSessionStatuses(ctx)
			if err != nil {
				log.Debug("session status poll failed", zap.Error(err))
				continue
			}
			if err := manager.ApplyStatuses(ctx, statuses); err != nil {
				log.Warn("failed to apply session statuses", zap.Error(err))
			}
		}
	}
}
