package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lgscvb/line-webhook-gateway/internal/config"
	"github.com/lgscvb/line-webhook-gateway/internal/coordinator"
	"github.com/lgscvb/line-webhook-gateway/internal/domain"
	"github.com/lgscvb/line-webhook-gateway/internal/forwarder"
	"github.com/lgscvb/line-webhook-gateway/internal/gateway"
	"github.com/lgscvb/line-webhook-gateway/internal/guard"
	"github.com/lgscvb/line-webhook-gateway/internal/line"
	"github.com/lgscvb/line-webhook-gateway/internal/metrics"
	"github.com/lgscvb/line-webhook-gateway/internal/notify"
	"github.com/lgscvb/line-webhook-gateway/internal/router"
	"github.com/lgscvb/line-webhook-gateway/internal/store"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook gateway",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.General.LogLevel)}))

	logger.Info("line webhook gateway starting",
		"version", version,
		"reply_mode", cfg.Routing.Mode,
		"legacy_keywords", cfg.Routing.LegacyKeywords,
		"high_value_keywords", cfg.Routing.HighValueKeywords,
	)

	// Graceful shutdown on signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer eventStore.Close()

	replyGuard, err := openGuard(cfg)
	if err != nil {
		return err
	}
	defer replyGuard.Close()

	timeout := time.Duration(cfg.Forward.TimeoutSeconds) * time.Second

	lineClient := line.NewClient(line.ClientConfig{
		AccessToken: cfg.Line.ChannelAccessToken,
		APIBase:     cfg.Line.APIBase,
		Timeout:     timeout,
		MaxRetries:  cfg.Forward.MaxRetries,
		Logger:      logger,
	})

	var m metrics.Metrics = metrics.Noop{}
	if cfg.Metrics.Enabled {
		m = metrics.NewProm("linegw")
	}

	coord := coordinator.New(coordinator.Config{
		Guard:  replyGuard,
		Line:   lineClient,
		Logger: logger,
	})

	pipeline := gateway.NewPipeline(gateway.PipelineConfig{
		Mode:   cfg.ReplyMode(),
		Router: router.New(cfg.Routing.LegacyKeywords, cfg.Routing.HighValueKeywords),
		Forward: forwarder.New(forwarder.Config{
			Mode:       cfg.ReplyMode(),
			LegacyURL:  cfg.Backends.LegacyURL,
			ModernURL:  cfg.Backends.ModernURL,
			QueryBase:  cfg.Backends.QueryBase,
			Timeout:    timeout,
			MaxRetries: cfg.Forward.MaxRetries,
			Logger:     logger,
		}),
		Coord:    coord,
		Store:    eventStore,
		Notifier: buildNotifier(cfg),
		Metrics:  m,
		Workers:  cfg.General.Workers,
		QueueLen: cfg.General.QueueLen,
		Logger:   logger,
	})

	server := gateway.NewServer(gateway.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		WebhookPath:     cfg.Server.WebhookPath,
		ChannelSecret:   cfg.Line.ChannelSecret,
		PushToken:       cfg.Server.PushToken,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
		Logger:          logger,
	}, pipeline, lineClient, m)

	return server.Start(ctx)
}

func openStore(cfg *config.Config) (domain.EventStore, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgresStore(cfg.Store.DSN, logger)
	default:
		return store.NewSQLiteStore(cfg.Store.Path, logger)
	}
}

func openGuard(cfg *config.Config) (domain.ReplyGuard, error) {
	ttl := time.Duration(cfg.Guard.TTLSeconds) * time.Second
	switch cfg.Guard.Driver {
	case "redis":
		return guard.NewRedis(cfg.Guard.RedisURL, ttl)
	default:
		return guard.NewMemory(ttl), nil
	}
}

func buildNotifier(cfg *config.Config) domain.Notifier {
	var channels notify.Multi
	if cfg.Notify.WebhookURL != "" {
		channels = append(channels, notify.NewWebhook(cfg.Notify.WebhookURL, 10*time.Second, logger))
	}
	if cfg.Notify.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Notify.Telegram.Token, cfg.Notify.Telegram.ChatID, logger)
		if err != nil {
			logger.Error("telegram alert channel unavailable", "error", err)
		} else {
			channels = append(channels, tg)
		}
	}
	if len(channels) == 0 {
		return notify.Noop{}
	}
	return channels
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
