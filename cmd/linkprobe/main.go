// linkprobe connects to a VerdantGrow server, exercises the request
// pipeline and the event channel, and streams received events to the
// console.
//
// Usage: go run ./cmd/linkprobe --config configs/growlink.local.yaml
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/verdantgrow/growlink/internal/config"
	"github.com/verdantgrow/growlink/internal/connection"
	"github.com/verdantgrow/growlink/internal/database"
	"github.com/verdantgrow/growlink/internal/errclass"
	"github.com/verdantgrow/growlink/internal/events"
	"github.com/verdantgrow/growlink/internal/request"
	"github.com/verdantgrow/growlink/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/growlink.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full event payload JSON")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("linkprobe starting", "version", version.String(), "server", cfg.Server.BaseURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	// Optional error report sink
	hooks := []errclass.Hook{errclass.LogHook(logger)}
	var store *database.ReportStore
	if cfg.Database.Enabled {
		pool, err := database.Connect(ctx, cfg.Database.Reports)
		if err != nil {
			logger.Error("failed to connect report database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		store = database.NewReportStore(database.DefaultStoreConfig(), pool, logger)
		if err := store.Start(ctx); err != nil {
			logger.Error("failed to start report store", "error", err)
			os.Exit(1)
		}
		hooks = append(hooks, store.Hook())
	}

	errHandler := errclass.NewHandler(logger, hooks...)

	// Request pipeline
	pipeline := request.NewPipeline(cfg.Server.BaseURL,
		request.WithTimeout(cfg.HTTP.Timeout),
		request.WithRetries(cfg.HTTP.MaxRetries, cfg.HTTP.RetryDelay),
		request.WithMaxRetryDelay(cfg.HTTP.MaxRetryDelay),
		request.WithAuthToken(cfg.Server.AuthToken),
		request.WithLogger(logger),
	)

	if resp, err := pipeline.Get(ctx, "/api/health"); err != nil {
		errHandler.Handle(err, map[string]any{"path": "/api/health"})
		logger.Warn("health check failed", "error", err)
	} else {
		logger.Info("health check ok", "status", resp.StatusCode, "duration", resp.Duration)
	}

	// Connection manager
	mgr := connection.NewManager(connection.Config{
		URL:                  cfg.Server.BaseURL,
		Path:                 cfg.Socket.Path,
		AuthToken:            cfg.Server.AuthToken,
		Timeout:              cfg.Socket.Timeout,
		MaxReconnectAttempts: cfg.Socket.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Socket.ReconnectDelay,
		HeartbeatInterval:    cfg.Socket.HeartbeatInterval,
		WriteTimeout:         cfg.Socket.WriteTimeout,
		QueueLimit:           cfg.Socket.QueueLimit,
		BufferSize:           cfg.Socket.BufferSize,
	}, logger)

	subscribeLifecycle(mgr, errHandler, logger)
	subscribeData(mgr, logger, *verbose)

	if !cfg.Socket.AutoConnect {
		logger.Info("auto_connect disabled; connecting explicitly")
	}
	if err := mgr.Connect(ctx); err != nil {
		errHandler.Handle(err, map[string]any{"url": cfg.Server.BaseURL})
	}

	<-ctx.Done()

	logger.Info("shutting down")
	mgr.Destroy()

	if store != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		store.Stop(stopCtx)
	}

	for _, info := range errHandler.History() {
		logger.Debug("recorded error", "kind", info.Kind, "code", info.Code, "message", info.Message)
	}
	logger.Info("linkprobe stopped")
}

// subscribeLifecycle logs connection state transitions and routes
// connection errors into the error handler.
func subscribeLifecycle(mgr *connection.Manager, errHandler *errclass.Handler, logger *slog.Logger) {
	mgr.On(events.KindConnect, func(ev events.Event) {
		logger.Info("event channel connected")
	})
	mgr.On(events.KindDisconnect, func(ev events.Event) {
		if info, ok := ev.Payload.(*events.DisconnectInfo); ok {
			logger.Warn("event channel disconnected",
				"reason", info.Reason,
				"server_initiated", info.ServerInitiated,
			)
		}
	})
	mgr.On(events.KindConnectError, func(ev events.Event) {
		if msg, ok := ev.Payload.(*events.ErrorMessage); ok {
			errHandler.Handle(fmt.Errorf("connect error: %s", msg.Message), nil)
		}
	})
	mgr.On(events.KindReconnectAttempt, func(ev events.Event) {
		if info, ok := ev.Payload.(*events.AttemptInfo); ok {
			logger.Info("reconnecting", "attempt", info.Attempt)
		}
	})
	mgr.On(events.KindReconnectFailed, func(ev events.Event) {
		logger.Error("reconnection abandoned")
	})
}

// subscribeData prints data events received over the channel.
func subscribeData(mgr *connection.Manager, logger *slog.Logger, verbose bool) {
	print := func(ev events.Event) {
		if verbose {
			data, err := json.Marshal(ev.Payload)
			if err != nil {
				logger.Warn("unprintable payload", "event", ev.Kind, "error", err)
				return
			}
			fmt.Printf("[%s] %s %s\n", ev.At.Format(time.RFC3339), ev.Kind, data)
			return
		}
		fmt.Printf("[%s] %s\n", ev.At.Format(time.RFC3339), ev.Kind)
	}

	for _, kind := range []events.Kind{
		events.KindMessage,
		events.KindSensorUpdate,
		events.KindRoomUpdate,
		events.KindAutomationUpdate,
		events.KindAnalysisProgress,
		events.KindNotification,
		events.KindError,
	} {
		mgr.On(kind, print)
	}
}

// newLogger builds the process logger from config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
