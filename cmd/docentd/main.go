// Command docentd serves the document-tutoring turn API: NDJSON and
// WebSocket turn channels, Prometheus metrics, and a health probe.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/docent-ai/docent/config"
	"github.com/docent-ai/docent/logger"
	metrics "github.com/docent-ai/docent/metrics/prometheus"
	"github.com/docent-ai/docent/providers/openai"
	"github.com/docent-ai/docent/statestore"
	"github.com/docent-ai/docent/telemetry"
	"github.com/docent-ai/docent/transport"
	"github.com/docent-ai/docent/version"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "docent.yaml", "path to the configuration file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	logger.SetVerbose(*verbose)

	if err := run(*configPath); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTraces, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTraces(context.Background()); err != nil {
			logger.Warn("trace shutdown", "error", err)
		}
	}()

	provider, err := openai.New(openai.Config{
		BaseURL:           cfg.Provider.BaseURL,
		Model:             cfg.Provider.Model,
		APIKey:            cfg.APIKey(),
		Temperature:       cfg.Provider.Temperature,
		MaxTokens:         cfg.Provider.MaxTokens,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
	})
	if err != nil {
		return err
	}
	defer provider.Close()

	store, closeStore, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	handler, err := transport.NewHandler(transport.ChannelConfig{
		Provider:          provider,
		Store:             store,
		Bounds:            cfg.Page.Bounds(),
		System:            cfg.Provider.System,
		HeartbeatInterval: cfg.Transport.HeartbeatInterval.Std(),
		TurnTimeout:       cfg.Transport.TurnTimeout.Std(),
		MaxRetries:        cfg.Transport.MaxRetries,
		RetryBackoffBase:  cfg.Transport.RetryBackoffBase.Std(),
		RetryBackoffMax:   cfg.Transport.RetryBackoffMax.Std(),
	})
	if err != nil {
		return err
	}

	exporter := metrics.NewExporter("")

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/turns", handler.ServeTurn)
	mux.HandleFunc("/v1/turns/ws", handler.ServeTurnWS)
	mux.Handle("/metrics", exporter.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("docentd listening",
			"addr", cfg.ListenAddr,
			"version", version.Version,
			"protocol", version.ProtocolVersion,
			"store", cfg.Store.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func buildStore(cfg *config.Config) (statestore.Store, func(), error) {
	switch cfg.Store.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Store.Addr})
		opts := []statestore.RedisOption{}
		if cfg.Store.TTL > 0 {
			opts = append(opts, statestore.WithTTL(cfg.Store.TTL.Std()))
		}
		if cfg.Store.Prefix != "" {
			opts = append(opts, statestore.WithPrefix(cfg.Store.Prefix))
		}
		return statestore.NewRedisStore(client, opts...), func() { _ = client.Close() }, nil
	default:
		return statestore.NewMemoryStore(), func() {}, nil
	}
}
