// main package for the stream-tts service
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

	"github.com/book-expert/logger"
	"github.com/book-expert/stream-tts/internal/config"
	"github.com/book-expert/stream-tts/internal/history"
	"github.com/book-expert/stream-tts/internal/ingress/twitch"
	"github.com/book-expert/stream-tts/internal/metrics"
	"github.com/book-expert/stream-tts/internal/notify"
	"github.com/book-expert/stream-tts/internal/orchestrator"
	"github.com/book-expert/stream-tts/internal/playback"
	"github.com/book-expert/stream-tts/internal/provider"
	"github.com/book-expert/stream-tts/internal/settings"
	"github.com/book-expert/stream-tts/internal/worker"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	serviceName         = "stream-tts"
	metricsNamespace    = "stream_tts"
	envTwitchToken      = "TWITCH_OAUTH_TOKEN"
	metricsReadTimeout  = 5 * time.Second
	metricsShutdownWait = 5 * time.Second
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir(), serviceName+"-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// A missing .env file is normal in production.
	envErr := godotenv.Load()
	if envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
		bootstrapLog.Warn("Failed to read .env file: %v", envErr)
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceName+".log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name(serviceName))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	settingsSource, err := settings.NewKVSource(jetstreamContext, cfg.NATS.SettingsBucket, log)
	if err != nil {
		return fmt.Errorf("failed to open settings bucket: %w", err)
	}

	store, err := history.NewSQLiteStore(cfg.History.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}

	defer func() {
		closeErr := store.Close()
		if closeErr != nil {
			log.Error("Failed to close history store: %v", closeErr)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	orch := orchestrator.New(orchestrator.Dependencies{
		Settings: settingsSource,
		Registry: provider.NewRegistry(provider.NewStreamElements(), provider.NewPolly(provider.NewAWSSigner())),
		Engine:   playback.NewNatsEngine(natsConnection, cfg.NATS.PlaySubject, cfg.NATS.DoneSubject, cfg.PlaybackTimeout(), log),
		Store:    store,
		Notifier: notify.NewNatsNotifier(natsConnection, cfg.NATS.NotifySubject, log),
		Metrics:  metrics.NewCollector(metricsNamespace, registry),
		Log:      log,
	})

	err = orch.Start()
	if err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}
	defer orch.Close()

	metricsServer := startMetrics(cfg.Metrics.ListenAddress, registry, log)
	if metricsServer != nil {
		defer shutdownMetrics(metricsServer, log)
	}

	if cfg.TwitchEnabled() {
		adapter := twitch.NewAdapter(twitch.Config{
			Username:   cfg.Twitch.Username,
			OAuthToken: os.Getenv(envTwitchToken),
			Channels:   cfg.Twitch.Channels,
			Rules: twitch.Rules{
				RewardID:    cfg.Twitch.RewardID,
				BitsMinimum: cfg.Twitch.BitsMinimum,
				CharLimit:   cfg.Twitch.CharLimit,
			},
		}, orch, log)

		go func() {
			runErr := adapter.Run(ctx)
			if runErr != nil {
				log.Error("Twitch ingress stopped: %v", runErr)
			}
		}()
	}

	intake := worker.NewNatsWorker(natsConnection, cfg.NATS.RequestSubject, cfg.NATS.HistorySubject, orch, log)

	log.System("Stream-TTS successfully initialized. Listening for requests on subject: %s", cfg.NATS.RequestSubject)

	err = intake.Run(ctx)
	if err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}

	log.System("Stream-TTS shutting down.")

	return nil
}

func startMetrics(address string, registry *prometheus.Registry, log *logger.Logger) *http.Server {
	if address == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadTimeout,
	}

	go func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server stopped: %v", err)
		}
	}()

	log.Info("Serving metrics on %s/metrics", address)

	return server
}

func shutdownMetrics(server *http.Server, log *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownWait)
	defer cancel()

	err := server.Shutdown(ctx)
	if err != nil {
		log.Warn("Failed to stop metrics server: %v", err)
	}
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
