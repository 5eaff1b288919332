package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/joshp123/plantcare/internal/archive"
	"github.com/joshp123/plantcare/internal/automation"
	"github.com/joshp123/plantcare/internal/config"
	"github.com/joshp123/plantcare/internal/core"
	"github.com/joshp123/plantcare/internal/dashboards"
	"github.com/joshp123/plantcare/internal/device"
	"github.com/joshp123/plantcare/internal/fleet"
	"github.com/joshp123/plantcare/internal/history"
	"github.com/joshp123/plantcare/internal/poll"
	"github.com/joshp123/plantcare/internal/rate"
	"github.com/joshp123/plantcare/internal/router"
	"github.com/joshp123/plantcare/internal/server"
	"github.com/joshp123/plantcare/internal/service"
)

const (
	shutdownTimeout = 10 * time.Second
	pruneEvery      = time.Hour
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("load .env: %v", err)
	}
	logger := newLogger(os.Getenv("PLANTCARE_LOG_LEVEL"))
	slog.SetDefault(logger)

	cfg, err := config.Load(envOrDefault("PLANTCARE_CONFIG", config.DefaultPath))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		log.Fatalf("plantcare: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	th := cfg.CoreThresholds()
	store, err := fleet.NewStore(th, cfg.FleetEntries(time.Now()))
	if err != nil {
		return err
	}
	engine := automation.NewEngine(automation.Config{
		Thresholds:      th,
		WateringEnabled: cfg.AutoWater(),
		PendingTimeout:  cfg.Poll.PendingTimeout,
	})

	source, dispatcher, closeDevice, err := newDevice(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDevice()

	loop, err := poll.NewLoop(poll.Config{
		Interval:             cfg.Poll.Interval,
		FetchTimeout:         cfg.Poll.FetchTimeout,
		DispatchTimeout:      cfg.Poll.DispatchTimeout,
		MaxConcurrentFetches: cfg.Poll.MaxConcurrentFetches,
		Logger:               logger,
	}, store, engine, source, dispatcher)
	if err != nil {
		return err
	}

	var commandLog service.CommandLog
	var hist *history.Store
	if cfg.History != nil {
		hist, err = history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer hist.Close()
		restored, err := history.Restore(ctx, hist, store, engine)
		if err != nil {
			return fmt.Errorf("restore history: %w", err)
		}
		logger.Info("history restored", "path", cfg.History.Path, "readings", restored)
		loop.Subscribe(history.NewRecorder(hist, logger))
		commandLog = hist
	}

	svc := service.New(store, engine, loop, commandLog)
	stream := server.NewStream(svc, logger)
	loop.Subscribe(stream)

	var mirror *archive.Mirror
	if a := cfg.Archive; a != nil {
		blobs, err := archive.NewS3Store(archive.S3Config{
			Endpoint:      a.Endpoint,
			Bucket:        a.Bucket,
			Prefix:        a.Prefix,
			Region:        a.Region,
			AccessKeyFile: a.AccessKeyFile,
			SecretKeyFile: a.SecretKeyFile,
		})
		if err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		mirror = archive.NewMirror(blobs, a.Every, logger)
		loop.Subscribe(mirror)
	}

	registry := core.MetricsRegistry(
		[]prometheus.Collector{fleet.NewMetricsCollector(store)},
		automation.MetricsCollectors(),
		poll.MetricsCollectors(),
		device.MetricsCollectors(),
		rate.MetricsCollectors(),
		archive.MetricsCollectors(),
		server.StreamCollectors(),
	)
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "plantcare_build_info",
		Help:        "Build information",
		ConstLabels: prometheus.Labels{"version": version},
	}, func() float64 { return 1 }))

	if err := core.WriteDashboards(cfg.Core.DashboardDir, dashboards.Group, dashboards.All()); err != nil {
		return err
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr, logger)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	deps := router.Deps{
		Service:    svc,
		Store:      store,
		API:        server.NewAPI(svc, logger),
		Stream:     stream,
		Registry:   registry,
		Dashboards: core.DashboardsMap(dashboards.Group, dashboards.All()),
	}
	router.RegisterGRPC(grpcServer.Server, deps)
	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, router.HTTPMux(deps))

	logger.Info("plantcare starting",
		"version", version,
		"grpc", cfg.Core.GRPCAddr,
		"http", cfg.Core.HTTPAddr,
		"plants", len(cfg.Plants),
		"seeds", len(cfg.Seeds),
		"transport", cfg.Device.Transport,
		"auto_water", cfg.AutoWater(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(httpServer.ListenAndServe)
	g.Go(grpcServer.Serve)
	if hist != nil {
		g.Go(func() error {
			history.RunRetention(gctx, hist, cfg.History.Retention, pruneEvery, logger)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("plantcare stopping")
		stream.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		grpcServer.Server.GracefulStop()
		return err
	})

	err = g.Wait()
	if mirror != nil {
		mirror.Wait()
	}
	return err
}

func newDevice(ctx context.Context, cfg *config.Config) (poll.ReadingSource, poll.Dispatcher, func(), error) {
	var auth *device.AuthConfig
	if a := cfg.Device.Auth; a != nil {
		auth = &device.AuthConfig{
			TokenURL:         a.TokenURL,
			ClientID:         a.ClientID,
			ClientSecretFile: a.ClientSecretFile,
			Scopes:           a.Scopes,
		}
	}
	client, err := device.NewClient(ctx, device.Config{
		BaseURL:              cfg.Device.BaseURL,
		RequestTimeout:       cfg.Device.RequestTimeout,
		MaxRequestsPerMinute: cfg.Device.MaxRequestsPerMinute,
		Auth:                 auth,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.Device.Transport != config.TransportMQTT {
		return client, client, func() {}, nil
	}

	m := cfg.Device.MQTT
	dispatcher, err := device.NewMQTTDispatcher(device.MQTTConfig{
		Broker:       m.Broker,
		Username:     m.Username,
		PasswordFile: m.PasswordFile,
		TopicPrefix:  m.TopicPrefix,
		ClientID:     m.ClientID,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("mqtt: %w", err)
	}
	return client, dispatcher, dispatcher.Close, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil || level == "" {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
