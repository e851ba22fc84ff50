package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/gjr80/weewx-utilities/internal/aggregate"
	httpapi "github.com/gjr80/weewx-utilities/internal/api/http"
	"github.com/gjr80/weewx-utilities/internal/config"
	"github.com/gjr80/weewx-utilities/internal/dashboard"
	"github.com/gjr80/weewx-utilities/internal/forecast"
	"github.com/gjr80/weewx-utilities/internal/ingest"
	"github.com/gjr80/weewx-utilities/internal/mqttclient"
	"github.com/gjr80/weewx-utilities/internal/publish"
	"github.com/gjr80/weewx-utilities/internal/realtime"
	"github.com/gjr80/weewx-utilities/internal/scheduler"
	"github.com/gjr80/weewx-utilities/internal/slow"
	"github.com/gjr80/weewx-utilities/internal/store"
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:   "weewx-dashboard",
	Short: "Realtime weather dashboard aggregation service",
	Long: "Consume station loop packets and archive records over MQTT, keep day " +
		"statistics and publish a dashboard snapshot for every packet.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringSliceVar(&envFiles, "env-file", nil, "env file(s) to load before reading the environment (default .env)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(parent context.Context) error {
	// Load configuration.
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      cfg.SlogLevel(),
		TimeFormat: time.DateTime,
	}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// In-memory stores with configured retention.
	archive := store.NewArchiveStore(cfg.ArchiveUnitSystem, cfg.Location, cfg.ArchiveInterval, 0, cfg.ArchiveMaxAge)
	snapshots := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)

	server := mqttclient.ObfuscatePassword(cfg.MQTT.ServerURL)
	pubClient, err := mqttclient.Connect(mqttclient.Options{
		ServerURL:    cfg.MQTT.ServerURL,
		ClientPrefix: "weewx-dashboard-pub",
		TLSInsecure:  cfg.MQTT.TLSInsecure,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to connect publisher to %s: %w", server, err)
	}
	defer pubClient.Disconnect(1000)

	publisher := publish.NewMQTTPublisher(pubClient, publish.Options{
		Topic:     cfg.MQTT.RealtimeTopic,
		Retain:    cfg.MQTT.Retain,
		MaxTries:  cfg.MQTT.MaxTries,
		RetryWait: cfg.MQTT.RetryWait,
	}, log)
	log.Info("dashboard data will be published",
		slog.String("server", server), slog.String("topic", cfg.MQTT.RealtimeTopic))

	dashOpts := dashboard.Options{
		Units:         cfg.Units,
		DecimalPlaces: cfg.DecimalPlaces,
		MinInterval:   cfg.MinInterval,
	}

	// Core realtime loop owning the buffer and cache.
	service := realtime.New(realtime.Options{
		Station:     cfg.Station,
		QueueSize:   cfg.QueueSize,
		MaxBacklog:  cfg.MaxBacklog,
		MaxCacheAge: cfg.MaxCacheAge,
		Location:    cfg.Location,
		Aggregate:   aggregate.DefaultConfig(),
		Dashboard:   dashOpts,
	}, archive, publisher, snapshots, log)
	if err := service.Start(ctx); err != nil {
		return fmt.Errorf("failed to start realtime service: %w", err)
	}

	// Yesterday's statistics, refreshed on every archive record.
	yesterday := slow.New(slow.Options{
		Topic:     cfg.MQTT.SlowTopic,
		Dashboard: dashOpts,
	}, archive, publisher, log)
	if err := yesterday.Start(ctx); err != nil {
		return fmt.Errorf("failed to start slow service: %w", err)
	}

	subscriber := ingest.NewSubscriber(ingest.Options{
		LoopTopic:    cfg.MQTT.LoopTopic,
		ArchiveTopic: cfg.MQTT.ArchiveTopic,
	}, service, archive, log)
	subscriber.AddArchiveSink(yesterday)
	subClient, err := mqttclient.Connect(mqttclient.Options{
		ServerURL:    cfg.MQTT.ServerURL,
		ClientPrefix: "weewx-dashboard-sub",
		TLSInsecure:  cfg.MQTT.TLSInsecure,
		OnConnect:    subscriber.OnConnect,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to connect subscriber to %s: %w", server, err)
	}
	defer subClient.Disconnect(1000)

	// Scheduler firing end of archive period events and store pruning.
	sched := scheduler.New(cfg.ArchiveInterval, 15*time.Minute, service, func(now time.Time) {
		archive.Prune(now)
		snapshots.Prune()
	}, log)

	var updater *forecast.Updater
	if cfg.Forecast.Enabled {
		if updater, err = newForecastUpdater(cfg, publisher, log); err != nil {
			return fmt.Errorf("failed to configure forecasts: %w", err)
		}
		if err := sched.Every("forecast", time.Minute, func() { updater.Process(ctx) }); err != nil {
			return fmt.Errorf("failed to schedule forecasts: %w", err)
		}
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "weewx-dashboard",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		status := "ok"
		if service.Err() != nil {
			status = "degraded"
		}
		return c.JSON(fiber.Map{
			"status":  status,
			"service": "weewx-dashboard",
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, snapshots, service, cfg.Station)
	httpapi.RegisterSlowRoutes(app, yesterday)
	if updater != nil {
		httpapi.RegisterForecastRoutes(app, updater)
	}

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error("fiber server stopped", slog.Any("error", err))
		}
	}()
	log.Info("http api listening", slog.String("port", cfg.Port))

	// Wait for termination signal or a dead realtime loop.
	select {
	case <-ctx.Done():
	case <-service.Done():
		log.Error("realtime loop stopped", slog.Any("error", service.Err()))
	}

	if err := service.Stop(cfg.ShutdownTimeout); err != nil {
		log.Warn("realtime service stop", slog.Any("error", err))
	}
	if err := yesterday.Stop(cfg.ShutdownTimeout); err != nil {
		log.Warn("slow service stop", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("error during shutdown", slog.Any("error", err))
	}
	return service.Err()
}

// newForecastUpdater builds the providers that can be used with the
// configured API keys. Open-Meteo needs no key and is always used.
func newForecastUpdater(cfg *config.AppConfig, pub forecast.Publisher, log *slog.Logger) (*forecast.Updater, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	providers := []forecast.Provider{
		forecast.NewOpenMeteoProvider(forecast.SourceConfig{Client: client}),
	}
	if key := cfg.Forecast.WeatherAPIKey; key != "" {
		providers = append(providers, forecast.NewWeatherAPIProvider(forecast.SourceConfig{Client: client, APIKey: key}))
	}
	if key := cfg.Forecast.OpenWeatherAPIKey; key != "" {
		providers = append(providers, forecast.NewOpenWeatherProvider(forecast.SourceConfig{Client: client, APIKey: key}))
	}

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	log.Info("forecast downloads enabled",
		slog.Any("providers", names),
		slog.String("conditions_topic", cfg.Forecast.ConditionsTopic),
		slog.String("forecast_topic", cfg.Forecast.ForecastTopic))

	return forecast.NewUpdater(providers, pub, forecast.Options{
		Location:           forecast.Location{Lat: cfg.Forecast.Latitude, Lon: cfg.Forecast.Longitude},
		Units:              cfg.Units,
		Days:               cfg.Forecast.Days,
		ConditionsTopic:    cfg.Forecast.ConditionsTopic,
		ForecastTopic:      cfg.Forecast.ForecastTopic,
		ConditionsInterval: cfg.Forecast.ConditionsInterval,
		ForecastInterval:   cfg.Forecast.ForecastInterval,
		Lockout:            cfg.Forecast.Lockout,
	}, log)
}
