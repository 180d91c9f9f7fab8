package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/nerrad567/launchdeck/internal/infrastructure/config"
	"github.com/nerrad567/launchdeck/internal/infrastructure/database"
	"github.com/nerrad567/launchdeck/internal/infrastructure/influxdb"
	"github.com/nerrad567/launchdeck/internal/infrastructure/logging"
	"github.com/nerrad567/launchdeck/internal/infrastructure/mqtt"
	"github.com/nerrad567/launchdeck/internal/process"
	"github.com/nerrad567/launchdeck/internal/supervisor"
	"github.com/nerrad567/launchdeck/internal/telemetry"
)

// shutdownTimeout bounds the final StopAll.
const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
}

// run is the serve loop, separated from the command for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting launchdeck",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	if configPath == "" {
		log.Info("no config file, using built-in configuration")
	} else {
		log.Info("configuration loaded", "path", configPath)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// History
	db, historyRepo, err := openHistory(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database ready", "path", cfg.Database.Path)

	abandoned, err := historyRepo.MarkAbandoned(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("closing abandoned history: %w", err)
	}
	if abandoned > 0 {
		log.Warn("instances from a previous run were not stopped cleanly", "count", abandoned)
	}

	// Events and supervisor
	events := supervisor.NewDispatcher(0)
	events.SetLogger(log.Component("events"))

	svCfg := supervisorConfig(cfg)
	svCfg.PublishLines = cfg.MQTT.Enabled && cfg.MQTT.PublishLines
	controller := newController(cfg, svCfg, log)
	controller.SetEvents(events)
	controller.SetHistory(historyRepo)

	// MQTT (optional)
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	switch {
	case errors.Is(err, mqtt.ErrDisabled):
		log.Info("MQTT disabled")
	case err != nil:
		return fmt.Errorf("connecting to MQTT: %w", err)
	default:
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		sink := telemetry.NewMQTTSink(mqttClient, cfg.MQTT.PublishLines)
		sink.SetLogger(log.Component("mqtt"))
		events.Subscribe(sink)
	}

	// InfluxDB (optional)
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		events.Subscribe(telemetry.NewMetricsSink(influxClient))
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Background loops outlive ctx so that shutdown events are still
	// delivered; they stop once everything has been stopped.
	bgCtx, stopBackground := context.WithCancel(context.Background())
	var background conc.WaitGroup
	defer background.Wait()
	defer stopBackground()

	background.Go(func() { events.Run(bgCtx) })

	poller := supervisor.NewPoller(controller, process.NewOSInspector(), cfg.Poller.Interval)
	poller.SetLogger(log.Component("poller"))
	poller.SetEvents(events)
	background.Go(func() { poller.Run(bgCtx) })

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
			controller.Catalog().Replace(processTypes(newCfg.ProcessTypes))
		}, log.Component("config"))
		if err != nil {
			log.Warn("config hot reload unavailable", "error", err)
		} else {
			background.Go(func() { watcher.Run(bgCtx) })
		}
	}

	if err := controller.Autostart(ctx); err != nil {
		log.Warn("autostart incomplete", "error", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal",
		"process_types", controller.Catalog().Names(),
		"instances", len(controller.ListAll()),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, stopping instances")
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := controller.StopAll(stopCtx); err != nil {
		log.Error("error stopping instances", "error", err)
	}
	if dropped := events.Dropped(); dropped > 0 {
		log.Warn("events dropped while sinks were busy", "count", dropped)
	}

	// Deferred calls run in reverse order: background loops drain, then
	// InfluxDB, MQTT and the database close.
	log.Info("launchdeck stopped")
	return nil
}

// healthCheck verifies the infrastructure connections. Clients that are
// disabled are nil and skipped.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
