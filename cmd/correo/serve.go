package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/correomqtt/correo-core/internal/api"
	"github.com/correomqtt/correo-core/internal/connection"
	"github.com/correomqtt/correo-core/internal/dispatch"
	"github.com/correomqtt/correo-core/internal/event"
	"github.com/correomqtt/correo-core/internal/extension"
	"github.com/correomqtt/correo-core/internal/history"
	"github.com/correomqtt/correo-core/internal/infrastructure/config"
	"github.com/correomqtt/correo-core/internal/infrastructure/database"
	"github.com/correomqtt/correo-core/internal/infrastructure/influxdb"
	"github.com/correomqtt/correo-core/internal/infrastructure/logging"
	"github.com/correomqtt/correo-core/internal/session"
	"github.com/correomqtt/correo-core/internal/settings"
	"github.com/correomqtt/correo-core/internal/subscription"
	"github.com/correomqtt/correo-core/internal/telemetry"
	"github.com/correomqtt/correo-core/migrations"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the correo daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
}

// serve wires the daemon and blocks until ctx is cancelled.
//
// Shutdown runs the deferred closers in reverse order: API, sessions,
// dispatch queue (drained), InfluxDB, database.
func serve(ctx context.Context, opts *rootOptions) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting correo",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, path, err := opts.load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", path)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	bus := event.NewBus()
	bus.SetLogger(log.Component("event"))

	settingsSvc, err := settings.Open(cfg.Settings.Path, bus)
	if err != nil {
		return fmt.Errorf("opening settings: %w", err)
	}
	settingsSvc.SetLogger(log.Component("settings"))
	log.Info("settings loaded",
		"path", settingsSvc.Path(),
		"connections", len(settingsSvc.Connections()),
	)

	extensions := newExtensions(settingsSvc.Settings(), log)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := migrations.Apply(ctx, db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	influxClient, err := connectInfluxDB(ctx, cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}
	var writer telemetry.Writer
	if influxClient != nil {
		writer = influxClient
	}
	metrics := telemetry.NewRecorder(writer)

	// Broker callbacks and retry timers are funnelled through one queue.
	queue := dispatch.NewQueue()
	queue.SetLogger(log.Component("dispatch"))
	queueDone := make(chan error, 1)
	go func() { queueDone <- queue.Run(context.Background()) }()
	defer func() {
		queue.Close()
		<-queueDone
		log.Info("dispatch queue drained")
	}()

	tracker := connection.NewTracker(bus, connection.Config{
		Policy: connection.ReconnectPolicy{
			Enabled:      cfg.Reconnect.Enabled,
			InitialDelay: cfg.Reconnect.InitialDelay,
			MaxDelay:     cfg.Reconnect.MaxDelay,
			MaxAttempts:  cfg.Reconnect.MaxAttempts,
		},
		Executor: queue,
	})
	tracker.SetLogger(log.Component("connection"))

	subs := subscription.NewRegistry(bus)
	subs.SetLogger(log.Component("subscription"))

	store := history.NewSQLiteStore(db, history.Limits{
		Subscribe: cfg.History.SubscribeLimit,
		Publish:   cfg.History.PublishLimit,
	})
	recorder := history.NewRecorder(store, bus)
	recorder.SetLogger(log.Component("history"))

	manager := session.NewManager(session.Deps{
		Bus:           bus,
		Connections:   settingsSvc,
		Tracker:       tracker,
		Subscriptions: subs,
		Extensions:    extensions,
		Executor:      queue,
		NewTransport:  session.MQTTTransport(log.Component("mqtt")),
		MQTT:          cfg.MQTT,
	})
	manager.SetLogger(log.Component("session"))

	for _, sub := range []event.Subscriber{subs, manager, recorder, metrics} {
		if err := bus.Register(sub); err != nil {
			return fmt.Errorf("registering %T: %w", sub, err)
		}
	}
	defer func() {
		log.Info("closing sessions")
		manager.Close()
	}()

	if cfg.API.Enabled {
		srv, err := api.New(api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Security:   cfg.Security,
			Logger:     log.Component("api"),
			Bus:        bus,
			Sessions:   manager,
			History:    store,
			Counters:   metrics.Counters,
			DB:         db,
			DefaultQoS: byte(cfg.MQTT.QoS),
			Version:    version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		if !cfg.AuthEnabled() {
			log.Warn("API authentication disabled, set security.jwt.secret to enable it")
		}
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// newExtensions builds the extension registry with a JSON validator for
// every configured topic filter.
func newExtensions(s settings.Settings, log *logging.Logger) *extension.Registry {
	reg := extension.NewDefaultRegistry()
	for _, filter := range s.JSONValidatorTopics {
		if err := reg.Register(extension.JSONValidator{TopicFilter: filter}); err != nil {
			log.Warn("skipping JSON validator", "topic_filter", filter, "error", err)
		}
	}
	return reg
}

// connectInfluxDB returns nil when telemetry export is disabled.
func connectInfluxDB(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	client, err := influxdb.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client, nil
}

// healthCheck verifies the database and, if enabled, InfluxDB.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
