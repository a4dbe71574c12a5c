// loggergw - IoT data logger gateway
//
// This is the main entry point for the gateway. It accepts check-ins from
// five vendors' cellular temperature/humidity loggers, stores their
// readings, and delivers queued configuration changes in each vendor's own
// response dialect.
//
// Usage:
//
//	loggergw                                  run the gateway
//	loggergw token -subject ops -role admin   print an operator access token
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/loggergw/internal/adapter"
	"github.com/nerrad567/loggergw/internal/api"
	"github.com/nerrad567/loggergw/internal/auth"
	"github.com/nerrad567/loggergw/internal/command"
	"github.com/nerrad567/loggergw/internal/deadletter"
	"github.com/nerrad567/loggergw/internal/device"
	"github.com/nerrad567/loggergw/internal/events"
	"github.com/nerrad567/loggergw/internal/gateway"
	"github.com/nerrad567/loggergw/internal/infrastructure/config"
	"github.com/nerrad567/loggergw/internal/infrastructure/database"
	"github.com/nerrad567/loggergw/internal/infrastructure/influxdb"
	"github.com/nerrad567/loggergw/internal/infrastructure/logging"
	"github.com/nerrad567/loggergw/internal/infrastructure/mqtt"
	"github.com/nerrad567/loggergw/internal/ingestion"
	"github.com/nerrad567/loggergw/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // startup wiring is linear but long
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting loggergw",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"site_id", cfg.Gateway.SiteID,
		"level", cfg.Logging.Level,
	)

	// Open database
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	devices := device.NewSQLiteRepository(db.DB)
	topics := mqtt.NewTopics(cfg.MQTT.TopicPrefix)

	bus := events.NewBus(devices, topics)
	bus.SetLogger(log.Component("events"))
	bus.SetSiteID(cfg.Gateway.SiteID)

	// Connect to MQTT broker (optional)
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
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		bus.SetPublisher(mqttClient)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Gateway.SiteID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetLogger(log.Component("influxdb"))
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Configuration command queue
	queue, err := command.NewQueue(command.NewSQLiteRepository(db.DB))
	if err != nil {
		return fmt.Errorf("creating config queue: %w", err)
	}
	queue.SetLogger(log.Component("command"))
	queue.SetListener(bus)

	// Reading ingestion
	ingest := ingestion.NewService(db.DB, devices)
	ingest.SetLogger(log.Component("ingestion"))
	ingest.SetListener(bus)
	ingest.SetStatusListener(bus)
	if influxClient != nil {
		ingest.SetMirror(influxClient)
	}

	// Dead-letter path
	sink, closeSink, err := newDeadLetterSink(cfg.DeadLetter, mqttClient, topics)
	if err != nil {
		return fmt.Errorf("creating dead-letter sink: %w", err)
	}
	defer func() {
		if closeErr := closeSink(); closeErr != nil {
			log.Error("error closing dead-letter sink", "error", closeErr)
		}
	}()
	tracker := deadletter.NewTracker(cfg.DeadLetter.Threshold, sink)
	tracker.SetLogger(log.Component("deadletter"))
	tracker.Start(ctx)
	defer tracker.Stop()
	log.Info("dead-letter path ready", "sink", cfg.DeadLetter.Sink, "threshold", cfg.DeadLetter.Threshold)

	// Offline monitor
	monitor := device.NewMonitor(devices, device.MonitorConfig{
		OfflineAfter: cfg.GetOfflineAfter(),
		Interval:     cfg.GetOfflineCheckInterval(),
		Listener:     bus,
	})
	monitor.SetLogger(log.Component("monitor"))
	monitor.Start(ctx)
	defer func() {
		log.Info("stopping offline monitor")
		monitor.Stop()
	}()

	// Device-facing gateway
	gw, err := gateway.New(gateway.Deps{
		Devices:               devices,
		Ingestion:             ingest,
		Queue:                 queue,
		Adapters:              adapter.NewFactory(),
		DeadLetters:           tracker,
		DefaultUploadInterval: cfg.Gateway.DefaultUploadInterval,
		Logger:                log.Component("gateway"),
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	// WebSocket hub is created up front so the event bus can broadcast to it.
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	go hub.Run(ctx)
	bus.SetHub(hub)

	apiDeps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		Devices:  devices,
		Queue:    queue,
		Gateway:  gw,
		Readings: ingest,
		DB:       db.DB,
		Hub:      hub,
		Version:  version,
	}
	if mqttClient != nil {
		apiDeps.MQTT = mqttClient
	}
	if influxClient != nil {
		apiDeps.Mirror = influxClient
	}
	server, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	// Deferred Close() calls run in reverse order: API, monitor, sink,
	// InfluxDB, MQTT, database.
	log.Info("loggergw stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses LOGGERGW_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LOGGERGW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newDeadLetterSink builds the configured sink. The returned close function
// is always safe to call. A nil sink means failures are only logged.
func newDeadLetterSink(cfg config.DeadLetterConfig, mqttClient *mqtt.Client, topics mqtt.Topics) (deadletter.Sink, func() error, error) {
	noClose := func() error { return nil }

	switch cfg.Sink {
	case config.DeadLetterSinkMQTT:
		if mqttClient == nil {
			return nil, noClose, fmt.Errorf("mqtt sink: %w", mqtt.ErrDisabled)
		}
		return deadletter.NewMQTTSink(mqttClient, topics), noClose, nil
	case config.DeadLetterSinkKafka:
		sink, err := deadletter.NewKafkaSink(cfg.Kafka)
		if err != nil {
			return nil, noClose, err
		}
		return sink, sink.Close, nil
	default:
		return nil, noClose, nil
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
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

// runToken implements the "token" subcommand: it signs an operator access
// token with the configured secret and writes it to out.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	subject := fs.String("subject", "", "operator name recorded in the token")
	role := fs.String("role", string(auth.RoleViewer), "viewer, operator or admin")
	ttl := fs.Int("ttl", 0, "lifetime in minutes (default from security.jwt.access_token_ttl)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *ttl <= 0 {
		*ttl = cfg.Security.JWT.AccessTokenTTL
	}

	token, err := auth.GenerateAccessToken(*subject, auth.Role(*role), cfg.Security.JWT.Secret, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
