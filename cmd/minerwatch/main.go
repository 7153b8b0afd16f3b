// Minerwatch Core - Mining Fleet Telemetry
//
// This is the main entry point for the Minerwatch Core application.
// Minerwatch polls the TCP APIs of cgminer-family mining rigs and
// fans the results out to MQTT, time-series storage and a local
// poll history:
//   - Classic cgminer, Braiins OS (BOSminer) and kawpowminer dialects
//   - Offline-first operation (the poller needs only the miners)
//   - One binary, one YAML file, no external orchestration
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/minerwatch/minerwatch-core/migrations"

	"github.com/minerwatch/minerwatch-core/internal/history"
	"github.com/minerwatch/minerwatch-core/internal/infrastructure/config"
	"github.com/minerwatch/minerwatch-core/internal/infrastructure/database"
	"github.com/minerwatch/minerwatch-core/internal/infrastructure/influxdb"
	"github.com/minerwatch/minerwatch-core/internal/infrastructure/logging"
	"github.com/minerwatch/minerwatch-core/internal/infrastructure/mqtt"
	"github.com/minerwatch/minerwatch-core/internal/infrastructure/tsdb"
	"github.com/minerwatch/minerwatch-core/internal/miner"
	"github.com/minerwatch/minerwatch-core/internal/poller"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Minerwatch Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "miners", len(cfg.Miners))

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
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
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	repo := history.NewSQLiteRepository(db.DB)
	logKnownMiners(ctx, log, repo)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
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

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		mqttClient.SetLogger(log)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
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
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect to VictoriaMetrics (optional)
	var tsdbClient *tsdb.Client
	if cfg.TSDB.Enabled {
		tsdbClient, err = tsdb.Connect(ctx, cfg.TSDB)
		if err != nil {
			return fmt.Errorf("connecting to VictoriaMetrics: %w", err)
		}
		defer func() {
			log.Info("closing VictoriaMetrics connection")
			if closeErr := tsdbClient.Close(); closeErr != nil {
				log.Error("error closing VictoriaMetrics", "error", closeErr)
			}
		}()
		log.Info("VictoriaMetrics connected", "url", cfg.TSDB.URL)

		tsdbClient.SetOnError(func(err error) {
			log.Error("VictoriaMetrics write error", "error", err)
		})
	} else {
		log.Info("VictoriaMetrics disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient, tsdbClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// Start the poller
	p, err := buildPoller(cfg, mqttClient, influxClient, tsdbClient, repo)
	if err != nil {
		return fmt.Errorf("creating poller: %w", err)
	}
	p.SetLogger(log)
	p.Start(ctx)
	defer func() {
		log.Info("stopping poller")
		p.Stop()
	}()
	log.Info("poller started",
		"miners", len(cfg.Miners),
		"cycle_interval", cfg.CycleInterval().String(),
	)

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. Poller
	// 2. VictoriaMetrics (if enabled)
	// 3. InfluxDB (if enabled)
	// 4. MQTT (if enabled)
	// 5. Database

	log.Info("Minerwatch Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MINERWATCH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MINERWATCH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildPoller assembles the poller from config and the optional
// output clients. Nil clients are left out of the fan-out rather than
// passed as typed-nil interfaces.
func buildPoller(cfg *config.Config, mqttClient *mqtt.Client, influxClient *influxdb.Client, tsdbClient *tsdb.Client, repo *history.SQLiteRepository) (*poller.Poller, error) {
	targets := make([]poller.Target, 0, len(cfg.Miners))
	for _, m := range cfg.Miners {
		targets = append(targets, poller.Target{
			Name:     m.Name,
			Endpoint: m.Endpoint,
			Dialect:  m.Dialect,
			Labels:   m.Labels,
		})
	}

	pollerCfg := poller.Config{
		Site:           cfg.Site.ID,
		Targets:        targets,
		CycleInterval:  cfg.CycleInterval(),
		ConnectTimeout: cfg.ConnectTimeout(),
		Retry: miner.RetryConfig{
			MaxRetryDuration: time.Duration(cfg.Poller.Retry.Deadline) * time.Second,
			BackoffShort:     time.Duration(cfg.Poller.Retry.ShortBase) * time.Second,
			BackoffLong:      time.Duration(cfg.Poller.Retry.LongBase) * time.Second,
			MaxDelay:         time.Duration(cfg.Poller.Retry.MaxDelay) * time.Second,
		},
		QoS:       byte(cfg.MQTT.QoS),
		Recorder:  repo,
		Pruner:    repo,
		Retention: cfg.HistoryRetention(),
	}
	if mqttClient != nil {
		pollerCfg.Publisher = mqttClient
		pollerCfg.Subscriber = mqttSubscriber{mqttClient}
	}
	if influxClient != nil {
		pollerCfg.Sinks = append(pollerCfg.Sinks, influxClient)
	}
	if tsdbClient != nil {
		pollerCfg.Sinks = append(pollerCfg.Sinks, tsdbClient)
	}

	return poller.New(pollerCfg)
}

// mqttSubscriber adapts the MQTT client's named handler type to the
// plain function signature the poller's Subscriber interface asks for.
type mqttSubscriber struct {
	client *mqtt.Client
}

func (s mqttSubscriber) Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error {
	return s.client.Subscribe(topic, qos, mqtt.MessageHandler(handler))
}

func (s mqttSubscriber) Unsubscribe(topic string) error {
	return s.client.Unsubscribe(topic)
}

// logKnownMiners reports what the history database remembers from
// previous runs, with each miner's last recorded poll. Purely
// informational; a fresh database logs nothing.
func logKnownMiners(ctx context.Context, log *logging.Logger, repo *history.SQLiteRepository) {
	miners, err := repo.ListMiners(ctx)
	if err != nil {
		log.Warn("could not list known miners", "error", err)
		return
	}

	for _, m := range miners {
		polls, err := repo.RecentPolls(ctx, m.ID, 1)
		if err != nil || len(polls) == 0 {
			log.Info("known miner", "miner", m.Name, "endpoint", m.Endpoint)
			continue
		}
		log.Info("known miner",
			"miner", m.Name,
			"endpoint", m.Endpoint,
			"last_poll", polls[0].PolledAt.Format(time.RFC3339),
			"last_ok", polls[0].OK,
		)
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//   - tsdbClient: VictoriaMetrics client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, tsdbClient *tsdb.Client) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check MQTT (if enabled)
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	// Check InfluxDB (if enabled)
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// Check VictoriaMetrics (if enabled)
	if tsdbClient != nil {
		if err := tsdbClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("victoriametrics: %w", err)
		}
	}

	return nil
}
