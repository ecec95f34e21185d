// Gray Logic miio bridge
//
// This is the main entry point for the miio bridge. It runs the
// schema-driven channel engine for every configured Xiaomi miio device and
// connects it to the Gray Logic stack:
//   - MQTT for bridge state, commands and the miio RPC tunnel
//   - SQLite for device identity, channel lists and request ids
//   - InfluxDB for numeric channel history (optional)
//   - HTTP REST/WebSocket API and Prometheus metrics
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-miio/internal/api"
	miiobridge "github.com/nerrad567/gray-logic-miio/internal/bridges/miio"
	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-miio/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-miio/migrations"
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
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting miio bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete", "schema_version", db.SchemaVersion())

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	var bridge *miiobridge.Bridge
	if cfg.Protocols.Miio.Enabled {
		bridge, err = startBridge(ctx, cfg, db, mqttClient, influxClient, m, log)
		if err != nil {
			return fmt.Errorf("starting miio bridge: %w", err)
		}
		defer func() {
			log.Info("stopping miio bridge")
			bridge.Stop()
		}()
	} else {
		log.Info("miio bridge disabled")
	}

	if cfg.API.Enabled {
		if bridge == nil {
			return fmt.Errorf("api requires protocols.miio.enabled")
		}
		srv, apiErr := startAPI(ctx, cfg, bridge, mqttClient, m, db.SchemaVersion(), log)
		if apiErr != nil {
			return fmt.Errorf("starting API: %w", apiErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, bridge (persists request
	// ids), InfluxDB, MQTT, database.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MIIO_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MIIO_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// startBridge loads the bridge config and starts the channel engine for
// every device.
//
// Parameters:
//   - ctx: Context for the bridge lifetime
//   - cfg: Application configuration
//   - db: Database backing the bridge store
//   - mqttClient: MQTT client for bridge topics and the RPC tunnel
//   - influxClient: InfluxDB client (may be nil if disabled)
//   - m: Prometheus metrics (may be nil if disabled)
//   - log: Logger instance
//
// Returns:
//   - *miiobridge.Bridge: Running bridge
//   - error: If the config is invalid or the bridge fails to start
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	mqttClient *mqtt.Client,
	influxClient *influxdb.Client,
	m *metrics.Metrics,
	log *logging.Logger,
) (*miiobridge.Bridge, error) {
	bridgeCfg, err := miiobridge.LoadConfig(cfg.Protocols.Miio.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("loading bridge config: %w", err)
	}
	log.Info("miio bridge config loaded",
		"path", cfg.Protocols.Miio.ConfigFile,
		"devices", len(bridgeCfg.Devices),
		"schema_dir", bridgeCfg.Schemas.Dir,
	)

	opts := miiobridge.BridgeOptions{
		Config:  bridgeCfg,
		MQTT:    mqttClient,
		Store:   miiobridge.NewSQLiteStore(db.DB),
		Metrics: m,
		Version: version,
		Logger:  log,
	}
	if influxClient != nil {
		opts.Influx = influxClient
	}

	bridge, err := miiobridge.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("miio bridge started")
	return bridge, nil
}

// startAPI starts the REST/WebSocket API on top of the bridge.
func startAPI(
	ctx context.Context,
	cfg *config.Config,
	bridge *miiobridge.Bridge,
	mqttClient *mqtt.Client,
	m *metrics.Metrics,
	schemaVersion string,
	log *logging.Logger,
) (*api.Server, error) {
	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Bridge:   bridge,
		MQTT:     mqttClient,
		Version:  version,

		SchemaVersion: schemaVersion,
	}
	if m != nil {
		deps.Metrics = m.Handler()
	}

	srv, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	return srv, nil
}
