// meshbridge - resilient mesh-radio bridge daemon
//
// This is the main entry point for the meshbridge daemon. It keeps a
// long-running connection to a physical mesh-radio device (serial or TCP)
// alive across flaky hardware, port contention, and storage trouble, and
// escalates to an external restart request when local recovery fails.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arlenmoss/meshbridge-core/internal/health"
	"github.com/arlenmoss/meshbridge-core/internal/infrastructure/config"
	"github.com/arlenmoss/meshbridge-core/internal/infrastructure/database"
	"github.com/arlenmoss/meshbridge-core/internal/infrastructure/influxdb"
	"github.com/arlenmoss/meshbridge-core/internal/infrastructure/logging"
	"github.com/arlenmoss/meshbridge-core/internal/infrastructure/mqtt"
	"github.com/arlenmoss/meshbridge-core/internal/telemetry"
	"github.com/arlenmoss/meshbridge-core/internal/transport/portlock"
	"github.com/arlenmoss/meshbridge-core/internal/transport/serialconn"
	"github.com/arlenmoss/meshbridge-core/internal/transport/tcpconn"
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

// healthLoopInterval is how often the daemon offers the I/O health
// monitor a chance to run; the monitor's own cooldown decides whether it
// actually does.
const healthLoopInterval = time.Minute

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
	log.Info("starting meshbridge",
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
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database (storage probe target for the I/O health monitor)
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

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
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

	// TCP connection registry (tracked teardown for all bridge sockets)
	registry := tcpconn.NewRegistry()
	defer func() {
		log.Info("closing tracked TCP connections", "open", registry.Len())
		registry.CloseAll()
	}()

	// Health monitors. Escalations are published via the telemetry
	// reporter, which is created after the monitors; the closure resolves
	// the reporter at escalation time.
	var reporter *telemetry.Reporter
	escalator := func(source string) health.Escalator {
		return health.EscalatorFunc(func(reason string) bool {
			log.Error("reboot escalation requested",
				"source", source, "reason", reason)
			if reporter != nil {
				reporter.PublishEscalation(source, reason, false)
			}
			// No reboot mechanism is wired in this deployment; the
			// request is surfaced for the supervisor to act on.
			return false
		})
	}

	ioMonitor := health.NewIOMonitor(health.IOMonitorConfig{
		Enabled:          cfg.Health.Enabled,
		Cooldown:         cfg.HealthCooldown(),
		FailureThreshold: cfg.Health.FailureThreshold,
		ScratchDir:       cfg.Health.ScratchDir,
	}, db, escalator("io_health"))
	ioMonitor.SetLogger(log)

	writeMonitor := health.NewWriteMonitor(health.WriteMonitorConfig{
		Window:            cfg.WriteGuardWindow(),
		ErrorThreshold:    cfg.WriteGuard.ErrorThreshold,
		MaxStoredFailures: cfg.WriteGuard.MaxStoredFailures,
	}, escalator("write_guard"))
	writeMonitor.SetLogger(log)
	_ = writeMonitor // fed by the bot core's write paths

	// Radio connection
	var radioManager *serialconn.Manager
	switch cfg.Radio.Mode {
	case "serial":
		radioManager, err = connectSerial(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("connecting serial radio: %w", err)
		}
		defer func() {
			log.Info("closing serial connection")
			if closeErr := radioManager.Close(); closeErr != nil {
				log.Error("error closing serial connection", "error", closeErr)
			}
		}()
	case "tcp":
		if err := probeTCPRadio(ctx, cfg, registry, log); err != nil {
			return fmt.Errorf("probing tcp radio: %w", err)
		}
	}

	// Telemetry reporter (requires MQTT)
	if mqttClient != nil {
		// Avoid handing the reporter a typed nil in tcp mode.
		var radioSource telemetry.RadioSource
		if radioManager != nil {
			radioSource = radioManager
		}
		reporter = telemetry.New(telemetry.Config{NodeID: cfg.Node.ID},
			mqttClient, radioSource, registry, ioMonitor, writeMonitor)
		reporter.SetLogger(log)
		reporter.Start()
		defer func() {
			log.Info("stopping telemetry reporter")
			reporter.Stop()
		}()
	}

	// Periodic I/O health loop
	go healthLoop(ctx, ioMonitor, influxClient, cfg.Node.ID, log)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MESHBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MESHBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectSerial builds the serial connection manager and performs the
// initial connect.
func connectSerial(ctx context.Context, cfg *config.Config, log *logging.Logger) (*serialconn.Manager, error) {
	inspector := portlock.NewInspector()
	inspector.SetLogger(log)

	manager := serialconn.NewManager(serialconn.Config{
		Path:          cfg.Radio.Serial.Path,
		BaudRate:      cfg.Radio.Serial.BaudRate,
		MaxRetries:    cfg.Radio.Reconnect.MaxRetries,
		RetryDelay:    cfg.RetryDelay(),
		MaxRetryDelay: cfg.MaxRetryDelay(),
		AutoReconnect: cfg.Radio.Reconnect.AutoReconnect,
		GracePeriod:   cfg.GracePeriod(),
		PortLockWait:  cfg.PortLockWait(),
	}, nil, inspector)
	manager.SetLogger(log)

	log.Info("connecting to serial radio",
		"path", cfg.Radio.Serial.Path,
		"baud_rate", cfg.Radio.Serial.BaudRate,
	)
	if err := manager.Connect(ctx); err != nil {
		manager.Close() //nolint:errcheck // Startup failure path
		return nil, err
	}
	log.Info("serial radio connected", "path", cfg.Radio.Serial.Path)
	return manager, nil
}

// probeTCPRadio verifies the TCP radio is reachable using a scoped,
// setup-bounded connection.
func probeTCPRadio(ctx context.Context, cfg *config.Config, registry *tcpconn.Registry, log *logging.Logger) error {
	addr := fmt.Sprintf("%s:%d", cfg.Radio.TCP.Host, cfg.Radio.TCP.Port)
	setupTimeout := time.Duration(cfg.Radio.TCP.SetupTimeoutSeconds) * time.Second

	log.Info("probing tcp radio", "addr", addr)
	return registry.WithConnection(ctx, addr, setupTimeout, log, func(conn *tcpconn.Connection) error {
		// Reachability is enough; protocol negotiation belongs to the
		// bot core that consumes the connection.
		log.Info("tcp radio reachable", "addr", addr, "local", conn.LocalAddr())
		return nil
	})
}

// healthLoop periodically offers the I/O health monitor a run and records
// the outcome. The monitor's cooldown governs actual execution.
func healthLoop(ctx context.Context, monitor *health.IOMonitor, influxClient *influxdb.Client, nodeID string, log *logging.Logger) {
	ticker := time.NewTicker(healthLoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !monitor.ShouldRun() {
			continue
		}
		outcome := monitor.RunCheck(ctx)
		if outcome.Skipped {
			continue
		}
		log.Debug("I/O health check completed",
			"passed", outcome.AllPassed,
			"consecutive_failures", outcome.ConsecutiveFailures,
		)
		if influxClient != nil {
			influxClient.WriteHealthOutcome(nodeID, outcome.AllPassed, outcome.ConsecutiveFailures)
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
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

	return nil
}
