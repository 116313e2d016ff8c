// Span Bridge - MQTT to MQTT message relay
//
// Span Bridge connects two MQTT brokers and re-publishes messages received
// on one side to topics on the other side under a configurable rule set.
// It is built for long-running unattended operation: both endpoints
// reconnect forever with backoff, forwarding loops are detected and
// dropped, and shutdown drains the publish queues before exiting.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/nerrad567/span-bridge/internal/api"
	"github.com/nerrad567/span-bridge/internal/bridge"
	"github.com/nerrad567/span-bridge/internal/infrastructure/config"
	"github.com/nerrad567/span-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/span-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/span-bridge/internal/infrastructure/mqtt"
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
// Only configuration errors and startup failures return an error; a broker
// being unreachable is not one (sessions reconnect in background).
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Span Bridge",
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

	// Assign a bridge ID when the config leaves it empty. The ID feeds
	// loop fingerprints and the availability topic.
	if cfg.Bridge.ID == "" {
		cfg.Bridge.ID = uuid.NewString()
		log.Info("generated bridge id", "bridge_id", cfg.Bridge.ID)
	}

	// Open both endpoint sessions; they connect in background so a dead
	// broker cannot block boot.
	sessionA, err := openSession(config.EndpointA, cfg, log)
	if err != nil {
		return err
	}
	sessionB, err := openSession(config.EndpointB, cfg, log)
	if err != nil {
		sessionA.Close()
		return err
	}

	// Assemble the supervisor. Rule compilation failures are fatal: the
	// bridge must not start forwarding with an invalid rule set.
	supervisor, err := bridge.NewSupervisor(bridge.SupervisorOptions{
		Config:   cfg,
		SessionA: sessionA,
		SessionB: sessionB,
		Logger:   log,
	})
	if err != nil {
		sessionA.Close()
		sessionB.Close()
		return fmt.Errorf("assembling bridge: %w", err)
	}

	if err := supervisor.Start(ctx); err != nil {
		sessionA.Close()
		sessionB.Close()
		return fmt.Errorf("starting bridge: %w", err)
	}

	// Optional InfluxDB metrics sink. The reporter outlives the signal
	// context so its final sample covers the drain.
	reporterCtx, stopReporter := context.WithCancel(context.Background())
	defer stopReporter()
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			// Metrics are an ambient concern: log and run without them.
			log.Error("InfluxDB unavailable; continuing without metrics sink", "error", influxErr)
		} else {
			defer func() {
				log.Info("closing InfluxDB connection")
				if closeErr := influxClient.Close(); closeErr != nil {
					log.Error("error closing InfluxDB", "error", closeErr)
				}
			}()
			influxClient.SetOnError(func(err error) {
				log.Error("InfluxDB write error", "error", err)
			})
			reporter := influxdb.NewReporter(influxClient, supervisor, 0)
			go reporter.Run(reporterCtx)
			log.Info("InfluxDB connected",
				"url", cfg.InfluxDB.URL,
				"org", cfg.InfluxDB.Org,
				"bucket", cfg.InfluxDB.Bucket,
			)
		}
	} else {
		log.Info("InfluxDB disabled")
	}

	// Optional HTTP status endpoint
	if cfg.API.Enabled {
		statusServer := api.New(api.Deps{
			Config:     cfg.API,
			Logger:     log,
			Supervisor: supervisor,
			Version:    version,
		})
		if apiErr := statusServer.Start(ctx); apiErr != nil {
			return fmt.Errorf("starting status server: %w", apiErr)
		}
		defer func() {
			if closeErr := statusServer.Close(); closeErr != nil {
				log.Error("error closing status server", "error", closeErr)
			}
		}()
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, draining")

	supervisor.Stop()

	// Stop the reporter after the drain so its final sample sees the
	// drained counters.
	stopReporter()

	return nil
}

// openSession opens the MQTT session for one endpoint with its retained
// availability status topic.
func openSession(name string, cfg *config.Config, log *logging.Logger) (*mqtt.Session, error) {
	statusTopic := fmt.Sprintf("span-bridge/%s/status", cfg.Bridge.ID)

	session, err := mqtt.Open(name, cfg.Endpoint(name), statusTopic)
	if err != nil {
		return nil, fmt.Errorf("opening endpoint %s: %w", name, err)
	}
	session.SetLogger(log)

	log.Info("endpoint session opened",
		"endpoint", name,
		"broker", cfg.Endpoint(name).String(),
	)

	return session, nil
}

// getConfigPath returns the configuration file path.
// Uses SPANBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SPANBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
