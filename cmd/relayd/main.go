// Pairing Relay - controller/device WebSocket pairing server
//
// This is the main entry point for the relay. Controllers and devices
// connect over WebSocket; the relay announces unpaired devices to
// controllers, pairs one controller with one device on request and then
// forwards opaque payloads between the two.
//
// Optional integrations mirror pairing events to MQTT and write aggregate
// telemetry to InfluxDB. Prometheus metrics are served by the API server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/multierr"

	"github.com/nerrad567/pairing-relay/internal/api"
	"github.com/nerrad567/pairing-relay/internal/infrastructure/config"
	"github.com/nerrad567/pairing-relay/internal/infrastructure/influxdb"
	"github.com/nerrad567/pairing-relay/internal/infrastructure/logging"
	"github.com/nerrad567/pairing-relay/internal/infrastructure/mqtt"
	"github.com/nerrad567/pairing-relay/internal/mirror"
	"github.com/nerrad567/pairing-relay/internal/pairing"
	"github.com/nerrad567/pairing-relay/internal/telemetry"
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
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// closer is one component to stop on shutdown.
type closer struct {
	name  string
	close func() error
}

// shutdown closes components in reverse start order and combines their
// errors.
func shutdown(log *logging.Logger, closers []closer) error {
	var err error
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		log.Info("stopping " + c.name)
		if closeErr := c.close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", c.name, closeErr))
		}
	}
	return err
}

// healthChecker is satisfied by the API server and every optional integration.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// dependency is one component checked after startup.
type dependency struct {
	name  string
	check healthChecker
}

// healthCheck verifies every started component, stopping at the first failure.
func healthCheck(ctx context.Context, deps []dependency) error {
	for _, d := range deps {
		if err := d.check.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	return nil
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) (err error) {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting pairing relay",
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

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	var (
		closers []closer
		deps    []dependency
	)
	defer func() {
		if shutdownErr := shutdown(log, closers); shutdownErr != nil {
			log.Error("shutdown completed with errors", "error", shutdownErr)
			err = multierr.Append(err, shutdownErr)
		}
	}()

	engine := pairing.NewEngine(pairing.Options{
		Logger:             log.With("component", "pairing"),
		IncludeControllers: cfg.Pairing.IncludeControllers,
	})

	collector := telemetry.NewCollector(engine.Registry().Stats)
	engine.AddObserver(collector)

	// InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		closers = append(closers, closer{"InfluxDB", influxClient.Close})
		deps = append(deps, dependency{"influxdb", influxClient})
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		engine.AddObserver(telemetry.NewInfluxSink(influxClient, engine.Registry().Stats))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT event mirror (optional)
	var broker api.BrokerStatus
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := connectMQTT(ctx, cfg.MQTT, log)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		closers = append(closers, closer{"MQTT", mqttClient.Close})
		deps = append(deps, dependency{"mqtt", mqttClient})
		mqttClient.SetLogger(log)
		broker = mqttClient

		publisher := mirror.New(mqttClient, engine.Availability, mirror.Options{
			Topics: mqttClient.Topics(),
			QoS:    mqttClient.QoS(),
			Logger: log.With("component", "mirror"),
		})
		closers = append(closers, closer{"MQTT mirror", publisher.Close})
		engine.AddObserver(publisher)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
			publisher.Refresh()
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		publisher.Refresh()

		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
			"topic_prefix", cfg.MQTT.TopicPrefix,
		)
	} else {
		log.Info("MQTT disabled")
	}

	server, err := api.New(api.Deps{
		Config:         cfg.API,
		WS:             cfg.WebSocket,
		Metrics:        cfg.Metrics,
		Logger:         log.With("component", "api"),
		Engine:         engine,
		MetricsHandler: collector.Handler(),
		MQTT:           broker,
		Version:        version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	closers = append(closers, closer{"API server", server.Close})
	deps = append(deps, dependency{"api", server})

	if err := healthCheck(ctx, deps); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed", "components", len(deps))

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Closers run in reverse order: API server (drops every WebSocket),
	// MQTT mirror, MQTT, InfluxDB.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses RELAY_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("RELAY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectMQTT connects to the broker, retrying the initial connection with
// exponential backoff. Reconnects after that are handled by the client.
func connectMQTT(ctx context.Context, cfg config.MQTTConfig, log *logging.Logger) (*mqtt.Client, error) {
	attempts := cfg.Reconnect.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var client *mqtt.Client
	err := retry.Do(
		func() error {
			var connErr error
			client, connErr = mqtt.Connect(cfg)
			return connErr
		},
		retry.Context(ctx),
		retry.Attempts(uint(attempts)), // #nosec G115 -- clamped to >= 1 above
		retry.Delay(time.Duration(cfg.Reconnect.InitialDelay)*time.Second),
		retry.MaxDelay(time.Duration(cfg.Reconnect.MaxDelay)*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("MQTT connection attempt failed", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, err
	}
	return client, nil
}
