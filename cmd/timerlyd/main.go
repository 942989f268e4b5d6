// Timerly daemon
//
// timerlyd discovers Timerly visual-timer displays on the local network,
// polls each one for its running timer and exposes the result as timer
// entities over MQTT, WebSocket and a REST API. Service calls (start timer,
// cancel, doorbell, notify) are forwarded to the displays over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/timerly-core/migrations"

	"github.com/nerrad567/timerly-core/internal/api"
	"github.com/nerrad567/timerly-core/internal/audit"
	"github.com/nerrad567/timerly-core/internal/discovery"
	"github.com/nerrad567/timerly-core/internal/entity"
	"github.com/nerrad567/timerly-core/internal/infrastructure/config"
	"github.com/nerrad567/timerly-core/internal/infrastructure/database"
	"github.com/nerrad567/timerly-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/timerly-core/internal/infrastructure/kvstore"
	"github.com/nerrad567/timerly-core/internal/infrastructure/logging"
	"github.com/nerrad567/timerly-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/timerly-core/internal/integration"
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

const (
	// historyRetention is how long entity state history and audit logs
	// are kept.
	historyRetention = 7 * 24 * time.Hour

	// historyPruneInterval is how often old rows are deleted.
	historyPruneInterval = time.Hour

	// settingsNamespace is the kvstore namespace for persisted selections.
	settingsNamespace = "timerly"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // Startup sequence: linear wiring of every component
	log := logging.Default()
	log.Info("starting timerlyd",
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

	// Database
	db, err := database.Open(ctx, cfg.Database)
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	registry := entity.NewSQLiteRegistry(db.DB)
	history := entity.NewSQLiteHistoryRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)
	settings := kvstore.New(db, settingsNamespace)

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(ctx, cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT connected")
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// WebSocket hub, shared by the publisher and the API server.
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	go hub.Run(hubCtx)

	// Entity outputs. Each optional client is only assigned when present so
	// the interfaces stay nil otherwise.
	pubOpts := entity.PublisherOptions{
		Hub:     hub,
		History: history,
		Logger:  log.Component("entity"),
	}
	var subscriber discovery.Subscriber
	if mqttClient != nil {
		pubOpts.MQTT = mqttClient
		subscriber = mqttClient
	}
	if influxClient != nil {
		pubOpts.Telemetry = influxClient
	}
	collection := entity.NewCollection(registry, entity.NewPublisher(pubOpts), log.Component("entity"))

	timerType := entity.NewTimerTypeSelect(settings, cfg.Timerly.DefaultTimerType)
	if loadErr := timerType.Load(ctx); loadErr != nil {
		log.Warn("loading timer type failed, using default", "error", loadErr, "option", timerType.Current())
	}

	// Integration
	intLog := log.Component("integration")
	app, err := integration.New(integration.Options{
		Settings:   integration.SettingsFromConfig(cfg),
		Sources:    integration.SourcesFromConfig(cfg.Discovery, subscriber, intLog),
		Collection: collection,
		TimerType:  timerType,
		Hub:        hub,
		Logger:     intLog,
		Audit:      auditRepo,
	})
	if err != nil {
		return fmt.Errorf("creating integration: %w", err)
	}
	defer func() {
		log.Info("unloading integration")
		app.Unload()
	}()

	if subscriber != nil {
		if subErr := app.SubscribeCommands(subscriber); subErr != nil {
			return fmt.Errorf("subscribing to command topics: %w", subErr)
		}
	}

	app.Start(ctx)
	log.Info("integration started",
		"poll_interval", cfg.GetPollInterval(),
		"failure_threshold", cfg.Timerly.FailureThreshold,
		"mdns", cfg.Discovery.MDNS.Enabled,
		"static_devices", len(cfg.Discovery.Static),
	)

	go pruneLoop(ctx, log, map[string]pruner{
		"state history": history,
		"audit logs":    auditRepo,
	})

	// REST API (optional)
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log,
			App:      app,
			Registry: registry,
			History:  history,
			Audit:    auditRepo,
			MQTT:     connectionChecker(mqttClient),
			DB:       db,
			Hub:      hub,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// API server, integration, hub, InfluxDB, MQTT, database.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses TIMERLY_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TIMERLY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectionChecker avoids handing the API a typed-nil client.
func connectionChecker(c *mqtt.Client) api.ConnectionChecker {
	if c == nil {
		return nil
	}
	return c
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

// pruner deletes rows older than a retention window.
type pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// pruneLoop deletes old history and audit rows until ctx is done.
func pruneLoop(ctx context.Context, log *logging.Logger, targets map[string]pruner) {
	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, p := range targets {
				n, err := p.Prune(ctx, historyRetention)
				if err != nil {
					log.Warn("pruning failed", "table", name, "error", err)
					continue
				}
				if n > 0 {
					log.Debug("pruned old rows", "table", name, "deleted", n)
				}
			}
		}
	}
}
