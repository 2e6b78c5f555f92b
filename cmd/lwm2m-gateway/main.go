// LwM2M Gateway - CoAP device registry with a REST notification API.
//
// Devices register over CoAP (/rd) and report resource values with the
// Send operation (/dp). Every accepted value becomes an async response,
// pushed to the subscribed callback URL or queued for GET /notification/pull.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/lwm2m-gateway/internal/api"
	"github.com/nerrad567/lwm2m-gateway/internal/audit"
	"github.com/nerrad567/lwm2m-gateway/internal/auth"
	"github.com/nerrad567/lwm2m-gateway/internal/discovery"
	"github.com/nerrad567/lwm2m-gateway/internal/endpoint"
	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/coap"
	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/config"
	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/database"
	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/influxdb"
	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/lwm2m-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/lwm2m-gateway/internal/notification"
	"github.com/nerrad567/lwm2m-gateway/internal/telemetry"
	"github.com/nerrad567/lwm2m-gateway/migrations"
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
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting LwM2M gateway",
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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Restore the callback subscription
	callbacks := notification.NewCallbackStore(notification.NewSQLiteRepository(db.DB))
	if loadErr := callbacks.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading callback subscription: %w", loadErr)
	}
	if sub, ok := callbacks.Get(); ok {
		log.Info("callback subscription restored", "url", sub.URL)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	queue := notification.NewQueue(cfg.Notification.QueueLimit)
	dispatcher := notification.NewDispatcher(callbacks, queue, dispatcherOptions(cfg.Notification, promRegistry, queue))
	dispatcher.SetLogger(log)

	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(dispatchCtx)
	}()
	defer func() {
		stopDispatch()
		<-dispatchDone
	}()

	endpoints := endpoint.NewRegistry()
	endpoints.SetLogger(log)
	endpoints.AddListener(dispatcher)

	// Optional telemetry sinks
	mqttClient, influxClient, err := connectTelemetry(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeTelemetry(log, mqttClient, influxClient)

	if mqttClient != nil || influxClient != nil {
		mirror := newMirror(cfg.MQTT, mqttClient, influxClient, log)
		mirror.Start(ctx)
		defer mirror.Stop()
		endpoints.AddListener(mirror)
	}

	// API
	var issuer *auth.Issuer
	if cfg.Security.JWT.Enabled {
		issuer, err = newIssuer(cfg.Security.JWT)
		if err != nil {
			return fmt.Errorf("configuring authentication: %w", err)
		}
		log.Info("JWT authentication enabled", "users", len(cfg.Security.JWT.Users))
	} else {
		log.Warn("JWT authentication disabled, API is open")
	}

	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		Endpoints:  endpoints,
		Callbacks:  callbacks,
		Dispatcher: dispatcher,
		Issuer:     issuer,
		Audit:      audit.NewSQLiteRepository(db.DB),
		Gatherer:   promRegistry,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	endpoints.AddListener(apiServer.Hub())

	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// CoAP
	handler := endpoint.NewHandler(endpoints)
	handler.SetLogger(log)

	coapServer := coap.NewServer(coap.ServerConfig{Host: cfg.CoAP.Host, Port: cfg.CoAP.Port}, handler)
	coapServer.SetLogger(log)
	if startErr := coapServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting CoAP server: %w", startErr)
	}
	defer func() {
		log.Info("stopping CoAP server")
		if closeErr := coapServer.Close(); closeErr != nil {
			log.Error("error stopping CoAP server", "error", closeErr)
		}
	}()
	log.Info("CoAP server started", "addr", coapServer.Addr().String())

	go endpoints.RunExpiry(ctx, time.Duration(cfg.CoAP.LifetimeCheckInterval)*time.Second)

	// Discovery
	if cfg.Discovery.SSDP.Enabled {
		responder, ssdpErr := discovery.NewResponder(cfg.Discovery.SSDP, cfg.Gateway.Name)
		if ssdpErr != nil {
			return fmt.Errorf("configuring SSDP: %w", ssdpErr)
		}
		responder.SetLogger(log)
		if startErr := responder.Start(ctx); startErr != nil {
			log.Warn("SSDP responder failed to start", "error", startErr)
		} else {
			defer responder.Stop()
		}
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: SSDP, CoAP, API, telemetry,
	// dispatcher (pending responses are queued), database.

	log.Info("LwM2M gateway stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses LWM2MGW_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LWM2MGW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// dispatcherOptions converts the notification config section.
func dispatcherOptions(cfg config.NotificationConfig, reg prometheus.Registerer, queue *notification.Queue) notification.Options {
	opts := notification.Options{
		PushTimeout:  time.Duration(cfg.PushTimeoutMS) * time.Millisecond,
		PushAttempts: cfg.PushAttempts,
		OpenTimeout:  time.Duration(cfg.Breaker.OpenTimeout) * time.Second,
		Metrics:      notification.NewMetrics(reg, queue),
	}
	if cfg.Breaker.FailureThreshold > 0 {
		opts.FailureThreshold = uint32(cfg.Breaker.FailureThreshold) // #nosec G115 -- checked positive
	}
	return opts
}

// newIssuer converts the JWT config section.
func newIssuer(cfg config.JWTConfig) (*auth.Issuer, error) {
	users := make([]auth.User, 0, len(cfg.Users))
	for _, u := range cfg.Users {
		users = append(users, auth.User{Name: u.Name, Secret: u.Secret, Scope: u.Scope})
	}
	return auth.NewIssuer(auth.Config{
		Secret:    cfg.Secret,
		Algorithm: cfg.Algorithm,
		TTL:       time.Duration(cfg.ExpirationTime) * time.Second,
		Users:     users,
	})
}

// connectTelemetry connects the enabled telemetry sinks. Disabled sinks
// are returned as nil.
func connectTelemetry(ctx context.Context, cfg *config.Config, log *logging.Logger) (*mqtt.Client, *influxdb.Client, error) {
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(ctx, cfg.MQTT, log)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		mqttClient = client
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		client, err := influxdb.Connect(ctx, cfg.InfluxDB, log)
		if err != nil {
			if mqttClient != nil {
				_ = mqttClient.Close()
			}
			return nil, nil, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient = client
	} else {
		log.Info("InfluxDB disabled")
	}

	return mqttClient, influxClient, nil
}

func closeTelemetry(log *logging.Logger, mqttClient *mqtt.Client, influxClient *influxdb.Client) {
	if influxClient != nil {
		log.Info("closing InfluxDB connection")
		if err := influxClient.Close(); err != nil {
			log.Error("error closing InfluxDB", "error", err)
		}
	}
	if mqttClient != nil {
		log.Info("disconnecting from MQTT")
		if err := mqttClient.Close(); err != nil {
			log.Error("error closing MQTT", "error", err)
		}
	}
}

// newMirror builds the telemetry mirror. Nil clients stay out of the
// options so the mirror sees an absent sink rather than a nil pointer.
func newMirror(cfg config.MQTTConfig, mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger) *telemetry.Mirror {
	opts := telemetry.Options{
		QoS:    byte(cfg.QoS), // #nosec G115 -- validated 0..2
		Logger: log,
	}
	if mqttClient != nil {
		opts.Publisher = mqttClient
		opts.Topics = mqttClient.Topics()
	}
	if influxClient != nil {
		opts.Points = influxClient
	}
	return telemetry.NewMirror(opts)
}

// healthCheck verifies all infrastructure connections are healthy.
// Disabled sinks are nil and skipped.
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
