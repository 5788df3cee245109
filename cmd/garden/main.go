// Rice Holistic Garden core.
//
// The core receives moisture readings from sensor nodes over UDP, keeps a
// per-device view of what each node last said, sends output commands back
// to nodes, and provisions new nodes attached over USB serial.
//
// Readings and provisioning results are relayed to MQTT, InfluxDB, the
// WebSocket API and a local SQLite history when those are configured.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/ClinShaiju/RiceHolisticGarden/internal/api"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/device"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/infrastructure/config"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/infrastructure/database"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/infrastructure/influxdb"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/infrastructure/logging"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/infrastructure/metrics"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/infrastructure/mqtt"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/provisioning"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/relay"
	"github.com/ClinShaiju/RiceHolisticGarden/internal/telemetry"
	"github.com/ClinShaiju/RiceHolisticGarden/migrations"
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

// options are the command-line flags.
type options struct {
	configPath  string
	showVersion bool
	provision   bool
	migrateDown bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if opts.showVersion {
		fmt.Printf("garden %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags reads the command line. The config path falls back to
// GARDEN_CONFIG, then to the default.
func parseFlags(args []string, out io.Writer) (options, error) {
	var opts options

	fs := pflag.NewFlagSet("garden", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to the YAML configuration file (env GARDEN_CONFIG)")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	fs.BoolVar(&opts.provision, "provision", false, "start one provisioning run at startup")
	fs.BoolVar(&opts.migrateDown, "migrate-down", false, "roll back the latest database migration and exit")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if opts.configPath == "" {
		opts.configPath = os.Getenv("GARDEN_CONFIG")
	}
	if opts.configPath == "" {
		opts.configPath = defaultConfigPath
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
// It blocks until ctx is cancelled; deferred cleanups run in reverse order.
func run(ctx context.Context, opts options) error {
	log := logging.Default()
	log.Info("starting garden core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, fromFile, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if fromFile {
		log.Info("configuration loaded", "path", opts.configPath)
	} else {
		log.Warn("configuration file not found, using defaults", "path", opts.configPath)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Database
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if opts.migrateDown {
		return rollbackMigration(ctx, db, log)
	}
	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	applied, _, statusErr := db.MigrationStatus(ctx, migrations.FS)
	if statusErr != nil {
		return fmt.Errorf("reading schema version: %w", statusErr)
	}
	schema := "none"
	if len(applied) > 0 {
		schema = applied[len(applied)-1].Version
	}
	log.Info("database ready", "path", cfg.Database.Path, "schema_version", schema)

	deviceStore, err := device.NewSQLiteStore(ctx, db.DB)
	if err != nil {
		return fmt.Errorf("preparing device store: %w", err)
	}
	defer deviceStore.Close()
	runHistory := provisioning.NewHistoryStore(db.DB)

	// Metrics
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	// Optional backends
	mqttClient, err := connectMQTT(cfg, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	influxClient, err := connectInfluxDB(ctx, cfg, log)
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

	// Telemetry
	registry := device.NewRegistry()
	registry.SetLogger(log.Component("registry"))

	telemetryServer := telemetry.NewServer(cfg.Telemetry, registry, m)
	telemetryServer.SetLogger(log.Component("telemetry"))

	// Provisioning
	manager := provisioning.NewManager(cfg.Provisioning, provisioning.Deps{Metrics: m})
	manager.SetLogger(log.Component("provisioning"))
	defer func() {
		log.Info("stopping provisioning")
		manager.Close()
	}()

	// API
	var apiServer *api.Server
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:      cfg.API,
			WS:          cfg.WebSocket,
			Logger:      log.Component("api"),
			Registry:    registry,
			Telemetry:   telemetryServer,
			Metrics:     m,
			Version:     version,
			Provisioner: manager,
			History:     runHistory,
			Seen:        deviceStore,
			Gatherer:    promReg,
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}
		apiServer, err = api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
	}

	// Relay wiring. Sinks stay nil interfaces when their backend is off.
	sinks := relay.Sinks{
		Devices: deviceStore,
		Runs:    runHistory,
	}
	if mqttClient != nil {
		sinks.Bus = mqttClient
	}
	if influxClient != nil {
		sinks.Points = influxClient
	}
	if apiServer != nil {
		sinks.Hub = apiServer.Hub()
	}
	// #nosec G115 -- QoS validated to 0..2
	rl := relay.New(relay.Config{SiteID: cfg.Site.ID, QoS: byte(cfg.MQTT.QoS)}, sinks)
	rl.SetLogger(log.Component("relay"))

	telemetryServer.SetReadingsHandler(rl.HandleReadings)
	telemetryServer.SetAttributionHandler(rl.HandleAttribution)
	manager.SetStatusHandler(rl.HandleStatus)
	manager.SetOutcomeHandler(rl.HandleOutcome)
	manager.SetReportHandler(rl.HandleReport)

	if err := telemetryServer.Start(); err != nil {
		return fmt.Errorf("starting telemetry server: %w", err)
	}
	defer func() {
		log.Info("stopping telemetry server")
		telemetryServer.Stop()
	}()

	if mqttClient != nil {
		if err := rl.SubscribeCommands(telemetryServer); err != nil {
			return fmt.Errorf("subscribing to device commands: %w", err)
		}
		defer func() {
			if unsubErr := rl.UnsubscribeCommands(); unsubErr != nil {
				log.Warn("error unsubscribing device commands", "error", unsubErr)
			}
		}()
	}

	if cfg.Telemetry.Advertise {
		port := cfg.Telemetry.Port
		if addr := telemetryServer.Addr(); addr != nil {
			port = addr.Port
		}
		advert, advErr := telemetry.Advertise(cfg.Telemetry.InstanceName, port, cfg.Site.ID, version)
		if advErr != nil {
			// Nodes can still be configured with a fixed target IP.
			log.Warn("mDNS advertisement failed", "error", advErr)
		} else {
			defer advert.Shutdown()
			log.Info("telemetry endpoint advertised", "service", telemetry.ServiceType, "port", port)
		}
	}

	if apiServer != nil {
		if err := apiServer.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	if opts.provision {
		runID, beginErr := manager.Begin()
		if beginErr != nil {
			return fmt.Errorf("starting provisioning: %w", beginErr)
		}
		log.Info("provisioning run started", "run_id", runID)
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// connectMQTT connects to the broker when MQTT is enabled.
func connectMQTT(cfg *config.Config, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.MQTT.Enabled {
		log.Info("MQTT disabled")
		return nil, nil
	}

	client, err := mqtt.Connect(cfg.MQTT, cfg.Site.ID)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	return client, nil
}

// connectInfluxDB connects to InfluxDB when it is enabled.
func connectInfluxDB(ctx context.Context, cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil
	}

	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetLogger(log.Component("influxdb"))
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
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

// rollbackMigration undoes the latest applied migration and reports the
// schema version left behind.
func rollbackMigration(ctx context.Context, db *database.DB, log *logging.Logger) error {
	applied, _, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if len(applied) == 0 {
		log.Info("no migrations applied, nothing to roll back")
		return nil
	}
	if err := db.MigrateDown(ctx, migrations.FS); err != nil {
		return fmt.Errorf("rolling back migration %s: %w", applied[len(applied)-1].Version, err)
	}

	schema := "none"
	if len(applied) > 1 {
		schema = applied[len(applied)-2].Version
	}
	log.Info("migration rolled back",
		"version", applied[len(applied)-1].Version,
		"schema_version", schema,
	)
	return nil
}
