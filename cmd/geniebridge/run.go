package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/genie-bridge/internal/api"
	"github.com/nerrad567/genie-bridge/internal/audit"
	"github.com/nerrad567/genie-bridge/internal/auth"
	"github.com/nerrad567/genie-bridge/internal/bridges/knx"
	"github.com/nerrad567/genie-bridge/internal/entity"
	"github.com/nerrad567/genie-bridge/internal/genie"
	"github.com/nerrad567/genie-bridge/internal/host"
	"github.com/nerrad567/genie-bridge/internal/infrastructure/config"
	"github.com/nerrad567/genie-bridge/internal/infrastructure/database"
	"github.com/nerrad567/genie-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/genie-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/genie-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/genie-bridge/internal/sensors"
	"github.com/nerrad567/genie-bridge/internal/sensors/purifier"
	"github.com/nerrad567/genie-bridge/internal/sensors/sensortag"
	"github.com/nerrad567/genie-bridge/internal/service"
	"github.com/nerrad567/genie-bridge/migrations"
)

// auditSource names calls made by the voice platform in the audit log.
const auditSource = "aligenie"

// run wires every component and blocks until ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting geniebridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

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
	log.Info("database migrations complete")

	entities, err := openEntities(ctx, cfg, db, log)
	if err != nil {
		return err
	}

	auditRepo := audit.NewSQLiteRepository(db.DB)
	services := service.NewRegistry()
	services.SetLogger(log)
	services.SetAuditor(auditRepo)
	services.RegisterBuiltins()
	if cfg.Integrations.Scripts.TurnOffLights {
		services.RegisterScripts(entities)
	}

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
	services.SetPublisher(mqttClient)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Optional InfluxDB. readings stays a nil interface when disabled.
	var (
		influxClient *influxdb.Client
		readings     sensors.ReadingWriter
	)
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
		readings = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if subErr := mqttClient.Subscribe(mqtt.Topics{}.AllEntityStates(), 1, ingestHandler(entities, log)); subErr != nil {
		return fmt.Errorf("subscribing to state ingest: %w", subErr)
	}

	health := map[string]api.HealthCheckFunc{
		"database": db.HealthCheck,
		"mqtt":     mqttClient.HealthCheck,
	}
	if influxClient != nil {
		health["influxdb"] = influxClient.HealthCheck
	}

	if cfg.Integrations.KNX.Enabled {
		knxClient, knxBridge, knxErr := startKNX(ctx, cfg, entities, services, readings, log)
		if knxErr != nil {
			return fmt.Errorf("starting KNX bridge: %w", knxErr)
		}
		defer func() {
			log.Info("stopping KNX bridge")
			knxBridge.Stop()
			if closeErr := knxClient.Close(); closeErr != nil {
				log.Error("error closing knxd connection", "error", closeErr)
			}
		}()
		health["knx"] = knxClient.HealthCheck
	} else {
		log.Info("KNX bridge disabled")
	}

	poller, err := buildPoller(cfg, mqttClient, entities, readings, log)
	if err != nil {
		return fmt.Errorf("setting up sensors: %w", err)
	}

	authSvc, err := auth.NewService(cfg.Security, cfg.TokenTTL())
	if err != nil {
		return fmt.Errorf("creating auth service: %w", err)
	}

	genieMetrics := genie.NewMetrics()
	handler := genie.New(genie.Options{
		Connector: newConnector(cfg, host.NewLocal(entities, services, auditSource), authSvc),
		Directory: genie.NewHTTPDirectory(cfg.Genie.PlaceListURL, cfg.Genie.AliasListURL, cfg.GenieTimeout()),
		Branding:  genie.Branding{Brand: cfg.Genie.Brand, Icon: cfg.Genie.Icon},
		Logger:    log,
		Metrics:   genieMetrics,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(genieMetrics.Collectors()...)

	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log,
		Genie:    handler,
		Gatherer: registry,
		Health:   health,
		Version:  version,
	}
	if cfg.Genie.Mode == config.ModeLocal {
		deps.Entities = entities
		deps.Services = services
		deps.Auth = authSvc
		deps.Audit = auditRepo
	}

	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	registry.MustRegister(server.Collectors()...)

	fanout := newChangeFanout(server.Hub(), mqttClient, influxClient, log)
	entities.OnChange(fanout.Listener())

	if err := healthCheck(ctx, health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		poller.Start()
		<-gctx.Done()
		log.Info("stopping sensor poller")
		poller.Stop()
		return nil
	})
	g.Go(func() error {
		fanout.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return server.Close()
	})

	log.Info("initialisation complete, waiting for shutdown signal",
		"mode", cfg.Genie.Mode,
		"entities", entities.Count(),
		"sensors", poller.Len(),
	)

	err = g.Wait()
	log.Info("geniebridge stopped")
	return err
}

// openEntities loads the persisted entity states and applies the seed file.
func openEntities(ctx context.Context, cfg *config.Config, db *database.DB, log *logging.Logger) (*entity.Registry, error) {
	entities := entity.NewRegistry(entity.NewSQLiteRepository(db.DB))
	entities.SetLogger(log)

	if err := entities.RefreshCache(ctx); err != nil {
		return nil, fmt.Errorf("loading entity registry: %w", err)
	}

	if cfg.Entities.SeedFile != "" {
		seeds, err := entity.LoadSeedFile(cfg.Entities.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("loading entity seed: %w", err)
		}
		if err := entities.ApplySeed(ctx, seeds); err != nil {
			return nil, fmt.Errorf("applying entity seed: %w", err)
		}
		log.Info("entity seed applied", "path", cfg.Entities.SeedFile, "entities", len(seeds))
	}

	log.Info("entity registry initialised", "entities", entities.Count())
	return entities, nil
}

// newConnector selects how the AliGenie handler reaches a host.
func newConnector(cfg *config.Config, local host.Host, validator host.TokenValidator) host.Connector {
	rest := host.NewRESTConnector(cfg.GenieTimeout())
	if cfg.Genie.Mode == config.ModeREST {
		return rest
	}

	conn := host.NewLocalConnector(local, validator, cfg.Genie.CheckAlias)
	if cfg.Genie.AllowRESTTokens {
		conn = conn.WithRESTFallback(rest)
	}
	return conn
}

// startKNX connects to knxd and starts the climate bridge.
func startKNX(ctx context.Context, cfg *config.Config, entities *entity.Registry, services *service.Registry, readings sensors.ReadingWriter, log *logging.Logger) (*knx.Client, *knx.Bridge, error) {
	knxCfg := cfg.Integrations.KNX

	client, err := knx.Connect(ctx, knx.ClientConfig{Connection: knxCfg.Connection}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to knxd: %w", err)
	}
	log.Info("connected to knxd", "url", knxCfg.Connection)

	bridge, err := knx.NewBridge(knx.BridgeOptions{
		Bus:      client,
		Climates: knxCfg.Climates,
		States:   entities,
		Readings: readings,
		Logger:   log,
	})
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("creating KNX bridge: %w", err)
	}
	bridge.RegisterServices(services)

	if err := bridge.Start(ctx); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return client, bridge, nil
}

// buildPoller creates a sensor device per configured SensorTag and water
// purifier and schedules it at its scan interval.
func buildPoller(cfg *config.Config, sub sensors.Subscriber, states sensors.StateWriter, readings sensors.ReadingWriter, log *logging.Logger) (*sensors.Poller, error) {
	poller := sensors.NewPoller(log)

	for _, tagCfg := range cfg.Integrations.SensorTags {
		src := sensortag.NewMQTTSource(tagCfg.MAC)
		if err := src.Subscribe(sub); err != nil {
			return nil, err
		}
		dev, err := sensortag.NewDevice(sensortag.DeviceOptions{
			Config:   tagCfg,
			Source:   src,
			States:   states,
			Readings: readings,
			Logger:   log.With("sensortag", tagCfg.MAC),
		})
		if err != nil {
			return nil, err
		}
		if err := poller.Add(tagCfg.Name, scanInterval(tagCfg.ScanInterval), dev); err != nil {
			return nil, err
		}
	}

	for _, pCfg := range cfg.Integrations.WaterPurifiers {
		src := purifier.NewMQTTSource(pCfg.Host)
		if err := src.Subscribe(sub); err != nil {
			return nil, err
		}
		dev, err := purifier.NewDevice(purifier.DeviceOptions{
			Config:   pCfg,
			Source:   src,
			States:   states,
			Readings: readings,
			Logger:   log.With("purifier", pCfg.Host),
		})
		if err != nil {
			return nil, err
		}
		if err := poller.Add(pCfg.Name, scanInterval(pCfg.ScanInterval), dev); err != nil {
			return nil, err
		}
	}

	return poller, nil
}

func scanInterval(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// healthCheck runs every dependency check once before serving.
func healthCheck(ctx context.Context, checks map[string]api.HealthCheckFunc) error {
	for name, check := range checks {
		if err := check(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
