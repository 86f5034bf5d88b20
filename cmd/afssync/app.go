package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Gobusters/ectologger"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"

	"github.com/swedrowski79-dot/afs-mappingxt/config"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/database"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/engine"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/expression"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/kafka"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/lock"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/manifest"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/metrics"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/source"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/startup"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/status"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/tracing"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/tracing/exporters"
)

// app holds the handles a command needs. Fields are filled by the startup
// dependencies registered for that command.
type app struct {
	cfg    *config.Config
	logger ectologger.Logger
	runID  string

	db       database.DB
	manifest *manifest.Manifest
	target   *manifest.TargetSchema
	sources  map[string]source.Connector
	guard    lock.Guard
	sink     status.Sink

	startup *startup.Startup
}

func newApp(cfg *config.Config, logger ectologger.Logger) *app {
	runID := uuid.NewString()
	logger = logger.WithField("run_id", runID)
	return &app{
		cfg:     cfg,
		logger:  logger,
		runID:   runID,
		sources: map[string]source.Connector{},
		guard:   lock.NewLocalGuard(),
		sink:    status.NewLogSink(logger),
		startup: startup.NewStartup(logger, cfg.StartupMaxAttempts),
	}
}

func (a *app) withDatabase() *app {
	a.startup.AddDependency(startup.Func{
		Name: "database",
		StartFunc: func(ctx context.Context) error {
			dialect, err := database.DialectFor(a.cfg.DatabaseDriver)
			if err != nil {
				return err
			}
			db, err := database.Open(ctx, dialect, a.cfg.DatabaseDSN, a.logger)
			if err != nil {
				return err
			}
			if dialect.IsPostgres() {
				db.SetMaxOpenConns(a.cfg.DatabaseMaxOpenConns)
				db.SetConnMaxLifetime(a.cfg.DatabaseConnMaxLifetime)
			}
			a.db = db
			return nil
		},
		StopFunc: func(context.Context) error {
			if a.db == nil {
				return nil
			}
			return a.db.Close()
		},
	})
	return a
}

func (a *app) withMigrations() *app {
	a.startup.AddDependency(startup.Func{
		Name:     "migrations",
		Requires: []string{"database"},
		StartFunc: func(context.Context) error {
			svc := database.NewMigrationService(a.logger, &database.MigrationConfig{
				MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
				Version:             uint(a.cfg.DatabaseMigrationVersion),
				Force:               a.cfg.DatabaseMigrationForce,
				AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
			})
			return svc.MigrateDB(a.db)
		},
	})
	return a
}

func (a *app) withManifest() *app {
	a.startup.AddDependency(startup.Func{
		Name: "manifest",
		StartFunc: func(context.Context) error {
			m, err := manifest.Load(a.cfg.ManifestPath)
			if err != nil {
				return err
			}
			target, err := manifest.LoadTargetSchema(m.ResolvePath(m.Target[m.TargetID()].Schema))
			if err != nil {
				return err
			}
			a.manifest, a.target = m, target
			return nil
		},
	})
	return a
}

func (a *app) withSources() *app {
	a.startup.AddDependency(startup.Func{
		Name:     "sources",
		Requires: []string{"manifest"},
		StartFunc: func(ctx context.Context) error {
			opts := source.Options{
				Logger:       a.logger,
				FileBasePath: a.cfg.FileBasePath,
				Timeout:      a.cfg.SyncFetchTimeout,
				MSSQL: source.MSSQLDefaults{
					Host:     a.cfg.MSSQLHost,
					Port:     a.cfg.MSSQLPort,
					Database: a.cfg.MSSQLDatabase,
					User:     a.cfg.MSSQLUser,
					Password: a.cfg.MSSQLPassword,
					Encrypt:  a.cfg.MSSQLEncrypt,
				},
			}
			for id, ref := range a.manifest.Sources {
				if _, ok := a.sources[id]; ok {
					continue
				}
				schema, err := manifest.LoadSchema(a.manifest.ResolvePath(ref.Schema))
				if err != nil {
					return err
				}
				conn, err := source.New(ctx, id, schema, opts)
				if err != nil {
					return err
				}
				a.sources[id] = conn
			}
			return nil
		},
		StopFunc: func(context.Context) error {
			var firstErr error
			for id, conn := range a.sources {
				if err := conn.Close(); err != nil && firstErr == nil {
					firstErr = fmt.Errorf("failed to close source '%s': %w", id, err)
				}
			}
			return firstErr
		},
	})
	return a
}

func (a *app) withLock() *app {
	if !a.cfg.SyncRedisLockEnabled {
		return a
	}
	redisCfg := lock.RedisConfig{
		Host:      a.cfg.RedisHost,
		Port:      a.cfg.RedisPort,
		Password:  a.cfg.RedisPassword,
		DB:        a.cfg.RedisDB,
		KeyPrefix: a.cfg.RedisKeyPrefix,
		TTL:       a.cfg.RedisLockTTL,
	}
	var closeRedis func() error
	a.startup.AddDependency(startup.Func{
		Name: "redis",
		StartFunc: func(ctx context.Context) error {
			rdb, err := lock.NewRedisClient(ctx, redisCfg, a.logger)
			if err != nil {
				return err
			}
			closeRedis = rdb.Close
			a.guard = lock.NewRedisGuard(rdb, redisCfg, a.logger)
			return nil
		},
		StopFunc: func(context.Context) error {
			if closeRedis == nil {
				return nil
			}
			return closeRedis()
		},
	})
	return a
}

func (a *app) withProgress() *app {
	if !a.cfg.SyncProgressToKafka {
		return a
	}
	var producer *kafka.Producer
	a.startup.AddDependency(startup.Func{
		Name: "kafka",
		StartFunc: func(context.Context) error {
			p, err := kafka.NewProducer(kafka.ProducerConfig{
				Brokers:      kafka.ParseBrokers(a.cfg.KafkaBrokers),
				Topic:        a.cfg.KafkaProgressTopic,
				BatchTimeout: a.cfg.KafkaBatchTimeout,
				WriteTimeout: a.cfg.KafkaWriteTimeout,
				Compression:  a.cfg.KafkaCompression,
			}, a.logger)
			if err != nil {
				return err
			}
			producer = p
			a.sink = status.MultiSink{status.NewLogSink(a.logger), status.NewKafkaSink(p, a.runID, a.logger)}
			return nil
		},
		StopFunc: func(context.Context) error {
			if producer == nil {
				return nil
			}
			return producer.Close()
		},
	})
	return a
}

func (a *app) withTracing() *app {
	var shutdown func(context.Context) error
	a.startup.AddDependency(startup.Func{
		Name: "tracing",
		StartFunc: func(ctx context.Context) error {
			var err error
			shutdown, err = tracing.Setup(ctx, tracing.Config{
				Enabled:     a.cfg.TracingEnabled,
				ServiceName: a.cfg.AppName,
				Exporter:    a.cfg.TracingExporter,
				OTLP: exporters.OTLPConfig{
					Endpoint: a.cfg.TracingOTLPEndpoint,
					Protocol: a.cfg.TracingOTLPProtocol,
					Insecure: a.cfg.TracingOTLPInsecure,
					Timeout:  a.cfg.TracingOTLPTimeout,
				},
			}, a.logger)
			return err
		},
		StopFunc: func(ctx context.Context) error {
			if shutdown == nil {
				return nil
			}
			return shutdown(ctx)
		},
	})
	return a
}

func (a *app) withMetrics() *app {
	if !a.cfg.MetricsEnabled {
		return a
	}
	var cancel context.CancelFunc
	a.startup.AddDependency(startup.Func{
		Name: "metrics",
		StartFunc: func(ctx context.Context) error {
			var serveCtx context.Context
			serveCtx, cancel = context.WithCancel(context.WithoutCancel(ctx))
			go func() {
				if err := metrics.Serve(serveCtx, a.cfg.MetricsAddr); err != nil {
					a.logger.WithError(err).Error("Metrics server stopped")
				}
			}()
			a.logger.Infof("Serving metrics on %s", a.cfg.MetricsAddr)
			return nil
		},
		StopFunc: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
	return a
}

func (a *app) start(ctx context.Context) error {
	return a.startup.Start(ctx)
}

func (a *app) stop() {
	if err := a.startup.Stop(context.Background()); err != nil {
		a.logger.WithError(err).Warn("Shutdown finished with errors")
	}
}

func (a *app) newEngine() (*engine.Engine, error) {
	cfg := engine.Config{
		Manifest:         a.manifest,
		Target:           a.target,
		Sources:          a.sources,
		DB:               a.db,
		Sink:             a.sink,
		Workers:          a.cfg.SyncWorkers,
		MaxParams:        a.cfg.SyncMaxBoundParams,
		StatementTimeout: a.cfg.SyncStatementTimeout,
	}
	if a.cfg.LookupBasePath != "" {
		if _, err := os.Stat(a.cfg.LookupBasePath); err != nil {
			return nil, fmt.Errorf("lookup folder %s is not readable: %w", a.cfg.LookupBasePath, err)
		}
		cfg.Lookups = expression.NewFileLookupStore(osfs.New(a.cfg.LookupBasePath), "")
	}
	if a.cfg.SyncKeepOrphansOnline {
		cfg.Orphans = engine.KeepOrphans
	}
	return engine.New(cfg, a.logger)
}
