package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName            string `env:"APP_NAME" env-default:"afssync"`
	LogLevel           string `env:"LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
	PrettyLogs         bool   `env:"PRETTY_LOGS" env-default:"false"`
	StartupMaxAttempts int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"3" validate:"min=1"`

	// Manifest Path
	ManifestPath string `yaml:"manifest_path" env:"MANIFEST_PATH" env-default:"mappings/afs_to_shop.yml" validate:"required"`

	// Target store driver, sqlite or postgres
	DatabaseDriver string `yaml:"db_driver" env:"DB_DRIVER" env-default:"sqlite" validate:"oneof=sqlite sqlite3 postgres postgresql pg"`
	// Target store DSN
	DatabaseDSN string `yaml:"db_dsn" env:"DB_DSN" env-default:"file:shop.db?_pragma=busy_timeout(5000)" validate:"required"`
	// Max Open Conns, ignored for sqlite
	DatabaseMaxOpenConns int `env:"DB_MAX_OPEN_CONNS" env-default:"10"`
	// Conn Max Lifetime
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"5m"`
	// Migration Folder Path, holds one folder per dialect
	DatabaseMigrationFolderPath string `yaml:"db_migration_folder_path" env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/migrations"`
	// Database Migration Version
	DatabaseMigrationVersion int `env:"DB_MIGRATION_VERSION" env-default:"0" validate:"min=0"`
	// Database Migration Force
	DatabaseMigrationForce int `env:"DB_MIGRATION_FORCE" env-default:"0"`
	// Database Migration Auto Rollback
	DatabaseMigrationAutoRollback bool `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// MSSQL source defaults, merged under a schema's connection block
	MSSQLHost     string `env:"AFS_HOST" env-default:"localhost"`
	MSSQLPort     int    `env:"AFS_PORT" env-default:"1433"`
	MSSQLDatabase string `env:"AFS_DATABASE" env-default:""`
	MSSQLUser     string `env:"AFS_USER" env-default:""`
	MSSQLPassword string `env:"AFS_PASSWORD" env-default:""`
	MSSQLEncrypt  string `env:"AFS_ENCRYPT" env-default:"disable"`

	// Flat-file base path for filedb sources
	FileBasePath string `yaml:"file_base_path" env:"FILEDB_BASE_PATH" env-default:"."`
	// Lookup text files used by the file_lookup expression function
	LookupBasePath string `yaml:"lookup_base_path" env:"LOOKUP_BASE_PATH" env-default:""`

	// Sync
	SyncMaxBoundParams    int           `yaml:"max_bound_params" env:"SYNC_MAX_BOUND_PARAMS" env-default:"999" validate:"min=1"`
	SyncWorkers           int           `env:"SYNC_WORKERS" env-default:"0" validate:"min=0"`
	SyncFetchTimeout      time.Duration `env:"SYNC_FETCH_TIMEOUT" env-default:"5m"`
	SyncStatementTimeout  time.Duration `env:"SYNC_STATEMENT_TIMEOUT" env-default:"2m"`
	SyncLockKey           string        `env:"SYNC_LOCK_KEY" env-default:"shop"`
	SyncRedisLockEnabled  bool          `env:"SYNC_REDIS_LOCK_ENABLED" env-default:"false"`
	SyncProgressToKafka   bool          `env:"SYNC_PROGRESS_KAFKA_ENABLED" env-default:"false"`
	SyncKeepOrphansOnline bool          `env:"SYNC_KEEP_ORPHANS_ONLINE" env-default:"false"`

	// Redis
	RedisHost      string        `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort      int           `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword  string        `env:"REDIS_PASSWORD" env-default:""`
	RedisDB        int           `env:"REDIS_DB" env-default:"0"`
	RedisKeyPrefix string        `env:"REDIS_KEY_PREFIX" env-default:"afssync:lock:"`
	RedisLockTTL   time.Duration `env:"REDIS_LOCK_TTL" env-default:"30s"`

	// Kafka Producer
	KafkaBrokers       string        `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaProgressTopic string        `env:"KAFKA_PROGRESS_TOPIC" env-default:"afssync-progress"`
	KafkaBatchTimeout  time.Duration `env:"KAFKA_BATCH_TIMEOUT" env-default:"100ms"`
	KafkaWriteTimeout  time.Duration `env:"KAFKA_WRITE_TIMEOUT" env-default:"10s"`
	KafkaCompression   string        `env:"KAFKA_COMPRESSION" env-default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`

	// Tracing
	TracingEnabled      bool          `env:"TRACING_ENABLED" env-default:"false"`
	TracingExporter     string        `env:"TRACING_EXPORTER" env-default:"otlp" validate:"oneof=otlp log"`
	TracingOTLPEndpoint string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:"localhost:4317"`
	TracingOTLPProtocol string        `env:"OTEL_EXPORTER_OTLP_PROTOCOL" env-default:"grpc" validate:"oneof=grpc http"`
	TracingOTLPInsecure bool          `env:"OTEL_EXPORTER_OTLP_INSECURE" env-default:"true"`
	TracingOTLPTimeout  time.Duration `env:"OTEL_EXPORTER_OTLP_TIMEOUT" env-default:"10s"`

	// Metrics
	MetricsEnabled bool   `env:"METRICS_ENABLED" env-default:"false"`
	MetricsAddr    string `env:"METRICS_ADDR" env-default:":9102"`
}

// Load reads path when given, otherwise the environment. A .env file in the
// working directory or at envFile is loaded first; existing variables win.
func Load(path, envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg := &Config{}
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
