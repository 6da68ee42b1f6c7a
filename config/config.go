package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	Env      string   `yaml:"env" env:"APP_ENV" env-default:"development"`
	Log      Log      `yaml:"log"`
	HTTP     HTTP     `yaml:"http"`
	Storage  Storage  `yaml:"storage"`
	Security Security `yaml:"security"`
	Modules  Modules  `yaml:"modules"`
	Core     Core     `yaml:"core"`
	Mailbox  Mailbox  `yaml:"mailbox"`
	Kafka    Kafka    `yaml:"kafka"`
	Debug    Debug    `yaml:"debug"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type HTTP struct {
	Port            string        `yaml:"port" env:"HTTP_PORT" env-default:"8080" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

type Storage struct {
	// Type forces the in-memory store when set to MEMORY; any other value
	// selects PostgreSQL when DatabaseURL is reachable.
	Type        string `yaml:"type" env:"STORAGE_TYPE" env-default:"MEMORY"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	MaxConns    int32  `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"10" validate:"gt=0"`
	AutoMigrate bool   `yaml:"auto_migrate" env:"DB_AUTO_MIGRATE" env-default:"true"`
}

type Security struct {
	JWKSURI      string        `yaml:"jwks_uri" env:"SECURITY_JWKS_URI"`
	JWKSCacheTTL time.Duration `yaml:"jwks_cache_ttl" env:"SECURITY_JWKS_CACHE_TTL" env-default:"10m" validate:"gt=0"`
	JWKSTimeout  time.Duration `yaml:"jwks_timeout" env:"SECURITY_JWKS_TIMEOUT" env-default:"5s" validate:"gt=0"`
}

type Modules struct {
	Authorized []string `yaml:"authorized" env:"APP_AUTHORIZED_MODULES" env-separator:","`
	// OriginMap is "clientId:CanonicalName" pairs joined by commas.
	OriginMap string `yaml:"origin_map" env:"APP_ORIGIN_MAP" env-default:"ecommerce-app:Ventas,inventory-service:Inventario,analytics-service:Analitica"`
}

type Core struct {
	APIURL             string        `yaml:"api_url" env:"CORE_API_URL" env-default:"http://localhost:8082/api" validate:"required,url"`
	EventsPath         string        `yaml:"events_path" env:"CORE_EVENTS_PATH" env-default:"/core/events"`
	AcksPath           string        `yaml:"acks_path" env:"CORE_ACKS_PATH" env-default:"/core/acks"`
	ForwardEnabled     bool          `yaml:"forward_enabled" env:"CORE_FORWARD_ENABLED" env-default:"true"`
	Timeout            time.Duration `yaml:"timeout" env:"CORE_FORWARD_TIMEOUT" env-default:"10s" validate:"gt=0"`
	Workers            int64         `yaml:"workers" env:"CORE_FORWARD_WORKERS" env-default:"8" validate:"gt=0"`
	BreakerFailures    uint32        `yaml:"breaker_failures" env:"CORE_BREAKER_FAILURES" env-default:"5" validate:"gt=0"`
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout" env:"CORE_BREAKER_OPEN_TIMEOUT" env-default:"30s"`
}

type Mailbox struct {
	Backend   string `yaml:"backend" env:"MAILBOX_BACKEND" env-default:"MEMORY" validate:"oneof=MEMORY REDIS memory redis"`
	RedisURL  string `yaml:"redis_url" env:"REDIS_URL" env-default:"redis://localhost:6379/0"`
	KeyPrefix string `yaml:"key_prefix" env:"MAILBOX_KEY_PREFIX" env-default:"corebridge:mailbox"`
}

type Kafka struct {
	Enabled bool     `yaml:"enabled" env:"KAFKA_ENABLED" env-default:"false"`
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"core-events"`
	GroupID string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"kafka-middleware-group"`
}

type Debug struct {
	// APIKeyHash is a bcrypt hash; when set, /_debug requires a matching X-Admin-Key.
	APIKeyHash string `yaml:"api_key_hash" env:"DEBUG_API_KEY_HASH"`
}

// Load reads configuration. In development a .env file is loaded first; a
// YAML file at CONFIG_PATH (default config.yaml) is read when present, and
// environment variables always take precedence.
func Load() (*Config, error) {
	if env := os.Getenv("APP_ENV"); env == "" || env == "development" {
		_ = godotenv.Load(".env")
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}

	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if errors.Is(err, fs.ErrNotExist) {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
	} else {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}

	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "prod" || c.Env == "production"
}

// MemoryStorageForced reports whether STORAGE_TYPE pins the in-memory store.
func (s Storage) MemoryStorageForced() bool {
	return strings.EqualFold(strings.TrimSpace(s.Type), "MEMORY")
}

func (m Mailbox) UsesRedis() bool {
	return strings.EqualFold(m.Backend, "REDIS")
}
