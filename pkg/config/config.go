package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "gamekit"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Bus    BusConfig
	State  StateConfig
	Rules  RulesConfig
	Chat   ChatConfig
	GCP    GCPConfig
	PubSub PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"GAMEKIT_APP_ENV" default:"dev"`
	Port         string `envconfig:"GAMEKIT_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"GAMEKIT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"GAMEKIT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"GAMEKIT_DB_DSN"`
	Driver string `envconfig:"GAMEKIT_DB_DRIVER" default:"sqlite"`

	MaxOpenConns    int           `envconfig:"GAMEKIT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"GAMEKIT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"GAMEKIT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"GAMEKIT_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	AutoMigrate bool `envconfig:"GAMEKIT_DB_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(db.Driver)) {
	case "postgres":
		if db.DSN == "" {
			return fmt.Errorf("GAMEKIT_DB_DSN is required for the postgres driver")
		}
	case "sqlite":
		if db.DSN == "" {
			db.DSN = "gamekit.db"
		}
	default:
		return fmt.Errorf("unsupported db driver %q", db.Driver)
	}
	return nil
}

// IsSQLite reports whether the sqlite driver is selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), "sqlite")
}

type RedisConfig struct {
	URL          string        `envconfig:"GAMEKIT_REDIS_URL"`
	Address      string        `envconfig:"GAMEKIT_REDIS_ADDR"`
	Password     string        `envconfig:"GAMEKIT_REDIS_PASSWORD"`
	DB           int           `envconfig:"GAMEKIT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"GAMEKIT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"GAMEKIT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"GAMEKIT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"GAMEKIT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"GAMEKIT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a redis endpoint was configured at all.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

type BusConfig struct {
	QueueSize      int           `envconfig:"GAMEKIT_BUS_QUEUE_SIZE" default:"256"`
	HandlerTimeout time.Duration `envconfig:"GAMEKIT_BUS_HANDLER_TIMEOUT" default:"10s"`
	DedupWindow    int           `envconfig:"GAMEKIT_BUS_DEDUP_WINDOW" default:"4096"`
}

type StateConfig struct {
	Backend     string        `envconfig:"GAMEKIT_STATE_BACKEND" default:"db"`
	SaveRetries uint64        `envconfig:"GAMEKIT_STATE_SAVE_RETRIES" default:"3"`
	SaveBackoff time.Duration `envconfig:"GAMEKIT_STATE_SAVE_BACKOFF" default:"100ms"`
}

type RulesConfig struct {
	SeedDefaults bool `envconfig:"GAMEKIT_RULES_SEED_DEFAULTS" default:"true"`
	Persist      bool `envconfig:"GAMEKIT_RULES_PERSIST" default:"true"`
}

type ChatConfig struct {
	APIKey        string  `envconfig:"GAMEKIT_CHAT_API_KEY"`
	BaseURL       string  `envconfig:"GAMEKIT_CHAT_BASE_URL"`
	Model         string  `envconfig:"GAMEKIT_CHAT_MODEL" default:"gpt-4o-mini"`
	Temperature   float64 `envconfig:"GAMEKIT_CHAT_TEMPERATURE" default:"0.7"`
	MaxTokens     int     `envconfig:"GAMEKIT_CHAT_MAX_TOKENS" default:"500"`
	ContextMemory int     `envconfig:"GAMEKIT_CHAT_CONTEXT_MEMORY" default:"10"`
}

// Enabled reports whether the chat collaborator should be wired up.
func (c ChatConfig) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

type GCPConfig struct {
	ProjectID              string `envconfig:"GAMEKIT_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"GAMEKIT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GAMEKIT_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	EgressTopic string `envconfig:"GAMEKIT_PUBSUB_EGRESS_TOPIC"`
}

// EgressEnabled reports whether bus events should be mirrored to Cloud Pub/Sub.
func (c Config) EgressEnabled() bool {
	return strings.TrimSpace(c.GCP.ProjectID) != "" && strings.TrimSpace(c.PubSub.EgressTopic) != ""
}
