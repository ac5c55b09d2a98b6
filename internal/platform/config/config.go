package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Storage backends selectable with STORAGE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// MasterKeySize is the decoded length of the subject key wrapping master key.
const MasterKeySize = 32

// minJWTSecretLength guards against short shared HS256 secrets.
const minJWTSecretLength = 32

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Auth     AuthConfig     `yaml:"auth"`
	Keys     KeysConfig     `yaml:"keys"`
	Policy   PolicyConfig   `yaml:"policy"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr              string        `yaml:"addr"                env:"SERVER_ADDR"                env-default:":8080"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"SERVER_READ_HEADER_TIMEOUT" env-default:"5s"`
	ReadTimeout       time.Duration `yaml:"read_timeout"        env:"SERVER_READ_TIMEOUT"        env-default:"10s"`
	WriteTimeout      time.Duration `yaml:"write_timeout"       env:"SERVER_WRITE_TIMEOUT"       env-default:"30s"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"        env:"SERVER_IDLE_TIMEOUT"        env-default:"60s"`
	RequestTimeout    time.Duration `yaml:"request_timeout"     env:"SERVER_REQUEST_TIMEOUT"     env-default:"30s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"    env:"SERVER_SHUTDOWN_TIMEOUT"    env-default:"10s"`
}

// StorageConfig selects where keys, consents, and policies live.
type StorageConfig struct {
	Backend   string        `yaml:"backend"    env:"STORAGE_BACKEND"    env-default:"memory"`
	TxTimeout time.Duration `yaml:"tx_timeout" env:"STORAGE_TX_TIMEOUT" env-default:"5s"`
}

// DatabaseConfig holds PostgreSQL connection settings. Used when the storage
// backend is postgres.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"               env:"DATABASE_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns"    env:"DATABASE_MAX_OPEN_CONNS"    env-default:"25"`
	MaxIdleConns    int           `yaml:"max_idle_conns"    env:"DATABASE_MAX_IDLE_CONNS"    env-default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME" env-default:"1h"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"  env:"DATABASE_MIGRATE_ON_START"  env-default:"true"`
}

// RedisConfig configures the optional policy cache. An empty URL disables it.
type RedisConfig struct {
	URL          string        `yaml:"url"            env:"REDIS_URL"`
	PoolSize     int           `yaml:"pool_size"      env:"REDIS_POOL_SIZE"      env-default:"10"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS" env-default:"2"`
	DialTimeout  time.Duration `yaml:"dial_timeout"   env:"REDIS_DIAL_TIMEOUT"   env-default:"5s"`
	ReadTimeout  time.Duration `yaml:"read_timeout"   env:"REDIS_READ_TIMEOUT"   env-default:"3s"`
	WriteTimeout time.Duration `yaml:"write_timeout"  env:"REDIS_WRITE_TIMEOUT"  env-default:"3s"`
	PolicyTTL    time.Duration `yaml:"policy_ttl"     env:"REDIS_POLICY_TTL"     env-default:"5m"`
	NegativeTTL  time.Duration `yaml:"negative_ttl"   env:"REDIS_NEGATIVE_TTL"   env-default:"30s"`

	// BreakerThreshold consecutive failures stop cache use; one probe per
	// BreakerCooldown checks for recovery.
	BreakerThreshold int           `yaml:"breaker_threshold" env:"REDIS_BREAKER_THRESHOLD" env-default:"5"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"  env:"REDIS_BREAKER_COOLDOWN"  env-default:"5s"`
}

// KafkaConfig configures the optional audit sink. No brokers disables it.
type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"            env:"KAFKA_BROKERS"            env-separator:","`
	AuditTopic        string   `yaml:"audit_topic"        env:"KAFKA_AUDIT_TOPIC"        env-default:"consentvault.audit"`
	Partitions        int32    `yaml:"partitions"         env:"KAFKA_PARTITIONS"         env-default:"1"`
	ReplicationFactor int16    `yaml:"replication_factor" env:"KAFKA_REPLICATION_FACTOR" env-default:"1"`
}

// AuthConfig holds bearer credential verification settings.
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"    env:"AUTH_JWT_SECRET"`
	Issuer      string        `yaml:"issuer"        env:"AUTH_ISSUER"        env-default:"consentvault-idp"`
	ClockSkew   time.Duration `yaml:"clock_skew"    env:"AUTH_CLOCK_SKEW"    env-default:"30s"`
	DevTokenTTL time.Duration `yaml:"dev_token_ttl" env:"AUTH_DEV_TOKEN_TTL" env-default:"1h"`
}

// KeysConfig holds the master key that wraps subject keys at rest.
type KeysConfig struct {
	MasterKey string `yaml:"master_key" env:"KEYS_MASTER_KEY"`
}

// PolicyConfig bounds calls to the policy reference.
type PolicyConfig struct {
	LookupTimeout time.Duration `yaml:"lookup_timeout" env:"POLICY_LOOKUP_TIMEOUT" env-default:"2s"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// Load reads configuration from a YAML file and environment variables.
// Priority: ENV > YAML > defaults (via env-default tags).
// The file is path when given, else CONFIG_PATH, else "./config.yaml". A
// missing default file falls back to ENV + defaults only.
func Load(path string) (*Config, error) {
	var cfg Config

	explicitPath := path != ""
	if !explicitPath {
		path = os.Getenv("CONFIG_PATH")
		explicitPath = path != ""
	}
	if !explicitPath {
		path = "./config.yaml"
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if explicitPath {
		return nil, fmt.Errorf("config: file %s: %w", path, err)
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
	}

	cfg.Kafka.Brokers = compactList(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// Validate enforces rules the struct tags cannot express.
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d characters (got %d)", minJWTSecretLength, len(c.Auth.JWTSecret))
	}
	if c.Auth.Issuer == "" {
		return fmt.Errorf("auth.issuer must not be empty")
	}
	if c.Auth.ClockSkew < 0 {
		return fmt.Errorf("auth.clock_skew must be >= 0")
	}
	if _, err := c.Keys.MasterKeyBytes(); err != nil {
		return err
	}
	if c.Policy.LookupTimeout <= 0 {
		return fmt.Errorf("policy.lookup_timeout must be > 0 (got %s)", c.Policy.LookupTimeout)
	}
	if !slices.Contains([]string{BackendMemory, BackendPostgres}, c.Storage.Backend) {
		return fmt.Errorf("storage.backend must be %q or %q (got %q)", BackendMemory, BackendPostgres, c.Storage.Backend)
	}
	if c.Storage.Backend == BackendPostgres && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the postgres backend")
	}
	if !slices.Contains([]string{"json", "text"}, c.Log.Format) {
		return fmt.Errorf("log.format must be json or text (got %q)", c.Log.Format)
	}
	return nil
}

// MasterKeyBytes decodes the base64 master key.
func (k KeysConfig) MasterKeyBytes() ([]byte, error) {
	if k.MasterKey == "" {
		return nil, fmt.Errorf("keys.master_key is required")
	}
	raw, err := base64.StdEncoding.DecodeString(k.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("keys.master_key must be base64: %w", err)
	}
	if len(raw) != MasterKeySize {
		return nil, fmt.Errorf("keys.master_key must decode to %d bytes (got %d)", MasterKeySize, len(raw))
	}
	return raw, nil
}

// compactList trims entries and drops blanks and repeats, keeping order.
// KAFKA_BROKERS="a, b,,a" becomes [a b].
func compactList(values []string) []string {
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// RedisEnabled reports whether a policy cache is configured.
func (c *Config) RedisEnabled() bool { return c.Redis.URL != "" }

// KafkaEnabled reports whether the Kafka audit sink is configured.
func (c *Config) KafkaEnabled() bool { return len(c.Kafka.Brokers) > 0 }
