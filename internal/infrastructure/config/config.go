package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rail-service/cctp_transfer/internal/domain/entities"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Circle      CircleConfig   `mapstructure:"circle"`
	CCTP        CCTPConfig     `mapstructure:"cctp"`
	Polling     PollingConfig  `mapstructure:"polling"`
	Session     SessionConfig  `mapstructure:"session"`
	Sweeper     SweeperConfig  `mapstructure:"sweeper"`
	Tracing     TracingConfig  `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	Host            string   `mapstructure:"host"`
	ReadTimeout     int      `mapstructure:"read_timeout"`
	WriteTimeout    int      `mapstructure:"write_timeout"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	RateLimitPerMin int      `mapstructure:"rate_limit_per_min"`
}

// DatabaseConfig configures the optional transfer journal. An empty URL disables it.
type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string `mapstructure:"migrations_path"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type CircleConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	EntitySecret string        `mapstructure:"entity_secret"`
	WalletSetID  string        `mapstructure:"wallet_set_id"`
	Environment  string        `mapstructure:"environment"`
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type CCTPConfig struct {
	IrisBaseURL string                          `mapstructure:"iris_base_url"`
	Environment string                          `mapstructure:"environment"`
	Timeout     time.Duration                   `mapstructure:"timeout"`
	Chains      map[string]entities.ChainConfig `mapstructure:"chains"`
	// MinFinalityThreshold is passed to depositForBurn; 1000 requests fast transfer
	MinFinalityThreshold uint32 `mapstructure:"min_finality_threshold"`
	// MaxFeeDivisor sets maxFee = amount / divisor
	MaxFeeDivisor int64 `mapstructure:"max_fee_divisor"`
}

// PollingConfig controls how long the service waits on Circle and Iris
type PollingConfig struct {
	Transaction TransactionPolling `mapstructure:"transaction"`
	Attestation AttestationPolling `mapstructure:"attestation"`
}

type TransactionPolling struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	MaxElapsed      time.Duration `mapstructure:"max_elapsed"`
}

type AttestationPolling struct {
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Interval     time.Duration `mapstructure:"interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

type SessionConfig struct {
	Store        string        `mapstructure:"store"` // "redis" or "memory"
	CookieName   string        `mapstructure:"cookie_name"`
	TTL          time.Duration `mapstructure:"ttl"`
	SecureCookie bool          `mapstructure:"secure_cookie"`

	// IdempotencyTTL is how long a step response can be replayed for a repeated Idempotency-Key
	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

type SweeperConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Schedule     string        `mapstructure:"schedule"`
	AbandonAfter time.Duration `mapstructure:"abandon_after"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	CollectorURL string  `mapstructure:"collector_url"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Insecure     bool    `mapstructure:"insecure"`
}

// IsProduction reports whether the service runs against real funds
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load reads configuration from config.yaml, .env and the environment
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30)
	// attestation polling can hold a request for several minutes
	v.SetDefault("server.write_timeout", 600)
	v.SetDefault("server.rate_limit_per_min", 100)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:4321"})

	// Database defaults
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 3600)
	v.SetDefault("database.migrations_path", "")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)

	// Circle defaults
	v.SetDefault("circle.environment", "sandbox")
	v.SetDefault("circle.api_key", "")
	v.SetDefault("circle.entity_secret", "")
	v.SetDefault("circle.wallet_set_id", "")
	v.SetDefault("circle.base_url", "")
	v.SetDefault("circle.timeout", 30*time.Second)
	v.SetDefault("circle.max_retries", 5)

	// CCTP defaults
	v.SetDefault("cctp.iris_base_url", "")
	v.SetDefault("cctp.environment", "sandbox")
	v.SetDefault("cctp.timeout", 30*time.Second)
	v.SetDefault("cctp.min_finality_threshold", 1000)
	v.SetDefault("cctp.max_fee_divisor", 5000)
	chains := make(map[string]interface{})
	for name, c := range entities.DefaultTestnetChains() {
		chains[name] = map[string]interface{}{
			"usdc":                c.USDC,
			"token_messenger":     c.TokenMessenger,
			"message_transmitter": c.MessageTransmitter,
			"domain":              c.Domain,
		}
	}
	v.SetDefault("cctp.chains", chains)

	// Polling defaults
	v.SetDefault("polling.transaction.initial_interval", 1*time.Second)
	v.SetDefault("polling.transaction.max_interval", 10*time.Second)
	v.SetDefault("polling.transaction.multiplier", 1.5)
	v.SetDefault("polling.transaction.max_attempts", 60)
	v.SetDefault("polling.transaction.max_elapsed", 5*time.Minute)
	v.SetDefault("polling.attestation.initial_delay", 2*time.Second)
	v.SetDefault("polling.attestation.interval", 10*time.Second)
	v.SetDefault("polling.attestation.max_attempts", 30)

	// Session defaults
	v.SetDefault("session.store", "redis")
	v.SetDefault("session.cookie_name", "cctp_session")
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.secure_cookie", false)
	v.SetDefault("session.idempotency_ttl", 24*time.Hour)

	// Sweeper defaults
	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.schedule", "@every 15m")
	v.SetDefault("sweeper.abandon_after", 24*time.Hour)

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.collector_url", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.insecure", false)
}

// envAliases maps an env var to the config key it sets. The short names are
// accepted for setups carried over from the Astro demo.
var envAliases = []struct {
	env string
	key string
}{
	{"CIRCLE_API_KEY", "circle.api_key"},
	{"API_KEY", "circle.api_key"},
	{"CIRCLE_ENTITY_SECRET", "circle.entity_secret"},
	{"ENTITY_SECRET", "circle.entity_secret"},
	{"CIRCLE_WALLET_SET_ID", "circle.wallet_set_id"},
	{"WALLET_SET_ID", "circle.wallet_set_id"},
	{"CIRCLE_BASE_URL", "circle.base_url"},
	{"CIRCLE_ENVIRONMENT", "circle.environment"},
	{"CCTP_IRIS_BASE_URL", "cctp.iris_base_url"},
	{"DATABASE_URL", "database.url"},
	{"REDIS_HOST", "redis.host"},
	{"REDIS_PASSWORD", "redis.password"},
	{"SESSION_STORE", "session.store"},
	{"OTEL_EXPORTER_OTLP_ENDPOINT", "tracing.collector_url"},
}

func overrideFromEnv(v *viper.Viper) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("server.port", p)
		}
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			v.Set("redis.port", p)
		}
	}

	// first match wins, so the CIRCLE_ prefixed names take priority
	seen := make(map[string]bool)
	for _, alias := range envAliases {
		if seen[alias.key] {
			continue
		}
		if val := strings.TrimSpace(os.Getenv(alias.env)); val != "" {
			v.Set(alias.key, val)
			seen[alias.key] = true
		}
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		var list []string
		for _, o := range strings.Split(origins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				list = append(list, trimmed)
			}
		}
		if len(list) > 0 {
			v.Set("server.allowed_origins", list)
		}
	}
}

func validate(config *Config) error {
	if config.Environment != "test" {
		if config.Circle.APIKey == "" {
			return fmt.Errorf("circle api key is required")
		}
		if config.Circle.EntitySecret == "" {
			return fmt.Errorf("circle entity secret is required")
		}
		if config.Circle.WalletSetID == "" {
			return fmt.Errorf("circle wallet set id is required")
		}
	}

	if len(config.CCTP.Chains) == 0 {
		return fmt.Errorf("cctp chains configuration is required")
	}
	for name, chain := range config.CCTP.Chains {
		for field, addr := range map[string]string{
			"usdc":                chain.USDC,
			"token_messenger":     chain.TokenMessenger,
			"message_transmitter": chain.MessageTransmitter,
		} {
			if !common.IsHexAddress(addr) {
				return fmt.Errorf("cctp chain %s: %s %q is not a valid address", name, field, addr)
			}
		}
	}

	if config.CCTP.MaxFeeDivisor <= 0 {
		return fmt.Errorf("cctp max fee divisor must be positive")
	}
	if config.Polling.Transaction.MaxAttempts <= 0 || config.Polling.Attestation.MaxAttempts <= 0 {
		return fmt.Errorf("polling attempts must be positive")
	}
	switch config.Session.Store {
	case "redis", "memory":
	default:
		return fmt.Errorf("session store must be redis or memory, got %q", config.Session.Store)
	}

	return nil
}
