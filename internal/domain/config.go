package domain

import "time"

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server"`

	// Tier determines default backends
	Tier Tier `mapstructure:"tier"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository"`
	Cache      CacheConfig      `mapstructure:"cache"`
	EventBus   EventBusConfig   `mapstructure:"eventBus"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Worker     WorkerConfig     `mapstructure:"worker"`

	// Request surface
	Auth  AuthConfig  `mapstructure:"auth"`
	Quota QuotaConfig `mapstructure:"quota"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	ReadTimeout    int      `mapstructure:"readTimeout"`  // seconds
	WriteTimeout   int      `mapstructure:"writeTimeout"` // seconds
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

// ClassifierConfig selects and configures the classification oracle.
type ClassifierConfig struct {
	// Type is the oracle type: "cel", "http" or "nats"
	Type string `mapstructure:"type"`

	// ModelPath is the CEL model artifact (type "cel").
	ModelPath string `mapstructure:"modelPath"`

	// URL is the scoring endpoint (type "http").
	URL string `mapstructure:"url"`

	// Timeout bounds a single oracle call. Elapsing counts as unavailable.
	Timeout time.Duration `mapstructure:"timeout"`

	// PositiveLabel is the oracle output that means fraud.
	PositiveLabel int `mapstructure:"positiveLabel"`
}

// WorkerConfig controls async submission processing.
type WorkerConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// AccountIDs to subscribe for; empty subscribes to the system-wide topic.
	AccountIDs []string `mapstructure:"accountIds"`
}

// AuthConfig controls how the account id is obtained from a request.
type AuthConfig struct {
	// JWTSecret enables HS256 bearer tokens; the "sub" claim is the account id.
	// When empty the trusted X-Account-ID header is used.
	JWTSecret string `mapstructure:"jwtSecret"`
}

// QuotaConfig limits submissions per account.
type QuotaConfig struct {
	MaxSubmissions int64         `mapstructure:"maxSubmissions"` // 0 disables
	Window         time.Duration `mapstructure:"window"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-process cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30,
			WriteTimeout:   30,
			AllowedOrigins: []string{"*"},
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Classifier: ClassifierConfig{
			Type:          "cel",
			ModelPath:     "./model/payments.cel",
			Timeout:       2 * time.Second,
			PositiveLabel: 1,
		},
		Quota: QuotaConfig{
			MaxSubmissions: 0,
			Window:         time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:          "redis",
		RedisAddr:     "localhost:6379",
		LocalFallback: true,
		LocalMaxSize:  1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}
