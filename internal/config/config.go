// Package config loads the Harrier configuration from defaults, an optional
// YAML file, HARRIER_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/opensource-finance/harrier/internal/domain"
)

// EnvPrefix is prepended to every environment variable, e.g. HARRIER_SERVER_PORT.
const EnvPrefix = "HARRIER"

// Loader resolves configuration with precedence flag > env > file > tier defaults.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader bound to HARRIER_* environment variables.
func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// BindFlag overrides key with flag when the flag is set on the command line.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("no flag for config key %q", key)
	}
	return l.v.BindPFlag(key, flag)
}

// Load reads path (optional) and returns the merged configuration.
// The tier key picks the base: "pro" starts from domain.ProConfig.
func (l *Loader) Load(path string) (*domain.Config, error) {
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		l.v.SetConfigName("harrier")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("/etc/harrier")
		if err := l.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	base := domain.DefaultConfig()
	if domain.Tier(strings.ToLower(l.v.GetString("tier"))) == domain.TierPro {
		base = domain.ProConfig()
	}
	setDefaults(l.v, base)

	cfg := &domain.Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFileUsed returns the file that was read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Load is a shorthand for NewLoader().Load(path).
func Load(path string) (*domain.Config, error) {
	return NewLoader().Load(path)
}

// Validate rejects settings that no component could start with.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported repository driver: %s", cfg.Repository.Driver)
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache type: %s", cfg.Cache.Type)
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("unsupported event bus type: %s", cfg.EventBus.Type)
	}
	switch cfg.Classifier.Type {
	case "cel", "http", "nats":
	default:
		return fmt.Errorf("unsupported classifier type: %s", cfg.Classifier.Type)
	}
	if cfg.Classifier.Timeout <= 0 {
		return fmt.Errorf("classifier timeout must be positive")
	}
	if cfg.Quota.MaxSubmissions < 0 {
		return fmt.Errorf("quota maxSubmissions must not be negative")
	}
	if cfg.Quota.MaxSubmissions > 0 && cfg.Quota.Window <= 0 {
		return fmt.Errorf("quota window must be positive when a quota is set")
	}
	return nil
}

// setDefaults registers every key so environment variables reach Unmarshal.
func setDefaults(v *viper.Viper, c *domain.Config) {
	v.SetDefault("tier", string(c.Tier))

	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.readTimeout", c.Server.ReadTimeout)
	v.SetDefault("server.writeTimeout", c.Server.WriteTimeout)
	v.SetDefault("server.allowedOrigins", c.Server.AllowedOrigins)

	v.SetDefault("repository.driver", c.Repository.Driver)
	v.SetDefault("repository.sqlitePath", c.Repository.SQLitePath)
	v.SetDefault("repository.postgresHost", c.Repository.PostgresHost)
	v.SetDefault("repository.postgresPort", c.Repository.PostgresPort)
	v.SetDefault("repository.postgresUser", c.Repository.PostgresUser)
	v.SetDefault("repository.postgresPassword", c.Repository.PostgresPassword)
	v.SetDefault("repository.postgresDb", c.Repository.PostgresDB)
	v.SetDefault("repository.postgresSslMode", c.Repository.PostgresSSLMode)
	v.SetDefault("repository.maxOpenConns", c.Repository.MaxOpenConns)
	v.SetDefault("repository.maxIdleConns", c.Repository.MaxIdleConns)
	v.SetDefault("repository.connMaxLifetime", c.Repository.ConnMaxLifetime)

	v.SetDefault("cache.type", c.Cache.Type)
	v.SetDefault("cache.localMaxSize", c.Cache.LocalMaxSize)
	v.SetDefault("cache.redisAddr", c.Cache.RedisAddr)
	v.SetDefault("cache.redisPassword", c.Cache.RedisPassword)
	v.SetDefault("cache.redisDb", c.Cache.RedisDB)
	v.SetDefault("cache.localFallback", c.Cache.LocalFallback)

	v.SetDefault("eventBus.type", c.EventBus.Type)
	v.SetDefault("eventBus.channelBufferSize", c.EventBus.ChannelBufferSize)
	v.SetDefault("eventBus.natsUrl", c.EventBus.NATSUrl)
	v.SetDefault("eventBus.natsToken", c.EventBus.NATSToken)
	v.SetDefault("eventBus.natsMaxReconnects", c.EventBus.NATSMaxReconnects)
	v.SetDefault("eventBus.natsReconnectWait", c.EventBus.NATSReconnectWait)

	v.SetDefault("classifier.type", c.Classifier.Type)
	v.SetDefault("classifier.modelPath", c.Classifier.ModelPath)
	v.SetDefault("classifier.url", c.Classifier.URL)
	v.SetDefault("classifier.timeout", c.Classifier.Timeout)
	v.SetDefault("classifier.positiveLabel", c.Classifier.PositiveLabel)

	v.SetDefault("worker.enabled", c.Worker.Enabled)
	v.SetDefault("worker.accountIds", c.Worker.AccountIDs)

	v.SetDefault("auth.jwtSecret", c.Auth.JWTSecret)

	v.SetDefault("quota.maxSubmissions", c.Quota.MaxSubmissions)
	v.SetDefault("quota.window", c.Quota.Window)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.format", c.Logging.Format)

	v.SetDefault("tracing.enabled", c.Tracing.Enabled)
	v.SetDefault("tracing.serviceName", c.Tracing.ServiceName)
}
