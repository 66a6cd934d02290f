package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Currency CurrencyConfig `mapstructure:"currency"`
	Lark     LarkConfig     `mapstructure:"lark"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// EngineConfig holds approval engine tunables
type EngineConfig struct {
	EscalationTimeout time.Duration `mapstructure:"escalation_timeout"`
	ReminderWindow    time.Duration `mapstructure:"reminder_window"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	RetentionAge      time.Duration `mapstructure:"retention_age"`
	RetentionInterval time.Duration `mapstructure:"retention_interval"`
}

// CurrencyConfig holds the static conversion rate table. Rates are quoted
// against USD; a missing rate makes conversion fail and submission falls
// back to the original amount.
type CurrencyConfig struct {
	Rates map[string]float64 `mapstructure:"rates"`
}

// LarkConfig holds the Lark notification channel configuration
type LarkConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("database.path", "data/approval.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("database.migrations_dir", "migrations")

	viper.SetDefault("engine.escalation_timeout", 48*time.Hour)
	viper.SetDefault("engine.reminder_window", 48*time.Hour)
	viper.SetDefault("engine.sweep_interval", 15*time.Minute)
	viper.SetDefault("engine.cache_ttl", 5*time.Minute)
	viper.SetDefault("engine.retention_age", 90*24*time.Hour)
	viper.SetDefault("engine.retention_interval", 24*time.Hour)

	viper.SetDefault("currency.rates", map[string]float64{"USD": 1.0})

	viper.SetDefault("lark.enabled", false)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

func bindEnvVars() {
	viper.BindEnv("lark.app_id", "LARK_APP_ID")
	viper.BindEnv("lark.app_secret", "LARK_APP_SECRET")
	viper.BindEnv("database.path", "DATABASE_PATH")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Lark.Enabled {
		if c.Lark.AppID == "" {
			return fmt.Errorf("lark.app_id is required when lark is enabled")
		}
		if c.Lark.AppSecret == "" {
			return fmt.Errorf("lark.app_secret is required when lark is enabled")
		}
	}

	if c.Engine.EscalationTimeout <= 0 {
		return fmt.Errorf("engine.escalation_timeout must be positive")
	}
	if c.Engine.ReminderWindow <= 0 {
		return fmt.Errorf("engine.reminder_window must be positive")
	}

	if len(c.Currency.Rates) == 0 {
		return fmt.Errorf("currency.rates must not be empty")
	}

	return nil
}
