package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Mailbox   MailboxConfig   `mapstructure:"mailbox"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Spam      SpamConfig      `mapstructure:"spam"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          string        `mapstructure:"port"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	TriggerSecret string        `mapstructure:"trigger_secret"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// MailboxConfig holds IMAP client defaults shared by all tenants
type MailboxConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	FallbackWindow time.Duration `mapstructure:"fallback_window"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	IntervalMinutes    int           `mapstructure:"interval_minutes"`
	MaxConcurrent      int           `mapstructure:"max_concurrent"`
	RunDeadline        time.Duration `mapstructure:"run_deadline"`
	RetrySweepInterval time.Duration `mapstructure:"retry_sweep_interval"`
}

// NotifyConfig holds outbound notification configuration
type NotifyConfig struct {
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffCeiling time.Duration `mapstructure:"backoff_ceiling"`
	SendTimeout    time.Duration `mapstructure:"send_timeout"`

	SMSGatewayURL   string `mapstructure:"sms_gateway_url"`
	SMSGatewayKey   string `mapstructure:"sms_gateway_key"`
	TelegramToken   string `mapstructure:"telegram_token"`
	SlackWebhookURL string `mapstructure:"slack_webhook_url"`
}

// QuotaConfig holds usage-quota service configuration
type QuotaConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SpamConfig holds spam scoring configuration
type SpamConfig struct {
	BlacklistedDomains []string `mapstructure:"blacklisted_domains"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)

	viper.SetDefault("mailbox.connect_timeout", "15s")
	viper.SetDefault("mailbox.fallback_window", "24h")

	viper.SetDefault("scheduler.interval_minutes", 5)
	viper.SetDefault("scheduler.max_concurrent", 4)
	viper.SetDefault("scheduler.run_deadline", "4m")
	viper.SetDefault("scheduler.retry_sweep_interval", "1m")

	viper.SetDefault("notify.max_retries", 3)
	viper.SetDefault("notify.backoff_base", "30s")
	viper.SetDefault("notify.backoff_ceiling", "10m")
	viper.SetDefault("notify.send_timeout", "10s")

	viper.SetDefault("quota.enabled", false)
	viper.SetDefault("quota.timeout", "5s")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")
	viper.BindEnv("server.trigger_secret", "TRIGGER_SECRET")

	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")

	viper.BindEnv("mailbox.connect_timeout", "MAILBOX_CONNECT_TIMEOUT")
	viper.BindEnv("mailbox.fallback_window", "MAILBOX_FALLBACK_WINDOW")

	viper.BindEnv("scheduler.interval_minutes", "SCHEDULER_INTERVAL_MINUTES")
	viper.BindEnv("scheduler.max_concurrent", "SCHEDULER_MAX_CONCURRENT")
	viper.BindEnv("scheduler.run_deadline", "SCHEDULER_RUN_DEADLINE")
	viper.BindEnv("scheduler.retry_sweep_interval", "SCHEDULER_RETRY_SWEEP_INTERVAL")

	viper.BindEnv("notify.max_retries", "NOTIFY_MAX_RETRIES")
	viper.BindEnv("notify.backoff_base", "NOTIFY_BACKOFF_BASE")
	viper.BindEnv("notify.backoff_ceiling", "NOTIFY_BACKOFF_CEILING")
	viper.BindEnv("notify.send_timeout", "NOTIFY_SEND_TIMEOUT")
	viper.BindEnv("notify.sms_gateway_url", "NOTIFY_SMS_GATEWAY_URL")
	viper.BindEnv("notify.sms_gateway_key", "NOTIFY_SMS_GATEWAY_KEY")
	viper.BindEnv("notify.telegram_token", "NOTIFY_TELEGRAM_TOKEN")
	viper.BindEnv("notify.slack_webhook_url", "NOTIFY_SLACK_WEBHOOK_URL")

	viper.BindEnv("quota.enabled", "QUOTA_ENABLED")
	viper.BindEnv("quota.base_url", "QUOTA_BASE_URL")
	viper.BindEnv("quota.timeout", "QUOTA_TIMEOUT")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Server.TriggerSecret == "" {
		return fmt.Errorf("trigger secret is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	if c.Scheduler.MaxConcurrent <= 0 {
		return fmt.Errorf("scheduler max concurrent workers must be greater than 0")
	}

	if c.Notify.MaxRetries < 0 {
		return fmt.Errorf("notify max retries must not be negative")
	}

	if c.Quota.Enabled && c.Quota.BaseURL == "" {
		return fmt.Errorf("quota base URL is required when quota checks are enabled")
	}

	return nil
}
