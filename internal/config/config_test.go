package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			TriggerSecret: "s3cret",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     3306,
			User:     "mailwatch",
			Password: "password",
			DBName:   "mailwatch",
		},
		Scheduler: SchedulerConfig{
			IntervalMinutes: 5,
			MaxConcurrent:   4,
		},
		Notify: NotifyConfig{
			MaxRetries: 3,
		},
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing port", func(c *Config) { c.Server.Port = "" }, "server port"},
		{"missing trigger secret", func(c *Config) { c.Server.TriggerSecret = "" }, "trigger secret"},
		{"missing db host", func(c *Config) { c.Database.Host = "" }, "database"},
		{"missing db user", func(c *Config) { c.Database.User = "" }, "database"},
		{"missing db name", func(c *Config) { c.Database.DBName = "" }, "database"},
		{"zero interval", func(c *Config) { c.Scheduler.IntervalMinutes = 0 }, "interval"},
		{"zero concurrency", func(c *Config) { c.Scheduler.MaxConcurrent = 0 }, "concurrent"},
		{"negative retries", func(c *Config) { c.Notify.MaxRetries = -1 }, "retries"},
		{"quota enabled without url", func(c *Config) { c.Quota.Enabled = true }, "quota"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGetDSN(t *testing.T) {
	db := DatabaseConfig{
		Host:     "db.example.com",
		Port:     3306,
		User:     "mailwatch",
		Password: "secret",
		DBName:   "mailwatch",
	}

	dsn := db.GetDSN()
	assert.Equal(t, "mailwatch:secret@tcp(db.example.com:3306)/mailwatch?charset=utf8mb4&parseTime=True&loc=Local", dsn)
}
