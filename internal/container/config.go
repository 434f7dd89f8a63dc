// Package container provides dependency injection and lifecycle management
// for the approval workflow service.
package container

import (
	"fmt"
	"time"

	"github.com/garyjia/wfm-approvals/internal/application/calendar"
	infracal "github.com/garyjia/wfm-approvals/internal/infrastructure/calendar"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/directory"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig

	// Definitions is the directory of workflow YAML files published at start
	Definitions DefinitionsConfig

	Engine    EngineConfig
	Scheduler SchedulerConfig
	Outbox    OutboxConfig
	Calendar  CalendarConfig
	Directory directory.Config
	Lark      LarkConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefinitionsConfig locates workflow definition files.
type DefinitionsConfig struct {
	Dir string
}

// EngineConfig tunes the state machine executor.
type EngineConfig struct {
	// MaxAutoHops bounds chained automatic transitions within one call
	MaxAutoHops int
}

// SchedulerConfig holds escalation sweep settings.
type SchedulerConfig struct {
	Interval  time.Duration
	BatchSize int

	// ManualRoles may escalate instances on request; empty allows anyone
	ManualRoles []string
}

// OutboxConfig holds outbox delivery settings.
type OutboxConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	MaxAttempts     int
	BaseBackoff     time.Duration
	MaxBackoff      time.Duration
	DeliveryTimeout time.Duration
}

// CalendarConfig is the business calendar and the breaker guarding it.
type CalendarConfig struct {
	Static  infracal.Config
	Breaker calendar.BreakerSettings
}

// LarkConfig holds Lark messaging settings. Notifications go to the log
// when no credentials are configured.
type LarkConfig struct {
	AppID         string
	AppSecret     string
	ReceiveIDType string

	// Templates maps notification template names to text/template bodies
	Templates map[string]string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/wfm.db",
			MaxOpenConns:    8,
			MaxIdleConns:    4,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Definitions: DefinitionsConfig{Dir: "configs/workflows"},
		Engine:      EngineConfig{MaxAutoHops: 16},
		Scheduler: SchedulerConfig{
			Interval:  time.Minute,
			BatchSize: 100,
		},
		Outbox: OutboxConfig{
			PollInterval:    5 * time.Second,
			BatchSize:       50,
			MaxAttempts:     8,
			BaseBackoff:     30 * time.Second,
			MaxBackoff:      time.Hour,
			DeliveryTimeout: 30 * time.Second,
		},
		Calendar: CalendarConfig{
			Static:  infracal.DefaultConfig(),
			Breaker: calendar.DefaultBreakerSettings(),
		},
		Lark: LarkConfig{ReceiveIDType: "user_id"},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	if c.Outbox.PollInterval <= 0 {
		return fmt.Errorf("outbox.poll_interval must be positive")
	}
	if c.Outbox.MaxAttempts <= 0 {
		return fmt.Errorf("outbox.max_attempts must be positive")
	}
	if (c.Lark.AppID == "") != (c.Lark.AppSecret == "") {
		return fmt.Errorf("lark.app_id and lark.app_secret must be set together")
	}
	return nil
}
