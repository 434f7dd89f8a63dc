package config

import (
	"github.com/garyjia/wfm-approvals/internal/application/calendar"
	"github.com/garyjia/wfm-approvals/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
		Definitions: container.DefinitionsConfig{Dir: c.Definitions.Dir},
		Engine:      container.EngineConfig{MaxAutoHops: c.Engine.MaxAutoHops},
		Scheduler: container.SchedulerConfig{
			Interval:    c.Scheduler.Interval,
			BatchSize:   c.Scheduler.BatchSize,
			ManualRoles: c.Scheduler.ManualRoles,
		},
		Outbox: container.OutboxConfig{
			PollInterval:    c.Outbox.PollInterval,
			BatchSize:       c.Outbox.BatchSize,
			MaxAttempts:     c.Outbox.MaxAttempts,
			BaseBackoff:     c.Outbox.BaseBackoff,
			MaxBackoff:      c.Outbox.MaxBackoff,
			DeliveryTimeout: c.Outbox.DeliveryTimeout,
		},
		Calendar: container.CalendarConfig{
			Static: c.Calendar.Config,
			Breaker: calendar.BreakerSettings{
				MaxRequests:         c.Calendar.Breaker.MaxRequests,
				Interval:            c.Calendar.Breaker.Interval,
				Timeout:             c.Calendar.Breaker.Timeout,
				ConsecutiveFailures: c.Calendar.Breaker.ConsecutiveFailures,
			},
		},
		Directory: c.Directory,
		Lark: container.LarkConfig{
			AppID:         c.Lark.AppID,
			AppSecret:     c.Lark.AppSecret,
			ReceiveIDType: c.Lark.ReceiveIDType,
			Templates:     c.Lark.Templates,
		},
	}
}
