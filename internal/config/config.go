package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	infracal "github.com/garyjia/wfm-approvals/internal/infrastructure/calendar"
	"github.com/garyjia/wfm-approvals/internal/infrastructure/directory"
)

// EnvPrefix prefixes every environment override, e.g. WFM_SERVER_PORT
const EnvPrefix = "WFM"

// Config holds all application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	Definitions DefinitionsConfig `mapstructure:"definitions"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Outbox      OutboxConfig      `mapstructure:"outbox"`
	Calendar    CalendarConfig    `mapstructure:"calendar"`
	Directory   directory.Config  `mapstructure:"directory"`
	Lark        LarkConfig        `mapstructure:"lark"`
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
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// DefinitionsConfig locates the workflow definition files
type DefinitionsConfig struct {
	Dir string `mapstructure:"dir"`
}

// EngineConfig tunes the state machine executor
type EngineConfig struct {
	MaxAutoHops int `mapstructure:"max_auto_hops"`
}

// SchedulerConfig holds escalation sweep configuration
type SchedulerConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	BatchSize   int           `mapstructure:"batch_size"`
	ManualRoles []string      `mapstructure:"manual_roles"`
}

// OutboxConfig holds outbox delivery configuration
type OutboxConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BaseBackoff     time.Duration `mapstructure:"base_backoff"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
}

// CalendarConfig is the static business calendar plus its circuit breaker
type CalendarConfig struct {
	infracal.Config `mapstructure:",squash"`
	Breaker         BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	MaxRequests         uint32        `mapstructure:"max_requests"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
}

// LarkConfig holds Lark messaging configuration
type LarkConfig struct {
	AppID         string            `mapstructure:"app_id"`
	AppSecret     string            `mapstructure:"app_secret"`
	ReceiveIDType string            `mapstructure:"receive_id_type"`
	Templates     map[string]string `mapstructure:"templates"`
}

// Load loads configuration from file and environment variables. An empty
// configPath uses defaults and the environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.path", "data/wfm.db")
	v.SetDefault("database.max_open_conns", 8)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("definitions.dir", "configs/workflows")
	v.SetDefault("engine.max_auto_hops", 16)

	v.SetDefault("scheduler.interval", time.Minute)
	v.SetDefault("scheduler.batch_size", 100)

	v.SetDefault("outbox.poll_interval", 5*time.Second)
	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.max_attempts", 8)
	v.SetDefault("outbox.base_backoff", 30*time.Second)
	v.SetDefault("outbox.max_backoff", time.Hour)
	v.SetDefault("outbox.delivery_timeout", 30*time.Second)

	cal := infracal.DefaultConfig()
	v.SetDefault("calendar.timezone", cal.Timezone)
	v.SetDefault("calendar.days", cal.Days)
	v.SetDefault("calendar.hours.start", cal.Hours.Start)
	v.SetDefault("calendar.hours.end", cal.Hours.End)
	v.SetDefault("calendar.breaker.max_requests", 1)
	v.SetDefault("calendar.breaker.interval", time.Minute)
	v.SetDefault("calendar.breaker.timeout", 30*time.Second)
	v.SetDefault("calendar.breaker.consecutive_failures", 5)

	v.SetDefault("lark.receive_id_type", "user_id")
}

// bindEnvVars binds the credentials that are conventionally unprefixed
func bindEnvVars(v *viper.Viper) error {
	if err := v.BindEnv("lark.app_id", "WFM_LARK_APP_ID", "LARK_APP_ID"); err != nil {
		return err
	}
	return v.BindEnv("lark.app_secret", "WFM_LARK_APP_SECRET", "LARK_APP_SECRET")
}

var receiveIDTypes = map[string]bool{
	"open_id":  true,
	"user_id":  true,
	"union_id": true,
	"email":    true,
	"chat_id":  true,
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Logger.Format != "json" && c.Logger.Format != "console" {
		return fmt.Errorf("logger.format must be json or console")
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
	if c.Outbox.MaxBackoff < c.Outbox.BaseBackoff {
		return fmt.Errorf("outbox.max_backoff must not be below outbox.base_backoff")
	}

	if _, err := infracal.NewStaticCalendar(c.Calendar.Config); err != nil {
		return fmt.Errorf("calendar: %w", err)
	}

	if (c.Lark.AppID == "") != (c.Lark.AppSecret == "") {
		return fmt.Errorf("lark.app_id and lark.app_secret must be set together")
	}
	if !receiveIDTypes[c.Lark.ReceiveIDType] {
		return fmt.Errorf("lark.receive_id_type %q is not supported", c.Lark.ReceiveIDType)
	}

	return nil
}
