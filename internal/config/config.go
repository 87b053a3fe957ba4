package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Cron   CronConfig   `mapstructure:"cron"`

	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
	// Shared secret required on /internal/* executor callbacks.
	InternalSecret string `mapstructure:"internal_secret"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	StrategyTriggers string `mapstructure:"strategy_triggers"`
	SessionCleanup   string `mapstructure:"session_cleanup"`
}

type SchedulerConfig struct {
	// Max due strategies picked up per tick.
	BatchLimit int `mapstructure:"batch_limit"`
}

type PolicyConfig struct {
	// When disabled, the autonomous path skips the remote pre-check and
	// relies entirely on the executor's own policy enforcement.
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type EngineConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	InternalSecret string        `mapstructure:"internal_secret"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type SessionsConfig struct {
	// How far past valid_until a session may sit before the cleanup pass
	// marks it expired. Zero means expire exactly at valid_until.
	ExpiryGrace time.Duration `mapstructure:"expiry_grace"`
}

type AuditConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.internal_secret", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.strategy_triggers", "@every 1m")
	v.SetDefault("cron.session_cleanup", "@every 1h")
	v.SetDefault("scheduler.batch_limit", 200)
	v.SetDefault("policy.enabled", true)
	v.SetDefault("policy.base_url", "")
	v.SetDefault("policy.timeout", "10s")
	v.SetDefault("engine.base_url", "")
	v.SetDefault("engine.internal_secret", "")
	v.SetDefault("engine.timeout", "15s")
	v.SetDefault("sessions.expiry_grace", "0s")
	v.SetDefault("audit.base_url", "")
	v.SetDefault("audit.api_key", "")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
