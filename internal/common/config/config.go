// Package config provides configuration management for the connector
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openidx/connector/internal/calendar"
	"github.com/openidx/connector/internal/directory"
)

// Config holds all configuration for the application
type Config struct {
	// Service identification
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
	Port        int    `mapstructure:"port"`
	LogLevel    string `mapstructure:"log_level"`

	// SyncTimeoutSeconds bounds a sync_users command
	SyncTimeoutSeconds int `mapstructure:"sync_timeout_seconds"`

	Backend   BackendConfig   `mapstructure:"backend"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Calendar  CalendarConfig  `mapstructure:"calendar"`
}

// BackendConfig describes the control plane the connector dials
type BackendConfig struct {
	URL                      string `mapstructure:"url"`     // ws:// or wss:// endpoint
	APIKey                   string `mapstructure:"api_key"` // sent as the token query parameter
	HeartbeatIntervalSeconds int    `mapstructure:"heartbeat_interval"`
	InsecureSkipVerify       bool   `mapstructure:"insecure_skip_verify"`
	AutoStart                bool   `mapstructure:"auto_start"` // open the session at boot
}

// DirectoryConfig holds LDAP / Active Directory settings
type DirectoryConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	UseTLS         bool   `mapstructure:"use_tls"`
	StartTLS       bool   `mapstructure:"start_tls"`
	SkipTLSVerify  bool   `mapstructure:"skip_tls_verify"`
	BindUser       string `mapstructure:"bind_user"`
	BindPassword   string `mapstructure:"bind_password"`
	BaseDN         string `mapstructure:"base_dn"`
	UsersBaseDN    string `mapstructure:"users_base_dn"`
	PageSize       int    `mapstructure:"page_size"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// CalendarConfig holds Exchange Web Services settings
type CalendarConfig struct {
	URL                 string `mapstructure:"url"`
	Username            string `mapstructure:"username"`
	Password            string `mapstructure:"password"`
	SkipTLSVerify       bool   `mapstructure:"skip_tls_verify"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	BreakerThreshold    int    `mapstructure:"breaker_threshold"`
	BreakerResetSeconds int    `mapstructure:"breaker_reset_seconds"`
}

// Load reads configuration from file and environment variables
func Load(serviceName string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Read from config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/connector")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Read from environment variables
	v.SetEnvPrefix("CONNECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Also support the unprefixed variables of earlier deployments
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.ServiceName = serviceName

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Service defaults
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("port", 8090)
	v.SetDefault("sync_timeout_seconds", 300)

	// Backend defaults
	v.SetDefault("backend.url", "ws://localhost:8080/ws/connector")
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.heartbeat_interval", 30)
	v.SetDefault("backend.insecure_skip_verify", false)
	v.SetDefault("backend.auto_start", false)

	// Directory defaults
	v.SetDefault("directory.host", "localhost")
	v.SetDefault("directory.port", 389)
	v.SetDefault("directory.use_tls", false)
	v.SetDefault("directory.start_tls", false)
	v.SetDefault("directory.skip_tls_verify", false)
	v.SetDefault("directory.bind_user", "")
	v.SetDefault("directory.bind_password", "")
	v.SetDefault("directory.base_dn", "DC=example,DC=local")
	v.SetDefault("directory.users_base_dn", "")
	v.SetDefault("directory.page_size", 500)
	v.SetDefault("directory.timeout_seconds", 30)

	// Calendar defaults
	v.SetDefault("calendar.url", "")
	v.SetDefault("calendar.username", "")
	v.SetDefault("calendar.password", "")
	v.SetDefault("calendar.skip_tls_verify", false)
	v.SetDefault("calendar.timeout_seconds", 30)
	v.SetDefault("calendar.breaker_threshold", 5)
	v.SetDefault("calendar.breaker_reset_seconds", 30)
}

func bindEnvVars(v *viper.Viper) {
	envMappings := map[string]string{
		"environment":             "APP_ENV",
		"log_level":               "LOG_LEVEL",
		"port":                    "PORT",
		"backend.url":             "BACKEND_URL",
		"backend.api_key":         "API_KEY",
		"directory.bind_user":     "AD_BIND_USER",
		"directory.bind_password": "AD_BIND_PASSWORD",
		"calendar.username":       "EWS_USERNAME",
		"calendar.password":       "EWS_PASSWORD",
	}

	for key, env := range envMappings {
		// The prefixed variable keeps precedence over the legacy one
		v.BindEnv(key, "CONNECTOR_"+strings.ToUpper(strings.NewReplacer(".", "_").Replace(key)), env)
	}
}

func validate(cfg *Config) error {
	u, err := url.Parse(cfg.Backend.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("backend.url must be a ws:// or wss:// URL")
	}
	if cfg.Directory.Host == "" {
		return fmt.Errorf("directory.host is required")
	}
	if cfg.Directory.BaseDN == "" {
		return fmt.Errorf("directory.base_dn is required")
	}
	if cfg.Directory.Port < 1 || cfg.Directory.Port > 65535 {
		return fmt.Errorf("directory.port must be between 1 and 65535")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if cfg.SyncTimeoutSeconds < 0 || cfg.Backend.HeartbeatIntervalSeconds < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// LDAP converts the directory section into the directory package configuration
func (c *Config) LDAP() directory.LDAPConfig {
	d := c.Directory
	return directory.LDAPConfig{
		Host:          d.Host,
		Port:          d.Port,
		UseTLS:        d.UseTLS,
		StartTLS:      d.StartTLS,
		SkipTLSVerify: d.SkipTLSVerify,
		BindUser:      d.BindUser,
		BindPassword:  d.BindPassword,
		BaseDN:        d.BaseDN,
		UserBaseDN:    d.UsersBaseDN,
		PageSize:      d.PageSize,
		Timeout:       time.Duration(d.TimeoutSeconds) * time.Second,
	}
}

// EWS converts the calendar section into the calendar package configuration
func (c *Config) EWS() calendar.Config {
	cal := c.Calendar
	return calendar.Config{
		URL:           cal.URL,
		Username:      cal.Username,
		Password:      cal.Password,
		SkipTLSVerify: cal.SkipTLSVerify,
		Timeout:       time.Duration(cal.TimeoutSeconds) * time.Second,
	}
}

// SyncTimeout returns the sync_users deadline
func (c *Config) SyncTimeout() time.Duration {
	return time.Duration(c.SyncTimeoutSeconds) * time.Second
}

// HeartbeatInterval returns the heartbeat period, zero when disabled
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Backend.HeartbeatIntervalSeconds) * time.Second
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}
