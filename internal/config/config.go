package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Transport TransportConfig `yaml:"transport"`
	Gmail     GmailConfig     `yaml:"gmail"`
	SES       SESConfig       `yaml:"ses"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	App       AppConfig       `yaml:"app"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with environment override
func (c ServerConfig) GetHost() string {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the sqlite store location
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig holds the follow-up scheduler loop configuration
type SchedulerConfig struct {
	TickSeconds int    `yaml:"tick_seconds"`
	InputTZ     string `yaml:"input_tz"`
	PerUserCap  int    `yaml:"per_user_cap"`
}

// TickInterval returns the loop period as a duration
func (c SchedulerConfig) TickInterval() time.Duration {
	return time.Duration(c.TickSeconds) * time.Second
}

// TransportConfig selects the outbound follow-up email transport
type TransportConfig struct {
	Mode           string `yaml:"mode"` // "gmail" or "ses"
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured send timeout as a duration
func (c TransportConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GmailConfig holds the OAuth client used to refresh per-user Gmail tokens
type GmailConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// Configured reports whether Gmail token refresh can work
func (c GmailConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
}

// SMTPConfig holds the account-mail transport (verification, password reset)
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Addr returns the host:port dial address
func (c SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Configured reports whether account mail can be sent
func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.Port != 0
}

// AppConfig holds application-level settings used in outbound links
type AppConfig struct {
	BaseURL string `yaml:"base_url"`
}

// RedisConfig holds the optional daily-cap limiter backend
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether the Redis-backed daily limiter is configured
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// AuthConfig holds session authentication configuration
type AuthConfig struct {
	SessionSecret string `yaml:"session_secret"`
	CookieName    string `yaml:"cookie_name"`
	CookieMaxAge  int    `yaml:"cookie_max_age"`
}

// CookieTTL returns the session cookie lifetime as a duration
func (c AuthConfig) CookieTTL() time.Duration {
	return time.Duration(c.CookieMaxAge) * time.Second
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/followup.db"
	}
	if cfg.Scheduler.TickSeconds == 0 {
		cfg.Scheduler.TickSeconds = 30
	}
	if cfg.Scheduler.InputTZ == "" {
		cfg.Scheduler.InputTZ = "Africa/Lagos"
	}
	if cfg.Scheduler.PerUserCap == 0 {
		cfg.Scheduler.PerUserCap = 50
	}
	if cfg.Transport.Mode == "" {
		cfg.Transport.Mode = "gmail"
	}
	if cfg.Transport.TimeoutSeconds == 0 {
		cfg.Transport.TimeoutSeconds = 30
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}
	if cfg.App.BaseURL == "" {
		cfg.App.BaseURL = "http://localhost:8080"
	}
	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = "followup_session"
	}
	if cfg.Auth.CookieMaxAge == 0 {
		cfg.Auth.CookieMaxAge = 7 * 24 * 3600
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TICK_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Scheduler.TickSeconds = secs
		}
	}
	if v := os.Getenv("INPUT_TZ"); v != "" {
		cfg.Scheduler.InputTZ = v
	}
	if v := os.Getenv("TRANSPORT_MODE"); v != "" {
		cfg.Transport.Mode = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Gmail.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Gmail.ClientSecret = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("SES_FROM_EMAIL"); v != "" {
		cfg.SES.FromEmail = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.SMTP.Port = port
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.SMTP.User = v
	}
	if v := os.Getenv("SMTP_PASS"); v != "" {
		cfg.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.SMTP.From = v
	}
	if v := os.Getenv("APP_BASE_URL"); v != "" {
		cfg.App.BaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		cfg.Auth.SessionSecret = v
	}

	return cfg, nil
}

// Validate checks that required values are present for server startup
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path (DB_PATH) is required")
	}
	if c.Auth.SessionSecret == "" {
		return fmt.Errorf("auth.session_secret (SESSION_SECRET) is required")
	}
	if c.Transport.Mode != "gmail" && c.Transport.Mode != "ses" {
		return fmt.Errorf("transport.mode must be \"gmail\" or \"ses\", got %q", c.Transport.Mode)
	}
	if c.Transport.Mode == "ses" && c.SES.FromEmail == "" {
		return fmt.Errorf("ses.from_email (SES_FROM_EMAIL) is required when transport.mode is \"ses\"")
	}
	return nil
}
