// Package config loads application configuration with multi-source
// priority: environment variables override the config file, which
// overrides built-in defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidPort indicates the HTTP port is out of range.
	ErrInvalidPort = errors.New("invalid port")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidMaxDepth indicates the recursion depth bound is out of range.
	ErrInvalidMaxDepth = errors.New("invalid max recursion depth")

	// ErrMissingAPIKey indicates no model provider API key is configured.
	ErrMissingAPIKey = errors.New("missing API key")
)

// Config stores application configuration.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Log       Log       `mapstructure:"log"`
	Postgres  Postgres  `mapstructure:"postgres"`
	Anthropic Anthropic `mapstructure:"anthropic"`
	OpenAI    OpenAI    `mapstructure:"openai"`
	Forward   Forward   `mapstructure:"forward"`
}

// Server configures the HTTP listener.
type Server struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns the listen address.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Log configures logging output.
type Log struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Postgres configures the database connection.
type Postgres struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// URL returns the postgres:// connection URL for pgx and
// golang-migrate. Credentials are URL-encoded.
func (p Postgres) URL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:     p.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s", p.SSLMode),
	}
	return u.String()
}

// Anthropic configures the Claude agent.
type Anthropic struct {
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	Model        string `mapstructure:"model"`
	MaxTokens    int64  `mapstructure:"max_tokens"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

// OpenAI configures the GPT agent.
type OpenAI struct {
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	Model        string `mapstructure:"model"`
	SystemPrompt string `mapstructure:"system_prompt"`
}

// Forward configures the forwarding engine.
type Forward struct {
	// MaxDepth bounds tool-call recursion per user turn.
	MaxDepth int `mapstructure:"max_depth"`
	// RequestsPerSecond rate-limits model API calls per agent.
	// Zero disables client-side rate limiting.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	// ToolTimeout is the per-tool-call deadline in seconds. Zero
	// disables it.
	ToolTimeoutSeconds int `mapstructure:"tool_timeout_seconds"`
}

// Load reads configuration from defaults, an optional config file,
// and PARLOR_-prefixed environment variables (e.g. PARLOR_SERVER_PORT,
// PARLOR_ANTHROPIC_API_KEY).
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "parlor")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "parlor")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("openai.model", "")
	v.SetDefault("forward.max_depth", 15)
	v.SetDefault("forward.requests_per_second", 2.0)
	v.SetDefault("forward.tool_timeout_seconds", 60)

	v.SetEnvPrefix("PARLOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges. API keys are checked at agent wiring
// time, not here, so read-only commands work without credentials.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Server.Port)
	}
	if c.Postgres.Host == "" {
		return ErrInvalidPostgresHost
	}
	if c.Postgres.Port < 1 || c.Postgres.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.Postgres.Port)
	}
	if c.Forward.MaxDepth < 1 || c.Forward.MaxDepth > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxDepth, c.Forward.MaxDepth)
	}
	return nil
}
