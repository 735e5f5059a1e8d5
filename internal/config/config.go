// ABOUTME: Configuration loading and parsing for helpdesk-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that points at the config file.
const EnvConfigPath = "HELPDESK_CONFIG"

// MinJWTSecretLength is the minimum accepted auth.jwt_secret size in bytes.
const MinJWTSecretLength = 32

// Config represents the complete helpdesk-gateway configuration
type Config struct {
	Server       ServerConfig       `yaml:"server" toml:"server"`
	Database     DatabaseConfig     `yaml:"database" toml:"database"`
	Auth         AuthConfig         `yaml:"auth" toml:"auth"`
	Facebook     FacebookConfig     `yaml:"facebook" toml:"facebook"`
	Conversation ConversationConfig `yaml:"conversation" toml:"conversation"`
	CORS         CORSConfig         `yaml:"cors" toml:"cors"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig selects the SQL backend. SQLite uses Path; Postgres uses DSN
// or the discrete connection fields.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" toml:"driver"`
	Path     string `yaml:"path" toml:"path"`
	DSN      string `yaml:"dsn" toml:"dsn"`
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	Name     string `yaml:"name" toml:"name"`
	SSLMode  string `yaml:"sslmode" toml:"sslmode"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenExpire time.Duration `yaml:"-" toml:"-"`

	TokenExpireRaw string `yaml:"token_expire" toml:"token_expire"`
}

// FacebookConfig holds messaging platform app credentials and client tuning
type FacebookConfig struct {
	AppID              string `yaml:"app_id" toml:"app_id"`
	AppSecret          string `yaml:"app_secret" toml:"app_secret"`
	VerifyToken        string `yaml:"verify_token" toml:"verify_token"`
	GraphBaseURL       string `yaml:"graph_base_url" toml:"graph_base_url"`
	DialogURL          string `yaml:"dialog_url" toml:"dialog_url"`
	RevokeOnDisconnect bool   `yaml:"revoke_on_disconnect" toml:"revoke_on_disconnect"`

	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	NameLookupTimeout time.Duration `yaml:"-" toml:"-"`

	RequestTimeoutRaw    string `yaml:"request_timeout" toml:"request_timeout"`
	NameLookupTimeoutRaw string `yaml:"name_lookup_timeout" toml:"name_lookup_timeout"`
}

// ConversationConfig holds the conversation continuity and dedupe policy
type ConversationConfig struct {
	ContinuityWindow time.Duration `yaml:"-" toml:"-"`
	DisplayUTCOffset time.Duration `yaml:"-" toml:"-"`
	DedupeTTL        time.Duration `yaml:"-" toml:"-"`
	DedupeMaxEntries int           `yaml:"dedupe_max_entries" toml:"dedupe_max_entries"`

	ContinuityWindowRaw string `yaml:"continuity_window" toml:"continuity_window"`
	DisplayUTCOffsetRaw string `yaml:"display_utc_offset" toml:"display_utc_offset"`
	DedupeTTLRaw        string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// CORSConfig lists browser origins allowed to call the API
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Defaults
const (
	DefaultHTTPAddr          = ":8000"
	DefaultDatabasePath      = "helpdesk.db"
	DefaultTokenExpire       = 30 * time.Minute
	DefaultRequestTimeout    = 10 * time.Second
	DefaultNameLookupTimeout = 5 * time.Second
	DefaultContinuityWindow  = 24 * time.Hour
	DefaultDisplayUTCOffset  = 5*time.Hour + 30*time.Minute
	DefaultDedupeTTL         = 10 * time.Minute
	DefaultDedupeMaxEntries  = 100000
	DefaultMetricsPath       = "/metrics"
)

// DefaultAllowedOrigins are the local development frontends.
var DefaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:8080",
	"http://127.0.0.1:3000",
}

// DefaultPath returns $HELPDESK_CONFIG, or gateway.yaml under the XDG config home.
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "helpdesk", "gateway.yaml")
}

// LoadDotEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(expandEnvVars(string(data)), strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes, defaults and validates configuration text.
func Parse(text string, isTOML bool) (*Config, error) {
	var cfg Config
	if isTOML {
		if _, err := toml.Decode(text, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(text), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_expire", cfg.Auth.TokenExpireRaw, &cfg.Auth.TokenExpire},
		{"facebook.request_timeout", cfg.Facebook.RequestTimeoutRaw, &cfg.Facebook.RequestTimeout},
		{"facebook.name_lookup_timeout", cfg.Facebook.NameLookupTimeoutRaw, &cfg.Facebook.NameLookupTimeout},
		{"conversation.continuity_window", cfg.Conversation.ContinuityWindowRaw, &cfg.Conversation.ContinuityWindow},
		{"conversation.display_utc_offset", cfg.Conversation.DisplayUTCOffsetRaw, &cfg.Conversation.DisplayUTCOffset},
		{"conversation.dedupe_ttl", cfg.Conversation.DedupeTTLRaw, &cfg.Conversation.DedupeTTL},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}
	if c.Database.Driver == "postgres" {
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
	}
	if c.Auth.TokenExpireRaw == "" {
		c.Auth.TokenExpire = DefaultTokenExpire
	}
	if c.Facebook.RequestTimeoutRaw == "" {
		c.Facebook.RequestTimeout = DefaultRequestTimeout
	}
	if c.Facebook.NameLookupTimeoutRaw == "" {
		c.Facebook.NameLookupTimeout = DefaultNameLookupTimeout
	}
	if c.Conversation.ContinuityWindowRaw == "" {
		c.Conversation.ContinuityWindow = DefaultContinuityWindow
	}
	if c.Conversation.DisplayUTCOffsetRaw == "" {
		c.Conversation.DisplayUTCOffset = DefaultDisplayUTCOffset
	}
	if c.Conversation.DedupeTTLRaw == "" {
		c.Conversation.DedupeTTL = DefaultDedupeTTL
	}
	if c.Conversation.DedupeMaxEntries == 0 {
		c.Conversation.DedupeMaxEntries = DefaultDedupeMaxEntries
	}
	if c.CORS.AllowedOrigins == nil {
		c.CORS.AllowedOrigins = append([]string(nil), DefaultAllowedOrigins...)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.Name == "") {
			return errors.New("database.dsn or database.host and database.name are required for postgres")
		}
	default:
		return fmt.Errorf("database.driver %q must be sqlite or postgres", c.Database.Driver)
	}

	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}
	if c.Auth.TokenExpire <= 0 {
		return errors.New("auth.token_expire must be positive")
	}

	if c.Facebook.RequestTimeout <= 0 || c.Facebook.NameLookupTimeout <= 0 {
		return errors.New("facebook timeouts must be positive")
	}
	for _, u := range []string{c.Facebook.GraphBaseURL, c.Facebook.DialogURL} {
		if u == "" {
			continue
		}
		if parsed, err := url.Parse(u); err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalid facebook url %q", u)
		}
	}

	if c.Conversation.ContinuityWindow <= 0 {
		return errors.New("conversation.continuity_window must be positive")
	}
	if off := c.Conversation.DisplayUTCOffset; off < -14*time.Hour || off > 14*time.Hour {
		return fmt.Errorf("conversation.display_utc_offset %s is out of range", off)
	}
	if c.Conversation.DedupeTTL <= 0 {
		return errors.New("conversation.dedupe_ttl must be positive")
	}
	if c.Conversation.DedupeMaxEntries < 0 {
		return errors.New("conversation.dedupe_max_entries must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	return nil
}

// PostgresDSN returns database.dsn, or a key/value DSN built from the
// discrete connection fields.
func (d DatabaseConfig) PostgresDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	parts := []string{
		"host=" + d.Host,
		fmt.Sprintf("port=%d", d.Port),
		"dbname=" + d.Name,
		"sslmode=" + d.SSLMode,
	}
	if d.User != "" {
		parts = append(parts, "user="+d.User)
	}
	if d.Password != "" {
		parts = append(parts, "password="+quoteDSNValue(d.Password))
	}
	return strings.Join(parts, " ")
}

func quoteDSNValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
