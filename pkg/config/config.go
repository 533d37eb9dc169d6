package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultConfigFileName = "msgrelay.toml"

	DefaultPort      = 3000
	DefaultTargetURL = "https://api.anthropic.com/v1/messages"
	DefaultLogLevel  = "info"

	EnvPort               = "PORT"
	EnvTargetAPIURL       = "TARGET_API_URL"
	EnvLogLevel           = "LOG_LEVEL"
	EnvDefaultAPIKey      = "DEFAULT_API_KEY"
	EnvDefaultUserID      = "DEFAULT_USER_ID"
	EnvForceDefaultAPIKey = "FORCE_DEFAULT_API_KEY"
)

type TLSConfig struct {
	Enabled  bool   `toml:"enabled"`
	Domain   string `toml:"domain,omitempty"`
	Email    string `toml:"email,omitempty"`
	CacheDir string `toml:"cache_dir,omitempty"`
}

// Config is built once at startup and treated as read-only afterwards.
type Config struct {
	ListenHost             string    `toml:"listen_host,omitempty"`
	Port                   int       `toml:"port"`
	TargetAPIURL           string    `toml:"target_api_url"`
	LogLevel               string    `toml:"log_level"`
	DefaultAPIKey          string    `toml:"default_api_key,omitempty"`
	DefaultUserID          string    `toml:"default_user_id,omitempty"`
	ForceDefaultAPIKey     bool      `toml:"force_default_api_key"`
	MetricsAddr            string    `toml:"metrics_addr,omitempty"`
	ShutdownTimeoutSeconds int       `toml:"shutdown_timeout_seconds,omitempty"`
	WatchConfig            bool      `toml:"watch_config"`
	TLS                    TLSConfig `toml:"tls"`
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultConfigFileName
	}
	return filepath.Join(home, ".config", "msgrelay", defaultConfigFileName)
}

func DefaultTLSCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "tls-autocert"
	}
	return filepath.Join(home, ".cache", "msgrelay", "tls-autocert")
}

func NewDefaultConfig() *Config {
	return &Config{
		Port:                   DefaultPort,
		TargetAPIURL:           DefaultTargetURL,
		LogLevel:               DefaultLogLevel,
		ShutdownTimeoutSeconds: 10,
		TLS: TLSConfig{
			CacheDir: DefaultTLSCacheDir(),
		},
	}
}

// Load reads defaults, then the TOML file at path (a missing file is not an
// error), then the process environment.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if strings.TrimSpace(path) != "" {
		if err := loadFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse toml: %w", err)
	}
	return nil
}

// ApplyEnv overlays values from the environment. Unset variables leave the
// current value alone; set-but-empty string variables clear it.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvPort, err)
		}
		c.Port = port
	}
	if v, ok := lookup(EnvTargetAPIURL); ok && strings.TrimSpace(v) != "" {
		c.TargetAPIURL = v
	}
	if v, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		c.LogLevel = v
	}
	if v, ok := lookup(EnvDefaultAPIKey); ok {
		c.DefaultAPIKey = v
	}
	if v, ok := lookup(EnvDefaultUserID); ok {
		c.DefaultUserID = v
	}
	if v, ok := lookup(EnvForceDefaultAPIKey); ok && strings.TrimSpace(v) != "" {
		force, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", EnvForceDefaultAPIKey, err)
		}
		c.ForceDefaultAPIKey = force
	}
	return nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

func (c *Config) Normalize() {
	c.ListenHost = strings.TrimSpace(c.ListenHost)
	c.TargetAPIURL = strings.TrimSpace(c.TargetAPIURL)
	if c.TargetAPIURL == "" {
		c.TargetAPIURL = DefaultTargetURL
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	c.DefaultAPIKey = strings.TrimSpace(c.DefaultAPIKey)
	c.DefaultUserID = strings.TrimSpace(c.DefaultUserID)
	c.MetricsAddr = strings.TrimSpace(c.MetricsAddr)
	if c.ShutdownTimeoutSeconds <= 0 {
		c.ShutdownTimeoutSeconds = 10
	}
	c.TLS.Domain = strings.TrimSpace(c.TLS.Domain)
	c.TLS.Email = strings.TrimSpace(c.TLS.Email)
	c.TLS.CacheDir = strings.TrimSpace(c.TLS.CacheDir)
	if c.TLS.CacheDir == "" {
		c.TLS.CacheDir = DefaultTLSCacheDir()
	}
}

func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	u, err := url.Parse(c.TargetAPIURL)
	if err != nil {
		return fmt.Errorf("invalid target_api_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("target_api_url must be http or https, got %q", c.TargetAPIURL)
	}
	if u.Host == "" {
		return fmt.Errorf("target_api_url has no host: %q", c.TargetAPIURL)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.TLS.Enabled && c.TLS.Domain == "" {
		return errors.New("tls.domain is required when tls is enabled")
	}
	return nil
}

func (c *Config) ListenAddr() string {
	return c.ListenHost + ":" + strconv.Itoa(c.Port)
}

// Redacted returns a copy that is safe to print.
func (c Config) Redacted() Config {
	if c.DefaultAPIKey != "" {
		c.DefaultAPIKey = maskValue(c.DefaultAPIKey)
	}
	return c
}

func maskValue(v string) string {
	if len(v) <= 6 {
		return "***"
	}
	return v[:6] + "***"
}

func Save(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return writeAtomic(path, v)
}

func writeAtomic(path string, v any) error {
	b, err := MarshalTOML(v)
	if err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func MarshalTOML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentSymbol("  ")
	enc.SetIndentTables(true)
	enc.SetTablesInline(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return out, nil
}
