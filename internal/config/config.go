package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models digidex.yml.
type Config struct {
	App struct {
		Domain string `yaml:"domain" json:"domain"`
	} `yaml:"app" json:"app"`
	Cache struct {
		TTL           time.Duration `yaml:"ttl" json:"ttl"`
		SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
	} `yaml:"cache" json:"cache"`
	Retry struct {
		MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
		BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	} `yaml:"retry" json:"retry"`
	Scan struct {
		ParseAttempts int           `yaml:"parse_attempts" json:"parse_attempts"`
		RecoveryDelay time.Duration `yaml:"recovery_delay" json:"recovery_delay"`
	} `yaml:"scan" json:"scan"`
	Network struct {
		ProbeURL      string        `yaml:"probe_url" json:"probe_url"`
		ProbeInterval time.Duration `yaml:"probe_interval" json:"probe_interval"`
		ProbeTimeout  time.Duration `yaml:"probe_timeout" json:"probe_timeout"`
	} `yaml:"network" json:"network"`
	Server ServerConfig `yaml:"server" json:"server"`
	Log    struct {
		Level  string `yaml:"level" json:"level"`
		Format string `yaml:"format" json:"format"`
	} `yaml:"log" json:"log"`
}

type ServerConfig struct {
	Addr            string   `yaml:"addr" json:"addr"`
	BasePath        string   `yaml:"base_path" json:"base_path"`
	RateLimit       float64  `yaml:"rate_limit" json:"rate_limit"`
	RateBurst       int      `yaml:"rate_burst" json:"rate_burst"`
	CORSOrigins     []string `yaml:"cors_origins" json:"cors_origins"`
	AllowUserHeader bool     `yaml:"allow_user_header" json:"allow_user_header"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with dx init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	domain := strings.TrimSpace(c.App.Domain)
	if domain == "" {
		return fmt.Errorf("config.app.domain is required")
	}
	if strings.ContainsAny(domain, "/?# ") {
		return fmt.Errorf("config.app.domain must be a bare host, got %q", domain)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("config.cache.ttl must be positive")
	}
	if c.Cache.SweepInterval <= 0 {
		return fmt.Errorf("config.cache.sweep_interval must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config.retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("config.retry.base_delay must not be negative")
	}
	if c.Scan.ParseAttempts < 1 {
		return fmt.Errorf("config.scan.parse_attempts must be at least 1")
	}
	if c.Scan.RecoveryDelay < 0 {
		return fmt.Errorf("config.scan.recovery_delay must not be negative")
	}
	if c.Network.ProbeURL != "" {
		u, err := url.Parse(c.Network.ProbeURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config.network.probe_url is not an absolute url: %q", c.Network.ProbeURL)
		}
		if c.Network.ProbeInterval <= 0 {
			return fmt.Errorf("config.network.probe_interval must be positive when probe_url is set")
		}
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("config.server rate limits must not be negative")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "digidex.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing
// sections fall back to the defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `app:
  domain: digidex.app

cache:
  ttl: 24h
  sweep_interval: 1h

retry:
  max_attempts: 5
  base_delay: 1s

scan:
  parse_attempts: 3
  recovery_delay: 1s

network:
  # Leave empty to assume the device is online.
  probe_url: ""
  probe_interval: 30s
  probe_timeout: 5s

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  rate_limit: 5
  rate_burst: 10
  cors_origins: ["*"]
  allow_user_header: false

log:
  level: info
  format: text
`
