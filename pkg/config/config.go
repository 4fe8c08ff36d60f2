package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/sploitprobe/pkg/probe"
)

type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
}

type SploitusConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type SynthesisConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	MaxSteps int           `yaml:"max_steps"`
}

type LambdaConfig struct {
	Region         string `yaml:"region"`
	Role           string `yaml:"role"`
	Runtime        string `yaml:"runtime"`
	Handler        string `yaml:"handler"`
	TimeoutSeconds int32  `yaml:"timeout_seconds"`
	MemoryMB       int32  `yaml:"memory_mb"`
}

type StoreConfig struct {
	DSN string `yaml:"dsn"`
}

type GitHubConfig struct {
	Repo   string   `yaml:"repo,omitempty"`
	Token  string   `yaml:"token,omitempty"`
	Labels []string `yaml:"labels,omitempty"`
}

type LogConfig struct {
	Format string `yaml:"format"` // text / json
	Level  string `yaml:"level"`  // debug / info / warn / error
}

type Config struct {
	SelectedProvider string                    `yaml:"selected_provider"`
	SelectedModel    string                    `yaml:"selected_model"`
	Providers        map[string]ProviderConfig `yaml:"providers"`
	Sploitus         SploitusConfig            `yaml:"sploitus"`
	Synthesis        SynthesisConfig           `yaml:"synthesis"`
	Lambda           LambdaConfig              `yaml:"lambda"`
	Store            StoreConfig               `yaml:"store"`
	Targets          []probe.Target            `yaml:"targets,omitempty"`
	GitHub           GitHubConfig              `yaml:"github,omitempty"`
	Log              LogConfig                 `yaml:"log"`
}

// Path overrides the default config location when set.
var Path string

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		SelectedProvider: "gemini",
		SelectedModel:    "gemini-1.5-pro",
		Providers:        make(map[string]ProviderConfig),
		Sploitus: SploitusConfig{
			BaseURL: "https://sploitus.com",
			Timeout: 30 * time.Second,
		},
		Synthesis: SynthesisConfig{
			Timeout:  3 * time.Minute,
			MaxSteps: 8,
		},
		Lambda: LambdaConfig{
			Region:         "us-east-1",
			Runtime:        probe.DefaultRuntime,
			Handler:        probe.DefaultHandler,
			TimeoutSeconds: probe.DefaultTimeout,
			MemoryMB:       probe.DefaultMemory,
		},
		Store: StoreConfig{DSN: "sploitprobe.db"},
		Log:   LogConfig{Format: "text", Level: "info"},
	}
}

func GetConfigPath() (string, error) {
	if Path != "" {
		return Path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".sploitprobe")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// LoadConfig reads the config file over the defaults. A missing file yields
// the defaults.
func LoadConfig() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// 0600 permissions for security (api keys)
	return os.WriteFile(path, data, 0600)
}

func (c *Config) SetAPIKey(provider, key string) {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	p := c.Providers[provider]
	p.APIKey = key
	c.Providers[provider] = p
}

func (c *Config) GetAPIKey(provider string) string {
	return c.Providers[provider].APIKey
}

func (c *Config) GetBaseURL(provider string) string {
	return c.Providers[provider].BaseURL
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	var errs []error
	if c.SelectedProvider == "" {
		errs = append(errs, errors.New("selected_provider is empty"))
	}
	if c.Sploitus.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("sploitus.timeout must be positive, got %s", c.Sploitus.Timeout))
	}
	if c.Synthesis.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("synthesis.timeout must be positive, got %s", c.Synthesis.Timeout))
	}
	if c.Synthesis.MaxSteps <= 0 {
		errs = append(errs, fmt.Errorf("synthesis.max_steps must be positive, got %d", c.Synthesis.MaxSteps))
	}
	if c.Lambda.TimeoutSeconds < 1 || c.Lambda.TimeoutSeconds > 900 {
		errs = append(errs, fmt.Errorf("lambda.timeout_seconds must be within 1..900, got %d", c.Lambda.TimeoutSeconds))
	}
	if c.Lambda.MemoryMB < 128 || c.Lambda.MemoryMB > 10240 {
		errs = append(errs, fmt.Errorf("lambda.memory_mb must be within 128..10240, got %d", c.Lambda.MemoryMB))
	}
	if c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is empty"))
	}
	for i, t := range c.Targets {
		if err := t.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("targets[%d]: %w", i, err))
		}
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// ParseTargets reads a comma separated list where each entry is an IP
// address or a domain.
func ParseTargets(s string) []probe.Target {
	var out []probe.Target
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if net.ParseIP(part) != nil {
			out = append(out, probe.Target{IP: part})
		} else {
			out = append(out, probe.Target{Domain: part})
		}
	}
	return out
}
