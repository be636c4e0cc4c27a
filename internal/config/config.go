// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const appName = "sessionviewer"

type BackendConfig struct {
	Enabled      bool     `yaml:"enabled"`
	CLIPath      string   `yaml:"cli_path,omitempty"`
	DefaultModel string   `yaml:"default_model,omitempty"`
	ExtraArgs    []string `yaml:"extra_args,omitempty"`
}

type Config struct {
	Backends struct {
		Claude BackendConfig `yaml:"claude"`
		Codex  BackendConfig `yaml:"codex"`
	} `yaml:"backends"`
	Chat struct {
		DefaultCLI    string `yaml:"default_cli"`
		CancelTimeout int    `yaml:"cancel_timeout"` // seconds before a cancelled CLI is killed
		EventBuffer   int    `yaml:"event_buffer"`
	} `yaml:"chat"`
	Discovery struct {
		APIKey  string `yaml:"api_key,omitempty"`
		BaseURL string `yaml:"base_url,omitempty"`
		Timeout int    `yaml:"timeout"` // seconds
	} `yaml:"discovery"`
	API struct {
		Model     string `yaml:"model,omitempty"`
		MaxTokens int    `yaml:"max_tokens"`
		Timeout   int    `yaml:"timeout"` // seconds, bounds a whole streamed reply
	} `yaml:"api"`
	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // json or console
		File   string `yaml:"file,omitempty"`
	} `yaml:"logging"`
}

// Backend returns the section for a CLI type name.
func (c *Config) Backend(cli string) (BackendConfig, bool) {
	switch cli {
	case "claude":
		return c.Backends.Claude, true
	case "codex":
		return c.Backends.Codex, true
	}
	return BackendConfig{}, false
}

func (c *Config) CancelTimeout() time.Duration {
	return time.Duration(c.Chat.CancelTimeout) * time.Second
}

func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.Timeout) * time.Second
}

func (c *Config) DiscoveryTimeout() time.Duration {
	return time.Duration(c.Discovery.Timeout) * time.Second
}

// Load reads the config file at ConfigPath. A missing file yields defaults.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultConfig()
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables in config
	expanded := os.ExpandEnv(string(data))

	cfg := defaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyDefaults(cfg)
	applyEnv(cfg)

	return cfg, nil
}

// Marshal renders the effective configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Backends.Claude.Enabled = true
	cfg.Backends.Claude.CLIPath = "claude"
	cfg.Backends.Claude.DefaultModel = "claude-sonnet-4-6"
	cfg.Backends.Codex.Enabled = true
	cfg.Backends.Codex.CLIPath = "codex"
	cfg.Backends.Codex.DefaultModel = "gpt-5.1-codex"
	cfg.Chat.DefaultCLI = "claude"
	cfg.Chat.CancelTimeout = 5
	cfg.Chat.EventBuffer = 256
	cfg.Discovery.Timeout = 10
	cfg.API.MaxTokens = 16384
	cfg.API.Timeout = 300
	cfg.Storage.Path = filepath.Join(DataDir(), appName+".db")
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Backends.Claude.CLIPath == "" {
		cfg.Backends.Claude.CLIPath = "claude"
	}
	if cfg.Backends.Codex.CLIPath == "" {
		cfg.Backends.Codex.CLIPath = "codex"
	}
	if cfg.Chat.DefaultCLI == "" {
		cfg.Chat.DefaultCLI = "claude"
	}
	if cfg.Chat.CancelTimeout <= 0 {
		cfg.Chat.CancelTimeout = 5
	}
	if cfg.Chat.EventBuffer <= 0 {
		cfg.Chat.EventBuffer = 256
	}
	if cfg.Discovery.Timeout <= 0 {
		cfg.Discovery.Timeout = 10
	}
	if cfg.API.MaxTokens <= 0 {
		cfg.API.MaxTokens = 16384
	}
	if cfg.API.Timeout <= 0 {
		cfg.API.Timeout = 300
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(DataDir(), appName+".db")
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SESSIONVIEWER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SESSIONVIEWER_DB"); v != "" {
		cfg.Storage.Path = v
	}
}

func ConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		configDir, _ = os.UserConfigDir()
	}
	if configDir == "" {
		configDir = os.ExpandEnv("$HOME/.config")
	}
	return filepath.Join(configDir, appName, "config.yaml")
}

// DataDir is where the archive database and the TUI log live.
func DataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), appName)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, appName)
}
