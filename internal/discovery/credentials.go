// internal/discovery/credentials.go
package discovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"sessionviewer/internal/backend"
)

// DefaultBaseURL is the Anthropic API root used when nothing overrides it.
const DefaultBaseURL = backend.DefaultAPIBaseURL

// Credentials are the Anthropic API settings the Claude CLI would use.
type Credentials struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	ConfigPath   string
}

// CLIConfig is Credentials with the key masked, safe to display.
type CLIConfig struct {
	Source       string `json:"source"`
	APIKeyMasked string `json:"apiKeyMasked"`
	HasAPIKey    bool   `json:"hasApiKey"`
	BaseURL      string `json:"baseUrl"`
	DefaultModel string `json:"defaultModel"`
	ConfigPath   string `json:"configPath"`
}

type claudeSettings struct {
	Env   map[string]string `json:"env"`
	Model string            `json:"model"`
}

// SettingsPath is the Claude CLI settings file under home.
func SettingsPath(home string) string {
	return filepath.Join(home, ".claude", "settings.json")
}

// LoadCredentials resolves credentials from the Claude settings file and the
// process environment. A missing or unreadable settings file counts as
// empty.
func LoadCredentials(home string) Credentials {
	path := SettingsPath(home)
	var settings claudeSettings
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &settings)
	}

	return Credentials{
		APIKey: firstNonEmpty(
			settings.Env["ANTHROPIC_AUTH_TOKEN"],
			settings.Env["ANTHROPIC_API_KEY"],
			os.Getenv("ANTHROPIC_API_KEY"),
		),
		BaseURL: firstNonEmpty(
			settings.Env["ANTHROPIC_BASE_URL"],
			os.Getenv("ANTHROPIC_BASE_URL"),
			DefaultBaseURL,
		),
		DefaultModel: settings.Model,
		ConfigPath:   path,
	}
}

// ReadCLIConfig is LoadCredentials for display.
func ReadCLIConfig(home string) CLIConfig {
	c := LoadCredentials(home)
	return CLIConfig{
		Source:       "claude",
		APIKeyMasked: MaskKey(c.APIKey),
		HasAPIKey:    c.APIKey != "",
		BaseURL:      c.BaseURL,
		DefaultModel: c.DefaultModel,
		ConfigPath:   c.ConfigPath,
	}
}

// MaskKey keeps the first three and last four characters of key. Keys of
// eight characters or fewer are fully masked.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:3] + "..." + key[len(key)-4:]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
