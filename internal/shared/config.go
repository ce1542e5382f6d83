package shared

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Model       ModelConfig       `toml:"model"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Mixer       MixerConfig       `toml:"mixer"`
}

// CredentialsConfig contains provider-specific OAuth credentials.
type CredentialsConfig struct {
	Spotify ProviderCredentials `toml:"spotify"`
	YouTube ProviderCredentials `toml:"youtube"`
}

// ProviderCredentials contains OAuth2 client credentials for a streaming provider.
type ProviderCredentials struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
	BaseURL      string `toml:"base_url"` // override for tests and proxies
}

// ModelConfig contains settings for the language-model collaborator.
type ModelConfig struct {
	BaseURL        string `toml:"base_url"`
	Name           string `toml:"name"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// MixerConfig contains tunable synthesis policy. The duplicate-match
// thresholds are heuristic and deliberately configurable.
type MixerConfig struct {
	DedupeDurationDeltaMS  int     `toml:"dedupe_duration_delta_ms"`
	DedupeTitleRatio       float64 `toml:"dedupe_title_ratio"`
	FeatureWeight          float64 `toml:"feature_weight"`
	NoveltyWeight          float64 `toml:"novelty_weight"`
	MoodWeight             float64 `toml:"mood_weight"`
	MaxQueries             int     `toml:"max_queries"`
	QueryConcurrency       int     `toml:"query_concurrency"`
	ProviderTimeoutSeconds int     `toml:"provider_timeout_seconds"`
	ProviderRateLimit      float64 `toml:"provider_rate_limit"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
