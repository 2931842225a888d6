package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// CLIConfig holds CLI tool configuration (profiles and tokens).
type CLIConfig struct {
	CurrentProfile string                 `yaml:"current_profile" mapstructure:"current_profile"`
	Profiles       map[string]*CLIProfile `yaml:"profiles" mapstructure:"profiles"`
	Defaults       *CLIDefaults           `yaml:"defaults" mapstructure:"defaults"`
	path           string
}

// CLIProfile holds the endpoint and admin token for one environment.
type CLIProfile struct {
	ServerURL   string `yaml:"server_url" mapstructure:"server_url"`
	AccessToken string `yaml:"access_token" mapstructure:"access_token"`
}

// CLIDefaults holds default endpoint URLs for CLI operations
type CLIDefaults struct {
	ServerURL string `yaml:"server_url" mapstructure:"server_url"`
}

// LoadCLI loads configuration for the paywatch CLI from
// $PAYWATCH_CLI_DIR/config.yaml (default ~/.paywatch/config.yaml).
func LoadCLI() (*CLIConfig, error) {
	v := viper.New()
	v.SetDefault("current_profile", "default")
	v.SetDefault("defaults.server_url", "http://localhost:8080")

	configDir, err := defaultCLIDir()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(configDir, "config.yaml")
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("PAYWATCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = v.BindEnv("defaults.server_url", "PAYWATCH_SERVER_URL")

	// The file may not exist yet.
	_ = v.ReadInConfig()

	cfg := DefaultCLI()
	cfg.path = configPath

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]*CLIProfile)
	}

	return cfg, nil
}

// DefaultCLI returns a CLIConfig with default values
func DefaultCLI() *CLIConfig {
	return &CLIConfig{
		CurrentProfile: "default",
		Profiles:       make(map[string]*CLIProfile),
		Defaults: &CLIDefaults{
			ServerURL: "http://localhost:8080",
		},
	}
}

// Path returns the file the configuration is saved to.
func (c *CLIConfig) Path() string {
	return c.path
}

// Save writes the CLI config to disk
func (c *CLIConfig) Save() error {
	if c.path == "" {
		dir, err := defaultCLIDir()
		if err != nil {
			return err
		}
		c.path = filepath.Join(dir, "config.yaml")
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(c.path, data, 0600)
}

// SaveProfile stores an endpoint and token under name and makes it current.
func (c *CLIConfig) SaveProfile(name, serverURL, accessToken string) error {
	if c.Profiles == nil {
		c.Profiles = make(map[string]*CLIProfile)
	}

	c.Profiles[name] = &CLIProfile{
		ServerURL:   serverURL,
		AccessToken: accessToken,
	}

	c.CurrentProfile = name
	return c.Save()
}

// GetProfile retrieves a profile by name (or current profile if name is empty)
func (c *CLIConfig) GetProfile(name string) (*CLIProfile, error) {
	if name == "" {
		name = c.CurrentProfile
	}

	profile, ok := c.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile '%s' not found", name)
	}

	return profile, nil
}

// RemoveProfile removes a profile from the configuration
func (c *CLIConfig) RemoveProfile(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("profile '%s' not found", name)
	}

	delete(c.Profiles, name)

	if c.CurrentProfile == name {
		c.CurrentProfile = ""
	}

	return c.Save()
}

// GetServerURL returns the server URL from profile or defaults
func (c *CLIConfig) GetServerURL(profile string) string {
	if p, err := c.GetProfile(profile); err == nil && p.ServerURL != "" {
		return p.ServerURL
	}
	return c.Defaults.ServerURL
}

// GetAccessToken returns the profile's token, empty when the profile is unknown.
func (c *CLIConfig) GetAccessToken(profile string) string {
	if p, err := c.GetProfile(profile); err == nil {
		return p.AccessToken
	}
	return ""
}
