// pkg/config/config.go - configuration settings for sweeper.

package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const ConfigPath = `C:\ProgramData\Sweeper\Config.yaml`

// PolicyRegistryPath holds enterprise policy values used when Config.yaml is absent.
const PolicyRegistryPath = `SOFTWARE\Sweeper\Config`

// Configuration holds the configurable options for sweeper in YAML format
type Configuration struct {
	CatalogPath string `yaml:"CatalogPath"`
	ScriptsPath string `yaml:"ScriptsPath"`
	LogPath     string `yaml:"LogPath"`
	LogLevel    string `yaml:"LogLevel"`
	TaskFolder  string `yaml:"TaskFolder"`
	Debug       bool   `yaml:"Debug"`
	Verbose     bool   `yaml:"Verbose"`

	// Detection
	DetectionTimeoutSeconds int `yaml:"DetectionTimeoutSeconds"` // bound on the primary package query
	StatusCacheMinutes      int `yaml:"StatusCacheMinutes"`

	// Removal
	CommandTimeoutMinutes int  `yaml:"CommandTimeoutMinutes"` // uninstallers and package managers
	PersistRemovalScripts bool `yaml:"PersistRemovalScripts"`
	ParallelRemoval       bool `yaml:"ParallelRemoval"`

	// Package manager guards
	BreakerThreshold int `yaml:"BreakerThreshold"`
	ListRetries      int `yaml:"ListRetries"`
}

// LoadConfig loads the configuration from a YAML file.
// If the file doesn't exist, it falls back to the registry policy settings.
func LoadConfig(path string) (*Configuration, error) {
	if path == "" {
		path = ConfigPath
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Printf("Configuration file does not exist: %s", path)

		cfg, polErr := LoadConfigFromPolicy()
		if polErr == nil {
			log.Printf("Loaded configuration from registry policy settings")
			return cfg, nil
		}
		log.Printf("Failed to load from registry policy: %v", polErr)
		log.Printf("Using default configuration")
		return GetDefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading configuration %s", path)
	}

	cfg := GetDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing configuration %s", path)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Configuration, path string) error {
	if path == "" {
		path = ConfigPath
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "serializing configuration")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "creating configuration directory for %s", path)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "writing configuration %s", path)
	}
	return nil
}

// GetDefaultConfig provides default configuration values.
func GetDefaultConfig() *Configuration {
	return &Configuration{
		CatalogPath:             `C:\ProgramData\Sweeper\catalog.yaml`,
		ScriptsPath:             `C:\ProgramData\Sweeper\Scripts`,
		LogPath:                 `C:\ProgramData\Sweeper\logs`,
		LogLevel:                "INFO",
		TaskFolder:              "Sweeper",
		DetectionTimeoutSeconds: 15,
		StatusCacheMinutes:      5,
		CommandTimeoutMinutes:   15,
		PersistRemovalScripts:   true,
		BreakerThreshold:        5,
		ListRetries:             2,
	}
}

// applyDefaults fills zero values left by a partial YAML file.
func (c *Configuration) applyDefaults() {
	def := GetDefaultConfig()
	if c.ScriptsPath == "" {
		c.ScriptsPath = def.ScriptsPath
	}
	if c.LogPath == "" {
		c.LogPath = def.LogPath
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.TaskFolder == "" {
		c.TaskFolder = def.TaskFolder
	}
	if c.DetectionTimeoutSeconds <= 0 {
		c.DetectionTimeoutSeconds = def.DetectionTimeoutSeconds
	}
	if c.StatusCacheMinutes <= 0 {
		c.StatusCacheMinutes = def.StatusCacheMinutes
	}
	if c.CommandTimeoutMinutes <= 0 {
		c.CommandTimeoutMinutes = def.CommandTimeoutMinutes
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = def.BreakerThreshold
	}
	if c.ListRetries < 0 {
		c.ListRetries = 0
	}
}

// Validate rejects values the engine cannot work with.
func (c *Configuration) Validate() error {
	switch strings.ToUpper(c.LogLevel) {
	case "ERROR", "WARN", "INFO", "DEBUG":
	default:
		return fmt.Errorf("invalid LogLevel %q", c.LogLevel)
	}
	if c.ScriptsPath == "" {
		return fmt.Errorf("ScriptsPath must be set")
	}
	return nil
}

// DetectionTimeout returns the bound on the primary package enumeration.
func (c *Configuration) DetectionTimeout() time.Duration {
	return time.Duration(c.DetectionTimeoutSeconds) * time.Second
}

// StatusCacheTTL returns how long single-item status checks are cached.
func (c *Configuration) StatusCacheTTL() time.Duration {
	return time.Duration(c.StatusCacheMinutes) * time.Minute
}

// CommandTimeout returns the bound on external uninstall commands.
func (c *Configuration) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutMinutes) * time.Minute
}
