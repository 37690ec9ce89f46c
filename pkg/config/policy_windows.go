//go:build windows

package config

import (
	"fmt"
	"log"
	"strconv"

	"golang.org/x/sys/windows/registry"
)

// LoadConfigFromPolicy loads configuration from the registry policy key.
func LoadConfigFromPolicy() (*Configuration, error) {
	cfg := GetDefaultConfig()

	key, err := registry.OpenKey(registry.LOCAL_MACHINE, PolicyRegistryPath, registry.READ)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy registry key %s: %v", PolicyRegistryPath, err)
	}
	defer key.Close()

	loadStringFromRegistry(key, "CatalogPath", &cfg.CatalogPath)
	loadStringFromRegistry(key, "ScriptsPath", &cfg.ScriptsPath)
	loadStringFromRegistry(key, "LogPath", &cfg.LogPath)
	loadStringFromRegistry(key, "LogLevel", &cfg.LogLevel)
	loadStringFromRegistry(key, "TaskFolder", &cfg.TaskFolder)

	loadIntFromRegistry(key, "DetectionTimeoutSeconds", &cfg.DetectionTimeoutSeconds)
	loadIntFromRegistry(key, "StatusCacheMinutes", &cfg.StatusCacheMinutes)
	loadIntFromRegistry(key, "CommandTimeoutMinutes", &cfg.CommandTimeoutMinutes)
	loadIntFromRegistry(key, "BreakerThreshold", &cfg.BreakerThreshold)
	loadIntFromRegistry(key, "ListRetries", &cfg.ListRetries)

	loadBoolFromRegistry(key, "Debug", &cfg.Debug)
	loadBoolFromRegistry(key, "Verbose", &cfg.Verbose)
	loadBoolFromRegistry(key, "PersistRemovalScripts", &cfg.PersistRemovalScripts)
	loadBoolFromRegistry(key, "ParallelRemoval", &cfg.ParallelRemoval)

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadStringFromRegistry(key registry.Key, valueName string, target *string) {
	if val, _, err := key.GetStringValue(valueName); err == nil && val != "" {
		*target = val
		log.Printf("Policy: Loaded %s = %s", valueName, val)
	}
}

// loadBoolFromRegistry accepts "true"/"false", "1"/"0" or a DWORD.
func loadBoolFromRegistry(key registry.Key, valueName string, target *bool) {
	if val, _, err := key.GetStringValue(valueName); err == nil {
		if parsed, parseErr := strconv.ParseBool(val); parseErr == nil {
			*target = parsed
			return
		}
	}
	if val, _, err := key.GetIntegerValue(valueName); err == nil {
		*target = val != 0
	}
}

func loadIntFromRegistry(key registry.Key, valueName string, target *int) {
	if val, _, err := key.GetStringValue(valueName); err == nil {
		if parsed, parseErr := strconv.Atoi(val); parseErr == nil {
			*target = parsed
			return
		}
	}
	if val, _, err := key.GetIntegerValue(valueName); err == nil {
		*target = int(val)
	}
}
