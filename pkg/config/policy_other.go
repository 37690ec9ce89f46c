//go:build !windows

package config

import "errors"

// LoadConfigFromPolicy is only available on Windows.
func LoadConfigFromPolicy() (*Configuration, error) {
	return nil, errors.New("registry policy configuration requires Windows")
}
