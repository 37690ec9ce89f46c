//go:build !windows

package winreg

import (
	"context"

	"github.com/windowsadmins/sweeper/pkg/catalog"
)

// Registry is unavailable off Windows.
type Registry struct{}

// NewRegistry returns a registry whose operations fail with ErrUnsupported.
func NewRegistry() *Registry { return &Registry{} }

// UninstallEntries implements UninstallSource.
func (r *Registry) UninstallEntries(context.Context) ([]UninstallEntry, error) {
	return nil, ErrUnsupported
}

// ApplySettings implements SettingsWriter.
func (r *Registry) ApplySettings(context.Context, []catalog.RegistrySetting) error {
	return ErrUnsupported
}

// InteractiveUserSID implements the Windows lookup for other platforms.
func InteractiveUserSID() (string, error) {
	return "", ErrUnsupported
}
