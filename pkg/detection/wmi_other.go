//go:build !windows

package detection

import (
	"context"
	"errors"
)

// WMIPackages is unavailable off Windows.
type WMIPackages struct{}

// Name implements PackageTier.
func (WMIPackages) Name() string { return "wmi" }

// InstalledPackages implements PackageTier.
func (WMIPackages) InstalledPackages(context.Context) ([]string, error) {
	return nil, errors.New("wmi is only available on Windows")
}
