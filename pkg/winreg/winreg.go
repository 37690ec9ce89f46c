// pkg/winreg/winreg.go - uninstall entries and post-removal registry settings.

package winreg

import (
	"context"
	"errors"
	"strings"

	"github.com/windowsadmins/sweeper/pkg/catalog"
)

// ErrUnsupported is returned by the registry on platforms without one.
var ErrUnsupported = errors.New("registry access is only supported on Windows")

// Uninstall key locations relative to their hive.
const (
	UninstallPath      = `SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall`
	UninstallPathWOW64 = `SOFTWARE\WOW6432Node\Microsoft\Windows\CurrentVersion\Uninstall`
)

// UninstallEntry is one product registered under an Uninstall key.
type UninstallEntry struct {
	Hive                 string // HKLM, HKLM32, HKCU or HKU\<SID>
	Key                  string
	DisplayName          string
	DisplayVersion       string
	UninstallString      string
	QuietUninstallString string
}

// Command returns the quiet uninstall string when present, else the normal one.
func (e UninstallEntry) Command() string {
	if s := strings.TrimSpace(e.QuietUninstallString); s != "" {
		return s
	}
	return strings.TrimSpace(e.UninstallString)
}

// UninstallSource lists uninstall entries. Hives are returned in lookup order:
// 64-bit machine, 32-bit machine, then the interactive user.
type UninstallSource interface {
	UninstallEntries(ctx context.Context) ([]UninstallEntry, error)
}

// SettingsWriter applies catalog registry settings.
type SettingsWriter interface {
	ApplySettings(ctx context.Context, settings []catalog.RegistrySetting) error
}

// ApplyAll applies settings one at a time and joins the failures.
func ApplyAll(ctx context.Context, apply func(catalog.RegistrySetting) error, settings []catalog.RegistrySetting) error {
	var errs []error
	for _, s := range settings {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := apply(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
