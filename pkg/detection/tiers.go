package detection

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/windowsadmins/sweeper/pkg/installer"
	"github.com/windowsadmins/sweeper/pkg/scripts"
)

const (
	appxQuery = `Get-AppxPackage -AllUsers | ForEach-Object { $_.Name }`

	capabilityQuery = `Get-WindowsCapability -Online | Where-Object { $_.State -eq 'Installed' } | ForEach-Object { $_.Name }`

	featureQuery = `Get-WindowsOptionalFeature -Online | Where-Object { $_.State -eq 'Enabled' } | ForEach-Object { $_.FeatureName }`
)

// PowerShellPackages lists app packages for all users with Get-AppxPackage.
type PowerShellPackages struct {
	Runner scripts.Runner
}

// Name implements PackageTier.
func (p *PowerShellPackages) Name() string { return "appx" }

// InstalledPackages implements PackageTier.
func (p *PowerShellPackages) InstalledPackages(ctx context.Context) ([]string, error) {
	return scripts.Lines(ctx, p.Runner, "Get-AppxPackage", appxQuery)
}

// ProvisionedPackages lists provisioned app packages through DISM. It is the
// last resort when neither the AppX module nor WMI answer.
type ProvisionedPackages struct {
	Exe     string
	Runner  installer.Runner
	Timeout time.Duration
}

// NewProvisionedPackages creates the DISM tier.
func NewProvisionedPackages(runner installer.Runner, timeout time.Duration) *ProvisionedPackages {
	return &ProvisionedPackages{
		Exe:     filepath.Join(os.Getenv("WINDIR"), "System32", "dism.exe"),
		Runner:  runner,
		Timeout: timeout,
	}
}

// Name implements PackageTier.
func (p *ProvisionedPackages) Name() string { return "dism" }

// InstalledPackages implements PackageTier.
func (p *ProvisionedPackages) InstalledPackages(ctx context.Context) ([]string, error) {
	out, err := p.Runner.Run(ctx, installer.Command{
		Path:    p.Exe,
		Args:    []string{"/Online", "/Get-ProvisionedAppxPackages", "/English"},
		Timeout: p.Timeout,
	}, nil)
	if err != nil {
		return nil, err
	}
	return ParseProvisioned(out.Stdout), nil
}

// ParseProvisioned extracts the DisplayName values of DISM package listings.
func ParseProvisioned(stdout string) []string {
	var names []string
	for _, line := range strings.Split(stdout, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "DisplayName") {
			continue
		}
		if value = strings.TrimSpace(value); value != "" {
			names = append(names, value)
		}
	}
	return names
}

// PowerShellServicing queries capabilities and optional features with the DISM PowerShell module.
type PowerShellServicing struct {
	Runner scripts.Runner
}

// InstalledCapabilities implements Servicing.
func (s *PowerShellServicing) InstalledCapabilities(ctx context.Context) ([]string, error) {
	return scripts.Lines(ctx, s.Runner, "Get-WindowsCapability", capabilityQuery)
}

// EnabledFeatures implements Servicing.
func (s *PowerShellServicing) EnabledFeatures(ctx context.Context) ([]string, error) {
	return scripts.Lines(ctx, s.Runner, "Get-WindowsOptionalFeature", featureQuery)
}
