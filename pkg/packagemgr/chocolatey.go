package packagemgr

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/windowsadmins/sweeper/pkg/installer"
	"github.com/windowsadmins/sweeper/pkg/logging"
)

// Chocolatey drives choco.exe.
type Chocolatey struct {
	Exe     string
	Runner  installer.Runner
	Timeout time.Duration
}

// NewChocolatey creates a Chocolatey manager, honouring ChocolateyInstall.
func NewChocolatey(runner installer.Runner, timeout time.Duration) *Chocolatey {
	root := os.Getenv("ChocolateyInstall")
	if root == "" {
		root = filepath.Join(os.Getenv("ProgramData"), "chocolatey")
	}
	return &Chocolatey{
		Exe:     filepath.Join(root, "bin", "choco.exe"),
		Runner:  runner,
		Timeout: timeout,
	}
}

// Name implements Manager.
func (c *Chocolatey) Name() string { return "chocolatey" }

func (c *Chocolatey) run(ctx context.Context, args ...string) (installer.Output, error) {
	out, err := c.Runner.Run(ctx, installer.Command{Path: c.Exe, Args: args, Timeout: c.Timeout}, nil)
	if err != nil && isNotFound(err) {
		return out, errors.Wrap(ErrUnavailable, c.Exe)
	}
	return out, err
}

// IsInstalled implements Manager.
func (c *Chocolatey) IsInstalled(ctx context.Context, id string) (bool, error) {
	ids, err := c.InstalledIDs(ctx)
	if err != nil {
		return false, err
	}
	return ids.Has(id), nil
}

// InstalledIDs implements Manager.
func (c *Chocolatey) InstalledIDs(ctx context.Context) (IDSet, error) {
	out, err := c.run(ctx, "list", "--limit-output")
	if err != nil {
		return nil, err
	}
	return ParseChocoList(out.Stdout), nil
}

// Uninstall implements Manager. source is ignored.
func (c *Chocolatey) Uninstall(ctx context.Context, id, _ string, displayName string) error {
	logging.Info("Uninstalling with chocolatey", "id", id, "name", displayName)
	_, err := c.run(ctx, "uninstall", id, "-y", "--no-progress", "--remove-dependencies")
	return errors.Wrapf(err, "choco uninstall %s", id)
}

// ParseChocoList reads `choco list --limit-output` lines of the form id|version.
func ParseChocoList(stdout string) IDSet {
	ids := make(IDSet)
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		id, _, ok := strings.Cut(line, "|")
		if !ok || strings.ContainsAny(id, " \t") {
			continue
		}
		ids.Add(id)
	}
	return ids
}
