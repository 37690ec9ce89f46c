package packagemgr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/windowsadmins/sweeper/pkg/installer"
	"github.com/windowsadmins/sweeper/pkg/logging"
)

// APPINSTALLER_CLI_ERROR_NO_APPLICATIONS_FOUND
const wingetNoPackageFound uint32 = 0x8A150014

// WinGet drives the winget CLI.
type WinGet struct {
	Exe     string
	Runner  installer.Runner
	Timeout time.Duration
}

// NewWinGet creates a WinGet manager using the App Installer alias.
func NewWinGet(runner installer.Runner, timeout time.Duration) *WinGet {
	return &WinGet{
		Exe:     filepath.Join(os.Getenv("LOCALAPPDATA"), "Microsoft", "WindowsApps", "winget.exe"),
		Runner:  runner,
		Timeout: timeout,
	}
}

// Name implements Manager.
func (w *WinGet) Name() string { return "winget" }

func (w *WinGet) run(ctx context.Context, args ...string) (installer.Output, error) {
	args = append(args, "--accept-source-agreements", "--disable-interactivity")
	out, err := w.Runner.Run(ctx, installer.Command{Path: w.Exe, Args: args, Timeout: w.Timeout}, nil)
	if err != nil && isNotFound(err) {
		return out, fmt.Errorf("%s: %w", w.Exe, ErrUnavailable)
	}
	return out, err
}

// IsInstalled implements Manager.
func (w *WinGet) IsInstalled(ctx context.Context, id string) (bool, error) {
	_, err := w.run(ctx, "list", "--id", id, "--exact")
	if err == nil {
		return true, nil
	}
	var exitErr *installer.ExitError
	if errors.As(err, &exitErr) && uint32(exitErr.Code) == wingetNoPackageFound {
		return false, nil
	}
	return false, err
}

// InstalledIDs implements Manager.
func (w *WinGet) InstalledIDs(ctx context.Context) (IDSet, error) {
	out, err := w.run(ctx, "list")
	if err != nil {
		return nil, err
	}
	return ParseWinGetList(out.Stdout), nil
}

// Uninstall implements Manager.
func (w *WinGet) Uninstall(ctx context.Context, id, source, displayName string) error {
	args := []string{"uninstall", "--id", id, "--exact", "--silent", "--force"}
	if source != "" {
		args = append(args, "--source", source)
	}
	logging.Info("Uninstalling with winget", "id", id, "name", displayName, "source", source)
	_, err := w.run(ctx, args...)
	var exitErr *installer.ExitError
	if errors.As(err, &exitErr) && uint32(exitErr.Code) == wingetNoPackageFound {
		return fmt.Errorf("winget %s: %w", id, ErrNotInstalled)
	}
	return err
}

// ParseWinGetList reads the Id column of `winget list` table output.
func ParseWinGetList(stdout string) IDSet {
	ids := make(IDSet)
	lines := strings.Split(strings.ReplaceAll(stdout, "\r", ""), "\n")

	idCol, verCol, header := -1, -1, -1
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "---") && i > 0 {
			h := []rune(lines[i-1])
			idCol = runeIndex(h, " Id ")
			verCol = runeIndex(h, " Version ")
			header = i
			break
		}
	}
	if header < 0 || idCol < 0 {
		return ids
	}
	idCol++ // skip the leading space of the match
	for _, line := range lines[header+1:] {
		r := []rune(line)
		if len(r) <= idCol {
			continue
		}
		end := len(r)
		if verCol > idCol && verCol < end {
			end = verCol
		}
		field := strings.TrimSpace(string(r[idCol:end]))
		if f := strings.Fields(field); len(f) > 0 {
			ids.Add(f[0])
		}
	}
	return ids
}

func runeIndex(r []rune, sub string) int {
	i := strings.Index(string(r), sub)
	if i < 0 {
		return -1
	}
	return len([]rune(string(r)[:i]))
}

func isNotFound(err error) bool {
	return errors.Is(err, os.ErrNotExist) || strings.Contains(strings.ToLower(err.Error()), "executable file not found")
}
