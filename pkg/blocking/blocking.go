// pkg/blocking/blocking.go - finding and stopping processes that keep a component in use.

package blocking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/windowsadmins/sweeper/pkg/logging"
)

// Proc is the part of a gopsutil process used here.
type Proc interface {
	NameWithContext(ctx context.Context) (string, error)
	ExeWithContext(ctx context.Context) (string, error)
	KillWithContext(ctx context.Context) error
}

// Lister returns the running processes.
type Lister func(ctx context.Context) ([]Proc, error)

// SystemProcesses lists the processes of the local machine.
func SystemProcesses(ctx context.Context) ([]Proc, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Proc, len(procs))
	for i, p := range procs {
		out[i] = p
	}
	return out, nil
}

// Terminator stops blocking applications before removal.
type Terminator struct {
	List Lister
}

// NewTerminator returns a Terminator over the system process table.
func NewTerminator() *Terminator {
	return &Terminator{List: SystemProcesses}
}

// Matches reports whether a running process matches appName. appName may be a
// full path, an executable name, or a bare name without ".exe".
func Matches(ctx context.Context, p Proc, appName string) bool {
	clean := strings.ToLower(strings.TrimSpace(appName))
	if clean == "" {
		return false
	}
	if strings.Contains(clean, `\`) || strings.HasPrefix(clean, "/") {
		exe, err := p.ExeWithContext(ctx)
		return err == nil && strings.EqualFold(exe, appName)
	}
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return false
	}
	name = strings.ToLower(name)
	if strings.HasSuffix(clean, ".exe") {
		return name == clean
	}
	return name == clean || name == clean+".exe"
}

// Running returns the entries of appNames that have at least one running process.
func (t *Terminator) Running(ctx context.Context, appNames []string) []string {
	if len(appNames) == 0 {
		return nil
	}
	procs, err := t.List(ctx)
	if err != nil {
		logging.Error("Failed to get process list", "error", err)
		return nil
	}
	var running []string
	for _, app := range appNames {
		for _, p := range procs {
			if Matches(ctx, p, app) {
				running = append(running, app)
				break
			}
		}
	}
	return running
}

// Terminate kills every process matching appNames and returns how many were stopped.
func (t *Terminator) Terminate(ctx context.Context, itemID string, appNames []string) (int, error) {
	if len(appNames) == 0 {
		return 0, nil
	}
	procs, err := t.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing processes: %w", err)
	}

	killed := 0
	var errs []error
	for _, p := range procs {
		for _, app := range appNames {
			if !Matches(ctx, p, app) {
				continue
			}
			if err := p.KillWithContext(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stopping %s: %w", app, err))
			} else {
				killed++
			}
			break
		}
	}
	if killed > 0 {
		logging.Info("Stopped blocking applications", "item", itemID, "count", killed, "apps", appNames)
	}
	return killed, errors.Join(errs...)
}
