// pkg/scheduler/scheduler.go - scheduled-task registration for deferred removal scripts.

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/windowsadmins/sweeper/pkg/installer"
	"github.com/windowsadmins/sweeper/pkg/logging"
)

// Task is a script the scheduler runs unattended.
type Task struct {
	Name         string
	ScriptPath   string
	RunOnStartup bool // at boot instead of at next logon
}

// Scheduler registers removal scripts to run later.
type Scheduler interface {
	IsRegistered(ctx context.Context, name string) (bool, error)
	Register(ctx context.Context, task Task) error
	Unregister(ctx context.Context, name string) error
}

// TaskScheduler drives the Windows Task Scheduler through schtasks.exe.
type TaskScheduler struct {
	Folder string
	Exe    string
	Runner installer.Runner
}

// NewTaskScheduler creates a TaskScheduler placing tasks under folder.
func NewTaskScheduler(folder string, runner installer.Runner) *TaskScheduler {
	return &TaskScheduler{
		Folder: folder,
		Exe:    filepath.Join(os.Getenv("WINDIR"), "System32", "schtasks.exe"),
		Runner: runner,
	}
}

// TaskPath returns the fully qualified task name.
func (s *TaskScheduler) TaskPath(name string) string {
	folder := strings.Trim(s.Folder, `\`)
	if folder == "" {
		return `\` + name
	}
	return `\` + folder + `\` + name
}

// IsRegistered implements Scheduler.
func (s *TaskScheduler) IsRegistered(ctx context.Context, name string) (bool, error) {
	_, err := s.Runner.Run(ctx, installer.Command{
		Path: s.Exe,
		Args: []string{"/Query", "/TN", s.TaskPath(name)},
	}, nil)
	if err == nil {
		return true, nil
	}
	var exitErr *installer.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}

// Register implements Scheduler. Existing tasks with the same name are replaced.
func (s *TaskScheduler) Register(ctx context.Context, task Task) error {
	args := RegisterArgs(s.TaskPath(task.Name), task)
	if _, err := s.Runner.Run(ctx, installer.Command{Path: s.Exe, Args: args}, nil); err != nil {
		return fmt.Errorf("registering scheduled task %s: %w", task.Name, err)
	}
	logging.Info("Registered scheduled task", "task", task.Name, "script", task.ScriptPath, "runOnStartup", task.RunOnStartup)
	return nil
}

// Unregister implements Scheduler. A missing task is not an error.
func (s *TaskScheduler) Unregister(ctx context.Context, name string) error {
	registered, err := s.IsRegistered(ctx, name)
	if err != nil {
		return err
	}
	if !registered {
		return nil
	}
	_, err = s.Runner.Run(ctx, installer.Command{
		Path: s.Exe,
		Args: []string{"/Delete", "/TN", s.TaskPath(name), "/F"},
	}, nil)
	if err != nil {
		return fmt.Errorf("deleting scheduled task %s: %w", name, err)
	}
	logging.Info("Unregistered scheduled task", "task", name)
	return nil
}

// RegisterArgs builds the schtasks /Create arguments for task.
func RegisterArgs(taskPath string, task Task) []string {
	trigger := "ONLOGON"
	if task.RunOnStartup {
		trigger = "ONSTART"
	}
	action := fmt.Sprintf(`powershell.exe -NoProfile -NonInteractive -ExecutionPolicy Bypass -WindowStyle Hidden -File "%s"`, task.ScriptPath)
	return []string{
		"/Create", "/F",
		"/TN", taskPath,
		"/SC", trigger,
		"/RU", "SYSTEM",
		"/RL", "HIGHEST",
		"/TR", action,
	}
}
