// pkg/installer/runner.go - running uninstallers and package-manager CLIs with timeouts.

package installer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/windowsadmins/sweeper/pkg/logging"
)

// ErrTimeout is returned when a command outlives its timeout.
var ErrTimeout = errors.New("command timed out")

// Command describes one external process invocation.
type Command struct {
	Path string
	Args []string
	// RawArgs is passed verbatim on the Windows command line instead of Args.
	// Uninstall strings from the registry are already quoted for the target program.
	RawArgs string
	Dir     string
	Timeout time.Duration
}

// String renders the command line for logs and transcripts.
func (c Command) String() string {
	var b strings.Builder
	if strings.ContainsAny(c.Path, " \t") {
		b.WriteString(`"` + c.Path + `"`)
	} else {
		b.WriteString(c.Path)
	}
	if c.RawArgs != "" {
		b.WriteString(" " + c.RawArgs)
		return b.String()
	}
	for _, a := range c.Args {
		b.WriteString(" " + a)
	}
	return b.String()
}

// Output is what a finished command produced.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExitError reports a non-zero exit code.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return fmt.Sprintf("exit code %d: %s", e.Code, strings.TrimSpace(e.Stderr))
}

// Runner executes commands. onLine, when non-nil, receives every stdout line as it arrives.
type Runner interface {
	Run(ctx context.Context, cmd Command, onLine func(string)) (Output, error)
}

// ProcessRunner runs commands as hidden child processes.
type ProcessRunner struct {
	DefaultTimeout time.Duration
}

// NewProcessRunner creates a ProcessRunner with the given default timeout.
func NewProcessRunner(defaultTimeout time.Duration) *ProcessRunner {
	return &ProcessRunner{DefaultTimeout: defaultTimeout}
}

// Run implements Runner.
func (r *ProcessRunner) Run(ctx context.Context, c Command, onLine func(string)) (Output, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = r.DefaultTimeout
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	configureCommand(cmd, c)
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return terminateProcessTree(cmd.Process.Pid)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Output{ExitCode: -1}, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logging.Debug("Running command", "command", c.String(), "timeout", timeout.String())
	if err := cmd.Start(); err != nil {
		return Output{ExitCode: -1}, fmt.Errorf("starting %s: %w", c.Path, err)
	}

	var out strings.Builder
	collectLines(stdout, &out, onLine)
	waitErr := cmd.Wait()

	result := Output{Stdout: out.String(), Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if waitErr != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			logging.Error("Command timed out", "command", c.Path, "timeout", timeout.String())
			return result, fmt.Errorf("%s after %s: %w", c.Path, timeout, ErrTimeout)
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return result, &ExitError{Code: exitErr.ExitCode(), Stderr: result.Stderr}
		}
		return result, waitErr
	}
	return result, nil
}

func collectLines(r io.Reader, out *strings.Builder, onLine func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		line = strings.TrimPrefix(line, "\ufeff")
		out.WriteString(line)
		out.WriteByte('\n')
		if onLine != nil {
			onLine(line)
		}
	}
	// A child writing to a full pipe never exits; consume what the scanner left.
	_, _ = io.Copy(io.Discard, r)
}
