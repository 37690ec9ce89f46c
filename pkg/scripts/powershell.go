// pkg/scripts/powershell.go - the scripting subsystem used for removal and detection scripts.

package scripts

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/windowsadmins/sweeper/pkg/installer"
	"github.com/windowsadmins/sweeper/pkg/logging"
	"github.com/windowsadmins/sweeper/pkg/progress"
)

// ErrExecutionPolicyBlocked is returned when PowerShell refuses to run the script.
var ErrExecutionPolicyBlocked = errors.New("script execution blocked by execution policy")

// ExitError is a non-zero completion. Removal treats it as informational.
type ExitError struct {
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("script exited with code %d", e.Code)
}

// Script is either a file on disk or inline text.
type Script struct {
	Name string
	Path string
	Text string
}

// Output is what a script run produced.
type Output struct {
	Command  string
	Lines    []string
	ExitCode int
	Start    time.Time
	End      time.Time
}

// Runner runs scripts, streaming output lines to sink.
type Runner interface {
	Run(ctx context.Context, s Script, sink progress.Sink) (Output, error)
}

// PowerShell runs scripts with Windows PowerShell through an installer.Runner.
type PowerShell struct {
	Exe     string
	Runner  installer.Runner
	Timeout time.Duration
}

// NewPowerShell creates a PowerShell runner.
func NewPowerShell(runner installer.Runner, timeout time.Duration) *PowerShell {
	return &PowerShell{
		Exe:     filepath.Join(os.Getenv("WINDIR"), "System32", "WindowsPowerShell", "v1.0", "powershell.exe"),
		Runner:  runner,
		Timeout: timeout,
	}
}

// Run implements Runner.
func (p *PowerShell) Run(ctx context.Context, s Script, sink progress.Sink) (Output, error) {
	sink = progress.OrDiscard(sink)
	args := []string{"-NoProfile", "-NoLogo", "-NonInteractive", "-ExecutionPolicy", "Bypass"}
	switch {
	case s.Path != "":
		args = append(args, "-File", s.Path)
	case s.Text != "":
		args = append(args, "-EncodedCommand", EncodeCommand(s.Text))
	default:
		return Output{}, fmt.Errorf("script %q has neither path nor text", s.Name)
	}

	cmd := installer.Command{Path: p.Exe, Args: args, Timeout: p.Timeout}
	out := Output{Command: cmd.String(), Start: time.Now()}
	if s.Path == "" {
		out.Command = fmt.Sprintf("%s -EncodedCommand <%s>", p.Exe, s.Name)
	}

	res, err := p.Runner.Run(ctx, cmd, func(line string) {
		out.Lines = append(out.Lines, line)
		progress.Line(sink, line)
	})
	out.End = time.Now()
	out.ExitCode = res.ExitCode

	if policyBlocked(res.Stdout) || policyBlocked(res.Stderr) {
		logging.Warn("Script blocked by execution policy", "script", s.Name)
		return out, ErrExecutionPolicyBlocked
	}
	if err != nil {
		var exitErr *installer.ExitError
		if errors.As(err, &exitErr) {
			return out, &ExitError{Code: exitErr.Code, Output: strings.TrimSpace(res.Stderr)}
		}
		return out, err
	}
	return out, nil
}

// policyBlocked recognizes the messages PowerShell prints when script execution is disabled.
func policyBlocked(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	return strings.Contains(lower, "pssecurityexception") ||
		strings.Contains(lower, "running scripts is disabled on this system") ||
		strings.Contains(lower, "is not digitally signed")
}

// EncodeCommand encodes script text for powershell -EncodedCommand (base64 of UTF-16LE).
func EncodeCommand(text string) string {
	units := utf16.Encode([]rune(text))
	buf := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[i*2:], u)
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// Lines runs an inline query script and returns its non-empty, trimmed output lines.
func Lines(ctx context.Context, r Runner, name, text string) ([]string, error) {
	out, err := r.Run(ctx, Script{Name: name, Text: text}, nil)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(out.Lines))
	for _, l := range out.Lines {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

// Describe renders the command line shown in transcripts for s.
func Describe(s Script) string {
	if s.Path != "" {
		return fmt.Sprintf(`powershell.exe -NoProfile -ExecutionPolicy Bypass -File "%s"`, s.Path)
	}
	return fmt.Sprintf("powershell.exe -NoProfile -EncodedCommand <%s>", s.Name)
}

// TranscriptHeader reports the lines that precede a script's raw output.
func TranscriptHeader(sink progress.Sink, s Script, start time.Time) {
	progress.Line(sink, "Command: "+Describe(s))
	progress.Line(sink, "Start Time: "+start.Format("2006-01-02 15:04:05"))
	progress.Line(sink, "---")
}

// TranscriptFooter reports the lines that follow a script's raw output.
func TranscriptFooter(sink progress.Sink, end time.Time, exitCode int) {
	progress.Line(sink, "---")
	progress.Line(sink, "End Time: "+end.Format("2006-01-02 15:04:05"))
	progress.Line(sink, fmt.Sprintf("Process return value: %d", exitCode))
}
