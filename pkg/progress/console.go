package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// Console prints updates as a terminal transcript.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	status  *color.Color
	done    *color.Color
}

// NewConsole creates a Console writing to out. Raw script lines are only printed when verbose.
func NewConsole(out io.Writer, verbose bool) *Console {
	if out == nil {
		out = color.Output
	}
	return &Console{
		out:     out,
		verbose: verbose,
		status:  color.New(color.FgCyan),
		done:    color.New(color.FgGreen, color.Bold),
	}
}

// Report implements Sink.
func (c *Console) Report(u Update) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := ""
	if u.Slot != "" {
		prefix = fmt.Sprintf("[%s] ", u.Slot)
	}
	if u.TerminalLine != "" {
		if c.verbose {
			fmt.Fprintf(c.out, "%s%s\n", prefix, u.TerminalLine)
		}
		return
	}
	if u.Status == "" {
		return
	}
	switch {
	case u.Done:
		c.done.Fprintf(c.out, "%s%s\n", prefix, u.Status)
	case u.Percent >= 0:
		c.status.Fprintf(c.out, "%s%3d%% %s\n", prefix, u.Percent, u.Status)
	default:
		c.status.Fprintf(c.out, "%s%s\n", prefix, u.Status)
	}
}
