// pkg/progress/progress.go - progress records streamed to callers during removal

package progress

import (
	"sync"
)

// Update is one progress record. TerminalLine, when set, is a raw line of script
// output meant for a terminal-style transcript.
type Update struct {
	Slot         string
	Percent      int // 0-100, -1 for indeterminate
	Status       string
	TerminalLine string
	Done         bool
}

// Sink receives progress updates. Implementations must be safe for concurrent use.
type Sink interface {
	Report(Update)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Update)

// Report implements Sink.
func (f SinkFunc) Report(u Update) { f(u) }

type discard struct{}

func (discard) Report(Update) {}

// Discard drops every update.
var Discard Sink = discard{}

// OrDiscard returns s, or Discard when s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}

// Status reports a status line with a percentage.
func Status(s Sink, percent int, status string) {
	OrDiscard(s).Report(Update{Percent: clamp(percent), Status: status})
}

// Line reports a single transcript line.
func Line(s Sink, line string) {
	OrDiscard(s).Report(Update{Percent: -1, TerminalLine: line})
}

// Complete reports the final update of an operation.
func Complete(s Sink, status string) {
	OrDiscard(s).Report(Update{Percent: 100, Status: status, Done: true})
}

func clamp(p int) int {
	switch {
	case p < -1:
		return -1
	case p > 100:
		return 100
	default:
		return p
	}
}

// Slots multiplexes several named progress slots onto one Sink, as used by
// parallel removal where every task reports independently.
type Slots struct {
	mu     sync.Mutex
	target Sink
	names  []string
	last   map[string]Update
}

// NewSlots creates a slot multiplexer writing to target.
func NewSlots(target Sink) *Slots {
	return &Slots{target: OrDiscard(target), last: make(map[string]Update)}
}

// Slot returns the Sink for the named slot, creating it on first use.
func (s *Slots) Slot(name string) Sink {
	s.mu.Lock()
	if _, ok := s.last[name]; !ok {
		s.names = append(s.names, name)
		s.last[name] = Update{Slot: name, Percent: 0}
	}
	s.mu.Unlock()

	return SinkFunc(func(u Update) {
		u.Slot = name
		s.mu.Lock()
		if u.TerminalLine == "" || u.Status != "" {
			s.last[name] = u
		}
		s.mu.Unlock()
		s.target.Report(u)
	})
}

// Snapshot returns the latest status update of every slot in creation order.
func (s *Slots) Snapshot() []Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Update, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, s.last[name])
	}
	return out
}
