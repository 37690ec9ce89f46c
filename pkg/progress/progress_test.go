package progress

import (
	"bytes"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) Report(u Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func TestSlotsTagAndSnapshot(t *testing.T) {
	rec := &recorder{}
	slots := NewSlots(rec)

	edge := slots.Slot("edge")
	bulk := slots.Slot("bulk")
	Status(edge, 40, "Removing Edge")
	Line(edge, "raw output")
	Complete(bulk, "Bulk removal done")

	require.Len(t, rec.updates, 3)
	assert.Equal(t, "edge", rec.updates[0].Slot)
	assert.Equal(t, "bulk", rec.updates[2].Slot)

	snap := slots.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "Removing Edge", snap[0].Status)
	assert.True(t, snap[1].Done)
}

func TestStatusClampsPercent(t *testing.T) {
	rec := &recorder{}
	Status(rec, 250, "x")
	Status(rec, -7, "y")
	assert.Equal(t, 100, rec.updates[0].Percent)
	assert.Equal(t, -1, rec.updates[1].Percent)
}

func TestNilSinkIsSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		Status(nil, 10, "nothing listens")
		Complete(nil, "done")
	})
}

func TestConsoleHidesRawLinesUnlessVerbose(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	c := NewConsole(&buf, false)
	c.Report(Update{TerminalLine: "noise"})
	c.Report(Update{Percent: 50, Status: "half"})
	assert.Equal(t, " 50% half\n", buf.String())

	buf.Reset()
	NewConsole(&buf, true).Report(Update{Slot: "bulk", TerminalLine: "noise"})
	assert.Equal(t, "[bulk] noise\n", buf.String())
}
