package removal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windowsadmins/sweeper/pkg/catalog"
	"github.com/windowsadmins/sweeper/pkg/progress"
	"github.com/windowsadmins/sweeper/pkg/result"
	"github.com/windowsadmins/sweeper/pkg/scheduler"
	"github.com/windowsadmins/sweeper/pkg/scripts"
)

type fakeScheduler struct {
	mu    sync.Mutex
	tasks map[string]scheduler.Task
	err   error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{tasks: make(map[string]scheduler.Task)}
}

func (f *fakeScheduler) IsRegistered(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tasks[name]
	return ok, nil
}

func (f *fakeScheduler) Register(_ context.Context, task scheduler.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tasks[task.Name] = task
	return nil
}

func (f *fakeScheduler) Unregister(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, name)
	return nil
}

type fakeScriptRunner struct {
	err   error
	lines []string
	ran   []string
}

func (f *fakeScriptRunner) Run(_ context.Context, s scripts.Script, sink progress.Sink) (scripts.Output, error) {
	f.ran = append(f.ran, s.Name)
	for _, l := range f.lines {
		progress.Line(sink, l)
	}
	return scripts.Output{Lines: f.lines}, f.err
}

func newTestStore(t *testing.T) (*Store, *fakeScriptRunner, *fakeScheduler) {
	t.Helper()
	runner := &fakeScriptRunner{}
	sched := newFakeScheduler()
	return NewStore(t.TempDir(), runner, sched), runner, sched
}

func TestScriptPathLayout(t *testing.T) {
	s := NewStore(`C:\ProgramData\Sweeper\Scripts`, nil, nil)
	assert.Equal(t, "BloatRemoval.ps1", filepath.Base(s.ScriptPath("")))
	assert.Equal(t, "EdgeRemoval.ps1", filepath.Base(s.ScriptPath("edge")))
	assert.Equal(t, "OneDriveRemoval.ps1", filepath.Base(s.ScriptPath("OneDrive")))
	assert.Equal(t, "CortanaRemoval.ps1", filepath.Base(s.ScriptPath("Cortana")))
}

func TestAddToBulkTwiceIsIdempotent(t *testing.T) {
	s, _, sched := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddToBulk(ctx, []catalog.Item{newsItem, stepsItem})
	require.NoError(t, err)
	first, err := os.ReadFile(s.ScriptPath(""))
	require.NoError(t, err)

	_, err = s.AddToBulk(ctx, []catalog.Item{newsItem, stepsItem})
	require.NoError(t, err)
	second, err := os.ReadFile(s.ScriptPath(""))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.Contains(t, sched.tasks, BulkScriptName)
	assert.False(t, sched.tasks[BulkScriptName].RunOnStartup)
}

func TestRemovingLastEntryDeletesScriptAndTask(t *testing.T) {
	s, _, sched := newTestStore(t)
	ctx := context.Background()

	_, err := s.AddToBulk(ctx, []catalog.Item{newsItem, musicItem})
	require.NoError(t, err)

	changed, err := s.RemoveFromBulk(ctx, []catalog.Item{newsItem})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.FileExists(t, s.ScriptPath(""))
	assert.False(t, s.BulkIsEmpty())

	changed, err = s.RemoveFromBulk(ctx, []catalog.Item{musicItem})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NoFileExists(t, s.ScriptPath(""))
	assert.NotContains(t, sched.tasks, BulkScriptName)
	assert.True(t, s.BulkIsEmpty())

	changed, err = s.RemoveFromBulk(ctx, []catalog.Item{musicItem})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRemoveFromBulkUnknownEntryIsNoop(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.AddToBulk(context.Background(), []catalog.Item{newsItem})
	require.NoError(t, err)

	changed, err := s.RemoveFromBulk(context.Background(), []catalog.Item{wmpItem})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestExecuteBulkOutcomes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want result.Outcome
	}{
		{"completed", nil, result.OutcomeSuccess},
		{"policy blocked", scripts.ErrExecutionPolicyBlocked, result.OutcomeDeferred},
		{"non-zero exit", &scripts.ExitError{Code: 1}, result.OutcomeSuccess},
		{"other failure", errors.New("pipeline stopped"), result.OutcomeSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, runner, _ := newTestStore(t)
			runner.err = tt.err
			got := s.ExecuteBulk(context.Background(), []catalog.Item{newsItem}, nil)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, []string{BulkScriptName}, runner.ran)
		})
	}
}

func TestExecuteBulkBlockedWithoutTaskFails(t *testing.T) {
	s, runner, sched := newTestStore(t)
	sched.err = errors.New("access denied")
	runner.err = scripts.ErrExecutionPolicyBlocked

	assert.Equal(t, result.OutcomeFailed, s.ExecuteBulk(context.Background(), []catalog.Item{newsItem}, nil))
}

func TestBlockedWithoutSchedulerFails(t *testing.T) {
	runner := &fakeScriptRunner{err: scripts.ErrExecutionPolicyBlocked}
	s := NewStore(t.TempDir(), runner, nil)
	ctx := context.Background()

	assert.Equal(t, result.OutcomeFailed, s.ExecuteBulk(ctx, []catalog.Item{newsItem}, nil))

	edge := catalog.Item{ID: catalog.EdgeID, RemovalScript: func() string { return "Remove-Edge" }}
	assert.Equal(t, result.OutcomeFailed, s.ExecuteDedicated(ctx, edge, nil))
	assert.Equal(t, []string{BulkScriptName, "EdgeRemoval"}, runner.ran)
}

func TestExecuteBulkCancelled(t *testing.T) {
	s, runner, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, result.OutcomeFailed, s.ExecuteBulk(ctx, []catalog.Item{newsItem}, nil))
	assert.Empty(t, runner.ran)
	assert.NoFileExists(t, s.ScriptPath(""))
}

func TestExecuteDedicatedTranscript(t *testing.T) {
	s, runner, sched := newTestStore(t)
	runner.lines = []string{"Removing Edge"}

	var mu sync.Mutex
	var lines []string
	sink := progress.SinkFunc(func(u progress.Update) {
		mu.Lock()
		defer mu.Unlock()
		if u.TerminalLine != "" {
			lines = append(lines, u.TerminalLine)
		}
	})

	edge := catalog.Item{ID: "edge", Name: "Microsoft Edge", RemovalScript: func() string { return "Write-Output 'edge'" }}
	got := s.ExecuteDedicated(context.Background(), edge, sink)

	assert.Equal(t, result.OutcomeSuccess, got)
	require.Len(t, lines, 7)
	assert.True(t, strings.HasPrefix(lines[0], "Command: "))
	assert.True(t, strings.HasPrefix(lines[1], "Start Time: "))
	assert.Equal(t, "---", lines[2])
	assert.Equal(t, "Removing Edge", lines[3])
	assert.Equal(t, "---", lines[4])
	assert.True(t, strings.HasPrefix(lines[5], "End Time: "))
	assert.Equal(t, "Process return value: 0", lines[6])

	data, err := os.ReadFile(s.ScriptPath("edge"))
	require.NoError(t, err)
	assert.Equal(t, "\ufeffWrite-Output 'edge'", string(data))
	assert.True(t, sched.tasks["EdgeRemoval"].RunOnStartup)
}

func TestExecuteDedicatedRequiresScript(t *testing.T) {
	s, runner, _ := newTestStore(t)
	assert.Equal(t, result.OutcomeFailed, s.ExecuteDedicated(context.Background(), newsItem, nil))
	assert.Empty(t, runner.ran)
}

func TestPersistRegistersScriptsOnDisk(t *testing.T) {
	s, _, sched := newTestStore(t)
	ctx := context.Background()
	cortana := catalog.Item{ID: "Cortana", RemovalScript: func() string { return "x" }}

	require.NoError(t, writeAtomic(s.ScriptPath("edge"), "edge"))
	require.NoError(t, writeAtomic(s.ScriptPath("Cortana"), "cortana"))
	_, err := s.AddToBulk(ctx, []catalog.Item{newsItem})
	require.NoError(t, err)
	sched.tasks = make(map[string]scheduler.Task)

	require.NoError(t, s.Persist(ctx, []catalog.Item{cortana, newsItem}))
	assert.True(t, sched.tasks["EdgeRemoval"].RunOnStartup)
	assert.False(t, sched.tasks["CortanaRemoval"].RunOnStartup)
	assert.Contains(t, sched.tasks, BulkScriptName)
	assert.NotContains(t, sched.tasks, "OneDriveRemoval")
}

func TestCleanupAllRemovesEverything(t *testing.T) {
	s, _, sched := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, writeAtomic(s.ScriptPath("onedrive"), "od"))
	require.NoError(t, writeAtomic(s.ScriptPath("Cortana"), "c"))
	sched.tasks["OneDriveRemoval"] = scheduler.Task{Name: "OneDriveRemoval"}
	sched.tasks["CortanaRemoval"] = scheduler.Task{Name: "CortanaRemoval"}
	_, err := s.AddToBulk(ctx, []catalog.Item{newsItem})
	require.NoError(t, err)

	require.NoError(t, s.CleanupAll(ctx))
	assert.Empty(t, sched.tasks)
	entries, err := os.ReadDir(filepath.Dir(s.ScriptPath("")))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "BloatRemoval.ps1")
	require.NoError(t, writeAtomic(path, "one"))
	require.NoError(t, writeAtomic(path, "two"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "\ufefftwo", string(data))
}
