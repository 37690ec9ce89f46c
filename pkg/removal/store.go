// pkg/removal/store.go - removal scripts on disk, their scheduled tasks and their execution.

package removal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/windowsadmins/sweeper/pkg/catalog"
	"github.com/windowsadmins/sweeper/pkg/logging"
	"github.com/windowsadmins/sweeper/pkg/progress"
	"github.com/windowsadmins/sweeper/pkg/result"
	"github.com/windowsadmins/sweeper/pkg/scheduler"
	"github.com/windowsadmins/sweeper/pkg/scripts"
)

// BulkScriptName is the name of the bulk script and of its scheduled task.
const BulkScriptName = "BloatRemoval"

const (
	scriptExt       = ".ps1"
	dedicatedSuffix = "Removal"
	utf8BOM         = "\ufeff"
)

type dedicatedLayout struct {
	name         string
	runOnStartup bool
}

// Fixed names of the well-known dedicated scripts. Other items use <ID>Removal.
var dedicatedScripts = map[string]dedicatedLayout{
	catalog.EdgeID:     {name: "EdgeRemoval", runOnStartup: true},
	catalog.OneDriveID: {name: "OneDriveRemoval"},
}

// RemovalScript is a script file together with the task that runs it.
type RemovalScript struct {
	Name                    string
	Content                 string
	TargetScheduledTaskName string
	RunOnStartup            bool
	ActualScriptPath        string
}

func (s RemovalScript) task() scheduler.Task {
	return scheduler.Task{Name: s.TargetScheduledTaskName, ScriptPath: s.ActualScriptPath, RunOnStartup: s.RunOnStartup}
}

// Store owns the removal scripts under one directory. Bulk mutations are
// serialized per Store; separate processes must not share a directory.
type Store struct {
	dir       string
	runner    scripts.Runner
	scheduler scheduler.Scheduler
	mu        sync.Mutex
}

// NewStore creates a Store writing scripts into dir.
func NewStore(dir string, runner scripts.Runner, sched scheduler.Scheduler) *Store {
	return &Store{dir: dir, runner: runner, scheduler: sched}
}

// ScriptPath returns the on-disk path of the dedicated script for id, or of
// the bulk script when id is empty.
func (s *Store) ScriptPath(id string) string {
	return filepath.Join(s.dir, scriptName(id)+scriptExt)
}

func scriptName(id string) string {
	if id == "" {
		return BulkScriptName
	}
	if l, ok := dedicatedScripts[strings.ToLower(id)]; ok {
		return l.name
	}
	return id + dedicatedSuffix
}

func runOnStartup(id string) bool {
	return dedicatedScripts[strings.ToLower(id)].runOnStartup
}

func (s *Store) dedicatedScript(item catalog.Item) RemovalScript {
	name := scriptName(item.ID)
	return RemovalScript{
		Name:                    name,
		Content:                 item.RemovalScript(),
		TargetScheduledTaskName: name,
		RunOnStartup:            runOnStartup(item.ID),
		ActualScriptPath:        s.ScriptPath(item.ID),
	}
}

func (s *Store) bulkScript(content string) RemovalScript {
	return RemovalScript{
		Name:                    BulkScriptName,
		Content:                 content,
		TargetScheduledTaskName: BulkScriptName,
		ActualScriptPath:        s.ScriptPath(""),
	}
}

// ExecuteDedicated writes, registers and runs the item's own removal script.
func (s *Store) ExecuteDedicated(ctx context.Context, item catalog.Item, sink progress.Sink) result.Outcome {
	if !item.HasDedicatedRemoval() {
		logging.Error("Item has no dedicated removal script", "item", item.ID)
		return result.OutcomeFailed
	}
	if ctx.Err() != nil {
		return result.OutcomeFailed
	}
	script := s.dedicatedScript(item)
	progress.Status(sink, 5, fmt.Sprintf("Preparing %s", item.DisplayName()))
	if err := writeAtomic(script.ActualScriptPath, script.Content); err != nil {
		logging.Error("Failed to write removal script", "item", item.ID, "error", err)
		return result.OutcomeFailed
	}
	registered := s.register(ctx, script)
	return s.run(ctx, script, registered, sink)
}

// ExecuteBulk merges items into the bulk script and runs it once.
func (s *Store) ExecuteBulk(ctx context.Context, items []catalog.Item, sink progress.Sink) result.Outcome {
	if ctx.Err() != nil {
		return result.OutcomeFailed
	}
	progress.Status(sink, 5, fmt.Sprintf("Preparing removal of %d items", len(items)))
	script, err := s.AddToBulk(ctx, items)
	if err != nil {
		logging.Error("Failed to update bulk removal script", "error", err)
		return result.OutcomeFailed
	}
	registered := false
	if s.scheduler != nil {
		registered, _ = s.scheduler.IsRegistered(ctx, script.TargetScheduledTaskName)
	}
	return s.run(ctx, script, registered, sink)
}

// run executes a written script with transcript framing and maps the result.
func (s *Store) run(ctx context.Context, script RemovalScript, registered bool, sink progress.Sink) result.Outcome {
	ps := scripts.Script{Name: script.Name, Path: script.ActualScriptPath}
	start := time.Now()
	progress.Status(sink, 10, fmt.Sprintf("Running %s", script.Name))
	scripts.TranscriptHeader(sink, ps, start)
	out, err := s.runner.Run(ctx, ps, sink)
	scripts.TranscriptFooter(sink, time.Now(), out.ExitCode)

	outcome := mapOutcome(ctx, script.Name, err, registered)
	logging.LogRemovalComplete(script.Name, outcome, time.Since(start))
	progress.Complete(sink, fmt.Sprintf("%s: %s", script.Name, outcome))
	return outcome
}

// mapOutcome converts a script run error into an outcome. A blocked script is
// deferred to its scheduled task when one exists; any other error after the
// script started counts as partial progress.
func mapOutcome(ctx context.Context, name string, err error, registered bool) result.Outcome {
	switch {
	case err == nil:
		return result.OutcomeSuccess
	case ctx.Err() != nil || result.IsCancelled(err):
		logging.Warn("Removal script cancelled", "script", name)
		return result.OutcomeFailed
	case errors.Is(err, scripts.ErrExecutionPolicyBlocked):
		if !registered {
			logging.Error("Removal script blocked and no scheduled task to defer to",
				"script", name, "error", result.NewError(result.KindPolicyBlocked, name, "run", err))
			return result.OutcomeFailed
		}
		logging.Warn("Removal script blocked by execution policy, deferred to scheduled task",
			"script", name, "error", result.NewError(result.KindPolicyBlocked, name, "run", err))
		return result.OutcomeDeferred
	default:
		logging.Warn("Removal script reported errors, treating as success", "script", name, "error", err)
		return result.OutcomeSuccess
	}
}

// AddToBulk merges the bulk entries of items into the bulk script, writes it
// and registers its scheduled task.
func (s *Store) AddToBulk(ctx context.Context, items []catalog.Item) (RemovalScript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readBulk()
	if err != nil {
		return RemovalScript{}, err
	}
	merged := Merge(current, EntriesFor(items))
	script := s.bulkScript(Render(merged))
	if err := ctx.Err(); err != nil {
		return RemovalScript{}, err
	}
	if err := writeAtomic(script.ActualScriptPath, script.Content); err != nil {
		return RemovalScript{}, err
	}
	logging.Debug("Bulk removal script updated", "entries", merged.Len(), "path", script.ActualScriptPath)
	s.register(ctx, script)
	return script, nil
}

// RemoveFromBulk drops the entries of items from the bulk script. When nothing
// is left the script is deleted and its task unregistered. It reports whether
// the script changed.
func (s *Store) RemoveFromBulk(ctx context.Context, items []catalog.Item) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.ScriptPath("")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	current, err := s.readBulk()
	if err != nil {
		return false, err
	}
	remaining := Subtract(current, EntriesFor(items))
	if remaining.Equal(current) {
		return false, nil
	}
	if remaining.IsEmpty() {
		logging.Info("Bulk removal script is empty, removing it", "path", path)
		return true, s.cleanup(ctx, BulkScriptName, path)
	}
	if err := writeAtomic(path, Render(remaining)); err != nil {
		return false, err
	}
	return true, nil
}

// BulkIsEmpty reports whether the bulk script is absent or holds no entries.
func (s *Store) BulkIsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.readBulk()
	return err != nil || e.IsEmpty()
}

// readBulk extracts the entries of the bulk script. A missing file is empty.
func (s *Store) readBulk() (Entries, error) {
	path := s.ScriptPath("")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Entries{}, nil
	}
	if err != nil {
		return Entries{}, pkgerrors.Wrapf(err, "reading %s", path)
	}
	e, err := Extract(string(data))
	if err != nil {
		return Entries{}, pkgerrors.Wrapf(err, "parsing %s", path)
	}
	return e, nil
}

// Persist registers every removal script present on disk with the scheduler.
func (s *Store) Persist(ctx context.Context, allItems []catalog.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler == nil {
		return nil
	}
	var errs []error
	for _, script := range s.onDisk(allItems) {
		if err := s.scheduler.Register(ctx, script.task()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CleanupAll unregisters every known task and deletes every known script.
func (s *Store) CleanupAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := map[string]bool{BulkScriptName: true}
	for _, l := range dedicatedScripts {
		names[l.name] = true
	}
	matches, _ := filepath.Glob(filepath.Join(s.dir, "*"+dedicatedSuffix+scriptExt))
	for _, m := range matches {
		names[strings.TrimSuffix(filepath.Base(m), scriptExt)] = true
	}

	var errs []error
	for _, name := range sortedKeys(names) {
		if err := s.cleanup(ctx, name, filepath.Join(s.dir, name+scriptExt)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) cleanup(ctx context.Context, name, path string) error {
	var errs []error
	if s.scheduler != nil {
		if err := s.scheduler.Unregister(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, pkgerrors.Wrapf(err, "deleting %s", path))
	}
	return errors.Join(errs...)
}

// onDisk lists the scripts that exist: dedicated scripts of allItems and the
// well-known table, then the bulk script.
func (s *Store) onDisk(allItems []catalog.Item) []RemovalScript {
	ids := make(map[string]string)
	for id := range dedicatedScripts {
		ids[id] = id
	}
	for _, it := range allItems {
		if it.HasDedicatedRemoval() {
			ids[strings.ToLower(it.ID)] = it.ID
		}
	}

	keys := make([]string, 0, len(ids))
	for k := range ids {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var found []RemovalScript
	for _, key := range keys {
		id := ids[key]
		path := s.ScriptPath(id)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		name := scriptName(id)
		found = append(found, RemovalScript{
			Name: name, TargetScheduledTaskName: name,
			RunOnStartup: runOnStartup(id), ActualScriptPath: path,
		})
	}
	if _, err := os.Stat(s.ScriptPath("")); err == nil {
		found = append(found, s.bulkScript(""))
	}
	return found
}

func (s *Store) register(ctx context.Context, script RemovalScript) bool {
	if s.scheduler == nil {
		return false
	}
	if err := s.scheduler.Register(ctx, script.task()); err != nil {
		logging.Warn("Failed to register removal task", "task", script.TargetScheduledTaskName, "error", err)
		return false
	}
	return true
}

// writeAtomic replaces path with content through a temporary file in the same directory.
func writeAtomic(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pkgerrors.Wrapf(err, "creating %s", dir)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return pkgerrors.Wrapf(err, "creating temporary file in %s", dir)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(utf8BOM + content); err != nil {
		tmp.Close()
		return pkgerrors.Wrapf(err, "writing %s", tmp.Name())
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return pkgerrors.Wrapf(err, "syncing %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return pkgerrors.Wrapf(err, "closing %s", tmp.Name())
	}
	return pkgerrors.Wrapf(os.Rename(tmp.Name(), path), "replacing %s", path)
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
