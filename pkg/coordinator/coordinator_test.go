package coordinator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windowsadmins/sweeper/pkg/catalog"
	"github.com/windowsadmins/sweeper/pkg/progress"
	"github.com/windowsadmins/sweeper/pkg/result"
)

type fakeStore struct {
	mu        sync.Mutex
	dedicated []string
	bulk      [][]string
	outcomes  map[string]result.Outcome
	onRun     func(ctx context.Context, name string) result.Outcome
	persisted int
	cleanedUp int
}

func (f *fakeStore) outcome(ctx context.Context, name string) result.Outcome {
	if f.onRun != nil {
		return f.onRun(ctx, name)
	}
	if o, ok := f.outcomes[name]; ok {
		return o
	}
	return result.OutcomeSuccess
}

func (f *fakeStore) ExecuteDedicated(ctx context.Context, item catalog.Item, sink progress.Sink) result.Outcome {
	f.mu.Lock()
	f.dedicated = append(f.dedicated, item.ID)
	f.mu.Unlock()
	progress.Status(sink, 50, "running "+item.ID)
	return f.outcome(ctx, item.ID)
}

func (f *fakeStore) ExecuteBulk(ctx context.Context, items []catalog.Item, sink progress.Sink) result.Outcome {
	var ids []string
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	f.mu.Lock()
	f.bulk = append(f.bulk, ids)
	f.mu.Unlock()
	progress.Status(sink, 50, "running bulk")
	return f.outcome(ctx, "bulk")
}

func (f *fakeStore) Persist(context.Context, []catalog.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persisted++
	return nil
}

func (f *fakeStore) CleanupAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanedUp++
	return nil
}

type fakeResolver struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (f *fakeResolver) Execute(ctx context.Context, item catalog.Item) result.Result[bool] {
	f.mu.Lock()
	f.calls = append(f.calls, item.ID)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return result.Cancelled(false, err)
	}
	if f.fail[item.ID] {
		return result.Failure(false, result.NewError(result.KindMethodExhausted, item.Name, "uninstall", errors.New("nothing worked")))
	}
	return result.Success(true, item.ID+" uninstalled")
}

type countingInvalidator struct {
	mu sync.Mutex
	n  int
}

func (c *countingInvalidator) Invalidate() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

type fakeSettings struct {
	mu      sync.Mutex
	applied []string
	err     error
}

func (f *fakeSettings) ApplySettings(_ context.Context, settings []catalog.RegistrySetting) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range settings {
		f.applied = append(f.applied, s.Name)
	}
	return f.err
}

type fakeStopper struct {
	mu      sync.Mutex
	stopped []string
}

func (f *fakeStopper) Terminate(_ context.Context, itemID string, _ []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, itemID)
	return 1, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	items map[string]result.Status
	batch []result.Status
}

func (r *recordingNotifier) ItemFinished(item catalog.Item, status result.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID] = status
}

func (r *recordingNotifier) BatchFinished(res result.Result[int]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batch = append(r.batch, res.Status)
}

type harness struct {
	store    *fakeStore
	resolver *fakeResolver
	detector *countingInvalidator
	settings *fakeSettings
	stopper  *fakeStopper
	notifier *recordingNotifier
	coord    *Coordinator
}

func dedicatedItem(id string) catalog.Item {
	return catalog.Item{ID: id, Name: id, RemovalScript: func() string { return "Write-Output " + id }}
}

var (
	news  = catalog.Item{ID: "news", AppxPackageName: "Microsoft.BingNews"}
	music = catalog.Item{ID: "music", AppxPackageName: "Microsoft.ZuneMusic"}
	zoom  = catalog.Item{ID: "zoom", Name: "Zoom", WinGetPackageIDs: []string{"Zoom.Zoom"}, DetectedVia: catalog.SourceWinGet}
	vlc   = catalog.Item{ID: "vlc", Name: "VLC", ChocoPackageID: "vlc", DetectedVia: catalog.SourceChocolatey}
)

func newHarness(items ...catalog.Item) *harness {
	h := &harness{
		store:    &fakeStore{outcomes: map[string]result.Outcome{}},
		resolver: &fakeResolver{fail: map[string]bool{}},
		detector: &countingInvalidator{},
		settings: &fakeSettings{},
		stopper:  &fakeStopper{},
		notifier: &recordingNotifier{items: map[string]result.Status{}},
	}
	h.coord = New(Options{
		Catalog:  catalog.NewIndex(items),
		Store:    h.store,
		Resolver: h.resolver,
		Detector: h.detector,
		Settings: h.settings,
		Stopper:  h.stopper,
		Notifier: h.notifier,
	})
	return h
}

func TestPlanRouting(t *testing.T) {
	edge := dedicatedItem("edge")
	units := plan([]catalog.Item{news, zoom, edge, music, vlc})

	require.Len(t, units, 4)
	assert.Equal(t, routeDedicated, units[0].route)
	assert.Equal(t, "edge", units[0].name)
	assert.Equal(t, routeExternal, units[1].route)
	assert.Equal(t, routeExternal, units[2].route)
	assert.Equal(t, routeBulk, units[3].route)
	assert.Len(t, units[3].items, 2)
}

func TestUninstallManyRoutesAndCleansUp(t *testing.T) {
	h := newHarness()
	edge := dedicatedItem("edge")
	res := h.coord.UninstallMany(context.Background(), []catalog.Item{news, edge, zoom, music}, false, nil)

	assert.Equal(t, result.StatusSuccess, res.Status, res.Message)
	assert.Equal(t, 4, res.Value)
	assert.Equal(t, []string{"edge"}, h.store.dedicated)
	assert.Equal(t, [][]string{{"news", "music"}}, h.store.bulk)
	assert.Equal(t, []string{"zoom"}, h.resolver.calls)
	assert.Equal(t, 1, h.store.cleanedUp)
	assert.Zero(t, h.store.persisted)
	assert.Equal(t, 3, h.detector.n)
	assert.Equal(t, []result.Status{result.StatusSuccess}, h.notifier.batch)
}

func TestUninstallManyPersists(t *testing.T) {
	h := newHarness()
	res := h.coord.UninstallMany(context.Background(), []catalog.Item{news}, true, nil)
	assert.True(t, res.OK())
	assert.Equal(t, 1, h.store.persisted)
	assert.Zero(t, h.store.cleanedUp)
}

func TestExternalOnlyLeavesScriptsAlone(t *testing.T) {
	h := newHarness()
	res := h.coord.UninstallMany(context.Background(), []catalog.Item{zoom}, false, nil)
	assert.Equal(t, result.StatusSuccess, res.Status)
	assert.Zero(t, h.store.persisted)
	assert.Zero(t, h.store.cleanedUp)
}

func TestDeferredAggregateForcesPersist(t *testing.T) {
	h := newHarness()
	h.store.outcomes["bulk"] = result.OutcomeDeferred

	res := h.coord.UninstallMany(context.Background(), []catalog.Item{dedicatedItem("edge"), news, music}, false, nil)

	assert.Equal(t, result.StatusDeferred, res.Status)
	assert.True(t, res.OK())
	assert.Equal(t, 3, res.Value)
	assert.Equal(t, "3 items removed or queued; some removals run by scheduled task", res.Message)
	assert.Equal(t, 1, h.store.persisted)
	assert.Zero(t, h.store.cleanedUp)
	assert.Equal(t, result.StatusDeferred, h.notifier.items["news"])
	assert.Equal(t, result.StatusSuccess, h.notifier.items["edge"])
}

func TestFailureNamesItemsAndContinues(t *testing.T) {
	h := newHarness()
	h.resolver.fail["zoom"] = true

	res := h.coord.UninstallMany(context.Background(), []catalog.Item{zoom, vlc, news}, false, nil)

	assert.Equal(t, result.StatusFailed, res.Status)
	assert.Contains(t, res.Message, "Zoom")
	assert.Equal(t, 2, res.Value)
	assert.ErrorIs(t, res.Err, result.ErrMethodExhausted)
	assert.Equal(t, []string{"zoom", "vlc"}, h.resolver.calls)
	assert.Len(t, h.store.bulk, 1)
}

func TestCancellationMidBatch(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.store.onRun = func(_ context.Context, name string) result.Outcome {
		if name == "a" {
			cancel()
		}
		return result.OutcomeSuccess
	}

	res := h.coord.UninstallMany(ctx, []catalog.Item{dedicatedItem("a"), dedicatedItem("b"), news}, false, nil)

	assert.Equal(t, result.StatusCancelled, res.Status)
	assert.True(t, result.IsCancelled(res.Err))
	assert.Equal(t, 1, res.Value)
	assert.Equal(t, []string{"a"}, h.store.dedicated)
	assert.Empty(t, h.store.bulk)
}

func TestCancelledScriptIsCancelledNotFailed(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	h.store.onRun = func(context.Context, string) result.Outcome {
		cancel()
		return result.OutcomeFailed
	}

	res := h.coord.UninstallMany(ctx, []catalog.Item{news}, false, nil)
	assert.Equal(t, result.StatusCancelled, res.Status)
	assert.Equal(t, result.StatusCancelled, h.notifier.items["news"])
}

func TestRegistrySettingsAppliedOnlyOnSuccess(t *testing.T) {
	h := newHarness()
	h.settings.err = errors.New("access denied")
	h.store.outcomes["bulk"] = result.OutcomeDeferred

	withSettings := dedicatedItem("edge")
	withSettings.RegistrySettings = []catalog.RegistrySetting{{Hive: "HKLM", Path: `SOFTWARE\Policies\Microsoft\Edge`, Name: "HideFirstRunExperience", Type: catalog.ValueDWord, Value: "1"}}
	queued := news
	queued.RegistrySettings = []catalog.RegistrySetting{{Hive: "HKCU", Path: `Software\X`, Name: "Queued", Type: catalog.ValueString, Value: "1"}}

	res := h.coord.UninstallMany(context.Background(), []catalog.Item{withSettings, queued}, false, nil)

	assert.Equal(t, result.StatusDeferred, res.Status)
	assert.Equal(t, []string{"HideFirstRunExperience"}, h.settings.applied)
}

func TestBlockingProcessesStopped(t *testing.T) {
	h := newHarness()
	teams := news
	teams.ID = "teams"
	teams.ProcessNames = []string{"ms-teams"}
	h.coord.UninstallMany(context.Background(), []catalog.Item{teams, music}, false, nil)
	assert.Equal(t, []string{"teams"}, h.stopper.stopped)
}

func TestUninstallOne(t *testing.T) {
	h := newHarness(news, dedicatedItem("edge"))

	res := h.coord.UninstallOne(context.Background(), "EDGE", nil)
	assert.Equal(t, result.StatusSuccess, res.Status)
	assert.True(t, res.Value)

	res = h.coord.UninstallOne(context.Background(), "missing", nil)
	assert.Equal(t, result.StatusFailed, res.Status)
	assert.False(t, res.Value)
	assert.Contains(t, res.Message, "missing")
}

func TestUninstallManyParallel(t *testing.T) {
	h := newHarness()
	var mu sync.Mutex
	seen := map[string]bool{}
	slots := progress.NewSlots(progress.SinkFunc(func(u progress.Update) {
		mu.Lock()
		seen[u.Slot] = true
		mu.Unlock()
	}))

	res := h.coord.UninstallManyParallel(context.Background(),
		[]catalog.Item{dedicatedItem("edge"), dedicatedItem("onedrive"), zoom, news, music}, false, slots)

	assert.Equal(t, result.StatusSuccess, res.Status, res.Message)
	assert.Equal(t, 5, res.Value)
	sort.Strings(h.store.dedicated)
	assert.Equal(t, []string{"edge", "onedrive"}, h.store.dedicated)
	assert.Len(t, h.store.bulk, 1)
	assert.Equal(t, 1, h.store.cleanedUp)
	assert.True(t, seen["edge"])
	assert.True(t, seen["onedrive"])
	assert.True(t, seen["bulk"])
	assert.Len(t, slots.Snapshot(), 4)
}

func TestUninstallManyParallelDeferred(t *testing.T) {
	h := newHarness()
	h.store.outcomes["onedrive"] = result.OutcomeDeferred
	res := h.coord.UninstallManyParallel(context.Background(), []catalog.Item{dedicatedItem("onedrive"), news}, false, nil)
	assert.Equal(t, result.StatusDeferred, res.Status)
	assert.Equal(t, 1, h.store.persisted)
}

func TestUninstallManyParallelCancellationStopsSiblings(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 2)
	h.store.onRun = func(ctx context.Context, name string) result.Outcome {
		started <- struct{}{}
		<-ctx.Done()
		return result.OutcomeFailed
	}
	go func() {
		<-started
		<-started
		cancel()
	}()

	res := h.coord.UninstallManyParallel(ctx, []catalog.Item{dedicatedItem("edge"), news}, false, nil)

	assert.Equal(t, result.StatusCancelled, res.Status)
	assert.Zero(t, res.Value)
	assert.Equal(t, result.StatusCancelled, h.notifier.items["edge"])
	assert.Equal(t, result.StatusCancelled, h.notifier.items["news"])
}
