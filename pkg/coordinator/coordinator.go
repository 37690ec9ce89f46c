// pkg/coordinator/coordinator.go - routes removals to dedicated scripts, package managers or the bulk script.

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/windowsadmins/sweeper/pkg/catalog"
	"github.com/windowsadmins/sweeper/pkg/logging"
	"github.com/windowsadmins/sweeper/pkg/progress"
	"github.com/windowsadmins/sweeper/pkg/result"
	"github.com/windowsadmins/sweeper/pkg/winreg"
)

// ScriptStore runs and keeps removal scripts.
type ScriptStore interface {
	ExecuteDedicated(ctx context.Context, item catalog.Item, sink progress.Sink) result.Outcome
	ExecuteBulk(ctx context.Context, items []catalog.Item, sink progress.Sink) result.Outcome
	Persist(ctx context.Context, allItems []catalog.Item) error
	CleanupAll(ctx context.Context) error
}

// Uninstaller removes items installed outside the app package system.
type Uninstaller interface {
	Execute(ctx context.Context, item catalog.Item) result.Result[bool]
}

// Invalidator drops detection caches after the installed state changed.
type Invalidator interface {
	Invalidate()
}

// ProcessStopper terminates processes that hold an item open.
type ProcessStopper interface {
	Terminate(ctx context.Context, itemID string, appNames []string) (int, error)
}

// Notifier is told about every finished removal. Calls are synchronous.
type Notifier interface {
	ItemFinished(item catalog.Item, status result.Status)
	BatchFinished(res result.Result[int])
}

// NopNotifier ignores notifications.
type NopNotifier struct{}

func (NopNotifier) ItemFinished(catalog.Item, result.Status) {}
func (NopNotifier) BatchFinished(result.Result[int])         {}

// Options configures a Coordinator. Only Store is required.
type Options struct {
	Catalog  catalog.Index
	Store    ScriptStore
	Resolver Uninstaller
	Detector Invalidator
	Settings winreg.SettingsWriter
	Stopper  ProcessStopper
	Notifier Notifier
	// Persist is the finalization mode of UninstallOne.
	Persist bool
}

// Coordinator is the removal entry point.
type Coordinator struct {
	catalog  catalog.Index
	store    ScriptStore
	resolver Uninstaller
	detector Invalidator
	settings winreg.SettingsWriter
	stopper  ProcessStopper
	notifier Notifier
	persist  bool
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}
	return &Coordinator{
		catalog:  opts.Catalog,
		store:    opts.Store,
		resolver: opts.Resolver,
		detector: opts.Detector,
		settings: opts.Settings,
		stopper:  opts.Stopper,
		notifier: opts.Notifier,
		persist:  opts.Persist,
	}
}

type route int

const (
	routeDedicated route = iota
	routeExternal
	routeBulk
)

func (r route) String() string {
	switch r {
	case routeDedicated:
		return "dedicated"
	case routeExternal:
		return "package manager"
	default:
		return "bulk"
	}
}

// unit is one removal task: a dedicated script, an external uninstall or the bulk batch.
type unit struct {
	route route
	name  string
	items []catalog.Item
}

type unitResult struct {
	unit      unit
	outcome   result.Outcome
	cancelled bool
	err       error
}

// plan splits items into dedicated units, external units and at most one bulk unit, in that order.
func plan(items []catalog.Item) []unit {
	var dedicated, external []unit
	var bulk []catalog.Item
	for _, it := range items {
		switch {
		case it.HasDedicatedRemoval():
			dedicated = append(dedicated, unit{route: routeDedicated, name: it.ID, items: []catalog.Item{it}})
		case isExternal(it):
			external = append(external, unit{route: routeExternal, name: it.ID, items: []catalog.Item{it}})
		default:
			bulk = append(bulk, it)
		}
	}
	units := append(dedicated, external...)
	if len(bulk) > 0 {
		units = append(units, unit{route: routeBulk, name: "bulk", items: bulk})
	}
	return units
}

func isExternal(it catalog.Item) bool {
	switch it.DetectedVia {
	case catalog.SourceWinGet, catalog.SourceChocolatey, catalog.SourceRegistry:
		return true
	}
	return false
}

// UninstallOne removes the catalog item with the given id.
func (c *Coordinator) UninstallOne(ctx context.Context, id string, sink progress.Sink) result.Result[bool] {
	item, ok := c.catalog.Get(id)
	if !ok {
		return result.Failure(false, result.NewError(result.KindUnexpected, id, "uninstall", fmt.Errorf("unknown item %q", id)))
	}
	res := c.UninstallMany(ctx, []catalog.Item{item}, c.persist, sink)
	return result.Result[bool]{Status: res.Status, Value: res.OK() && res.Value == 1, Message: res.Message, Err: res.Err}
}

// UninstallMany removes items one unit at a time: dedicated scripts first,
// then external uninstalls, then the bulk script. It stops at cancellation.
func (c *Coordinator) UninstallMany(ctx context.Context, items []catalog.Item, persist bool, sink progress.Sink) result.Result[int] {
	units := plan(items)
	results := make([]unitResult, 0, len(units))
	for i, u := range units {
		if err := ctx.Err(); err != nil {
			logging.Warn("Removal cancelled", "remaining", len(units)-i)
			results = append(results, unitResult{unit: u, cancelled: true, err: err})
			break
		}
		progress.Status(sink, i*100/len(units), fmt.Sprintf("Removing %s", u.name))
		results = append(results, c.runUnit(ctx, u, sink))
	}
	return c.finish(ctx, items, units, results, persist, sink)
}

// UninstallManyParallel runs every unit concurrently, each reporting to its own
// slot. Cancelling ctx cancels all of them.
func (c *Coordinator) UninstallManyParallel(ctx context.Context, items []catalog.Item, persist bool, slots *progress.Slots) result.Result[int] {
	if slots == nil {
		slots = progress.NewSlots(progress.Discard)
	}
	units := plan(items)
	results := make([]unitResult, len(units))

	g, gctx := errgroup.WithContext(ctx)
	for i, u := range units {
		i, u := i, u
		sink := slots.Slot(u.name)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = unitResult{unit: u, cancelled: true, err: err}
				return err
			}
			results[i] = c.runUnit(gctx, u, sink)
			if results[i].cancelled {
				return results[i].err
			}
			return nil
		})
	}
	_ = g.Wait()
	return c.finish(ctx, items, units, results, persist, progress.Discard)
}

func (c *Coordinator) runUnit(ctx context.Context, u unit, sink progress.Sink) unitResult {
	start := time.Now()
	logging.LogRemovalStart(u.name, u.route.String())
	c.stopProcesses(ctx, u.items)

	r := unitResult{unit: u}
	switch u.route {
	case routeDedicated:
		r.outcome = c.store.ExecuteDedicated(ctx, u.items[0], sink)
	case routeExternal:
		r.outcome, r.err = c.uninstallExternal(ctx, u.items[0], sink)
	default:
		r.outcome = c.store.ExecuteBulk(ctx, u.items, sink)
	}
	if r.outcome == result.OutcomeFailed && (ctx.Err() != nil || result.IsCancelled(r.err)) {
		r.cancelled = true
		if r.err == nil {
			r.err = ctx.Err()
		}
	}
	if r.outcome == result.OutcomeFailed && r.err == nil {
		r.err = fmt.Errorf("%s removal of %s failed", u.route, u.name)
	}

	if r.outcome == result.OutcomeSuccess {
		c.applySettings(ctx, u.items)
	}
	if c.detector != nil {
		c.detector.Invalidate()
	}
	status := statusOf(r)
	for _, it := range u.items {
		c.notifier.ItemFinished(it, status)
	}
	if r.outcome == result.OutcomeFailed {
		logging.LogRemovalFailed(u.name, r.err)
	} else {
		logging.LogRemovalComplete(u.name, r.outcome, time.Since(start))
	}
	return r
}

func (c *Coordinator) uninstallExternal(ctx context.Context, item catalog.Item, sink progress.Sink) (result.Outcome, error) {
	if c.resolver == nil {
		return result.OutcomeFailed, result.NewError(result.KindMethodExhausted, item.ID, "uninstall", errors.New("no uninstall resolver configured"))
	}
	progress.Status(sink, 10, fmt.Sprintf("Uninstalling %s", item.DisplayName()))
	res := c.resolver.Execute(ctx, item)
	progress.Complete(sink, res.Message)
	switch res.Status {
	case result.StatusSuccess:
		return result.OutcomeSuccess, nil
	case result.StatusDeferred:
		return result.OutcomeDeferred, nil
	default:
		return result.OutcomeFailed, res.Err
	}
}

func (c *Coordinator) stopProcesses(ctx context.Context, items []catalog.Item) {
	if c.stopper == nil {
		return
	}
	for _, it := range items {
		if len(it.ProcessNames) == 0 {
			continue
		}
		if _, err := c.stopper.Terminate(ctx, it.ID, it.ProcessNames); err != nil {
			logging.Warn("Could not stop all blocking processes", "item", it.ID, "error", err)
		}
	}
}

// applySettings applies post-removal registry settings. Failures never fail the removal.
func (c *Coordinator) applySettings(ctx context.Context, items []catalog.Item) {
	if c.settings == nil {
		return
	}
	for _, it := range items {
		if len(it.RegistrySettings) == 0 {
			continue
		}
		if err := c.settings.ApplySettings(ctx, it.RegistrySettings); err != nil {
			logging.Warn("Failed to apply registry settings", "item", it.ID, "error", err)
		}
	}
}

func (c *Coordinator) finish(ctx context.Context, items []catalog.Item, units []unit, results []unitResult, persist bool, sink progress.Sink) result.Result[int] {
	res := aggregate(results)
	c.finalize(context.WithoutCancel(ctx), items, units, results, persist)
	progress.Complete(sink, res.Message)
	c.notifier.BatchFinished(res)
	logging.Info("Removal finished", "status", res.Status.String(), "removed", res.Value, "message", res.Message)
	return res
}

// finalize keeps or removes script artifacts once all units are done. A
// deferred outcome always persists since the scheduled task is what runs it.
func (c *Coordinator) finalize(ctx context.Context, items []catalog.Item, units []unit, results []unitResult, persist bool) {
	usedScripts, deferred := false, false
	for _, u := range units {
		if u.route != routeExternal {
			usedScripts = true
		}
	}
	for _, r := range results {
		if r.outcome == result.OutcomeDeferred && !r.cancelled {
			deferred = true
		}
	}
	if !usedScripts {
		return
	}
	if persist || deferred {
		if err := c.store.Persist(ctx, items); err != nil {
			logging.Warn("Failed to persist removal scripts", "error", err)
		}
		return
	}
	if err := c.store.CleanupAll(ctx); err != nil {
		logging.Warn("Failed to clean up removal scripts", "error", err)
	}
}

func statusOf(r unitResult) result.Status {
	switch {
	case r.cancelled:
		return result.StatusCancelled
	case r.outcome == result.OutcomeDeferred:
		return result.StatusDeferred
	case r.outcome == result.OutcomeFailed:
		return result.StatusFailed
	default:
		return result.StatusSuccess
	}
}

// aggregate folds unit results. Cancellation wins over deferral, deferral over
// failure, failure over success. Value counts removed or queued items.
func aggregate(results []unitResult) result.Result[int] {
	removed := 0
	var cancelled, deferred bool
	var failed []string
	var errs []error
	for _, r := range results {
		switch statusOf(r) {
		case result.StatusCancelled:
			cancelled = true
		case result.StatusDeferred:
			deferred = true
			removed += len(r.unit.items)
		case result.StatusFailed:
			for _, it := range r.unit.items {
				failed = append(failed, it.DisplayName())
			}
			errs = append(errs, r.err)
		default:
			removed += len(r.unit.items)
		}
	}

	switch {
	case cancelled:
		res := result.Cancelled(removed, result.ErrCancelled)
		res.Message = fmt.Sprintf("removal cancelled after %d items", removed)
		return res
	case deferred:
		return result.Deferred(removed, fmt.Sprintf("%d items removed or queued; some removals run by scheduled task", removed))
	case len(failed) > 0:
		joined := errors.Join(errs...)
		kind := result.KindUnexpected
		if errors.Is(joined, result.ErrMethodExhausted) {
			kind = result.KindMethodExhausted
		}
		res := result.Failure(removed, result.NewError(kind, strings.Join(failed, ", "), "uninstall", joined))
		res.Message = fmt.Sprintf("failed to remove: %s", strings.Join(failed, ", "))
		return res
	default:
		return result.Success(removed, fmt.Sprintf("%d items removed", removed))
	}
}
