package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/windowsadmins/sweeper/pkg/blocking"
	"github.com/windowsadmins/sweeper/pkg/catalog"
	"github.com/windowsadmins/sweeper/pkg/config"
	"github.com/windowsadmins/sweeper/pkg/coordinator"
	"github.com/windowsadmins/sweeper/pkg/detection"
	"github.com/windowsadmins/sweeper/pkg/installer"
	"github.com/windowsadmins/sweeper/pkg/logging"
	"github.com/windowsadmins/sweeper/pkg/packagemgr"
	"github.com/windowsadmins/sweeper/pkg/progress"
	"github.com/windowsadmins/sweeper/pkg/removal"
	"github.com/windowsadmins/sweeper/pkg/report"
	"github.com/windowsadmins/sweeper/pkg/result"
	"github.com/windowsadmins/sweeper/pkg/scheduler"
	"github.com/windowsadmins/sweeper/pkg/scripts"
	"github.com/windowsadmins/sweeper/pkg/uninstall"
	"github.com/windowsadmins/sweeper/pkg/winreg"
)

// app holds the wired engine for one invocation.
type app struct {
	index    catalog.Index
	engine   *detection.Engine
	store    *removal.Store
	coord    *coordinator.Coordinator
	console  *progress.Console
	notifier coordinator.Notifier
}

func newApp(cfg *config.Configuration) (*app, error) {
	index, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}

	timeout := cfg.CommandTimeout()
	runner := installer.NewProcessRunner(timeout)
	ps := scripts.NewPowerShell(runner, timeout)
	reg := winreg.NewRegistry()

	guard := packagemgr.GuardOptions{Threshold: int64(cfg.BreakerThreshold), ListRetries: cfg.ListRetries}
	winget := packagemgr.NewCache(packagemgr.Guard(packagemgr.NewWinGet(runner, timeout), guard))
	choco := packagemgr.NewCache(packagemgr.Guard(packagemgr.NewChocolatey(runner, timeout), guard))

	engine := detection.NewEngine(detection.Options{
		Servicing: &detection.PowerShellServicing{Runner: ps},
		Tiers: []detection.PackageTier{
			&detection.PowerShellPackages{Runner: ps},
			detection.WMIPackages{},
			detection.NewProvisionedPackages(runner, timeout),
		},
		PrimaryTimeout: cfg.DetectionTimeout(),
		Primary:        winget,
		Secondary:      choco,
		Registry:       reg,
		StatusTTL:      cfg.StatusCacheTTL(),
	})

	store := removal.NewStore(cfg.ScriptsPath, ps, scheduler.NewTaskScheduler(cfg.TaskFolder, runner))
	console := progress.NewConsole(nil, cfg.Verbose)
	notifier := notifiers{
		&consoleNotifier{out: color.Output},
		report.NewRecorder(logging.GetCurrentLogDir(), logging.GetSessionID()),
	}

	coord := coordinator.New(coordinator.Options{
		Catalog: index,
		Store:   store,
		Resolver: &uninstall.Resolver{
			Primary:   winget,
			Secondary: choco,
			Registry:  reg,
			Runner:    runner,
			Timeout:   timeout,
		},
		Detector: engine,
		Settings: reg,
		Stopper:  blocking.NewTerminator(),
		Notifier: notifier,
		Persist:  cfg.PersistRemovalScripts,
	})

	return &app{
		index:    index,
		engine:   engine,
		store:    store,
		coord:    coord,
		console:  console,
		notifier: notifier,
	}, nil
}

// loadCatalog merges the built-in items with the catalog file. File entries
// replace built-in ones with the same id. A missing file is not an error.
func loadCatalog(path string) (catalog.Index, error) {
	if path == "" {
		return catalog.NewIndex(catalog.Builtin()), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logging.Warn("Catalog file not found, using built-in items only", "path", path)
		return catalog.NewIndex(catalog.Builtin()), nil
	}
	items, err := catalog.Load(path)
	if err != nil {
		return nil, err
	}
	return catalog.NewIndex(catalog.Builtin(), items), nil
}

// selectItems looks up ids in the catalog, failing on the first unknown one.
func selectItems(index catalog.Index, ids []string) ([]catalog.Item, error) {
	var out []catalog.Item
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[strings.ToLower(id)] {
			continue
		}
		it, ok := index.Get(id)
		if !ok {
			return nil, fmt.Errorf("unknown item %q", id)
		}
		seen[strings.ToLower(id)] = true
		out = append(out, it)
	}
	return out, nil
}

type removeOptions struct {
	force    bool
	parallel bool
	persist  bool
}

func (a *app) remove(ctx context.Context, ids []string, opts removeOptions) result.Result[int] {
	items, err := selectItems(a.index, ids)
	if err != nil {
		res := result.Failure(0, result.NewError(result.KindUnexpected, "", "remove", err))
		a.notifier.BatchFinished(res)
		return res
	}

	detections, _ := a.engine.ResolveDetailed(ctx, items)

	var pending []catalog.Item
	for _, it := range detection.Annotate(items, detections) {
		if !it.IsInstalled && !opts.force {
			logging.Info("Item not installed, skipping", "item", it.ID)
			continue
		}
		pending = append(pending, it)
	}
	if len(pending) == 0 {
		res := result.Success(0, "nothing to remove")
		a.notifier.BatchFinished(res)
		return res
	}

	if opts.parallel {
		return a.coord.UninstallManyParallel(ctx, pending, opts.persist, progress.NewSlots(a.console))
	}
	return a.coord.UninstallMany(ctx, pending, opts.persist, a.console)
}

// unqueue drops items from the bulk removal script without running anything.
func (a *app) unqueue(ctx context.Context, ids []string) error {
	items, err := selectItems(a.index, ids)
	if err != nil {
		return err
	}
	changed, err := a.store.RemoveFromBulk(ctx, items)
	if err != nil {
		return err
	}
	logging.Info(unqueueMessage(changed, a.store.BulkIsEmpty()))
	return nil
}

func unqueueMessage(changed, empty bool) string {
	switch {
	case !changed:
		return "Bulk removal script unchanged"
	case empty:
		return "Bulk removal script is empty and was deleted"
	default:
		return "Bulk removal script updated"
	}
}

func (a *app) status(ctx context.Context, w io.Writer) {
	items := a.index.Items()
	detections, summary := a.engine.ResolveDetailed(ctx, items)
	printStatus(w, items, detections)
	if summary.PackageTier != "" {
		fmt.Fprintf(w, "\npackages listed by %s in %s\n", summary.PackageTier, summary.Duration.Round(time.Millisecond))
	}
}

func printStatus(w io.Writer, items []catalog.Item, detections map[string]detection.Detection) {
	installed := color.New(color.FgGreen)
	absent := color.New(color.FgHiBlack)

	width := len("ITEM")
	for _, it := range items {
		if len(it.ID) > width {
			width = len(it.ID)
		}
	}
	fmt.Fprintf(w, "%-*s  %-10s  %s\n", width, "ITEM", "STATE", "SOURCE")
	for _, it := range items {
		d := detections[it.ID]
		if d.Installed {
			installed.Fprintf(w, "%-*s  %-10s  %s\n", width, it.ID, "installed", d.Via)
		} else {
			absent.Fprintf(w, "%-*s  %-10s  %s\n", width, it.ID, "absent", "-")
		}
	}
}

// notifiers fans notifications out in order.
type notifiers []coordinator.Notifier

func (ns notifiers) ItemFinished(item catalog.Item, status result.Status) {
	for _, n := range ns {
		n.ItemFinished(item, status)
	}
}

func (ns notifiers) BatchFinished(res result.Result[int]) {
	for _, n := range ns {
		n.BatchFinished(res)
	}
}

// consoleNotifier prints one line per finished item and batch.
type consoleNotifier struct {
	out io.Writer
}

func (n *consoleNotifier) ItemFinished(item catalog.Item, status result.Status) {
	statusColor(status).Fprintf(n.out, "%-10s %s\n", status, item.DisplayName())
}

func (n *consoleNotifier) BatchFinished(res result.Result[int]) {
	statusColor(res.Status).Fprintf(n.out, "%s: %s\n", res.Status, res.Message)
}

func statusColor(s result.Status) *color.Color {
	switch s {
	case result.StatusSuccess:
		return color.New(color.FgGreen)
	case result.StatusDeferred:
		return color.New(color.FgYellow)
	case result.StatusCancelled:
		return color.New(color.FgMagenta)
	default:
		return color.New(color.FgRed, color.Bold)
	}
}
