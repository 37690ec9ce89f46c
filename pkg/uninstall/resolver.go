// pkg/uninstall/resolver.go - picks and runs an uninstall mechanism for externally installed items.

package uninstall

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/windowsadmins/sweeper/pkg/catalog"
	"github.com/windowsadmins/sweeper/pkg/installer"
	"github.com/windowsadmins/sweeper/pkg/logging"
	"github.com/windowsadmins/sweeper/pkg/packagemgr"
	"github.com/windowsadmins/sweeper/pkg/result"
	"github.com/windowsadmins/sweeper/pkg/winreg"
)

// Method is an uninstall mechanism.
type Method int

const (
	MethodNone Method = iota
	MethodPrimary
	MethodSecondary
	MethodRegistry
)

// String returns the string representation of the Method.
func (m Method) String() string {
	switch m {
	case MethodPrimary:
		return "primary"
	case MethodSecondary:
		return "secondary"
	case MethodRegistry:
		return "registry"
	default:
		return "none"
	}
}

// Resolver chooses between the primary package manager (WinGet), the secondary
// one (Chocolatey) and the registry uninstall string.
type Resolver struct {
	Primary   *packagemgr.Cache
	Secondary *packagemgr.Cache
	Registry  winreg.UninstallSource
	Runner    installer.Runner
	Timeout   time.Duration
}

// Resolve returns the preferred uninstall method for item.
func (r *Resolver) Resolve(ctx context.Context, item catalog.Item) Method {
	return r.resolve(ctx, item, &registryLookup{source: r.Registry})
}

func (r *Resolver) resolve(ctx context.Context, item catalog.Item, reg *registryLookup) Method {
	hasSecondary := item.ChocoPackageID != "" && r.Secondary != nil
	switch {
	case item.DetectedVia == catalog.SourceChocolatey && hasSecondary:
		return MethodSecondary
	case item.DetectedVia == catalog.SourceRegistry && reg.match(ctx, item):
		return MethodRegistry
	case item.HasPackageManagerID() && r.Primary != nil:
		return MethodPrimary
	}
	if hasSecondary {
		ids, err := r.Secondary.IDs(ctx)
		if err != nil {
			logging.Debug("Secondary package list unavailable", "item", item.ID, "error", err)
		} else if ids.Has(item.ChocoPackageID) {
			return MethodSecondary
		}
	}
	if reg.match(ctx, item) {
		return MethodRegistry
	}
	return MethodNone
}

// Execute uninstalls item, falling back from the primary manager to the
// secondary one and then to the registry. Cancellation stops the chain.
func (r *Resolver) Execute(ctx context.Context, item catalog.Item) result.Result[bool] {
	reg := &registryLookup{source: r.Registry}
	method := r.resolve(ctx, item, reg)
	if err := ctx.Err(); err != nil {
		return result.Cancelled(false, err)
	}
	logging.Info("Resolved uninstall method", "item", item.ID, "method", method.String(), "detectedVia", item.DetectedVia.String())

	var chain []Method
	switch method {
	case MethodPrimary:
		chain = []Method{MethodPrimary, MethodSecondary, MethodRegistry}
	case MethodSecondary:
		chain = []Method{MethodSecondary, MethodRegistry}
	case MethodRegistry:
		chain = []Method{MethodRegistry}
	default:
		return result.Failure(false, result.NewError(result.KindMethodExhausted, item.DisplayName(), "uninstall",
			fmt.Errorf("no uninstall method applies to %s", item.DisplayName())))
	}

	var errs []error
	for _, m := range chain {
		if m == MethodSecondary && (item.ChocoPackageID == "" || r.Secondary == nil) {
			continue
		}
		start := time.Now()
		logging.LogRemovalStart(item.ID, m.String())
		err := r.run(ctx, m, item, reg)
		if err == nil {
			logging.LogRemovalComplete(item.ID, result.OutcomeSuccess, time.Since(start))
			return result.Success(true, fmt.Sprintf("%s uninstalled via %s", item.DisplayName(), m))
		}
		if ctx.Err() != nil || result.IsCancelled(err) {
			logging.Warn("Uninstall cancelled", "item", item.ID, "method", m.String())
			return result.Cancelled(false, err)
		}
		logging.LogRemovalFailed(item.ID, fmt.Errorf("%s: %w", m, err))
		errs = append(errs, fmt.Errorf("%s: %w", m, err))
	}
	return result.Failure(false, result.NewError(result.KindMethodExhausted, item.DisplayName(), "uninstall", errors.Join(errs...)))
}

func (r *Resolver) run(ctx context.Context, m Method, item catalog.Item, reg *registryLookup) error {
	switch m {
	case MethodPrimary:
		return r.uninstallPrimary(ctx, item)
	case MethodSecondary:
		return r.Secondary.Manager().Uninstall(ctx, item.ChocoPackageID, "", item.DisplayName())
	default:
		return r.uninstallRegistry(ctx, item, reg)
	}
}

// uninstallPrimary removes every declared WinGet id and the Store id.
// It succeeds when at least one of them was removed.
func (r *Resolver) uninstallPrimary(ctx context.Context, item catalog.Item) error {
	if r.Primary == nil {
		return packagemgr.ErrUnavailable
	}
	type target struct{ id, source string }
	var targets []target
	for _, id := range item.WinGetPackageIDs {
		targets = append(targets, target{id: id})
	}
	if item.MsStoreID != "" {
		targets = append(targets, target{id: item.MsStoreID, source: "msstore"})
	}
	if len(targets) == 0 {
		return fmt.Errorf("%s declares no package manager id", item.ID)
	}

	mgr := r.Primary.Manager()
	removed := 0
	var errs []error
	for _, t := range targets {
		err := mgr.Uninstall(ctx, t.id, t.source, item.DisplayName())
		if err == nil {
			removed++
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		errs = append(errs, err)
	}
	if removed > 0 {
		return nil
	}
	return errors.Join(errs...)
}

func (r *Resolver) uninstallRegistry(ctx context.Context, item catalog.Item, reg *registryLookup) error {
	entry, ok := reg.best(ctx, item)
	if !ok {
		return fmt.Errorf("no uninstall string for %s in HKLM, HKLM32 or the user hive: %w",
			item.DisplayName(), result.ErrMethodExhausted)
	}
	file, args := ParseCommand(entry.Command())
	args = AddSilentFlags(file, args)
	cmd := installer.Command{Path: file, RawArgs: args, Timeout: r.Timeout}
	logging.Info("Running registry uninstall", "item", item.ID, "entry", entry.DisplayName, "hive", entry.Hive, "command", cmd.String())
	_, err := r.Runner.Run(ctx, cmd, nil)
	return err
}

// registryLookup reads the uninstall entries at most once per operation.
type registryLookup struct {
	source  winreg.UninstallSource
	loaded  bool
	entries []winreg.UninstallEntry
}

func (l *registryLookup) load(ctx context.Context) []winreg.UninstallEntry {
	if l.loaded || l.source == nil {
		return l.entries
	}
	l.loaded = true
	entries, err := l.source.UninstallEntries(ctx)
	if err != nil {
		logging.Debug("Uninstall entries unavailable", "error", err)
		return nil
	}
	l.entries = entries
	return entries
}

func (l *registryLookup) best(ctx context.Context, item catalog.Item) (winreg.UninstallEntry, bool) {
	return BestMatch(item.DisplayName(), l.load(ctx))
}

func (l *registryLookup) match(ctx context.Context, item catalog.Item) bool {
	_, ok := l.best(ctx, item)
	return ok
}
