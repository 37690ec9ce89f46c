// pkg/detection/detection.go - tiered installation-state resolution for catalog items.

package detection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/windowsadmins/sweeper/pkg/catalog"
	"github.com/windowsadmins/sweeper/pkg/logging"
	"github.com/windowsadmins/sweeper/pkg/packagemgr"
	"github.com/windowsadmins/sweeper/pkg/result"
	"github.com/windowsadmins/sweeper/pkg/uninstall"
	"github.com/windowsadmins/sweeper/pkg/winreg"
)

const (
	DefaultPrimaryTimeout = 15 * time.Second
	DefaultStatusTTL      = 5 * time.Minute
	statusCacheSize       = 512
)

// Servicing answers batch queries against the OS servicing stack.
type Servicing interface {
	InstalledCapabilities(ctx context.Context) ([]string, error)
	EnabledFeatures(ctx context.Context) ([]string, error)
}

// PackageTier enumerates installed app package names.
type PackageTier interface {
	Name() string
	InstalledPackages(ctx context.Context) ([]string, error)
}

// Detection is the resolved state of one item.
type Detection struct {
	Installed bool
	Via       catalog.Source
}

// Summary counts how items were resolved in one pass.
type Summary struct {
	Capabilities   int
	Features       int
	Packages       int
	PackageManager int
	Registry       int
	NotFound       int
	PackageTier    string // tier that produced the package list, empty when all failed
	Duration       time.Duration
}

// Counts returns the summary as named counters for logging.
func (s Summary) Counts() map[string]int {
	return map[string]int{
		"capability":     s.Capabilities,
		"feature":        s.Features,
		"package":        s.Packages,
		"packageManager": s.PackageManager,
		"registry":       s.Registry,
		"notFound":       s.NotFound,
	}
}

// Options configures an Engine. Nil collaborators are skipped.
type Options struct {
	Servicing Servicing
	// Tiers are tried in order. The first one is bounded by PrimaryTimeout.
	Tiers          []PackageTier
	PrimaryTimeout time.Duration
	Primary        *packagemgr.Cache
	Secondary      *packagemgr.Cache
	Registry       winreg.UninstallSource
	StatusTTL      time.Duration
}

// Engine resolves whether catalog items are present. It owns the package-manager
// id caches and the short-lived status cache; Invalidate clears both.
type Engine struct {
	servicing      Servicing
	tiers          []PackageTier
	primaryTimeout time.Duration
	primary        *packagemgr.Cache
	secondary      *packagemgr.Cache
	registry       winreg.UninstallSource
	status         *expirable.LRU[string, Detection]
}

// NewEngine creates an Engine.
func NewEngine(opts Options) *Engine {
	if opts.PrimaryTimeout <= 0 {
		opts.PrimaryTimeout = DefaultPrimaryTimeout
	}
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = DefaultStatusTTL
	}
	return &Engine{
		servicing:      opts.Servicing,
		tiers:          opts.Tiers,
		primaryTimeout: opts.PrimaryTimeout,
		primary:        opts.Primary,
		secondary:      opts.Secondary,
		registry:       opts.Registry,
		status:         expirable.NewLRU[string, Detection](statusCacheSize, nil, opts.StatusTTL),
	}
}

// ResolveStatus returns installed state keyed by item id. Every input item has an entry.
func (e *Engine) ResolveStatus(ctx context.Context, items []catalog.Item) map[string]bool {
	detections, _ := e.ResolveDetailed(ctx, items)
	out := make(map[string]bool, len(detections))
	for id, d := range detections {
		out[id] = d.Installed
	}
	return out
}

// ResolveDetailed resolves items and reports which tier confirmed each one.
// It never fails: a tier error only means that tier found nothing.
func (e *Engine) ResolveDetailed(ctx context.Context, items []catalog.Item) (map[string]Detection, Summary) {
	start := time.Now()
	out := make(map[string]Detection, len(items))
	var sum Summary

	var capabilities, features, packages []catalog.Item
	for _, it := range items {
		out[it.ID] = Detection{Via: catalog.SourceNone}
		switch it.Kind() {
		case catalog.KindCapability:
			capabilities = append(capabilities, it)
		case catalog.KindFeature:
			features = append(features, it)
		default:
			packages = append(packages, it)
		}
	}

	if len(capabilities) > 0 {
		installed := e.capabilitySet(ctx)
		for _, it := range capabilities {
			if installed[baseCapability(it.CapabilityName)] {
				out[it.ID] = Detection{Installed: true, Via: catalog.SourceCapability}
				sum.Capabilities++
			}
		}
	}
	if len(features) > 0 {
		enabled := e.featureSet(ctx)
		for _, it := range features {
			if enabled[strings.ToLower(it.OptionalFeatureName)] {
				out[it.ID] = Detection{Installed: true, Via: catalog.SourceFeature}
				sum.Features++
			}
		}
	}

	if len(packages) > 0 {
		names, tier := e.packageSet(ctx)
		sum.PackageTier = tier
		var unresolved []catalog.Item
		for _, it := range packages {
			if packageInstalled(it, names) {
				out[it.ID] = Detection{Installed: true, Via: catalog.SourceAppx}
				sum.Packages++
				continue
			}
			unresolved = append(unresolved, it)
		}
		e.resolveExternal(ctx, unresolved, out, &sum)
	}

	for _, d := range out {
		if !d.Installed {
			sum.NotFound++
		}
	}
	sum.Duration = time.Since(start)
	logging.Info("Detection finished",
		"capabilities", sum.Capabilities, "features", sum.Features, "packages", sum.Packages,
		"packageManager", sum.PackageManager, "registry", sum.Registry, "notFound", sum.NotFound,
		"tier", sum.PackageTier, "duration", sum.Duration.String())
	logging.LogDetectionSummary(sum.Counts(), sum.Duration)
	return out, sum
}

// resolveExternal checks items not found as app packages against the
// package-manager id caches and then the registry uninstall entries.
func (e *Engine) resolveExternal(ctx context.Context, items []catalog.Item, out map[string]Detection, sum *Summary) {
	var pending []catalog.Item
	for _, it := range items {
		if it.HasPackageManagerID() || it.ChocoPackageID != "" {
			pending = append(pending, it)
		}
	}
	if len(pending) == 0 {
		return
	}

	if ids := e.cachedIDs(ctx, e.primary); ids != nil {
		pending = filter(pending, func(it catalog.Item) bool {
			if !it.HasPackageManagerID() || !ids.HasAny(append([]string{it.MsStoreID}, it.WinGetPackageIDs...)...) {
				return false
			}
			out[it.ID] = Detection{Installed: true, Via: catalog.SourceWinGet}
			sum.PackageManager++
			return true
		})
	}
	if ids := e.cachedIDs(ctx, e.secondary); ids != nil {
		pending = filter(pending, func(it catalog.Item) bool {
			if it.ChocoPackageID == "" || !ids.Has(it.ChocoPackageID) {
				return false
			}
			out[it.ID] = Detection{Installed: true, Via: catalog.SourceChocolatey}
			sum.PackageManager++
			return true
		})
	}
	if len(pending) == 0 || e.registry == nil {
		return
	}
	entries, err := shielded("registry", func() ([]winreg.UninstallEntry, error) { return e.registry.UninstallEntries(ctx) })
	if err != nil {
		e.tierFailed("registry", err)
		return
	}
	for _, it := range pending {
		if _, ok := uninstall.BestMatch(it.DisplayName(), entries); ok {
			out[it.ID] = Detection{Installed: true, Via: catalog.SourceRegistry}
			sum.Registry++
		}
	}
}

// filter keeps the items for which resolved returns false.
func filter(items []catalog.Item, resolved func(catalog.Item) bool) []catalog.Item {
	kept := items[:0]
	for _, it := range items {
		if !resolved(it) {
			kept = append(kept, it)
		}
	}
	return kept
}

func (e *Engine) cachedIDs(ctx context.Context, c *packagemgr.Cache) packagemgr.IDSet {
	if c == nil {
		return nil
	}
	ids, err := shielded(c.Manager().Name(), func() (packagemgr.IDSet, error) { return c.IDs(ctx) })
	if err != nil {
		e.tierFailed(c.Manager().Name(), err)
		return nil
	}
	return ids
}

func (e *Engine) capabilitySet(ctx context.Context) map[string]bool {
	set := make(map[string]bool)
	if e.servicing == nil {
		return set
	}
	names, err := shielded("capabilities", func() ([]string, error) { return e.servicing.InstalledCapabilities(ctx) })
	if err != nil {
		e.tierFailed("capabilities", err)
		return set
	}
	for _, n := range names {
		set[baseCapability(n)] = true
	}
	return set
}

func (e *Engine) featureSet(ctx context.Context) map[string]bool {
	set := make(map[string]bool)
	if e.servicing == nil {
		return set
	}
	names, err := shielded("features", func() ([]string, error) { return e.servicing.EnabledFeatures(ctx) })
	if err != nil {
		e.tierFailed("features", err)
		return set
	}
	for _, n := range names {
		set[strings.ToLower(strings.TrimSpace(n))] = true
	}
	return set
}

// packageSet walks the tiers until one returns names.
func (e *Engine) packageSet(ctx context.Context) (map[string]bool, string) {
	for i, tier := range e.tiers {
		if ctx.Err() != nil {
			break
		}
		tctx, cancel := ctx, context.CancelFunc(func() {})
		if i == 0 {
			tctx, cancel = context.WithTimeout(ctx, e.primaryTimeout)
		}
		names, err := shielded(tier.Name(), func() ([]string, error) { return tier.InstalledPackages(tctx) })
		cancel()
		if err != nil {
			e.tierFailed(tier.Name(), err)
			continue
		}
		if len(names) == 0 {
			logging.Debug("Detection tier returned no packages", "tier", tier.Name())
			continue
		}
		set := make(map[string]bool, len(names))
		for _, n := range names {
			if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
				set[n] = true
			}
		}
		logging.Debug("Package list resolved", "tier", tier.Name(), "count", len(set))
		return set, tier.Name()
	}
	return map[string]bool{}, ""
}

// shielded runs a collaborator query, turning a panic into an error for tier.
func shielded[T any](tier string, query func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, err = zero, fmt.Errorf("tier %s panicked: %v", tier, r)
		}
	}()
	return query()
}

func (e *Engine) tierFailed(tier string, err error) {
	logging.Warn("Detection tier failed", "error", result.NewError(result.KindTierFailure, tier, "detect", err))
}

// IsInstalled resolves a single item, answering from the status cache when possible.
func (e *Engine) IsInstalled(ctx context.Context, item catalog.Item) bool {
	key := strings.ToLower(item.ID)
	if d, ok := e.status.Get(key); ok {
		return d.Installed
	}
	detections, _ := e.ResolveDetailed(ctx, []catalog.Item{item})
	d := detections[item.ID]
	if ctx.Err() == nil {
		e.status.Add(key, d)
	}
	return d.Installed
}

// Invalidate clears the package-manager id caches and the status cache.
func (e *Engine) Invalidate() {
	if e.primary != nil {
		e.primary.Invalidate()
	}
	if e.secondary != nil {
		e.secondary.Invalidate()
	}
	e.status.Purge()
	logging.Debug("Detection caches invalidated")
}

// Annotate returns copies of items with IsInstalled and DetectedVia filled in.
func Annotate(items []catalog.Item, detections map[string]Detection) []catalog.Item {
	out := make([]catalog.Item, len(items))
	for i, it := range items {
		d := detections[it.ID]
		it.IsInstalled = d.Installed
		it.DetectedVia = d.Via
		out[i] = it
	}
	return out
}

// baseCapability strips the version suffix of a capability name
// ("Browser.InternetExplorer~~~~0.0.11.0" -> "browser.internetexplorer").
func baseCapability(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.IndexByte(name, '~'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

func packageInstalled(it catalog.Item, names map[string]bool) bool {
	if names[strings.ToLower(it.AppxPackageName)] {
		return true
	}
	for _, sub := range it.SubPackages {
		if names[strings.ToLower(sub)] {
			return true
		}
	}
	return false
}
