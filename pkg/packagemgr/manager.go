// pkg/packagemgr/manager.go - package-manager collaborators (WinGet, Chocolatey).

package packagemgr

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrUnavailable means the package manager CLI is not installed or is disabled.
	ErrUnavailable = errors.New("package manager unavailable")
	// ErrNotInstalled means the manager does not know the package.
	ErrNotInstalled = errors.New("package not installed")
)

// Manager is a package manager able to list and remove packages.
type Manager interface {
	Name() string
	IsInstalled(ctx context.Context, id string) (bool, error)
	InstalledIDs(ctx context.Context) (IDSet, error)
	// Uninstall removes id. source narrows the lookup (e.g. "msstore") and may be empty;
	// displayName is used for logs only.
	Uninstall(ctx context.Context, id, source, displayName string) error
}

// IDSet is a case-insensitive set of package ids.
type IDSet map[string]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id. Blank ids are ignored.
func (s IDSet) Add(id string) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id != "" {
		s[id] = struct{}{}
	}
}

// Has reports whether id is in the set.
func (s IDSet) Has(id string) bool {
	_, ok := s[strings.ToLower(strings.TrimSpace(id))]
	return ok
}

// HasAny reports whether any of ids is in the set.
func (s IDSet) HasAny(ids ...string) bool {
	for _, id := range ids {
		if s.Has(id) {
			return true
		}
	}
	return false
}
