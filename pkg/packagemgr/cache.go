package packagemgr

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/windowsadmins/sweeper/pkg/logging"
)

// Cache holds a manager's installed id set for the life of the process.
// The set is fetched on first use and kept until Invalidate; concurrent
// first callers share one fetch. Failed fetches are not cached.
type Cache struct {
	manager Manager
	group   singleflight.Group

	mu  sync.RWMutex
	ids IDSet
}

// NewCache creates a Cache over m.
func NewCache(m Manager) *Cache {
	return &Cache{manager: m}
}

// Manager returns the cached manager.
func (c *Cache) Manager() Manager { return c.manager }

// IDs returns the installed id set, fetching it when not cached.
func (c *Cache) IDs(ctx context.Context) (IDSet, error) {
	c.mu.RLock()
	ids := c.ids
	c.mu.RUnlock()
	if ids != nil {
		return ids, nil
	}

	v, err, _ := c.group.Do(c.manager.Name(), func() (interface{}, error) {
		ids, err := c.manager.InstalledIDs(ctx)
		if err != nil {
			return nil, err
		}
		if ids == nil {
			ids = make(IDSet)
		}
		c.mu.Lock()
		c.ids = ids
		c.mu.Unlock()
		logging.Debug("Cached installed package ids", "manager", c.manager.Name(), "count", len(ids))
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(IDSet), nil
}

// Invalidate drops the cached set.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.ids = nil
	c.mu.Unlock()
}
