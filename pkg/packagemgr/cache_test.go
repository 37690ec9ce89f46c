package packagemgr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingManager struct {
	fakeManager
	lists atomic.Int32
	err   error
}

func (c *countingManager) InstalledIDs(context.Context) (IDSet, error) {
	c.lists.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return NewIDSet("Microsoft.Teams"), nil
}

func TestCacheFetchesOnce(t *testing.T) {
	m := &countingManager{}
	c := NewCache(m)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids, err := c.IDs(context.Background())
			assert.NoError(t, err)
			assert.True(t, ids.Has("microsoft.teams"))
		}()
	}
	wg.Wait()
	_, err := c.IDs(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, m.lists.Load(), int32(8))

	before := m.lists.Load()
	_, _ = c.IDs(context.Background())
	assert.Equal(t, before, m.lists.Load())

	c.Invalidate()
	_, err = c.IDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before+1, m.lists.Load())
}

func TestCacheDoesNotKeepFailures(t *testing.T) {
	m := &countingManager{err: errors.New("winget missing")}
	c := NewCache(m)

	_, err := c.IDs(context.Background())
	require.Error(t, err)

	m.err = nil
	ids, err := c.IDs(context.Background())
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	assert.Equal(t, int32(2), m.lists.Load())
	assert.Equal(t, "fake", c.Manager().Name())
}
