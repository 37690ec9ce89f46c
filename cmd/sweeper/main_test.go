package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windowsadmins/sweeper/pkg/catalog"
	"github.com/windowsadmins/sweeper/pkg/detection"
	"github.com/windowsadmins/sweeper/pkg/result"
)

func TestLevelFor(t *testing.T) {
	assert.Equal(t, "", levelFor(0))
	assert.Equal(t, "INFO", levelFor(1))
	assert.Equal(t, "DEBUG", levelFor(3))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(result.Success(1, "")))
	assert.Equal(t, 0, exitCode(result.Deferred(1, "")))
	assert.Equal(t, 2, exitCode(result.Cancelled(0, nil)))
	assert.Equal(t, 1, exitCode(result.Result[int]{Status: result.StatusFailed}))
}

func TestLoadCatalogMissingFileUsesBuiltin(t *testing.T) {
	idx, err := loadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	_, ok := idx.Get(catalog.EdgeID)
	assert.True(t, ok)
	assert.Len(t, idx.Items(), len(catalog.Builtin()))
}

func TestLoadCatalogMergesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := `items:
  - id: Zune
    name: Groove Music
    appx_package_name: Microsoft.ZuneMusic
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	idx, err := loadCatalog(path)
	require.NoError(t, err)

	it, ok := idx.Get("zune")
	require.True(t, ok)
	assert.Equal(t, "Microsoft.ZuneMusic", it.AppxPackageName)
	_, ok = idx.Get(catalog.OneDriveID)
	assert.True(t, ok)
}

func TestLoadCatalogInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("items:\n  - id: broken\n"), 0o644))

	_, err := loadCatalog(path)
	assert.Error(t, err)
}

func TestSelectItems(t *testing.T) {
	idx := catalog.NewIndex([]catalog.Item{
		{ID: "Zune", AppxPackageName: "Microsoft.ZuneMusic"},
		{ID: "Maps", AppxPackageName: "Microsoft.WindowsMaps"},
	})

	items, err := selectItems(idx, []string{"zune", " Maps ", "ZUNE", ""})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Zune", items[0].ID)
	assert.Equal(t, "Maps", items[1].ID)

	_, err = selectItems(idx, []string{"zune", "nope"})
	assert.ErrorContains(t, err, `unknown item "nope"`)
}

func TestUnqueueMessage(t *testing.T) {
	assert.Equal(t, "Bulk removal script unchanged", unqueueMessage(false, false))
	assert.Equal(t, "Bulk removal script updated", unqueueMessage(true, false))
	assert.Equal(t, "Bulk removal script is empty and was deleted", unqueueMessage(true, true))
}

func TestPrintStatus(t *testing.T) {
	color.NoColor = true

	items := []catalog.Item{
		{ID: "Zune", AppxPackageName: "Microsoft.ZuneMusic"},
		{ID: "Maps", AppxPackageName: "Microsoft.WindowsMaps"},
	}
	detections := map[string]detection.Detection{
		"Zune": {Installed: true, Via: catalog.SourceWinGet},
	}

	var buf bytes.Buffer
	printStatus(&buf, items, detections)

	out := buf.String()
	assert.Contains(t, out, "ITEM")
	assert.Contains(t, out, "Zune  installed   winget")
	assert.Contains(t, out, "Maps  absent      -")
}

func TestConsoleNotifier(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	n := &consoleNotifier{out: &buf}
	n.ItemFinished(catalog.Item{ID: "zune", Name: "Groove Music"}, result.StatusDeferred)
	n.BatchFinished(result.Success(1, "1 item removed"))

	assert.Equal(t, "deferred   Groove Music\nsuccess: 1 item removed\n", buf.String())
}

type countingNotifier struct{ items, batches int }

func (c *countingNotifier) ItemFinished(catalog.Item, result.Status) { c.items++ }
func (c *countingNotifier) BatchFinished(result.Result[int])          { c.batches++ }

func TestNotifiersFanOut(t *testing.T) {
	a, b := &countingNotifier{}, &countingNotifier{}
	ns := notifiers{a, b}
	ns.ItemFinished(catalog.Item{ID: "zune"}, result.StatusSuccess)
	ns.BatchFinished(result.Success(1, ""))

	assert.Equal(t, 1, a.items)
	assert.Equal(t, 1, b.batches)
}
