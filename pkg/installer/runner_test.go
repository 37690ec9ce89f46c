package installer

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandString(t *testing.T) {
	c := Command{Path: `C:\Program Files\App\uninst.exe`, RawArgs: "/S /foo"}
	assert.Equal(t, `"C:\Program Files\App\uninst.exe" /S /foo`, c.String())

	c = Command{Path: "winget", Args: []string{"uninstall", "--id", "Foo.Bar"}}
	assert.Equal(t, "winget uninstall --id Foo.Bar", c.String())
}

func TestCollectLinesStripsBOMAndCR(t *testing.T) {
	var out strings.Builder
	var seen []string
	collectLines(strings.NewReader("\ufefffirst\r\nsecond\n"), &out, func(l string) { seen = append(seen, l) })

	assert.Equal(t, []string{"first", "second"}, seen)
	assert.Equal(t, "first\nsecond\n", out.String())
}

func TestCollectLinesDrainsAfterOversizedLine(t *testing.T) {
	r := strings.NewReader("first\n" + strings.Repeat("x", 2*1024*1024) + "\ntail\n")
	var out strings.Builder
	collectLines(r, &out, nil)

	assert.Equal(t, "first\n", out.String())
	assert.Zero(t, r.Len())
}

func TestExitErrorMessage(t *testing.T) {
	var err error = &ExitError{Code: 1603, Stderr: " fatal \n"}
	assert.Equal(t, "exit code 1603: fatal", err.Error())

	var exitErr *ExitError
	assert.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 1603, exitErr.Code)
}
