package blocking

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProc struct {
	name, exe string
	killErr   error
	killed    bool
}

func (p *fakeProc) NameWithContext(context.Context) (string, error) { return p.name, nil }
func (p *fakeProc) ExeWithContext(context.Context) (string, error)  { return p.exe, nil }
func (p *fakeProc) KillWithContext(context.Context) error {
	if p.killErr != nil {
		return p.killErr
	}
	p.killed = true
	return nil
}

func listOf(procs ...*fakeProc) Lister {
	return func(context.Context) ([]Proc, error) {
		out := make([]Proc, len(procs))
		for i, p := range procs {
			out[i] = p
		}
		return out, nil
	}
}

func TestMatches(t *testing.T) {
	ctx := context.Background()
	p := &fakeProc{name: "OneDrive.exe", exe: `C:\Program Files\Microsoft OneDrive\OneDrive.exe`}

	assert.True(t, Matches(ctx, p, "onedrive"))
	assert.True(t, Matches(ctx, p, "OneDrive.exe"))
	assert.True(t, Matches(ctx, p, `c:\program files\microsoft onedrive\onedrive.exe`))
	assert.False(t, Matches(ctx, p, "OneDriveSetup"))
	assert.False(t, Matches(ctx, p, `C:\Other\OneDrive.exe`))
	assert.False(t, Matches(ctx, p, ""))
}

func TestRunning(t *testing.T) {
	term := &Terminator{List: listOf(&fakeProc{name: "msedge.exe"}, &fakeProc{name: "explorer.exe"})}
	assert.Equal(t, []string{"msedge"}, term.Running(context.Background(), []string{"msedge", "teams"}))
	assert.Nil(t, term.Running(context.Background(), nil))
}

func TestTerminate(t *testing.T) {
	edge1 := &fakeProc{name: "msedge.exe"}
	edge2 := &fakeProc{name: "msedge.exe"}
	other := &fakeProc{name: "explorer.exe"}
	term := &Terminator{List: listOf(edge1, other, edge2)}

	n, err := term.Terminate(context.Background(), "edge", []string{"msedge"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, edge1.killed)
	assert.True(t, edge2.killed)
	assert.False(t, other.killed)
}

func TestTerminateReportsKillFailures(t *testing.T) {
	stuck := &fakeProc{name: "Teams.exe", killErr: errors.New("access is denied")}
	term := &Terminator{List: listOf(stuck)}

	n, err := term.Terminate(context.Background(), "teams", []string{"teams"})
	assert.Zero(t, n)
	assert.ErrorContains(t, err, "access is denied")
}

func TestTerminateListFailure(t *testing.T) {
	term := &Terminator{List: func(context.Context) ([]Proc, error) { return nil, errors.New("no access") }}
	_, err := term.Terminate(context.Background(), "x", []string{"x"})
	assert.Error(t, err)
}
