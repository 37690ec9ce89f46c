//go:build windows

package detection

import (
	"context"

	"github.com/yusufpapurcu/wmi"
)

type win32InstalledStoreProgram struct {
	Name string
}

// WMIPackages lists Store programs from Win32_InstalledStoreProgram.
type WMIPackages struct{}

// Name implements PackageTier.
func (WMIPackages) Name() string { return "wmi" }

// InstalledPackages implements PackageTier. The WMI call itself cannot be
// interrupted; on cancellation its result is abandoned.
func (WMIPackages) InstalledPackages(ctx context.Context) ([]string, error) {
	type answer struct {
		rows []win32InstalledStoreProgram
		err  error
	}
	done := make(chan answer, 1)
	go func() {
		var rows []win32InstalledStoreProgram
		err := wmi.Query("SELECT Name FROM Win32_InstalledStoreProgram", &rows)
		done <- answer{rows, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case a := <-done:
		if a.err != nil {
			return nil, a.err
		}
		names := make([]string, 0, len(a.rows))
		for _, r := range a.rows {
			names = append(names, r.Name)
		}
		return names, nil
	}
}
