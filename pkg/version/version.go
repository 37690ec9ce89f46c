// pkg/version/version.go - build information stamped in with -ldflags.

package version

import (
	"fmt"
	"io"
)

// Set with -ldflags "-X github.com/windowsadmins/sweeper/pkg/version.version=...".
var (
	version   = "dev"
	branch    = "unknown"
	revision  = "unknown"
	goVersion = "unknown"
	buildDate = "unknown"
	appName   = "sweeper"
)

// Info describes the running build.
type Info struct {
	AppName   string `json:"app_name"`
	Version   string `json:"version"`
	Branch    string `json:"branch"`
	Revision  string `json:"revision"`
	GoVersion string `json:"go_version"`
	BuildDate string `json:"build_date"`
}

// Version returns the build information.
func Version() Info {
	return Info{
		AppName:   appName,
		Version:   version,
		Branch:    branch,
		Revision:  revision,
		GoVersion: goVersion,
		BuildDate: buildDate,
	}
}

// String returns "<app> <version>".
func (i Info) String() string {
	return fmt.Sprintf("%s %s", i.AppName, i.Version)
}

// Fprint writes the version line, followed by build details when full is set.
func Fprint(w io.Writer, full bool) {
	v := Version()
	fmt.Fprintln(w, v.String())
	if !full {
		return
	}
	fmt.Fprintf(w, "  branch: \t%s\n", v.Branch)
	fmt.Fprintf(w, "  revision: \t%s\n", v.Revision)
	fmt.Fprintf(w, "  build date: \t%s\n", v.BuildDate)
	fmt.Fprintf(w, "  go version: \t%s\n", v.GoVersion)
}
