// pkg/uninstall/match.go - registry display-name matching and uninstall command parsing.

package uninstall

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/hashicorp/go-version"

	"github.com/windowsadmins/sweeper/pkg/winreg"
)

// normalize lowercases s, drops punctuation and collapses whitespace.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// FuzzyMatch reports whether a registry display name refers to the searched name:
// equal after normalization, one contained in the other on word boundaries, or
// at least two normalized words in common.
func FuzzyMatch(search, displayName string) bool {
	a, b := normalize(search), normalize(displayName)
	if a == "" || b == "" {
		return false
	}
	if a == b || containsWords(a, b) || containsWords(b, a) {
		return true
	}
	return sharedWords(a, b) >= 2
}

func containsWords(hay, needle string) bool {
	return strings.Contains(" "+hay+" ", " "+needle+" ")
}

func sharedWords(a, b string) int {
	seen := make(map[string]bool)
	for _, w := range strings.Fields(a) {
		seen[w] = true
	}
	n := 0
	for _, w := range strings.Fields(b) {
		if seen[w] {
			n++
			delete(seen, w)
		}
	}
	return n
}

// BestMatch picks the entry for name among entries. Among several matches the
// highest DisplayVersion wins, then one with a quiet uninstall string. Entries
// without any uninstall string are ignored.
func BestMatch(name string, entries []winreg.UninstallEntry) (winreg.UninstallEntry, bool) {
	var best winreg.UninstallEntry
	var bestVer *version.Version
	found := false
	for _, e := range entries {
		if e.Command() == "" || !FuzzyMatch(name, e.DisplayName) {
			continue
		}
		v, _ := version.NewVersion(strings.TrimSpace(e.DisplayVersion))
		if !found || better(v, bestVer, e, best) {
			best, bestVer, found = e, v, true
		}
	}
	return best, found
}

func better(v, bestVer *version.Version, e, best winreg.UninstallEntry) bool {
	switch {
	case v != nil && bestVer == nil:
		return true
	case v == nil && bestVer != nil:
		return false
	case v != nil && bestVer != nil && !v.Equal(bestVer):
		return v.GreaterThan(bestVer)
	}
	return e.QuietUninstallString != "" && best.QuietUninstallString == ""
}

// ParseCommand splits an uninstall string into executable and argument string.
// Quoted paths and unquoted paths containing spaces are both handled.
func ParseCommand(command string) (file, args string) {
	command = strings.TrimSpace(command)
	if command == "" {
		return "", ""
	}
	if command[0] == '"' {
		if end := strings.IndexByte(command[1:], '"'); end >= 0 {
			return command[1 : end+1], strings.TrimSpace(command[end+2:])
		}
		return strings.Trim(command, `"`), ""
	}
	if i := strings.Index(strings.ToLower(command), ".exe"); i >= 0 {
		cut := i + len(".exe")
		if cut == len(command) || command[cut] == ' ' {
			return command[:cut], strings.TrimSpace(command[cut:])
		}
	}
	if i := strings.IndexByte(command, ' '); i >= 0 {
		return command[:i], strings.TrimSpace(command[i+1:])
	}
	return command, ""
}

var msiInstallSwitch = regexp.MustCompile(`(?i)/I\s*(\{[0-9A-F-]+\})`)

// AddSilentFlags returns args with the switches that make file run unattended.
func AddSilentFlags(file, args string) string {
	if isMsiExec(file) {
		args = msiInstallSwitch.ReplaceAllString(args, "/X$1")
		args = appendFlag(args, "/quiet", "/quiet", "/qn", "/passive")
		return appendFlag(args, "/norestart", "/norestart")
	}
	args = appendFlag(args, "/VERYSILENT", "/SILENT", "/VERYSILENT")
	return appendFlag(args, "/NORESTART", "/NORESTART")
}

func isMsiExec(file string) bool {
	base := strings.ToLower(filepath.Base(strings.ReplaceAll(file, `\`, "/")))
	return base == "msiexec" || base == "msiexec.exe"
}

// appendFlag appends flag unless one of present is already a token of args.
func appendFlag(args, flag string, present ...string) string {
	for _, tok := range strings.Fields(args) {
		for _, p := range present {
			if strings.EqualFold(tok, p) {
				return args
			}
		}
	}
	if args == "" {
		return flag
	}
	return args + " " + flag
}
