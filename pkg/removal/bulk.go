// pkg/removal/bulk.go - the bulk removal script as a set of pending entries.

package removal

import (
	"bufio"
	"fmt"
	"sort"
	"strings"

	"github.com/windowsadmins/sweeper/pkg/catalog"
)

// Entries are the pending removals encoded in the bulk script.
type Entries struct {
	Packages     []string
	Capabilities []string
	Features     []string
	Specials     []string
}

// EntriesFor collects the bulk entries of items. Items with a dedicated
// removal routine are skipped.
func EntriesFor(items []catalog.Item) Entries {
	var e Entries
	for _, it := range items {
		if it.HasDedicatedRemoval() {
			continue
		}
		switch it.Kind() {
		case catalog.KindCapability:
			e.Capabilities = append(e.Capabilities, it.CapabilityName)
		case catalog.KindFeature:
			e.Features = append(e.Features, it.OptionalFeatureName)
		default:
			e.Packages = append(e.Packages, it.AppxPackageName)
			e.Packages = append(e.Packages, it.SubPackages...)
		}
		if s, ok := it.Special(); ok {
			e.Specials = append(e.Specials, s.String())
		}
	}
	return e.normalized()
}

// IsEmpty reports whether no entry is left.
func (e Entries) IsEmpty() bool {
	return len(e.Packages) == 0 && len(e.Capabilities) == 0 && len(e.Features) == 0 && len(e.Specials) == 0
}

// Len returns the total number of entries.
func (e Entries) Len() int {
	return len(e.Packages) + len(e.Capabilities) + len(e.Features) + len(e.Specials)
}

// Merge returns the case-insensitive union of a and b.
func Merge(a, b Entries) Entries {
	return Entries{
		Packages:     append(append([]string{}, a.Packages...), b.Packages...),
		Capabilities: append(append([]string{}, a.Capabilities...), b.Capabilities...),
		Features:     append(append([]string{}, a.Features...), b.Features...),
		Specials:     append(append([]string{}, a.Specials...), b.Specials...),
	}.normalized()
}

// Subtract removes b from a. A special operation is also removed when any
// removed package belongs to it.
func Subtract(a, b Entries) Entries {
	specials := toSet(b.Specials)
	for _, tag := range a.Specials {
		s, err := catalog.ParseSpecial(tag)
		if err != nil {
			continue
		}
		for _, pkg := range b.Packages {
			if specialHandlers[s].relates(pkg) {
				specials[strings.ToLower(tag)] = true
			}
		}
	}
	return Entries{
		Packages:     minus(a.Packages, toSet(b.Packages)),
		Capabilities: minus(a.Capabilities, toSet(b.Capabilities)),
		Features:     minus(a.Features, toSet(b.Features)),
		Specials:     minus(a.Specials, specials),
	}.normalized()
}

// Equal reports whether a and b hold the same entries.
func (e Entries) Equal(o Entries) bool {
	return Render(e) == Render(o)
}

func (e Entries) normalized() Entries {
	return Entries{
		Packages:     dedupe(e.Packages),
		Capabilities: dedupe(e.Capabilities),
		Features:     dedupe(e.Features),
		Specials:     dedupe(e.Specials),
	}
}

// dedupe drops blanks and case-insensitive duplicates, keeping the first
// spelling, and sorts the result.
func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}

func toSet(in []string) map[string]bool {
	set := make(map[string]bool, len(in))
	for _, s := range in {
		set[strings.ToLower(strings.TrimSpace(s))] = true
	}
	return set
}

func minus(in []string, drop map[string]bool) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !drop[strings.ToLower(s)] {
			out = append(out, s)
		}
	}
	return out
}

// Array names in the generated script.
const (
	arrayPackages     = "packages"
	arrayCapabilities = "capabilities"
	arrayFeatures     = "optionalFeatures"
	arraySpecials     = "specialOperations"
)

const scriptHeader = `# BloatRemoval.ps1
# Generated by sweeper. The arrays below are rewritten whenever entries are added or removed.
$ErrorActionPreference = 'Continue'
`

const packageBlock = `
foreach ($package in $packages) {
    Write-Output "Removing package $package"
    Get-AppxPackage -AllUsers -Name $package | Remove-AppxPackage -AllUsers -ErrorAction Continue
    Get-AppxProvisionedPackage -Online | Where-Object { $_.DisplayName -eq $package } |
        Remove-AppxProvisionedPackage -Online -AllUsers -ErrorAction Continue | Out-Null
}
`

const capabilityBlock = `
foreach ($capability in $capabilities) {
    Write-Output "Removing capability $capability"
    Get-WindowsCapability -Online | Where-Object { $_.Name -like "$capability~*" -or $_.Name -eq $capability } |
        Remove-WindowsCapability -Online -ErrorAction Continue | Out-Null
}
`

const featureBlock = `
foreach ($feature in $optionalFeatures) {
    Write-Output "Disabling optional feature $feature"
    Disable-WindowsOptionalFeature -Online -FeatureName $feature -NoRestart -ErrorAction Continue | Out-Null
}
`

// Render generates the bulk script. Equal entries always render to equal text.
func Render(e Entries) string {
	e = e.normalized()
	var b strings.Builder
	b.WriteString(scriptHeader)
	writeArray(&b, arrayPackages, e.Packages)
	writeArray(&b, arrayCapabilities, e.Capabilities)
	writeArray(&b, arrayFeatures, e.Features)
	writeArray(&b, arraySpecials, e.Specials)

	b.WriteString(packageBlock)
	b.WriteString(capabilityBlock)
	b.WriteString(featureBlock)

	for _, tag := range e.Specials {
		s, err := catalog.ParseSpecial(tag)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "\n# Special operation: %s\n%s", s, specialHandlers[s].script)
	}
	for _, aux := range auxiliaryBlocks {
		if aux.triggered(e.Packages) {
			fmt.Fprintf(&b, "\n# %s\n%s", aux.name, aux.script)
		}
	}
	return b.String()
}

func writeArray(b *strings.Builder, name string, values []string) {
	fmt.Fprintf(b, "\n$%s = @(\n", name)
	for _, v := range values {
		fmt.Fprintf(b, "    '%s'\n", strings.ReplaceAll(v, "'", "''"))
	}
	b.WriteString(")\n")
}

// Extract reads the entry arrays back out of a bulk script.
func Extract(text string) (Entries, error) {
	var e Entries
	arrays := map[string]*[]string{
		strings.ToLower(arrayPackages):     &e.Packages,
		strings.ToLower(arrayCapabilities): &e.Capabilities,
		strings.ToLower(arrayFeatures):     &e.Features,
		strings.ToLower(arraySpecials):     &e.Specials,
	}

	var current *[]string
	var currentName string
	sc := bufio.NewScanner(strings.NewReader(strings.TrimPrefix(text, utf8BOM)))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if current == nil {
			name, ok := arrayStart(line)
			if !ok {
				continue
			}
			if target, known := arrays[strings.ToLower(name)]; known {
				current, currentName = target, name
			}
			continue
		}
		if line == ")" {
			current = nil
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		v, err := unquote(line)
		if err != nil {
			return Entries{}, fmt.Errorf("array $%s: %w", currentName, err)
		}
		*current = append(*current, v)
	}
	if err := sc.Err(); err != nil {
		return Entries{}, err
	}
	if current != nil {
		return Entries{}, fmt.Errorf("array $%s is not terminated", currentName)
	}
	for _, tag := range e.Specials {
		if _, err := catalog.ParseSpecial(tag); err != nil {
			return Entries{}, err
		}
	}
	return e.normalized(), nil
}

// arrayStart matches `$name = @(`.
func arrayStart(line string) (string, bool) {
	if !strings.HasPrefix(line, "$") || !strings.HasSuffix(line, "@(") {
		return "", false
	}
	name, rest, ok := strings.Cut(line[1:], "=")
	if !ok || strings.TrimSpace(rest) != "@(" {
		return "", false
	}
	return strings.TrimSpace(name), true
}

func unquote(line string) (string, error) {
	line = strings.TrimSuffix(line, ",")
	if len(line) < 2 || line[0] != '\'' || line[len(line)-1] != '\'' {
		return "", fmt.Errorf("unexpected entry %q", line)
	}
	return strings.ReplaceAll(line[1:len(line)-1], "''", "'"), nil
}
