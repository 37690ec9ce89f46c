//go:build windows

package winreg

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"

	"github.com/windowsadmins/sweeper/pkg/catalog"
	"github.com/windowsadmins/sweeper/pkg/logging"
)

// Registry reads and writes the local Windows registry.
type Registry struct{}

// NewRegistry returns the Windows registry.
func NewRegistry() *Registry { return &Registry{} }

type hiveRoot struct {
	label  string
	root   registry.Key
	prefix string
	path   string
}

// UninstallEntries implements UninstallSource.
func (r *Registry) UninstallEntries(ctx context.Context) ([]UninstallEntry, error) {
	roots := []hiveRoot{
		{label: "HKLM", root: registry.LOCAL_MACHINE, path: UninstallPath},
		{label: "HKLM32", root: registry.LOCAL_MACHINE, path: UninstallPathWOW64},
	}
	userRoot, userPrefix, label := interactiveUserHive()
	roots = append(roots, hiveRoot{label: label, root: userRoot, prefix: userPrefix, path: UninstallPath})

	var entries []UninstallEntry
	for _, h := range roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := readUninstallKey(h)
		if err != nil {
			logging.Debug("Unable to read uninstall key", "hive", h.label, "error", err)
			continue
		}
		entries = append(entries, found...)
	}
	return entries, nil
}

func readUninstallKey(h hiveRoot) ([]UninstallEntry, error) {
	base := h.path
	if h.prefix != "" {
		base = h.prefix + `\` + h.path
	}
	key, err := registry.OpenKey(h.root, base, registry.READ)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	names, err := key.ReadSubKeyNames(0)
	if err != nil {
		return nil, err
	}
	var entries []UninstallEntry
	for _, name := range names {
		sub, err := registry.OpenKey(h.root, base+`\`+name, registry.QUERY_VALUE)
		if err != nil {
			continue
		}
		e := UninstallEntry{Hive: h.label, Key: base + `\` + name}
		e.DisplayName, _, _ = sub.GetStringValue("DisplayName")
		e.DisplayVersion, _, _ = sub.GetStringValue("DisplayVersion")
		e.UninstallString, _, _ = sub.GetStringValue("UninstallString")
		e.QuietUninstallString, _, _ = sub.GetStringValue("QuietUninstallString")
		sub.Close()
		if e.DisplayName != "" {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// interactiveUserHive returns the hive of the logged-on user. When sweeper runs
// elevated under a different account the user's hive is reached through HKEY_USERS.
func interactiveUserHive() (registry.Key, string, string) {
	sid, err := InteractiveUserSID()
	if err != nil || sid == "" {
		return registry.CURRENT_USER, "", "HKCU"
	}
	current, err := currentUserSID()
	if err != nil || strings.EqualFold(current, sid) {
		return registry.CURRENT_USER, "", "HKCU"
	}
	return registry.USERS, sid, `HKU\` + sid
}

// InteractiveUserSID returns the SID of the account owning explorer.exe.
func InteractiveUserSID() (string, error) {
	procs, err := process.Processes()
	if err != nil {
		return "", err
	}
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || !strings.EqualFold(name, "explorer.exe") {
			continue
		}
		user, err := p.Username()
		if err != nil || user == "" {
			continue
		}
		sid, _, _, err := windows.LookupSID("", user)
		if err != nil {
			return "", fmt.Errorf("looking up SID for %s: %w", user, err)
		}
		return sid.String(), nil
	}
	return "", fmt.Errorf("no interactive session found")
}

func currentUserSID() (string, error) {
	tu, err := windows.GetCurrentProcessToken().GetTokenUser()
	if err != nil {
		return "", err
	}
	return tu.User.Sid.String(), nil
}

// ApplySettings implements SettingsWriter.
func (r *Registry) ApplySettings(ctx context.Context, settings []catalog.RegistrySetting) error {
	return ApplyAll(ctx, applySetting, settings)
}

func applySetting(s catalog.RegistrySetting) error {
	root, prefix := registry.LOCAL_MACHINE, ""
	if strings.EqualFold(s.Hive, "HKCU") {
		userRoot, userPrefix, _ := interactiveUserHive()
		root, prefix = userRoot, userPrefix
	}
	path := s.Path
	if prefix != "" {
		path = prefix + `\` + path
	}

	if s.Delete {
		k, err := registry.OpenKey(root, path, registry.SET_VALUE)
		if err != nil {
			if err == registry.ErrNotExist {
				return nil
			}
			return fmt.Errorf("opening %s\\%s: %w", s.Hive, s.Path, err)
		}
		defer k.Close()
		if err := k.DeleteValue(s.Name); err != nil && err != registry.ErrNotExist {
			return fmt.Errorf("deleting %s\\%s\\%s: %w", s.Hive, s.Path, s.Name, err)
		}
		logging.Debug("Deleted registry value", "hive", s.Hive, "path", s.Path, "name", s.Name)
		return nil
	}

	k, _, err := registry.CreateKey(root, path, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("creating %s\\%s: %w", s.Hive, s.Path, err)
	}
	defer k.Close()

	switch s.Type {
	case catalog.ValueDWord:
		n, err := strconv.ParseUint(strings.TrimSpace(s.Value), 0, 32)
		if err != nil {
			return fmt.Errorf("registry value %s: %w", s.Name, err)
		}
		err = k.SetDWordValue(s.Name, uint32(n))
		if err != nil {
			return fmt.Errorf("setting %s\\%s\\%s: %w", s.Hive, s.Path, s.Name, err)
		}
	default:
		if err := k.SetStringValue(s.Name, s.Value); err != nil {
			return fmt.Errorf("setting %s\\%s\\%s: %w", s.Hive, s.Path, s.Name, err)
		}
	}
	logging.Debug("Applied registry setting", "hive", s.Hive, "path", s.Path, "name", s.Name, "value", s.Value)
	return nil
}
