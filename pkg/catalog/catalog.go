// pkg/catalog/catalog.go - item definitions for the components sweeper can detect and remove.

package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Kind decides how an item is detected.
type Kind int

const (
	KindPackage Kind = iota
	KindCapability
	KindFeature
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindCapability:
		return "capability"
	case KindFeature:
		return "feature"
	default:
		return "package"
	}
}

// Source records which detection tier last confirmed an item as present.
type Source int

const (
	SourceNone Source = iota
	SourceCapability
	SourceFeature
	SourceAppx
	SourceWinGet
	SourceChocolatey
	SourceRegistry
)

// String returns the string representation of the Source.
func (s Source) String() string {
	switch s {
	case SourceCapability:
		return "capability"
	case SourceFeature:
		return "feature"
	case SourceAppx:
		return "appx"
	case SourceWinGet:
		return "winget"
	case SourceChocolatey:
		return "chocolatey"
	case SourceRegistry:
		return "registry"
	default:
		return "none"
	}
}

// Item is a single manageable component: an app package, a capability or an optional feature.
type Item struct {
	ID                  string            `yaml:"id"`
	Name                string            `yaml:"name"`
	AppxPackageName     string            `yaml:"appx_package_name,omitempty"`
	CapabilityName      string            `yaml:"capability_name,omitempty"`
	OptionalFeatureName string            `yaml:"optional_feature_name,omitempty"`
	WinGetPackageIDs    []string          `yaml:"winget_package_ids,omitempty"`
	MsStoreID           string            `yaml:"msstore_id,omitempty"`
	ChocoPackageID      string            `yaml:"choco_package_id,omitempty"`
	SubPackages         []string          `yaml:"sub_packages,omitempty"`
	RegistrySettings    []RegistrySetting `yaml:"registry_settings,omitempty"`
	ProcessNames        []string          `yaml:"process_names,omitempty"`
	SpecialHandler      string            `yaml:"special_handler,omitempty"`

	// RemovalScript produces the text of a dedicated removal routine. Items that set it
	// never go through the bulk script.
	RemovalScript func() string `yaml:"-"`

	DetectedVia Source `yaml:"-"`
	IsInstalled bool   `yaml:"-"`
}

// ValueType is the registry value kind of a RegistrySetting.
type ValueType string

const (
	ValueDWord  ValueType = "dword"
	ValueString ValueType = "string"
)

// RegistrySetting is a registry mutation applied after an item has been removed.
type RegistrySetting struct {
	Hive   string    `yaml:"hive"` // HKLM or HKCU
	Path   string    `yaml:"path"`
	Name   string    `yaml:"name"`
	Type   ValueType `yaml:"type,omitempty"`
	Value  string    `yaml:"value,omitempty"`
	Delete bool      `yaml:"delete,omitempty"`
}

// Kind returns the detection routing of the item.
func (it Item) Kind() Kind {
	switch {
	case it.CapabilityName != "":
		return KindCapability
	case it.OptionalFeatureName != "":
		return KindFeature
	default:
		return KindPackage
	}
}

// HasDedicatedRemoval reports whether the item owns its own removal routine.
func (it Item) HasDedicatedRemoval() bool {
	return it.RemovalScript != nil
}

// DisplayName returns Name, falling back to ID.
func (it Item) DisplayName() string {
	if it.Name != "" {
		return it.Name
	}
	return it.ID
}

// HasPackageManagerID reports whether the item declares a WinGet or Store id.
func (it Item) HasPackageManagerID() bool {
	return it.MsStoreID != "" || len(it.WinGetPackageIDs) > 0
}

// Special returns the parsed special handler tag, if any.
func (it Item) Special() (Special, bool) {
	if it.SpecialHandler == "" {
		return SpecialNone, false
	}
	s, err := ParseSpecial(it.SpecialHandler)
	if err != nil {
		return SpecialNone, false
	}
	return s, true
}

// Validate checks the addressing invariants of the item.
func (it Item) Validate() error {
	if strings.TrimSpace(it.ID) == "" {
		return fmt.Errorf("item %q has no id", it.Name)
	}
	if it.CapabilityName != "" && it.OptionalFeatureName != "" {
		return fmt.Errorf("item %s sets both capability_name and optional_feature_name", it.ID)
	}
	if it.Kind() == KindPackage && it.AppxPackageName == "" {
		return fmt.Errorf("item %s needs appx_package_name, capability_name or optional_feature_name", it.ID)
	}
	if it.SpecialHandler != "" {
		if _, err := ParseSpecial(it.SpecialHandler); err != nil {
			return fmt.Errorf("item %s: %w", it.ID, err)
		}
	}
	for _, rs := range it.RegistrySettings {
		if err := rs.Validate(); err != nil {
			return fmt.Errorf("item %s: %w", it.ID, err)
		}
	}
	return nil
}

// Validate checks a registry setting.
func (rs RegistrySetting) Validate() error {
	switch strings.ToUpper(rs.Hive) {
	case "HKLM", "HKCU":
	default:
		return fmt.Errorf("registry setting %s: unsupported hive %q", rs.Path, rs.Hive)
	}
	if rs.Path == "" || rs.Name == "" {
		return fmt.Errorf("registry setting needs path and name")
	}
	if rs.Delete {
		return nil
	}
	switch rs.Type {
	case ValueDWord, ValueString:
	case "":
		return fmt.Errorf("registry setting %s\\%s has no type", rs.Path, rs.Name)
	default:
		return fmt.Errorf("registry setting %s\\%s: unsupported type %q", rs.Path, rs.Name, rs.Type)
	}
	return nil
}

type catalogFile struct {
	Items []Item `yaml:"items"`
}

// Load reads a YAML catalog and validates every item in it.
func Load(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading catalog %s", path)
	}
	return Parse(data)
}

// Parse decodes YAML catalog data and validates every item in it.
func Parse(data []byte) ([]Item, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parsing catalog")
	}
	seen := make(map[string]struct{}, len(f.Items))
	for _, it := range f.Items {
		if err := it.Validate(); err != nil {
			return nil, err
		}
		key := strings.ToLower(it.ID)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("duplicate item id %s", it.ID)
		}
		seen[key] = struct{}{}
	}
	return f.Items, nil
}

// Index is a case-insensitive lookup of items by id.
type Index map[string]Item

// NewIndex builds an Index. Later items replace earlier ones with the same id.
func NewIndex(items ...[]Item) Index {
	idx := make(Index)
	for _, list := range items {
		for _, it := range list {
			idx[strings.ToLower(it.ID)] = it
		}
	}
	return idx
}

// Get returns the item with the given id.
func (idx Index) Get(id string) (Item, bool) {
	it, ok := idx[strings.ToLower(strings.TrimSpace(id))]
	return it, ok
}

// Items returns every item sorted by id.
func (idx Index) Items() []Item {
	out := make([]Item, 0, len(idx))
	for _, it := range idx {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].ID) < strings.ToLower(out[j].ID) })
	return out
}
