package catalog

import (
	"fmt"
	"strings"
)

// Special tags a named post-removal operation carried in the bulk script.
type Special int

const (
	SpecialNone Special = iota
	SpecialOneNote
	SpecialTeams
)

var specialNames = map[Special]string{
	SpecialOneNote: "OneNote",
	SpecialTeams:   "Teams",
}

// String returns the tag as written in catalogs and scripts.
func (s Special) String() string {
	if name, ok := specialNames[s]; ok {
		return name
	}
	return "none"
}

// ParseSpecial maps a tag to a Special. Unknown tags are an error.
func ParseSpecial(tag string) (Special, error) {
	for s, name := range specialNames {
		if strings.EqualFold(strings.TrimSpace(tag), name) {
			return s, nil
		}
	}
	return SpecialNone, fmt.Errorf("unknown special handler %q", tag)
}
