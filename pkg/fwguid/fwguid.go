// Package fwguid normalizes firmware GUIDs and tracks the set of GUIDs requested for extraction.
//
// GUIDs are compared in their canonical string form: lowercase, hyphenated, no braces.
package fwguid

import (
	"strings"

	"github.com/linuxboot/fiano/pkg/guid"
	"gitlab.com/tozd/go/errors"
)

// ErrInvalid is returned for strings that are not a GUID.
var ErrInvalid = errors.Base("invalid guid")

// Normalize parses s and returns its canonical form.
func Normalize(s string) (string, error) {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(s), "{"), "}")
	g, err := guid.Parse(trimmed)
	if err != nil {
		// the parser's message spans several lines, keep ours to one
		return "", errors.Errorf("%w %q: want xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx", ErrInvalid, s)
	}
	return FromGUID(*g), nil
}

// FromGUID returns the canonical form of a parsed GUID.
func FromGUID(g guid.GUID) string {
	return strings.ToLower(g.String())
}

// Set is an ordered set of canonical GUIDs.
type Set struct {
	order   []string
	members map[string]struct{}
}

// ParseSet normalizes every entry of raw. Duplicates collapse into one entry, first occurrence wins.
func ParseSet(raw []string) (*Set, error) {
	if len(raw) == 0 {
		return nil, errors.New("at least one guid is required")
	}

	s := &Set{members: make(map[string]struct{}, len(raw))}
	for _, r := range raw {
		n, err := Normalize(r)
		if err != nil {
			return nil, err
		}
		if _, ok := s.members[n]; ok {
			continue
		}
		s.members[n] = struct{}{}
		s.order = append(s.order, n)
	}

	return s, nil
}

func (s *Set) Contains(g string) bool {
	_, ok := s.members[strings.ToLower(g)]
	return ok
}

func (s *Set) ContainsGUID(g guid.GUID) bool {
	return s.Contains(FromGUID(g))
}

// List returns the GUIDs in the order they were first requested.
func (s *Set) List() []string {
	return append([]string(nil), s.order...)
}

func (s *Set) Len() int { return len(s.order) }
