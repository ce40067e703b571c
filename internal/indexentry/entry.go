// Package indexentry implements the Cargo sparse-index line-delimited JSON
// entry format: one record per published (name, version) pair, stored as a
// value-keyed set so duplicate records collapse while distinct versions of
// the same crate coexist.
package indexentry

import (
	"encoding/json"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/APTlantis/crates-registry/internal/registryerr"
)

// Dependency is one entry in a crate version's deps array.
type Dependency struct {
	Name            string   `json:"name"`
	Req             string   `json:"req"`
	Features        []string `json:"features"`
	Optional        bool     `json:"optional"`
	DefaultFeatures bool     `json:"default_features"`
	Target          *string  `json:"target,omitempty"`
	Kind            *string  `json:"kind,omitempty"`
	Registry        *string  `json:"registry,omitempty"`
	Package         *string  `json:"package,omitempty"`
}

// Entry is one line of a crate's index entry file.
type Entry struct {
	Name     string              `json:"name"`
	Vers     string              `json:"vers"`
	Deps     []Dependency        `json:"deps"`
	Cksum    string              `json:"cksum"`
	Features map[string][]string `json:"features"`
	Yanked   bool                `json:"yanked"`
	Links    *string             `json:"links,omitempty"`
}

// ValidateVersion checks that Vers is a valid Semantic Versioning 2.0.0
// version string, rejecting malformed input before it reaches the entry
// file (invariant I1 extension).
func ValidateVersion(vers string) error {
	if _, err := semver.StrictNewVersion(vers); err != nil {
		return registryerr.Wrap(registryerr.KindParse, err, "invalid semantic version: "+vers)
	}
	return nil
}

// Set is an unordered collection of Entry values, keyed by full record
// value: inserting a record equal to an existing one is a no-op. It does
// NOT by itself enforce "one record per (name, version)" (invariant I1) —
// callers that must enforce that narrower constraint (the publish
// pipeline) use HasVersion explicitly.
type Set struct {
	order []Entry
	seen  map[string]struct{}
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{seen: make(map[string]struct{})}
}

// DecodeFile parses a line-delimited JSON entry file. A malformed line is a
// hard parse error; blank lines are ignored.
func DecodeFile(data []byte) (*Set, error) {
	s := NewSet()
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return s, nil
	}
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, registryerr.Wrap(registryerr.KindParse, err, "decode index entry line")
		}
		if _, err := s.Insert(e); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Insert adds e to the set if no value-identical record is already
// present. added reports whether the set actually changed.
func (s *Set) Insert(e Entry) (added bool, err error) {
	key, err := canonicalKey(e)
	if err != nil {
		return false, registryerr.Wrap(registryerr.KindParse, err, "canonicalize entry")
	}
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = struct{}{}
	s.order = append(s.order, e)
	return true, nil
}

// HasVersion reports whether the set already contains any record for the
// given (name, version) pair, regardless of whether its other fields
// match — the check invariant I1 actually requires.
func (s *Set) HasVersion(name, vers string) bool {
	for _, e := range s.order {
		if e.Name == name && e.Vers == vers {
			return true
		}
	}
	return false
}

// Entries returns the set's records in insertion order.
func (s *Set) Entries() []Entry {
	return s.order
}

// Encode renders the set back to the line-delimited JSON file format.
func (s *Set) Encode() ([]byte, error) {
	var buf []byte
	for i, e := range s.order {
		b, err := json.Marshal(e)
		if err != nil {
			return nil, registryerr.Wrap(registryerr.KindParse, err, "encode index entry")
		}
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, b...)
	}
	if len(buf) > 0 {
		buf = append(buf, '\n')
	}
	return buf, nil
}

func canonicalKey(e Entry) (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
