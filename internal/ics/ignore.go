package ics

import (
	"fmt"
	"sort"
	"strings"

	"bsstatus/internal/model"
)

// IgnoreRule maps a property name to the exact text it must have. An event
// matches the rule only if every named property is present and equal.
type IgnoreRule map[string]string

// NewIgnoreRule renders arbitrary config values (YAML scalars) to text with
// fmt.Sprint, the same canonical form event fields are reduced to. Property
// names are case-insensitive and stored upper-cased.
func NewIgnoreRule(fields map[string]any) IgnoreRule {
	r := make(IgnoreRule, len(fields))
	for k, v := range fields {
		r[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return r
}

// Matches reports whether occ satisfies every field of the rule. An empty
// rule matches everything.
func (r IgnoreRule) Matches(occ model.Occurrence) bool {
	for name, want := range r {
		got, ok := occ.Field(name)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func (r IgnoreRule) String() string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s := "{"
	for i, k := range keys {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s: %q", k, r[k])
	}
	return s + "}"
}

// MatchAny returns the index of the first rule occ matches, or -1.
func MatchAny(rules []IgnoreRule, occ model.Occurrence) int {
	for i, r := range rules {
		if r.Matches(occ) {
			return i
		}
	}
	return -1
}
