// Package relation computes many-to-many add/remove sets and guards EAN
// uniqueness across articles.
package relation

import (
	"cmp"
	"path"
	"slices"
	"strings"
)

// Diff returns added = desired - existing and removed = existing - desired,
// both sorted.
func Diff[T cmp.Ordered](existing, desired []T) (added, removed []T) {
	have := make(map[T]struct{}, len(existing))
	for _, e := range existing {
		have[e] = struct{}{}
	}
	want := make(map[T]struct{}, len(desired))
	for _, d := range desired {
		want[d] = struct{}{}
	}

	for d := range want {
		if _, ok := have[d]; !ok {
			added = append(added, d)
		}
	}
	for e := range have {
		if _, ok := want[e]; !ok {
			removed = append(removed, e)
		}
	}
	slices.Sort(added)
	slices.Sort(removed)
	return added, removed
}

// Attribute is one (attribute id, value) pair of a parent.
type Attribute[T cmp.Ordered] struct {
	ID    T
	Value string
}

// DiffAttributes compares attribute values by (id, value). A changed value
// shows up as a removal of the old pair and an addition of the new one.
func DiffAttributes[T cmp.Ordered](existing, desired map[T]string) (added, removed []Attribute[T]) {
	for id, value := range desired {
		if old, ok := existing[id]; !ok || old != value {
			added = append(added, Attribute[T]{ID: id, Value: value})
		}
	}
	for id, value := range existing {
		if now, ok := desired[id]; !ok || now != value {
			removed = append(removed, Attribute[T]{ID: id, Value: value})
		}
	}
	byID := func(a, b Attribute[T]) int { return cmp.Compare(a.ID, b.ID) }
	slices.SortFunc(added, byID)
	slices.SortFunc(removed, byID)
	return added, removed
}

// DedupeFiles drops blanks and repeats of the same file base name, compared
// case-insensitively. The first spelling wins.
func DedupeFiles(names []string) []string {
	return dedupe(names, func(s string) string {
		return strings.ToLower(path.Base(strings.ReplaceAll(s, "\\", "/")))
	})
}

// DedupeTitles drops blanks and repeats of the same lowercase title.
func DedupeTitles(titles []string) []string {
	return dedupe(titles, strings.ToLower)
}

func dedupe(values []string, key func(string) string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		k := key(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}
