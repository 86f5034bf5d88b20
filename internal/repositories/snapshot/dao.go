package snapshot

import (
	"fmt"
	"strconv"
	"strings"
)

// keySeparator joins composite business key values.
const keySeparator = "\x1f"

// HashRecord is the pre-run bookkeeping state of one tracked row.
type HashRecord struct {
	ID               int64
	Key              string
	LastUpdate       string
	Online           bool
	EAN              string
	MetaTitle        string
	MetaDescription  string
	LastImportedHash string
	LastSeenHash     string
	// Seen is false at load and set once the current run's source contains Key.
	Seen bool
}

// RelationSnapshot maps a parent id to its child ids. Media and document
// relations carry empty values; attribute relations carry the stored value.
type RelationSnapshot map[int64]map[int64]string

// Children returns the child ids of parent.
func (s RelationSnapshot) Children(parent int64) []int64 {
	children := make([]int64, 0, len(s[parent]))
	for id := range s[parent] {
		children = append(children, id)
	}
	return children
}

// Lookup maps natural keys of one target table to ids.
type Lookup struct {
	fold bool
	ids  map[string]int64
}

func NewLookup(fold bool) *Lookup {
	return &Lookup{fold: fold, ids: make(map[string]int64)}
}

func (l *Lookup) normalize(key string) string {
	key = strings.TrimSpace(key)
	if l.fold {
		return strings.ToLower(key)
	}
	return key
}

func (l *Lookup) Set(key string, id int64) {
	if k := l.normalize(key); k != "" {
		l.ids[k] = id
	}
}

// Get resolves key, returning false when it is blank or unknown.
func (l *Lookup) Get(key string) (int64, bool) {
	k := l.normalize(key)
	if k == "" {
		return 0, false
	}
	id, ok := l.ids[k]
	return id, ok
}

func (l *Lookup) Len() int {
	return len(l.ids)
}

// JoinKey renders a (possibly composite) business key as one map key.
func JoinKey(values []string) string {
	return strings.Join(values, keySeparator)
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return strings.TrimSpace(string(t))
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case float64:
		return int64(t), true
	case []byte:
		n, err := strconv.ParseInt(strings.TrimSpace(string(t)), 10, 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	}
	s := strings.ToLower(asString(v))
	return s != "" && s != "0" && s != "false"
}
