// Package fingerprint computes the content hashes that decide whether a
// tracked row needs a full rewrite.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultExcluded lists identity and bookkeeping fields that never feed a hash.
var DefaultExcluded = []string{
	"id",
	"afs_id",
	"xt_id",
	"external_id",
	"update",
	"last_update",
	"created_at",
	"updated_at",
	"last_imported_hash",
	"last_seen_hash",
}

// ExtractHashableFields copies payload without DefaultExcluded and extra.
func ExtractHashableFields(payload map[string]any, extra ...string) map[string]any {
	excluded := make(map[string]bool, len(DefaultExcluded)+len(extra))
	for _, f := range DefaultExcluded {
		excluded[f] = true
	}
	for _, f := range extra {
		excluded[f] = true
	}

	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if excluded[strings.ToLower(k)] || excluded[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// Generate returns the hex SHA-256 of the canonical JSON of fields.
func Generate(fields map[string]any) string {
	hash := sha256.Sum256([]byte(canonicalize(fields)))
	return hex.EncodeToString(hash[:])
}

// HasChanged is true when there is no previous hash or it differs.
func HasChanged(oldHash, newHash string) bool {
	return oldHash == "" || oldHash != newHash
}

// canonicalize renders sorted-key JSON of normalized values.
func canonicalize(data any) string {
	switch v := data.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		b.WriteString("{")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(",")
			}
			keyJSON, _ := json.Marshal(k)
			b.Write(keyJSON)
			b.WriteString(":")
			b.WriteString(canonicalize(v[k]))
		}
		b.WriteString("}")
		return b.String()
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = canonicalize(item)
		}
		return "[" + strings.Join(parts, ",") + "]"
	}

	b, _ := json.Marshal(normalize(data))
	return string(b)
}

// normalize maps scalars onto strings so that nil and "", or 1 and 1.0,
// hash alike.
func normalize(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case bool:
		if t {
			return "1"
		}
		return "0"
	case float32:
		return formatFloat(float64(t))
	case float64:
		return formatFloat(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case time.Time:
		return t.Format(time.DateTime)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(math.Round(f*100)/100, 'f', -1, 64)
}
