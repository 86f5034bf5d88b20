package engine

import "fmt"

// RowKind is the outcome of normalizing one source row.
type RowKind int

const (
	RowOK RowKind = iota
	// RowSkip drops the row without counting it as an error.
	RowSkip
	// RowError drops the row and counts it as an error.
	RowError
	// RowFatal aborts the entity before anything is written.
	RowFatal
)

func (k RowKind) String() string {
	switch k {
	case RowOK:
		return "ok"
	case RowSkip:
		return "skipped"
	case RowError:
		return "error"
	case RowFatal:
		return "fatal"
	}
	return fmt.Sprintf("RowKind(%d)", int(k))
}

// Payload holds the evaluated columns of one source row per target table.
type Payload map[string]map[string]any

// DesiredSet is the relationship state one source row asks for.
type DesiredSet struct {
	ParentKey string
	// Items are file names or titles of media and document relations.
	Items []string
	// Attributes maps attribute names to values.
	Attributes map[string]string
}

// RowResult is the tagged result of normalizing one source row.
type RowResult struct {
	Index     int
	Kind      RowKind
	Payload   Payload
	Relations map[string]*DesiredSet
	Reason    string
	Err       error

	selfRefs []selfRef
	// seen maps tracked table names to the row's business key.
	seen map[string]string
}

// selfRef is a reference into the row's own table, resolved after the merge.
type selfRef struct {
	table   string
	column  string
	lookup  string
	value   string
	key     []any
	pending bool
}

func skip(index int, reason string) RowResult {
	return RowResult{Index: index, Kind: RowSkip, Reason: reason}
}

func rowError(index int, err error) RowResult {
	return RowResult{Index: index, Kind: RowError, Reason: err.Error(), Err: err}
}

// Timing reports the duration of the sync phases in milliseconds.
type Timing struct {
	LoadNormalizeMs int64 `json:"loadNormalizeMs"`
	WriteMs         int64 `json:"writeMs"`
	TotalMs         int64 `json:"totalMs"`
}

// TableStats is the write breakdown of one target table.
type TableStats struct {
	Rows     int `json:"rows"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Batches  int `json:"batches"`
	// MaxBatchParams is the largest number of values bound by one staging insert.
	MaxBatchParams int `json:"maxBatchParams"`
}

// Stats summarizes one SyncEntity call.
type Stats struct {
	Entity           string                 `json:"entity"`
	Processed        int                    `json:"processed"`
	Inserted         int                    `json:"inserted"`
	Updated          int                    `json:"updated"`
	Unchanged        int                    `json:"unchanged"`
	Skipped          int                    `json:"skipped"`
	Errors           int                    `json:"errors"`
	Orphans          int                    `json:"orphans"`
	Touched          int                    `json:"touched"`
	RelationsAdded   int                    `json:"relationsAdded"`
	RelationsRemoved int                    `json:"relationsRemoved"`
	EANConflicts     int                    `json:"eanConflicts"`
	Timing           Timing                 `json:"timing"`
	Tables           map[string]*TableStats `json:"tables,omitempty"`
}

func newStats(entity string) Stats {
	return Stats{Entity: entity, Tables: map[string]*TableStats{}}
}

func (s *Stats) table(name string) *TableStats {
	ts, ok := s.Tables[name]
	if !ok {
		ts = &TableStats{}
		s.Tables[name] = ts
	}
	return ts
}

// Summary renders the counters on one line.
func (s Stats) Summary() string {
	return fmt.Sprintf("processed=%d inserted=%d updated=%d unchanged=%d skipped=%d errors=%d orphans=%d relations=+%d/-%d",
		s.Processed, s.Inserted, s.Updated, s.Unchanged, s.Skipped, s.Errors, s.Orphans, s.RelationsAdded, s.RelationsRemoved)
}
