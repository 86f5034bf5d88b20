package engine

import (
	"context"
	"slices"
	"strings"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/expression"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/fingerprint"
)

// timestampLayout formats the last update column.
const timestampLayout = "2006-01-02 15:04:05"

type touch struct {
	keyValues []any
	hash      string
}

// tableWrites collects the rows queued for one table. A key seen twice keeps
// its first position and its last values.
type tableWrites struct {
	plan    *tablePlan
	order   []string
	rows    map[string]map[string]any
	touches []touch
}

func (t *tableWrites) queue(key string, values map[string]any) {
	if _, ok := t.rows[key]; !ok {
		t.order = append(t.order, key)
	}
	t.rows[key] = values
}

func (t *tableWrites) list() []map[string]any {
	out := make([]map[string]any, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, t.rows[key])
	}
	return out
}

type writeSet struct {
	tables    map[string]*tableWrites
	relations map[string]map[string]*DesiredSet
	selfRefs  []selfRef
}

func newWriteSet(p *entityPlan) *writeSet {
	ws := &writeSet{
		tables:    map[string]*tableWrites{},
		relations: map[string]map[string]*DesiredSet{},
	}
	for _, tp := range p.tables {
		ws.tables[tp.config.Name] = &tableWrites{plan: tp, rows: map[string]map[string]any{}}
	}
	for _, rp := range p.relations {
		ws.relations[rp.name] = map[string]*DesiredSet{}
	}
	return ws
}

// gate walks the results in row order, counts skipped and failed rows and
// decides per tracked row between a full write and a last seen touch.
func (e *Engine) gate(ctx context.Context, p *entityPlan, state *runState, results []RowResult, stats *Stats) *writeSet {
	ws := newWriteSet(p)
	now := e.now().UTC().Format(timestampLayout)

	for _, r := range results {
		for table, key := range r.seen {
			if rec := state.records[table][key]; rec != nil {
				rec.Seen = true
			}
		}

		switch r.Kind {
		case RowSkip:
			stats.Skipped++
			e.logger.WithContext(ctx).WithFields(map[string]any{
				"entity": p.name,
				"row":    r.Index,
				"reason": r.Reason,
			}).Debug("Row skipped")
			continue
		case RowError:
			stats.Errors++
			e.sink.LogError(ctx, "row normalization failed", map[string]any{
				"row":   r.Index,
				"error": r.Reason,
			}, p.name)
			continue
		}

		for _, tp := range p.tables {
			values, ok := r.Payload[tp.config.Name]
			if !ok {
				continue
			}
			key := joinKey(keyValuesOf(tp.config, values))
			if tp.config.Tracking != nil && !e.gateTracked(ctx, p, tp, state, ws, r.selfRefs, key, values, stats, now) {
				continue
			}
			ws.tables[tp.config.Name].queue(key, values)
		}

		for name, desired := range r.Relations {
			ws.relations[name][desired.ParentKey] = desired
		}
		for _, ref := range r.selfRefs {
			if ref.pending {
				ws.selfRefs = append(ws.selfRefs, ref)
			}
		}
	}
	return ws
}

// gateTracked applies the EAN guard and the hash bookkeeping to one row of a
// tracked table. It reports whether the row needs a full write.
func (e *Engine) gateTracked(ctx context.Context, p *entityPlan, tp *tablePlan, state *runState, ws *writeSet,
	refs []selfRef, key string, values map[string]any, stats *Stats, now string) bool {
	tr := tp.config.Tracking
	rec := state.records[tp.config.Name][key]

	if raw, ok := values[tr.EANColumn]; ok && !expression.IsBlank(raw) {
		ean := strings.TrimSpace(expression.ToString(raw))
		if _, ok := state.eans.Claim(ctx, ean, eanOwner(tp, key)); !ok {
			owner, _ := state.eans.Owner(ean)
			values[tr.EANColumn] = nil
			stats.EANConflicts++
			e.sink.LogWarning(ctx, "EAN already assigned to another article, dropping it", map[string]any{
				"ean":      ean,
				"owner":    owner,
				"conflict": key,
				"table":    tp.config.TableName,
			}, p.name)
		}
	}

	if rec != nil {
		keepExisting(values, tr.MetaTitleColumn, rec.MetaTitle)
		keepExisting(values, tr.MetaDescriptionColumn, rec.MetaDescription)
	}

	hash := fingerprint.Generate(fingerprint.ExtractHashableFields(hashInput(tp, refs, values), tr.Bookkeeping()...))

	// A record deactivated as orphan comes back online unless the row itself
	// maps it offline.
	reactivate := false
	if rec != nil && !rec.Online && e.hasColumn(ctx, tp, tr.OnlineColumn) {
		online, mapped := values[tr.OnlineColumn]
		reactivate = !mapped || expression.ToBool(online)
		if reactivate && !mapped {
			values[tr.OnlineColumn] = 1
		}
	}

	if rec != nil && !reactivate && !fingerprint.HasChanged(rec.LastImportedHash, hash) {
		stats.Unchanged++
		if rec.LastSeenHash != hash {
			ws.tables[tp.config.Name].touches = append(ws.tables[tp.config.Name].touches, touch{
				keyValues: keyValuesOf(tp.config, values),
				hash:      hash,
			})
			rec.LastSeenHash = hash
		}
		return false
	}

	values[tr.UpdateColumn] = 1
	values[tr.LastImportedHashColumn] = hash
	values[tr.LastSeenHashColumn] = hash
	values[tr.LastUpdateColumn] = now
	return true
}

// keepExisting fills a mapped but blank column with the value the target
// already holds, so SEO texts maintained in the shop survive an empty source.
func keepExisting(values map[string]any, column, existing string) {
	if column == "" || existing == "" {
		return
	}
	if v, mapped := values[column]; mapped && expression.IsBlank(v) {
		values[column] = existing
	}
}

// hashInput replaces self references by their natural key, so a variant
// hashes the same before and after its master id is known.
func hashInput(tp *tablePlan, refs []selfRef, values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	for _, ref := range refs {
		if ref.table == tp.config.Name {
			out[ref.column] = "@" + ref.value
		}
	}
	return out
}

func (e *Engine) hasColumn(ctx context.Context, tp *tablePlan, column string) bool {
	live, err := e.mapper.LiveColumns(ctx, e.db, tp.config.TableName)
	if err != nil {
		return false
	}
	return slices.Contains(live, column)
}
