package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/swedrowski79-dot/afs-mappingxt/internal/repositories/snapshot"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/database"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/manifest"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/metrics"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/relation"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/tracing"
)

// syncRelations diffs the desired children of every parent in this run
// against the preloaded snapshot. Removals run before additions so a changed
// attribute value is replaced in place. Parents with any change get their
// update flag raised.
func (e *Engine) syncRelations(ctx context.Context, q database.Querier, rp *relationPlan, state *runState, desired map[string]*DesiredSet, stats *Stats) error {
	if len(desired) == 0 {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "engine.Engine.syncRelations")
	defer span.End()
	tracing.SetAttributes(span, map[string]string{"relationship": rp.name})

	parentIDs, err := e.snapshots.LoadKeyIDs(ctx, q, rp.parent.config)
	if err != nil {
		return err
	}
	lookup, err := e.snapshots.LoadLookup(ctx, q, rp.rel.Lookup)
	if err != nil {
		return err
	}
	if rp.rel.Kind == manifest.RelationAttribute {
		if lookup, err = e.ensureAttributes(ctx, q, rp, lookup, desired, stats); err != nil {
			return err
		}
	}

	rel := rp.rel
	existing := state.relations[rp.name]
	var added, removed []map[string]any
	var changed []any
	unresolved := 0

	keys := make([]string, 0, len(desired))
	for key := range desired {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		d := desired[key]
		parentID, ok := parentIDs[key]
		if !ok {
			unresolved++
			continue
		}

		before := len(added) + len(removed)
		if rel.Kind == manifest.RelationAttribute {
			want := map[int64]string{}
			for name, value := range d.Attributes {
				id, ok := lookup.Get(name)
				if !ok {
					unresolved++
					continue
				}
				want[id] = value
			}
			add, rem := relation.DiffAttributes(existing[parentID], want)
			for _, a := range rem {
				removed = append(removed, map[string]any{rel.ParentColumn: parentID, rel.ChildColumn: a.ID, rel.ValueColumn: a.Value})
			}
			for _, a := range add {
				added = append(added, map[string]any{rel.ParentColumn: parentID, rel.ChildColumn: a.ID, rel.ValueColumn: a.Value})
			}
		} else {
			var want []int64
			for _, item := range d.Items {
				id, ok := lookup.Get(item)
				if !ok {
					unresolved++
					continue
				}
				want = append(want, id)
			}
			add, rem := relation.Diff(existing.Children(parentID), want)
			for _, id := range rem {
				removed = append(removed, map[string]any{rel.ParentColumn: parentID, rel.ChildColumn: id})
			}
			for _, id := range add {
				added = append(added, map[string]any{rel.ParentColumn: parentID, rel.ChildColumn: id})
			}
		}
		if len(added)+len(removed) > before {
			changed = append(changed, parentID)
		}
	}

	if len(removed) > 0 {
		stmt, err := e.mapper.DeleteSQL(rp.name)
		if err != nil {
			return err
		}
		for _, row := range removed {
			args := make([]any, len(stmt.Columns))
			for i, c := range stmt.Columns {
				args[i] = dbValue(row[c])
			}
			if _, err := e.exec(ctx, q, stmt.SQL, args...); err != nil {
				return fmt.Errorf("failed to delete relation row: %w", err)
			}
		}
	}
	if len(added) > 0 {
		if _, _, err := e.mergeRows(ctx, q, rp.config, added, stats); err != nil {
			return err
		}
	}
	if err := e.markUpdated(ctx, q, rp.parent.config, changed); err != nil {
		return fmt.Errorf("failed to flag changed parents: %w", err)
	}

	stats.RelationsAdded += len(added)
	stats.RelationsRemoved += len(removed)
	metrics.RelationWrites.WithLabelValues(rel.Table, "added").Add(float64(len(added)))
	metrics.RelationWrites.WithLabelValues(rel.Table, "removed").Add(float64(len(removed)))

	if unresolved > 0 {
		e.sink.LogWarning(ctx, "relationship items did not resolve", map[string]any{
			"relationship": rp.name,
			"unresolved":   unresolved,
		}, rp.parent.config.Name)
	}
	return nil
}

// ensureAttributes creates attribute rows for names the lookup does not know
// yet and returns the reloaded lookup.
func (e *Engine) ensureAttributes(ctx context.Context, q database.Querier, rp *relationPlan, lookup *snapshot.Lookup, desired map[string]*DesiredSet, stats *Stats) (*snapshot.Lookup, error) {
	cfg := e.mapper.Target().Lookups[rp.rel.Lookup]
	table, err := e.mapper.Table(cfg.Table)
	if err != nil {
		return lookup, nil
	}

	seen := map[string]bool{}
	var rows []map[string]any
	for _, d := range desired {
		for name := range d.Attributes {
			if _, ok := lookup.Get(name); ok || seen[name] {
				continue
			}
			seen[name] = true
			rows = append(rows, map[string]any{cfg.Key: name})
		}
	}
	if len(rows) == 0 {
		return lookup, nil
	}
	sort.Slice(rows, func(i, j int) bool {
		return fmt.Sprint(rows[i][cfg.Key]) < fmt.Sprint(rows[j][cfg.Key])
	})

	if _, _, err := e.mergeRows(ctx, q, table, rows, stats); err != nil {
		return nil, fmt.Errorf("failed to create attributes: %w", err)
	}
	return e.snapshots.LoadLookup(ctx, q, rp.rel.Lookup)
}
