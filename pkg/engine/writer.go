package engine

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectolinq"

	"github.com/swedrowski79-dot/afs-mappingxt/internal/repositories/snapshot"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/database"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/errors"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/expression"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/metrics"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/schema"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/tracing"
)

// OrphanPolicy handles pre-run records of a tracked table the source no
// longer delivered. It returns the number of records it changed.
type OrphanPolicy func(ctx context.Context, q database.Querier, table schema.TableConfig, orphans []*snapshot.HashRecord) (int, error)

// KeepOrphans leaves orphaned records untouched.
func KeepOrphans(context.Context, database.Querier, schema.TableConfig, []*snapshot.HashRecord) (int, error) {
	return 0, nil
}

// write applies the write set in one transaction. Any failure rolls back
// every table of the entity.
func (e *Engine) write(ctx context.Context, p *entityPlan, state *runState, ws *writeSet, stats *Stats) (err error) {
	ctx, span := tracing.StartSpan(ctx, "engine.Engine.write")
	defer span.End()

	ctx, tx, err := e.db.GetTx(ctx, nil)
	if err != nil {
		return errors.WrapSyncError(err).AddEntity(p.name).AddStage("begin")
	}
	defer func() {
		if err == nil {
			return
		}
		tracing.EndWithError(span, err)
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			e.logger.WithContext(ctx).WithError(rbErr).Error("Failed to roll back entity transaction")
		}
	}()

	for _, tp := range p.tables {
		tw := ws.tables[tp.config.Name]
		if rows := tw.list(); len(rows) > 0 {
			inserted, updated, err := e.mergeRows(ctx, tx, tp.config, rows, stats)
			if err != nil {
				return errors.WrapSyncError(err).AddEntity(p.name).AddTable(tp.config.TableName).AddStage("merge")
			}
			stats.Inserted += inserted
			stats.Updated += updated
			if tp.config.Tracking == nil {
				stats.Unchanged += max(len(rows)-inserted-updated, 0)
			}
		}
		if err := e.touch(ctx, tx, tp, tw.touches, stats); err != nil {
			return errors.WrapSyncError(err).AddEntity(p.name).AddTable(tp.config.TableName).AddStage("touch")
		}
		e.sink.Advance(ctx, p.name, len(tw.order), stats.Processed, fmt.Sprintf("merged %s", tp.config.TableName))
	}

	if err := e.resolveSelfRefs(ctx, tx, p, ws.selfRefs); err != nil {
		return errors.WrapSyncError(err).AddEntity(p.name).AddStage("self references")
	}

	for _, rp := range p.relations {
		if err := e.syncRelations(ctx, tx, rp, state, ws.relations[rp.name], stats); err != nil {
			return errors.WrapSyncError(err).AddEntity(p.name).AddTable(rp.config.TableName).AddStage("relations")
		}
	}

	if err := e.handleOrphans(ctx, tx, p, state, stats); err != nil {
		return errors.WrapSyncError(err).AddEntity(p.name).AddStage("orphans")
	}

	if err := ctx.Err(); err != nil {
		return errors.WrapSyncError(fmt.Errorf("sync cancelled before commit: %w", err)).AddEntity(p.name).AddStage("commit")
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.WrapSyncError(err).AddEntity(p.name).AddStage("commit")
	}
	return nil
}

// mergeRows stages rows in bound-parameter sized batches and moves them into
// the target with one set-based merge. Inserted is the row count delta;
// updated is the remaining affected rows.
func (e *Engine) mergeRows(ctx context.Context, q database.Querier, table schema.TableConfig, rows []map[string]any, stats *Stats) (int, int, error) {
	ctx, span := tracing.StartSpan(ctx, "engine.Engine.mergeRows")
	defer span.End()
	tracing.SetAttributes(span, map[string]string{"table": table.TableName})

	live, err := e.mapper.LiveColumns(ctx, q, table.TableName)
	if err != nil {
		return 0, 0, err
	}
	cols, unknown := payloadColumns(rows, live)
	if len(unknown) > 0 {
		e.logger.WithContext(ctx).WithFields(map[string]any{
			"table":   table.TableName,
			"columns": strings.Join(unknown, ","),
		}).Warn("Ignoring payload columns missing from the target table")
	}
	for _, k := range table.BusinessKey {
		if !ectolinq.Contains(cols, k) {
			return 0, 0, fmt.Errorf("business key column '%s' is not a column of %s", k, table.TableName)
		}
	}

	dialect := e.mapper.Dialect()
	staging := stagingName(table.TableName)
	if _, err := e.exec(ctx, q, e.mapper.CreateStagingSQL(table.TableName, staging, cols)); err != nil {
		return 0, 0, fmt.Errorf("failed to create staging table: %w", err)
	}

	before, err := e.count(ctx, q, table.TableName)
	if err != nil {
		return 0, 0, err
	}

	ts := stats.table(table.Name)
	perBatch := e.mapper.RowsPerBatch(len(cols))
	for start := 0; start < len(rows); start += perBatch {
		chunk := rows[start:min(start+perBatch, len(rows))]
		ib := dialect.NewInsertBuilder()
		ib.InsertInto(staging).Cols(cols...)
		for _, row := range chunk {
			ib.Values(ectolinq.Map(cols, func(c string) any { return dbValue(row[c]) })...)
		}
		query, args := ib.Build()
		if _, err := e.exec(ctx, q, query, args...); err != nil {
			return 0, 0, fmt.Errorf("failed to stage rows: %w", err)
		}
		ts.Batches++
		ts.MaxBatchParams = max(ts.MaxBatchParams, len(args))
		metrics.StagedBatchRows.WithLabelValues(table.TableName).Observe(float64(len(chunk)))
	}

	stmt, err := e.mapper.MergeSQL(table.Name, staging, cols)
	if err != nil {
		return 0, 0, err
	}
	res, err := e.exec(ctx, q, stmt.SQL)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to merge staged rows: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, 0, err
	}

	after, err := e.count(ctx, q, table.TableName)
	if err != nil {
		return 0, 0, err
	}
	if _, err := e.exec(ctx, q, e.mapper.DropStagingSQL(staging)); err != nil {
		return 0, 0, fmt.Errorf("failed to drop staging table: %w", err)
	}

	inserted := max(after-before, 0)
	updated := max(int(affected)-inserted, 0)

	ts.Rows += len(rows)
	ts.Inserted += inserted
	ts.Updated += updated
	metrics.MergedRows.WithLabelValues(table.TableName, "inserted").Add(float64(inserted))
	metrics.MergedRows.WithLabelValues(table.TableName, "updated").Add(float64(updated))

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"table":    table.TableName,
		"rows":     len(rows),
		"inserted": inserted,
		"updated":  updated,
		"batches":  ts.Batches,
	}).Debug("Merged staged rows")

	return inserted, updated, nil
}

// touch records the current hash as last seen for unchanged rows.
func (e *Engine) touch(ctx context.Context, q database.Querier, tp *tablePlan, touches []touch, stats *Stats) error {
	if len(touches) == 0 {
		return nil
	}
	tr := tp.config.Tracking
	live, err := e.mapper.LiveColumns(ctx, q, tp.config.TableName)
	if err != nil {
		return err
	}
	if !slices.Contains(live, tr.LastSeenHashColumn) {
		return nil
	}

	for _, t := range touches {
		ub := e.mapper.Dialect().NewUpdateBuilder()
		ub.Update(database.QuoteIdent(tp.config.TableName)).
			Set(ub.Assign(database.QuoteIdent(tr.LastSeenHashColumn), t.hash)).
			Where(keyConditions(ub, tp.config.BusinessKey, t.keyValues)...)
		query, args := ub.Build()
		if _, err := e.exec(ctx, q, query, args...); err != nil {
			return fmt.Errorf("failed to touch last seen hash: %w", err)
		}
	}
	stats.Touched += len(touches)
	return nil
}

// resolveSelfRefs sets references into the merged table itself, such as a
// variant's master id, once the referenced rows exist.
func (e *Engine) resolveSelfRefs(ctx context.Context, q database.Querier, p *entityPlan, refs []selfRef) error {
	if len(refs) == 0 {
		return nil
	}

	lookups := map[string]*snapshot.Lookup{}
	for _, ref := range refs {
		lookup, ok := lookups[ref.lookup]
		if !ok {
			var err error
			if lookup, err = e.snapshots.LoadLookup(ctx, q, ref.lookup); err != nil {
				return err
			}
			lookups[ref.lookup] = lookup
		}

		tp := p.table(ref.table)
		id, ok := lookup.Get(ref.value)
		if !ok {
			e.sink.LogWarning(ctx, "reference did not resolve", map[string]any{
				"table":  tp.config.TableName,
				"column": ref.column,
				"value":  ref.value,
			}, p.name)
			continue
		}

		ub := e.mapper.Dialect().NewUpdateBuilder()
		ub.Update(database.QuoteIdent(tp.config.TableName)).
			Set(ub.Assign(database.QuoteIdent(ref.column), id)).
			Where(keyConditions(ub, tp.config.BusinessKey, ref.key)...)
		query, args := ub.Build()
		if _, err := e.exec(ctx, q, query, args...); err != nil {
			return fmt.Errorf("failed to set %s: %w", ref.column, err)
		}
	}
	return nil
}

// handleOrphans passes unseen pre-run records to the orphan policy. An empty
// source delivery leaves the target untouched.
func (e *Engine) handleOrphans(ctx context.Context, q database.Querier, p *entityPlan, state *runState, stats *Stats) error {
	for _, tp := range p.tables {
		records := state.records[tp.config.Name]
		if tp.config.Tracking == nil || len(records) == 0 {
			continue
		}

		var orphans []*snapshot.HashRecord
		for _, rec := range records {
			if !rec.Seen {
				orphans = append(orphans, rec)
			}
		}
		if len(orphans) == 0 {
			continue
		}
		if stats.Processed == 0 {
			e.sink.LogWarning(ctx, "source delivered no rows, skipping orphan handling", map[string]any{
				"table":   tp.config.TableName,
				"orphans": len(orphans),
			}, p.name)
			continue
		}

		sort.Slice(orphans, func(i, j int) bool { return orphans[i].ID < orphans[j].ID })
		n, err := e.orphans(ctx, q, tp.config, orphans)
		if err != nil {
			return err
		}
		stats.Orphans += n
		metrics.Orphans.WithLabelValues(p.name).Add(float64(n))
	}
	return nil
}

// softDeactivate sets online=0 and update=1 on orphans that are still online.
// Rows are never deleted.
func (e *Engine) softDeactivate(ctx context.Context, q database.Querier, table schema.TableConfig, orphans []*snapshot.HashRecord) (int, error) {
	tr := table.Tracking
	online := ectolinq.Filter(orphans, func(rec *snapshot.HashRecord) bool { return rec.Online })
	if len(online) == 0 {
		return 0, nil
	}
	ids := ectolinq.Map(online, func(rec *snapshot.HashRecord) any { return rec.ID })

	err := e.inChunks(ids, 2, func(chunk []any) error {
		ub := e.mapper.Dialect().NewUpdateBuilder()
		ub.Update(database.QuoteIdent(table.TableName)).
			Set(
				ub.Assign(database.QuoteIdent(tr.OnlineColumn), 0),
				ub.Assign(database.QuoteIdent(tr.UpdateColumn), 1),
			).
			Where(ub.In(database.QuoteIdent(table.IDColumn), chunk...))
		query, args := ub.Build()
		_, err := e.exec(ctx, q, query, args...)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate orphans of %s: %w", table.TableName, err)
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"table":   table.TableName,
		"orphans": len(online),
	}).Info("Deactivated orphaned records")
	return len(online), nil
}

// markUpdated raises the update flag of the given ids.
func (e *Engine) markUpdated(ctx context.Context, q database.Querier, table schema.TableConfig, ids []any) error {
	if table.Tracking == nil || len(ids) == 0 {
		return nil
	}
	return e.inChunks(ids, 1, func(chunk []any) error {
		ub := e.mapper.Dialect().NewUpdateBuilder()
		ub.Update(database.QuoteIdent(table.TableName)).
			Set(ub.Assign(database.QuoteIdent(table.Tracking.UpdateColumn), 1)).
			Where(ub.In(database.QuoteIdent(table.IDColumn), chunk...))
		query, args := ub.Build()
		_, err := e.exec(ctx, q, query, args...)
		return err
	})
}

// inChunks calls fn with slices of ids that fit the parameter ceiling next to
// reserved other parameters.
func (e *Engine) inChunks(ids []any, reserved int, fn func([]any) error) error {
	size := max(e.mapper.Dialect().MaxParams-reserved, 1)
	for start := 0; start < len(ids); start += size {
		if err := fn(ids[start:min(start+size, len(ids))]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) exec(ctx context.Context, q database.Querier, query string, args ...any) (sql.Result, error) {
	if e.statementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.statementTimeout)
		defer cancel()
	}
	return q.ExecContext(ctx, query, args...)
}

func (e *Engine) count(ctx context.Context, q database.Querier, table string) (int, error) {
	sb := e.mapper.Dialect().NewSelectBuilder()
	sb.Select("COUNT(*)").From(database.QuoteIdent(table))
	query, args := sb.Build()

	var n int
	if err := q.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", table, err)
	}
	return n, nil
}

type conditionBuilder interface {
	Equal(field string, value any) string
	IsNull(field string) string
}

func keyConditions(b conditionBuilder, keys []string, values []any) []string {
	conds := make([]string, len(keys))
	for i, k := range keys {
		v := dbValue(values[i])
		if v == nil {
			conds[i] = b.IsNull(database.QuoteIdent(k))
			continue
		}
		conds[i] = b.Equal(database.QuoteIdent(k), v)
	}
	return conds
}

// payloadColumns returns the sorted union of row columns present in live,
// and the sorted rest.
func payloadColumns(rows []map[string]any, live []string) ([]string, []string) {
	seen := map[string]bool{}
	var cols, unknown []string
	for _, row := range rows {
		for c := range row {
			if seen[c] {
				continue
			}
			seen[c] = true
			if slices.Contains(live, c) {
				cols = append(cols, c)
			} else {
				unknown = append(unknown, c)
			}
		}
	}
	sort.Strings(cols)
	sort.Strings(unknown)
	return cols, unknown
}

func stagingName(table string) string {
	return "stg_" + strings.NewReplacer(".", "_", `"`, "").Replace(table)
}

// dbValue converts evaluated values to driver values. Anything the drivers
// do not bind natively is stored as its string form.
func dbValue(v any) any {
	switch t := v.(type) {
	case nil, string, int64, float64, bool, []byte, time.Time:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return int64(t)
	case float32:
		return float64(t)
	}
	return expression.ToString(v)
}
