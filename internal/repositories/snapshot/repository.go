// Package snapshot bulk-loads the target state a sync run compares against:
// natural key lookups, hash bookkeeping records and relation snapshots.
package snapshot

import (
	"context"
	"fmt"
	"slices"

	"github.com/Gobusters/ectologger"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/database"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/errors"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/manifest"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/schema"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/tracing"
)

// SnapshotRepository defines the pre-load queries of a sync run.
type SnapshotRepository interface {
	LoadLookup(ctx context.Context, q database.Querier, name string) (*Lookup, error)
	LoadKeyIDs(ctx context.Context, q database.Querier, table schema.TableConfig) (map[string]int64, error)
	LoadHashRecords(ctx context.Context, q database.Querier, table schema.TableConfig) (map[string]*HashRecord, error)
	LoadRelations(ctx context.Context, q database.Querier, rel manifest.Relationship) (RelationSnapshot, error)
}

// Repository implements SnapshotRepository
type Repository struct {
	mapper *schema.Mapper
	logger ectologger.Logger
}

func NewRepository(mapper *schema.Mapper, logger ectologger.Logger) *Repository {
	return &Repository{
		mapper: mapper,
		logger: logger,
	}
}

// LoadLookup loads the named lookup of the target schema.
func (r *Repository) LoadLookup(ctx context.Context, q database.Querier, name string) (*Lookup, error) {
	ctx, span := tracing.StartSpan(ctx, "SnapshotRepository.LoadLookup")
	defer span.End()

	cfg, ok := r.mapper.Target().Lookups[name]
	if !ok {
		return nil, errors.NewConfigErrorf("target schema", "unknown lookup '%s'", name)
	}
	table := cfg.Table
	if t, err := r.mapper.Table(cfg.Table); err == nil {
		table = t.TableName
	}

	sb := r.mapper.Dialect().NewSelectBuilder()
	sb.Select(database.QuoteIdent(cfg.Key), database.QuoteIdent(cfg.Value)).From(database.QuoteIdent(table))
	query, args := sb.Build()

	rows, err := q.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load lookup %s: %w", name, err)
	}
	defer rows.Close()

	lookup := NewLookup(cfg.Fold)
	for rows.Next() {
		var key, value any
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to load lookup %s: %w", name, err)
		}
		if id, ok := asInt64(value); ok {
			lookup.Set(asString(key), id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"lookup": name,
		"table":  table,
		"size":   lookup.Len(),
	}).Debug("Loaded lookup")

	return lookup, nil
}

// LoadKeyIDs maps the joined business key of every row of table to its id.
func (r *Repository) LoadKeyIDs(ctx context.Context, q database.Querier, table schema.TableConfig) (map[string]int64, error) {
	ctx, span := tracing.StartSpan(ctx, "SnapshotRepository.LoadKeyIDs")
	defer span.End()

	ids := map[string]int64{}
	err := r.scan(ctx, q, table.TableName, append([]string{table.IDColumn}, table.BusinessKey...), func(row map[string]any) {
		if id, ok := asInt64(row[table.IDColumn]); ok {
			ids[keyOf(row, table.BusinessKey)] = id
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load ids of %s: %w", table.TableName, err)
	}
	return ids, nil
}

// LoadHashRecords loads the bookkeeping record of every row of a tracked
// table, keyed by joined business key. Tracking columns missing from the live
// table are left at their zero value.
func (r *Repository) LoadHashRecords(ctx context.Context, q database.Querier, table schema.TableConfig) (map[string]*HashRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "SnapshotRepository.LoadHashRecords")
	defer span.End()

	if table.Tracking == nil {
		return map[string]*HashRecord{}, nil
	}
	live, err := r.mapper.LiveColumns(ctx, q, table.TableName)
	if err != nil {
		return nil, err
	}

	tr := table.Tracking
	wanted := []string{table.IDColumn, tr.LastUpdateColumn, tr.OnlineColumn, tr.EANColumn,
		tr.MetaTitleColumn, tr.MetaDescriptionColumn, tr.LastImportedHashColumn, tr.LastSeenHashColumn}
	cols := append([]string{}, table.BusinessKey...)
	for _, c := range wanted {
		if c != "" && slices.Contains(live, c) && !slices.Contains(cols, c) {
			cols = append(cols, c)
		}
	}

	records := map[string]*HashRecord{}
	err = r.scan(ctx, q, table.TableName, cols, func(row map[string]any) {
		rec := &HashRecord{
			Key:              keyOf(row, table.BusinessKey),
			LastUpdate:       asString(row[tr.LastUpdateColumn]),
			Online:           asBool(row[tr.OnlineColumn]),
			EAN:              asString(row[tr.EANColumn]),
			MetaTitle:        asString(row[tr.MetaTitleColumn]),
			MetaDescription:  asString(row[tr.MetaDescriptionColumn]),
			LastImportedHash: asString(row[tr.LastImportedHashColumn]),
			LastSeenHash:     asString(row[tr.LastSeenHashColumn]),
		}
		rec.ID, _ = asInt64(row[table.IDColumn])
		records[rec.Key] = rec
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load hash records of %s: %w", table.TableName, err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"table":   table.TableName,
		"records": len(records),
	}).Debug("Loaded hash records")

	return records, nil
}

// LoadRelations loads the existing parent -> child pairs of rel.
func (r *Repository) LoadRelations(ctx context.Context, q database.Querier, rel manifest.Relationship) (RelationSnapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "SnapshotRepository.LoadRelations")
	defer span.End()

	cols := []string{rel.ParentColumn, rel.ChildColumn}
	if rel.ValueColumn != "" {
		cols = append(cols, rel.ValueColumn)
	}

	snap := RelationSnapshot{}
	err := r.scan(ctx, q, rel.Table, cols, func(row map[string]any) {
		parent, ok := asInt64(row[rel.ParentColumn])
		if !ok {
			return
		}
		child, ok := asInt64(row[rel.ChildColumn])
		if !ok {
			return
		}
		if snap[parent] == nil {
			snap[parent] = map[int64]string{}
		}
		value := ""
		if rel.ValueColumn != "" {
			value = asString(row[rel.ValueColumn])
		}
		snap[parent][child] = value
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load relation %s: %w", rel.Table, err)
	}
	return snap, nil
}

func (r *Repository) scan(ctx context.Context, q database.Querier, table string, cols []string, fn func(map[string]any)) error {
	sb := r.mapper.Dialect().NewSelectBuilder()
	sb.Select(database.QuoteIdents(cols)...).From(database.QuoteIdent(table))
	query, args := sb.Build()

	rows, err := q.QueryxContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return err
		}
		fn(row)
	}
	return rows.Err()
}

func keyOf(row map[string]any, key []string) string {
	values := make([]string, len(key))
	for i, k := range key {
		values[i] = asString(row[k])
	}
	return JoinKey(values)
}
