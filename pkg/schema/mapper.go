// Package schema resolves target table metadata and builds the upsert, merge
// and delete statements the sync engine executes.
package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/database"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/errors"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/manifest"
)

// TableConfig is the resolved metadata of one target table.
type TableConfig struct {
	// Name is the logical name used in manifest target paths.
	Name        string
	TableName   string
	BusinessKey []string
	Columns     []string
	IDColumn    string
	References  []manifest.Reference
	Tracking    *manifest.Tracking
	Media       *manifest.MediaRule
	// Relation is set when the table backs a many-to-many relationship.
	Relation *manifest.Relationship
}

// IsKey reports whether column is part of the business key.
func (t TableConfig) IsKey(column string) bool {
	for _, k := range t.BusinessKey {
		if k == column {
			return true
		}
	}
	return false
}

// Statement is a cached SQL text with its bind order.
type Statement struct {
	SQL     string
	Columns []string
}

type Mapper struct {
	target  *manifest.TargetSchema
	dialect database.Dialect

	statements map[string]Statement
	live       map[string][]string
	mu         sync.RWMutex
}

func NewMapper(target *manifest.TargetSchema, dialect database.Dialect) *Mapper {
	return &Mapper{
		target:     target,
		dialect:    dialect,
		statements: make(map[string]Statement),
		live:       make(map[string][]string),
	}
}

func (m *Mapper) Dialect() database.Dialect {
	return m.dialect
}

func (m *Mapper) Target() *manifest.TargetSchema {
	return m.target
}

// Table resolves a table by logical name or physical name. Relationship
// tables resolve with their unique constraint as business key.
func (m *Mapper) Table(name string) (TableConfig, error) {
	if t, ok := m.target.Tables[name]; ok {
		return tableConfig(name, t), nil
	}
	for key, t := range m.target.Tables {
		if t.Name == name {
			return tableConfig(key, t), nil
		}
	}
	if key, r, ok := m.target.RelationshipByTable(name); ok {
		columns := r.Fields
		if len(columns) == 0 {
			columns = []string{r.ParentColumn, r.ChildColumn}
			if r.ValueColumn != "" {
				columns = append(columns, r.ValueColumn)
			}
		}
		rel := r
		return TableConfig{
			Name:        key,
			TableName:   r.Table,
			BusinessKey: r.UniqueConstraint,
			Columns:     columns,
			Relation:    &rel,
		}, nil
	}
	return TableConfig{}, errors.NewConfigErrorf("target schema", "unknown target table '%s'", name)
}

func tableConfig(key string, t manifest.TargetTable) TableConfig {
	return TableConfig{
		Name:        key,
		TableName:   t.Name,
		BusinessKey: t.KeyColumns(),
		Columns:     t.Fields,
		IDColumn:    t.IDColumn,
		References:  t.References,
		Tracking:    t.Tracking,
		Media:       t.Media,
	}
}

func (m *Mapper) cached(key string, build func() (Statement, error)) (Statement, error) {
	m.mu.RLock()
	if stmt, ok := m.statements[key]; ok {
		m.mu.RUnlock()
		return stmt, nil
	}
	m.mu.RUnlock()

	stmt, err := build()
	if err != nil {
		return Statement{}, err
	}

	m.mu.Lock()
	m.statements[key] = stmt
	m.mu.Unlock()
	return stmt, nil
}

func cacheKey(kind, table string, cols []string) string {
	return kind + "\x00" + table + "\x00" + strings.Join(cols, "\x00")
}

func sortedUnique(cols []string) []string {
	seen := make(map[string]bool, len(cols))
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// splitColumns returns the non-key columns of cols, failing when a key column
// is missing.
func splitColumns(t TableConfig, cols []string) ([]string, error) {
	present := make(map[string]bool, len(cols))
	for _, c := range cols {
		present[c] = true
	}
	for _, k := range t.BusinessKey {
		if !present[k] {
			return nil, fmt.Errorf("table '%s': business key column '%s' missing from column set", t.TableName, k)
		}
	}
	var update []string
	for _, c := range cols {
		if !t.IsKey(c) {
			update = append(update, c)
		}
	}
	return update, nil
}

func (m *Mapper) placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		if m.dialect.IsPostgres() {
			ph[i] = fmt.Sprintf("$%d", i+1)
		} else {
			ph[i] = "?"
		}
	}
	return strings.Join(ph, ", ")
}

func (m *Mapper) conflictClause(t TableConfig, update []string) string {
	keys := strings.Join(database.QuoteIdents(t.BusinessKey), ", ")
	if len(update) == 0 {
		return fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", keys)
	}

	sets := make([]string, len(update))
	diffs := make([]string, len(update))
	distinct := "IS NOT"
	if m.dialect.IsPostgres() {
		distinct = "IS DISTINCT FROM"
	}
	target := database.QuoteIdent(t.TableName)
	for i, c := range update {
		q := database.QuoteIdent(c)
		sets[i] = fmt.Sprintf("%s = excluded.%s", q, q)
		diffs[i] = fmt.Sprintf("%s.%s %s excluded.%s", target, q, distinct, q)
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s WHERE %s",
		keys, strings.Join(sets, ", "), strings.Join(diffs, " OR "))
}

// UpsertSQL builds a single-row upsert over cols. Unchanged rows are not
// rewritten; tables without updatable columns fall back to DO NOTHING.
func (m *Mapper) UpsertSQL(table string, cols []string) (Statement, error) {
	t, err := m.Table(table)
	if err != nil {
		return Statement{}, err
	}
	cols = sortedUnique(cols)

	return m.cached(cacheKey("upsert", t.TableName, cols), func() (Statement, error) {
		update, err := splitColumns(t, cols)
		if err != nil {
			return Statement{}, err
		}
		sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) %s",
			database.QuoteIdent(t.TableName),
			strings.Join(database.QuoteIdents(cols), ", "),
			m.placeholders(len(cols)),
			m.conflictClause(t, update),
		)
		return Statement{SQL: sql, Columns: cols}, nil
	})
}

// MergeSQL builds the set-based move of every staged row into table.
func (m *Mapper) MergeSQL(table, staging string, cols []string) (Statement, error) {
	t, err := m.Table(table)
	if err != nil {
		return Statement{}, err
	}
	cols = sortedUnique(cols)

	return m.cached(cacheKey("merge:"+staging, t.TableName, cols), func() (Statement, error) {
		update, err := splitColumns(t, cols)
		if err != nil {
			return Statement{}, err
		}
		quoted := strings.Join(database.QuoteIdents(cols), ", ")
		// WHERE true keeps SQLite from reading ON CONFLICT as a join constraint.
		sql := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s WHERE true %s",
			database.QuoteIdent(t.TableName),
			quoted,
			quoted,
			database.QuoteIdent(staging),
			m.conflictClause(t, update),
		)
		return Statement{SQL: sql, Columns: cols}, nil
	})
}

// DeleteSQL builds a delete by business key.
func (m *Mapper) DeleteSQL(table string) (Statement, error) {
	t, err := m.Table(table)
	if err != nil {
		return Statement{}, err
	}

	return m.cached(cacheKey("delete", t.TableName, nil), func() (Statement, error) {
		if len(t.BusinessKey) == 0 {
			return Statement{}, errors.NewConfigErrorf("target schema", "table '%s' has no business key", t.TableName)
		}
		conds := make([]string, len(t.BusinessKey))
		for i, k := range t.BusinessKey {
			ph := "?"
			if m.dialect.IsPostgres() {
				ph = fmt.Sprintf("$%d", i+1)
			}
			conds[i] = fmt.Sprintf("%s = %s", database.QuoteIdent(k), ph)
		}
		sql := fmt.Sprintf("DELETE FROM %s WHERE %s", database.QuoteIdent(t.TableName), strings.Join(conds, " AND "))
		return Statement{SQL: sql, Columns: t.BusinessKey}, nil
	})
}

// CreateStagingSQL builds a transaction-scoped, empty copy of cols of table.
func (m *Mapper) CreateStagingSQL(table, staging string, cols []string) string {
	quoted := strings.Join(database.QuoteIdents(sortedUnique(cols)), ", ")
	if m.dialect.IsPostgres() {
		return fmt.Sprintf("CREATE TEMP TABLE %s ON COMMIT DROP AS SELECT %s FROM %s WITH NO DATA",
			database.QuoteIdent(staging), quoted, database.QuoteIdent(table))
	}
	return fmt.Sprintf("CREATE TEMP TABLE %s AS SELECT %s FROM %s WHERE 0",
		database.QuoteIdent(staging), quoted, database.QuoteIdent(table))
}

func (m *Mapper) DropStagingSQL(staging string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", database.QuoteIdent(staging))
}

// LiveColumns reads the physical column list of table, cached per mapper.
func (m *Mapper) LiveColumns(ctx context.Context, q database.Querier, table string) ([]string, error) {
	m.mu.RLock()
	if cols, ok := m.live[table]; ok {
		m.mu.RUnlock()
		return cols, nil
	}
	m.mu.RUnlock()

	var cols []string
	if m.dialect.IsPostgres() {
		sb := m.dialect.NewSelectBuilder()
		sb.Select("column_name").From("information_schema.columns")
		sb.Where(sb.Equal("table_name", table), "table_schema = current_schema()")
		sb.OrderBy("ordinal_position")
		query, args := sb.Build()
		if err := q.SelectContext(ctx, &cols, query, args...); err != nil {
			return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
		}
	} else {
		rows, err := q.QueryxContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", database.QuoteIdent(table)))
		if err != nil {
			return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
		}
		defer rows.Close()
		for rows.Next() {
			row := map[string]any{}
			if err := rows.MapScan(row); err != nil {
				return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
			}
			cols = append(cols, asString(row["name"]))
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("target table '%s' does not exist", table)
	}

	m.mu.Lock()
	m.live[table] = cols
	m.mu.Unlock()
	return cols, nil
}

// RowsPerBatch returns how many rows of width columns fit under the dialect's
// bound-parameter ceiling.
func (m *Mapper) RowsPerBatch(columns int) int {
	if columns <= 0 {
		return m.dialect.MaxParams
	}
	n := m.dialect.MaxParams / columns
	if n < 1 {
		return 1
	}
	return n
}

func asString(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}
