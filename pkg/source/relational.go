package source

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/manifest"
)

// Relational reads source tables of a SQL Server database.
type Relational struct {
	id      string
	db      *sqlx.DB
	schema  *manifest.SourceSchema
	flavor  sqlbuilder.Flavor
	logger  ectologger.Logger
	timeout time.Duration
}

func NewRelational(id string, db *sqlx.DB, schema *manifest.SourceSchema, opts Options) *Relational {
	return &Relational{
		id:      id,
		db:      db,
		schema:  schema,
		flavor:  sqlbuilder.SQLServer,
		logger:  opts.Logger,
		timeout: opts.Timeout,
	}
}

func (r *Relational) Fetch(ctx context.Context, table string) ([]Row, error) {
	ctx, end := startFetchSpan(ctx, r.id, table)
	defer end()

	cfg, err := r.schema.Table(table)
	if err != nil {
		return nil, err
	}

	query, args, err := BuildSelect(r.flavor, cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"source": r.id,
			"table":  table,
		}).Error("Failed to query source table")
		return nil, fmt.Errorf("failed to query %s.%s: %w", r.id, table, err)
	}

	out, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s.%s: %w", r.id, table, err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"source": r.id,
		"table":  table,
		"rows":   len(out),
	}).Debug("Fetched source rows")
	return out, nil
}

func (r *Relational) Close() error {
	return r.db.Close()
}
