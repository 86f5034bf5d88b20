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

// Staged reads tables some other process already populated in a local
// SQLite database.
type Staged struct {
	id      string
	db      *sqlx.DB
	schema  *manifest.SourceSchema
	logger  ectologger.Logger
	timeout time.Duration
}

func NewStaged(id string, db *sqlx.DB, schema *manifest.SourceSchema, opts Options) *Staged {
	return &Staged{
		id:      id,
		db:      db,
		schema:  schema,
		logger:  opts.Logger,
		timeout: opts.Timeout,
	}
}

func (s *Staged) Fetch(ctx context.Context, table string) ([]Row, error) {
	ctx, end := startFetchSpan(ctx, s.id, table)
	defer end()

	name := table
	cfg, configured := s.schema.Tables[table]
	if configured && cfg.Source.Table != "" {
		name = cfg.Source.Table
	}

	sb := sqlbuilder.SQLite.NewSelectBuilder()
	sb.Select("*").From(QuoteDouble(name))
	if configured {
		conds, err := BuildFilter(&sb.Cond, cfg.Source.DefaultFilter, QuoteDouble)
		if err != nil {
			return nil, fmt.Errorf("table '%s': %w", table, err)
		}
		if len(conds) > 0 {
			sb.Where(conds...)
		}
		for _, o := range cfg.Source.Order {
			sb.OrderBy(quoteOrder(o, QuoteDouble))
		}
	}
	query, args := sb.Build()

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("table", name).Error("Failed to query staged table")
		return nil, fmt.Errorf("failed to query %s.%s: %w", s.id, name, err)
	}
	out, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s.%s: %w", s.id, name, err)
	}
	return out, nil
}

func (s *Staged) Close() error {
	return s.db.Close()
}
