// Package engine runs the per-entity sync: fetch source rows, normalize them
// in memory, gate them by content hash and merge them into the target store in
// one transaction per entity.
package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/swedrowski79-dot/afs-mappingxt/internal/repositories/snapshot"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/category"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/database"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/errors"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/expression"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/manifest"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/metrics"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/schema"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/source"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/status"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/tracing"
)

// Config wires the engine to its manifest, sources and target store.
type Config struct {
	Manifest *manifest.Manifest
	Target   *manifest.TargetSchema
	// Sources maps manifest source ids to connectors.
	Sources map[string]source.Connector
	DB      database.DB

	Registry *expression.Registry
	Lookups  expression.LookupStore
	Sink     status.Sink

	// Workers bounds parallel row normalization. Defaults to GOMAXPROCS.
	Workers int
	// MaxParams caps bound values per statement below the dialect's ceiling.
	MaxParams        int
	StatementTimeout time.Duration
	Clock            func() time.Time
	Orphans          OrphanPolicy
}

// Engine syncs entities into one target store. It refuses concurrent
// SyncEntity calls with ErrBusy.
type Engine struct {
	logger    ectologger.Logger
	manifest  *manifest.Manifest
	db        database.DB
	mapper    *schema.Mapper
	compiler  *manifest.Compiler
	evaluator *expression.Evaluator
	snapshots snapshot.SnapshotRepository
	sources   map[string]source.Connector
	sink      status.Sink
	orphans   OrphanPolicy

	workers          int
	statementTimeout time.Duration
	now              func() time.Time

	categoryPaths map[string]string
	pathsMu       sync.RWMutex

	running sync.Mutex
}

// New builds an engine and compiles every entity map, so configuration
// errors surface before any row is read.
func New(cfg Config, logger ectologger.Logger) (*Engine, error) {
	if cfg.Manifest == nil || cfg.Target == nil {
		return nil, errors.NewConfigError("engine", "manifest and target schema are required")
	}
	if cfg.DB == nil {
		return nil, errors.NewConfigError("engine", "target database is required")
	}

	dialect := cfg.DB.Dialect().WithMaxParams(cfg.MaxParams)
	mapper := schema.NewMapper(cfg.Target, dialect)

	registry := cfg.Registry
	if registry == nil {
		registry = expression.NewRegistry()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	opts := []expression.Option{expression.WithClock(clock)}
	if cfg.Lookups != nil {
		opts = append(opts, expression.WithLookupStore(cfg.Lookups))
	}

	sink := cfg.Sink
	if sink == nil {
		sink = status.NewLogSink(logger)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	e := &Engine{
		logger:           logger,
		manifest:         cfg.Manifest,
		db:               cfg.DB,
		mapper:           mapper,
		compiler:         manifest.NewCompiler(cfg.Manifest, registry),
		evaluator:        expression.NewEvaluator(registry, opts...),
		snapshots:        snapshot.NewRepository(mapper, logger),
		sources:          cfg.Sources,
		sink:             sink,
		orphans:          cfg.Orphans,
		workers:          workers,
		statementTimeout: cfg.StatementTimeout,
		now:              clock,
	}
	if e.orphans == nil {
		e.orphans = e.softDeactivate
	}

	for _, name := range cfg.Manifest.EntityNames() {
		if _, err := e.plan(name); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Entities returns every manifest entity in sync order.
func (e *Engine) Entities() []string {
	return OrderEntities(e.manifest.EntityNames(), e.kindOf)
}

func (e *Engine) kindOf(name string) string {
	cfg, err := e.manifest.Entity(name)
	if err != nil {
		return manifest.KindOther
	}
	return manifest.EntityKind(name, cfg)
}

// Mapper exposes the target schema mapper.
func (e *Engine) Mapper() *schema.Mapper {
	return e.mapper
}

type tablePlan struct {
	config      schema.TableConfig
	assignments []manifest.FieldAssignment
}

type relationPlan struct {
	name        string
	config      schema.TableConfig
	rel         manifest.Relationship
	parent      *tablePlan
	assignments []manifest.FieldAssignment
}

type entityPlan struct {
	name      string
	kind      string
	entity    manifest.EntityConfig
	compiled  *manifest.CompiledMap
	tables    []*tablePlan
	relations []*relationPlan
}

func (p *entityPlan) table(name string) *tablePlan {
	for _, t := range p.tables {
		if t.config.Name == name || t.config.TableName == name {
			return t
		}
	}
	return nil
}

// plan resolves the target tables of an entity. Relationship tables need
// their parent table mapped by the same entity.
func (e *Engine) plan(name string) (*entityPlan, error) {
	cfg, err := e.manifest.Entity(name)
	if err != nil {
		return nil, err
	}
	compiled, err := e.compiler.Compile(name)
	if err != nil {
		return nil, err
	}

	p := &entityPlan{
		name:     name,
		kind:     manifest.EntityKind(name, cfg),
		entity:   cfg,
		compiled: compiled,
	}

	var relations []*relationPlan
	for _, table := range compiled.Tables {
		tc, err := e.mapper.Table(table)
		if err != nil {
			return nil, errors.NewConfigErrorf(name, "%v", err)
		}
		if tc.Relation != nil {
			relations = append(relations, &relationPlan{
				name:        tc.Name,
				config:      tc,
				rel:         *tc.Relation,
				assignments: compiled.ForTable(table),
			})
			continue
		}
		if len(tc.BusinessKey) == 0 {
			return nil, errors.NewConfigErrorf(name, "target table '%s' has no business key", tc.TableName)
		}
		p.tables = append(p.tables, &tablePlan{config: tc, assignments: compiled.ForTable(table)})
	}

	for _, rp := range relations {
		rp.parent = p.table(rp.rel.Parent)
		if rp.parent == nil {
			return nil, errors.NewConfigErrorf(name, "relationship '%s' needs its parent table '%s' in the same entity", rp.name, rp.rel.Parent)
		}
		if _, ok := e.mapper.Target().Lookups[rp.rel.Lookup]; !ok {
			return nil, errors.NewConfigErrorf(name, "relationship '%s' uses unknown lookup '%s'", rp.name, rp.rel.Lookup)
		}
		p.relations = append(p.relations, rp)
	}

	for _, tp := range p.tables {
		for _, ref := range tp.config.References {
			if _, ok := e.mapper.Target().Lookups[ref.Lookup]; !ok {
				return nil, errors.NewConfigErrorf(name, "table '%s' references unknown lookup '%s'", tp.config.Name, ref.Lookup)
			}
		}
	}

	if len(p.tables) == 0 {
		return nil, errors.NewConfigErrorf(name, "entity maps no target table")
	}
	return p, nil
}

// SyncEntity runs one entity end to end. Row level problems are counted in
// Stats; a failed write rolls back every table of the entity.
func (e *Engine) SyncEntity(ctx context.Context, name string) (Stats, error) {
	if !e.running.TryLock() {
		metrics.BusyRejections.Inc()
		return Stats{Entity: name}, errors.NewBusyError("entity sync")
	}
	defer e.running.Unlock()

	ctx, span := tracing.StartSpan(ctx, "engine.Engine.SyncEntity")
	defer span.End()

	start := e.now()
	stats := newStats(name)

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"entity": name,
	})

	stats, err := e.syncEntity(ctx, name, stats, start)
	stats.Timing.TotalMs = e.now().Sub(start).Milliseconds()
	metrics.ObserveDuration(name, "total", start)

	if err != nil {
		tracing.EndWithError(span, err)
		e.sink.Fail(ctx, name, err)
		log.WithError(err).Error("Entity sync failed")
		return stats, err
	}

	e.sink.Complete(ctx, name, stats.Summary())
	log.WithFields(map[string]any{
		"processed": stats.Processed,
		"inserted":  stats.Inserted,
		"updated":   stats.Updated,
		"unchanged": stats.Unchanged,
		"errors":    stats.Errors,
		"orphans":   stats.Orphans,
		"total_ms":  stats.Timing.TotalMs,
	}).Info("Entity synced")
	return stats, nil
}

func (e *Engine) syncEntity(ctx context.Context, name string, stats Stats, start time.Time) (Stats, error) {
	p, err := e.plan(name)
	if err != nil {
		return stats, err
	}
	conn, ok := e.sources[p.compiled.SourceID]
	if !ok {
		return stats, errors.NewConfigErrorf(name, "no connector for source '%s'", p.compiled.SourceID)
	}

	rows, err := conn.Fetch(ctx, p.compiled.SourceTable)
	if err != nil {
		return stats, errors.WrapSyncError(err).AddEntity(name).AddStage("fetch")
	}
	stats.Processed = len(rows)
	e.sink.Begin(ctx, name, len(rows))

	if p.kind == manifest.KindArticle && p.entity.MasterField != "" {
		SortArticleRows(rows, p.entity.MasterField, p.entity.KeyField)
	}

	paths, err := e.pathsFor(ctx, p, rows)
	if err != nil {
		return stats, err
	}

	state, err := e.preload(ctx, p)
	if err != nil {
		return stats, errors.WrapSyncError(err).AddEntity(name).AddStage("preload")
	}

	results, err := e.normalize(ctx, p, state, paths, rows)
	if err != nil {
		return stats, err
	}
	e.sink.Advance(ctx, name, len(rows), len(rows), "normalized")

	ws := e.gate(ctx, p, state, results, &stats)
	stats.Timing.LoadNormalizeMs = e.now().Sub(start).Milliseconds()
	metrics.ObserveDuration(name, "normalize", start)

	writeStart := e.now()
	if err := e.write(ctx, p, state, ws, &stats); err != nil {
		return stats, err
	}
	stats.Timing.WriteMs = e.now().Sub(writeStart).Milliseconds()
	metrics.ObserveDuration(name, "write", writeStart)

	for kind, n := range map[string]int{
		"processed": stats.Processed,
		"skipped":   stats.Skipped,
		"error":     stats.Errors,
		"unchanged": stats.Unchanged,
	} {
		metrics.RowsProcessed.WithLabelValues(name, kind).Add(float64(n))
	}
	return stats, nil
}

// pathsFor returns the category id -> slug path map visible to p. Category
// tree entities publish their paths for later entities; when none ran yet the
// paths are built from every category tree entity's source.
func (e *Engine) pathsFor(ctx context.Context, p *entityPlan, rows []source.Row) (map[string]string, error) {
	if tree := p.entity.CategoryTree; tree != nil {
		paths := category.NewResolver(category.NodesFromRows(asMaps(rows), tree.ID, tree.Parent, tree.Name)).Paths()
		e.mergePaths(paths)
		return e.paths(), nil
	}

	if current := e.paths(); len(current) > 0 {
		return current, nil
	}

	for _, name := range e.manifest.EntityNames() {
		cfg, _ := e.manifest.Entity(name)
		if cfg.CategoryTree == nil {
			continue
		}
		conn, ok := e.sources[cfg.SourceID()]
		if !ok {
			continue
		}
		treeRows, err := conn.Fetch(ctx, cfg.SourceTable())
		if err != nil {
			return nil, errors.WrapSyncError(fmt.Errorf("failed to load category tree of %s: %w", name, err)).AddEntity(p.name).AddStage("fetch")
		}
		tree := cfg.CategoryTree
		e.mergePaths(category.NewResolver(category.NodesFromRows(asMaps(treeRows), tree.ID, tree.Parent, tree.Name)).Paths())
	}
	return e.paths(), nil
}

func (e *Engine) mergePaths(paths map[string]string) {
	e.pathsMu.Lock()
	defer e.pathsMu.Unlock()
	if e.categoryPaths == nil {
		e.categoryPaths = make(map[string]string, len(paths))
	}
	for id, path := range paths {
		e.categoryPaths[id] = path
	}
}

// paths returns a read-only copy shared by the normalize workers.
func (e *Engine) paths() map[string]string {
	e.pathsMu.RLock()
	defer e.pathsMu.RUnlock()
	out := make(map[string]string, len(e.categoryPaths))
	for id, path := range e.categoryPaths {
		out[id] = path
	}
	return out
}

func asMaps(rows []source.Row) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}
