package engine

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/errors"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/lock"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/metrics"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/relation"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/tracing"
)

// EntityResult is the outcome of one entity within a run.
type EntityResult struct {
	Entity string `json:"entity"`
	Stats  Stats  `json:"stats"`
	Err    error  `json:"-"`
}

// Runner syncs several entities in order under a run-level lock.
type Runner struct {
	engine  *Engine
	guard   lock.Guard
	lockKey string
	logger  ectologger.Logger
}

// NewRunner creates a runner. lockKey names the target store.
func NewRunner(engine *Engine, guard lock.Guard, lockKey string, logger ectologger.Logger) *Runner {
	if guard == nil {
		guard = lock.NewLocalGuard()
	}
	return &Runner{
		engine:  engine,
		guard:   guard,
		lockKey: lockKey,
		logger:  logger,
	}
}

// SyncAll syncs names, or every entity when none are given, in entity order.
// It stops at the first failed entity; the results so far are returned with
// the error.
func (r *Runner) SyncAll(ctx context.Context, names ...string) ([]EntityResult, error) {
	ctx, span := tracing.StartSpan(ctx, "engine.Runner.SyncAll")
	defer span.End()

	order := r.engine.Entities()
	if len(names) > 0 {
		for _, name := range names {
			if _, err := r.engine.manifest.Entity(name); err != nil {
				return nil, err
			}
		}
		order = OrderEntities(names, r.engine.kindOf)
	}

	release, err := r.guard.Acquire(ctx, r.lockKey)
	if err != nil {
		if errors.IsBusy(err) {
			metrics.BusyRejections.Inc()
		}
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			r.logger.WithContext(ctx).WithError(err).Warn("Failed to release sync lock")
		}
	}()

	ctx = relation.WithEANGuard(ctx, relation.NewEANGuard(nil, r.logger))

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"lock":     r.lockKey,
		"entities": order,
	})
	log.Info("Starting sync run")

	results := make([]EntityResult, 0, len(order))
	for _, name := range order {
		stats, err := r.engine.SyncEntity(ctx, name)
		results = append(results, EntityResult{Entity: name, Stats: stats, Err: err})
		if err != nil {
			tracing.EndWithError(span, err)
			return results, err
		}
	}

	log.Info("Sync run finished")
	return results, nil
}
