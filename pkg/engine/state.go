package engine

import (
	"context"

	"github.com/swedrowski79-dot/afs-mappingxt/internal/repositories/snapshot"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/relation"
)

// runState is the target state loaded once before normalization. Workers
// only read it; the gate pass owns Seen flags and the EAN guard. The guard is
// shared by all entities of a Runner run.
type runState struct {
	lookups   map[string]*snapshot.Lookup
	records   map[string]map[string]*snapshot.HashRecord
	relations map[string]snapshot.RelationSnapshot
	eans      *relation.EANGuard
}

// preload bulk-loads lookups, hash records and relation snapshots of every
// table p writes, so normalization runs without per-row queries.
func (e *Engine) preload(ctx context.Context, p *entityPlan) (*runState, error) {
	state := &runState{
		lookups:   map[string]*snapshot.Lookup{},
		records:   map[string]map[string]*snapshot.HashRecord{},
		relations: map[string]snapshot.RelationSnapshot{},
	}

	load := func(name string) error {
		if _, ok := state.lookups[name]; ok {
			return nil
		}
		lookup, err := e.snapshots.LoadLookup(ctx, e.db, name)
		if err != nil {
			return err
		}
		state.lookups[name] = lookup
		return nil
	}

	seed := map[string]string{}
	for _, tp := range p.tables {
		for _, ref := range tp.config.References {
			if err := load(ref.Lookup); err != nil {
				return nil, err
			}
		}
		if tp.config.Tracking == nil {
			continue
		}
		records, err := e.snapshots.LoadHashRecords(ctx, e.db, tp.config)
		if err != nil {
			return nil, err
		}
		state.records[tp.config.Name] = records
		for key, rec := range records {
			if rec.EAN != "" {
				seed[rec.EAN] = eanOwner(tp, key)
			}
		}
	}

	for _, rp := range p.relations {
		if err := load(rp.rel.Lookup); err != nil {
			return nil, err
		}
		snap, err := e.snapshots.LoadRelations(ctx, e.db, rp.rel)
		if err != nil {
			return nil, err
		}
		state.relations[rp.name] = snap
	}

	if guard, ok := relation.EANGuardFrom(ctx); ok {
		guard.Seed(seed)
		state.eans = guard
	} else {
		state.eans = relation.NewEANGuard(seed, e.logger)
	}
	return state, nil
}

// eanOwner qualifies a business key with its table, so a run-wide guard tells
// tables apart.
func eanOwner(tp *tablePlan, key string) string {
	return tp.config.Name + ":" + key
}

// isSelfLookup reports whether lookup resolves rows of tp's own table.
func (e *Engine) isSelfLookup(tp *tablePlan, lookup string) bool {
	cfg, ok := e.mapper.Target().Lookups[lookup]
	if !ok {
		return false
	}
	return cfg.Table == tp.config.Name || cfg.Table == tp.config.TableName
}
