package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/errors"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/expression"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/manifest"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/relation"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/schema"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/source"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/tracing"
)

// normalize evaluates every row in parallel. Results keep the row order.
func (e *Engine) normalize(ctx context.Context, p *entityPlan, state *runState, paths map[string]string, rows []source.Row) ([]RowResult, error) {
	ctx, span := tracing.StartSpan(ctx, "engine.Engine.normalize")
	defer span.End()

	results := make([]RowResult, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, row := range rows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.normalizeRow(p, state, paths, i, row)
			if results[i].Kind == RowFatal {
				return errors.WrapSyncError(results[i].Err).AddRow(i)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		tracing.EndWithError(span, err)
		return nil, errors.WrapSyncError(err).AddEntity(p.name).AddStage("normalize")
	}
	return results, nil
}

// normalizeRow turns one source row into per-table payloads. A failed check
// on the first table skips the row; on later tables it only drops that
// table's payload. Business keys of tracked tables are recorded as seen
// whatever the outcome, so a row the source still delivers is never an
// orphan.
func (e *Engine) normalizeRow(p *entityPlan, state *runState, paths map[string]string, index int, row source.Row) (result RowResult) {
	seen := map[string]string{}
	defer func() {
		if r := recover(); r != nil {
			result = rowError(index, fmt.Errorf("panic while normalizing: %v", r))
		}
		result.seen = seen
	}()

	evalCtx := expression.NewContext(p.compiled.SourceID, p.compiled.SourceTable, row).WithCategoryPaths(paths)
	result = RowResult{Index: index, Kind: RowOK, Payload: Payload{}}

	for i, tp := range p.tables {
		values, err := e.evaluate(tp.assignments, evalCtx)
		if tp.config.Tracking != nil && checkBusinessKey(tp.config, values) == "" {
			seen[tp.config.Name] = joinKey(keyValuesOf(tp.config, values))
		}
		if err != nil {
			if errors.IsConfigError(err) {
				return RowResult{Index: index, Kind: RowFatal, Reason: err.Error(), Err: err}
			}
			return rowError(index, fmt.Errorf("table '%s': %w", tp.config.Name, err))
		}
		if allBlank(values) {
			continue
		}

		reason, refs := e.resolveReferences(tp, state, values)
		if reason == "" {
			reason = applyMediaRule(tp.config.Media, values)
		}
		if reason == "" {
			reason = checkBusinessKey(tp.config, values)
		}
		if reason != "" {
			if i == 0 {
				return skip(index, reason)
			}
			continue
		}

		keyValues := keyValuesOf(tp.config, values)
		for j := range refs {
			refs[j].key = keyValues
		}
		result.Payload[tp.config.Name] = values
		result.selfRefs = append(result.selfRefs, refs...)
	}

	if len(result.Payload) == 0 {
		return skip(index, "empty payload")
	}

	for _, rp := range p.relations {
		parent, ok := result.Payload[rp.parent.config.Name]
		if !ok {
			continue
		}
		values, err := e.evaluate(rp.assignments, evalCtx)
		if err != nil {
			return rowError(index, fmt.Errorf("relationship '%s': %w", rp.name, err))
		}
		desired := desiredSet(rp.rel.Kind, values)
		desired.ParentKey = joinKey(keyValuesOf(rp.parent.config, parent))
		if result.Relations == nil {
			result.Relations = map[string]*DesiredSet{}
		}
		result.Relations[rp.name] = desired
	}

	return result
}

// evaluate runs every assignment. On failure it returns the first error
// together with the columns that did evaluate.
func (e *Engine) evaluate(assignments []manifest.FieldAssignment, ctx expression.Context) (map[string]any, error) {
	values := make(map[string]any, len(assignments))
	var firstErr error
	for _, a := range assignments {
		if a.Kind == manifest.AssignLiteral {
			values[a.Column] = a.Literal
			continue
		}
		v, err := e.evaluator.Evaluate(a.Expr, ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("column '%s': %w", a.Column, err)
			}
			continue
		}
		values[a.Column] = v
	}
	return values, firstErr
}

// resolveReferences replaces natural keys by ids from the preloaded lookups.
// References into the row's own table are returned for resolution after the
// merge when the lookup misses.
func (e *Engine) resolveReferences(tp *tablePlan, state *runState, values map[string]any) (string, []selfRef) {
	var refs []selfRef
	for _, ref := range tp.config.References {
		from := ref.From
		if from == "" {
			from = ref.Column
		}
		raw, present := values[from]
		if !present {
			continue
		}
		if from != ref.Column {
			delete(values, from)
		}
		values[ref.Column] = nil

		key := strings.TrimSpace(expression.ToString(raw))
		if key == "" {
			if ref.Required {
				return fmt.Sprintf("missing %s for '%s'", ref.Lookup, ref.Column), nil
			}
			continue
		}

		id, ok := state.lookups[ref.Lookup].Get(key)
		if ok {
			values[ref.Column] = id
		}
		if e.isSelfLookup(tp, ref.Lookup) {
			refs = append(refs, selfRef{
				table:   tp.config.Name,
				column:  ref.Column,
				lookup:  ref.Lookup,
				value:   key,
				pending: !ok,
			})
			continue
		}
		if !ok && ref.Required {
			return fmt.Sprintf("unresolved %s '%s'", ref.Lookup, key), nil
		}
	}
	return "", refs
}

func applyMediaRule(rule *manifest.MediaRule, values map[string]any) string {
	if rule == nil || !expression.IsBlank(values[rule.FileColumn]) {
		return ""
	}
	if rule.HashColumn != "" && !expression.IsBlank(values[rule.HashColumn]) {
		values[rule.FileColumn] = values[rule.HashColumn]
		return ""
	}
	return "media without file name or content hash"
}

func checkBusinessKey(t schema.TableConfig, values map[string]any) string {
	for _, k := range t.BusinessKey {
		if expression.IsBlank(values[k]) {
			return fmt.Sprintf("missing business key '%s' for table '%s'", k, t.Name)
		}
	}
	return ""
}

func allBlank(values map[string]any) bool {
	for _, v := range values {
		if !expression.IsBlank(v) {
			return false
		}
	}
	return true
}

func keyValuesOf(t schema.TableConfig, values map[string]any) []any {
	out := make([]any, len(t.BusinessKey))
	for i, k := range t.BusinessKey {
		out[i] = values[k]
	}
	return out
}

// joinKey renders key values the way the snapshot repository keys records.
func joinKey(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strings.TrimSpace(expression.ToString(v))
	}
	return strings.Join(parts, "\x1f")
}

// desiredSet reads a relationship payload: every column of a media or
// document relation names one item, attribute relations pair name_N with
// value_N.
func desiredSet(kind string, values map[string]any) *DesiredSet {
	cols := naturalColumns(values)
	d := &DesiredSet{}

	if kind == manifest.RelationAttribute {
		d.Attributes = map[string]string{}
		for _, c := range cols {
			suffix, ok := strings.CutPrefix(c, "name")
			if !ok {
				continue
			}
			name := strings.TrimSpace(expression.ToString(values[c]))
			if name == "" {
				continue
			}
			if _, dup := d.Attributes[name]; dup {
				continue
			}
			d.Attributes[name] = strings.TrimSpace(expression.ToString(values["value"+suffix]))
		}
		return d
	}

	items := make([]string, 0, len(cols))
	for _, c := range cols {
		items = append(items, expression.ToString(values[c]))
	}
	if kind == manifest.RelationDocument {
		d.Items = relation.DedupeTitles(items)
	} else {
		d.Items = relation.DedupeFiles(items)
	}
	return d
}

// naturalColumns orders columns so file_2 sorts before file_10.
func naturalColumns(values map[string]any) []string {
	cols := make([]string, 0, len(values))
	for c := range values {
		cols = append(cols, c)
	}
	split := func(s string) (string, int) {
		i := len(s)
		for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
			i--
		}
		n, err := strconv.Atoi(s[i:])
		if err != nil {
			return s, -1
		}
		return s[:i], n
	}
	sort.Slice(cols, func(i, j int) bool {
		pi, ni := split(cols[i])
		pj, nj := split(cols[j])
		if pi != pj {
			return pi < pj
		}
		if ni != nj {
			return ni < nj
		}
		return cols[i] < cols[j]
	})
	return cols
}
