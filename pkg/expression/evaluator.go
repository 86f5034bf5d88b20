package expression

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmespath/go-jmespath"
)

// CategoryPathsKey is the context key holding the id -> slug path map.
const CategoryPathsKey = "__category_paths"

// Context is the per-row evaluation context.
type Context map[string]any

// NewContext builds the context for one source row. The row is reachable as
// sourceID.table, SOURCEID.table, table and TABLE.
func NewContext(sourceID, table string, row map[string]any) Context {
	if row == nil {
		row = map[string]any{}
	}
	nested := map[string]any{table: row}

	ctx := Context{}
	if sourceID != "" {
		ctx[sourceID] = nested
		ctx[strings.ToUpper(sourceID)] = nested
	}
	ctx[table] = row
	ctx[strings.ToUpper(table)] = row
	return ctx
}

// WithCategoryPaths attaches the category id -> slug path map.
func (c Context) WithCategoryPaths(paths map[string]string) Context {
	if paths != nil {
		c[CategoryPathsKey] = paths
	}
	return c
}

// Evaluator evaluates compiled expressions against a Context. It is safe for
// concurrent use.
type Evaluator struct {
	registry *Registry
	lookups  LookupStore
	now      func() time.Time

	cache   map[string]*Compiled
	queries map[string]*jmespath.JMESPath
	mu      sync.RWMutex
}

type Option func(*Evaluator)

// WithLookupStore sets the store consulted by the SEO and meta transforms.
func WithLookupStore(store LookupStore) Option {
	return func(e *Evaluator) {
		e.lookups = store
	}
}

// WithClock replaces time.Now for the `now` function.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		e.now = now
	}
}

// NewEvaluator creates an evaluator dispatching to registry. A nil registry
// uses the built-in functions.
func NewEvaluator(registry *Registry, opts ...Option) *Evaluator {
	if registry == nil {
		registry = NewRegistry()
	}
	e := &Evaluator{
		registry: registry,
		lookups:  NoLookups{},
		now:      time.Now,
		cache:    make(map[string]*Compiled),
		queries:  make(map[string]*jmespath.JMESPath),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) Registry() *Registry {
	return e.registry
}

// Compile compiles expr once and caches the result.
func (e *Evaluator) Compile(expr string) (*Compiled, error) {
	e.mu.RLock()
	if compiled, ok := e.cache[expr]; ok {
		e.mu.RUnlock()
		return compiled, nil
	}
	e.mu.RUnlock()

	compiled, err := Compile(expr)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expr] = compiled
	e.mu.Unlock()

	return compiled, nil
}

// EvaluateExpr compiles (cached) and evaluates expr.
func (e *Evaluator) EvaluateExpr(expr string, ctx Context) (any, error) {
	compiled, err := e.Compile(expr)
	if err != nil {
		return nil, err
	}
	return e.Evaluate(compiled, ctx)
}

// EvaluateString evaluates expr and renders the result as a string.
func (e *Evaluator) EvaluateString(expr string, ctx Context) (string, error) {
	result, err := e.EvaluateExpr(expr, ctx)
	if err != nil {
		return "", err
	}
	return ToString(result), nil
}

// Evaluate resolves the base reference and applies the transforms left to right.
func (e *Evaluator) Evaluate(compiled *Compiled, ctx Context) (any, error) {
	if compiled == nil {
		return nil, nil
	}

	value, err := e.resolve(compiled.Base, ctx)
	if err != nil {
		return nil, err
	}

	for _, transform := range compiled.Transforms {
		fn, ok := e.registry.Get(transform.Name)
		if !ok {
			return nil, fmt.Errorf("unknown function %q", transform.Name)
		}

		value, err = fn(&Call{
			Name:  transform.Name,
			Input: value,
			Piped: true,
			Args:  transform.Args,
			Colon: transform.Colon,
			Ctx:   ctx,
			ev:    e,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", transform.Name, err)
		}
	}

	return value, nil
}

func (e *Evaluator) resolve(ref *Reference, ctx Context) (any, error) {
	if ref == nil {
		return nil, nil
	}

	switch ref.Kind {
	case RefLiteral:
		return ref.Value, nil
	case RefPath:
		return e.lookupPath(ref, ctx), nil
	case RefGroup:
		return e.Evaluate(ref.Group, ctx)
	case RefArithmetic:
		return e.arithmetic(ref, ctx)
	case RefCall:
		fn, ok := e.registry.Get(ref.Func)
		if !ok {
			return nil, fmt.Errorf("unknown function %q", ref.Func)
		}
		value, err := fn(&Call{Name: ref.Func, Args: ref.Args, Ctx: ctx, ev: e})
		if err != nil {
			return nil, fmt.Errorf("$func.%s: %w", ref.Func, err)
		}
		return value, nil
	}

	return nil, fmt.Errorf("unsupported reference %q", ref.Raw)
}

// lookupPath walks the context. Missing segments yield nil.
func (e *Evaluator) lookupPath(ref *Reference, ctx Context) any {
	if len(ctx) == 0 {
		return nil
	}

	query, err := e.getOrCompileQuery(ref.query)
	if err != nil {
		return nil
	}

	result, err := query.Search(map[string]any(ctx))
	if err != nil {
		return nil
	}
	return result
}

func (e *Evaluator) getOrCompileQuery(q string) (*jmespath.JMESPath, error) {
	e.mu.RLock()
	if compiled, ok := e.queries[q]; ok {
		e.mu.RUnlock()
		return compiled, nil
	}
	e.mu.RUnlock()

	compiled, err := jmespath.Compile(q)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.queries[q] = compiled
	e.mu.Unlock()

	return compiled, nil
}

func (e *Evaluator) arithmetic(ref *Reference, ctx Context) (any, error) {
	left, err := e.resolve(ref.Left, ctx)
	if err != nil {
		return nil, err
	}
	right, err := e.resolve(ref.Right, ctx)
	if err != nil {
		return nil, err
	}

	l, ok := ToFloat(left)
	if !ok {
		return nil, nil
	}
	r, ok := ToFloat(right)
	if !ok {
		return nil, nil
	}

	switch ref.Op {
	case '+':
		return numberResult(l + r), nil
	case '-':
		return numberResult(l - r), nil
	case '*':
		return numberResult(l * r), nil
	case '/':
		if r == 0 {
			return nil, nil
		}
		return numberResult(l / r), nil
	}
	return nil, fmt.Errorf("unsupported operator %q", ref.Op)
}

// evaluateArg evaluates one argument of a parenthesized call. A bare word that
// does not resolve in the context is taken literally.
func (e *Evaluator) evaluateArg(raw string, ctx Context) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if strings.EqualFold(raw, "true") {
		return true, nil
	}
	if strings.EqualFold(raw, "false") {
		return false, nil
	}

	compiled, err := e.Compile(raw)
	if err != nil {
		return nil, err
	}
	value, err := e.Evaluate(compiled, ctx)
	if err != nil {
		return nil, err
	}

	if value == nil && len(compiled.Transforms) == 0 && compiled.Base.Kind == RefPath && len(compiled.Base.Path) == 1 {
		return raw, nil
	}
	return value, nil
}

// IsDynamic reports whether a fallback argument must be evaluated against the
// context rather than taken literally.
func IsDynamic(raw string) bool {
	t := strings.TrimSpace(raw)
	if t == "" || isQuoted(t) {
		return false
	}
	if strings.Contains(t, "$func.") || strings.ContainsAny(t, "()") || IsArithmetic(t) {
		return true
	}
	if intPattern.MatchString(t) || decimalPattern.MatchString(t) {
		return false
	}
	return strings.Contains(t, ".")
}

// Call is the invocation of a registered function.
type Call struct {
	Name string
	// Input is the piped value. It is nil for $func calls.
	Input any
	Piped bool
	// Args is the raw argument text.
	Args  []string
	Colon bool
	Ctx   Context

	ev *Evaluator
}

// Arg evaluates argument i. Colon-form arguments are literals unless they
// look dynamic. Missing arguments are nil.
func (c *Call) Arg(i int) (any, error) {
	if i >= len(c.Args) {
		return nil, nil
	}
	raw := c.Args[i]
	if c.Colon && !IsDynamic(raw) {
		return ParseLiteral(raw), nil
	}
	return c.ev.evaluateArg(raw, c.Ctx)
}

// ArgString is Arg rendered as a string, or def when missing or blank.
func (c *Call) ArgString(i int, def string) (string, error) {
	v, err := c.Arg(i)
	if err != nil {
		return "", err
	}
	if IsBlank(v) {
		return def, nil
	}
	return ToString(v), nil
}

// Values returns the piped input (if any) followed by all evaluated arguments.
func (c *Call) Values() ([]any, error) {
	values := make([]any, 0, len(c.Args)+1)
	if c.Piped {
		values = append(values, c.Input)
	}
	for i := range c.Args {
		v, err := c.Arg(i)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// Unary adapts fn so that a $func call passes its first argument as the
// input, e.g. $func.trim(AFS.Artikel.Bezeichnung) behaves like
// AFS.Artikel.Bezeichnung | trim.
func Unary(fn Func) Func {
	return func(c *Call) (any, error) {
		if c.Piped {
			return fn(c)
		}

		shifted := *c
		shifted.Piped = true
		if len(c.Args) > 0 {
			v, err := c.ev.evaluateArg(c.Args[0], c.Ctx)
			if err != nil {
				return nil, err
			}
			shifted.Input = v
			shifted.Args = c.Args[1:]
		}
		return fn(&shifted)
	}
}

// Evaluate evaluates expr against the call's context.
func (c *Call) Evaluate(expr string) (any, error) {
	return c.ev.EvaluateExpr(strings.TrimSpace(expr), c.Ctx)
}

func (c *Call) Lookups() LookupStore {
	return c.ev.lookups
}

func (c *Call) Now() time.Time {
	return c.ev.now()
}
