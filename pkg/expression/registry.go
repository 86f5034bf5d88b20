package expression

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Func implements a named function usable as a transform (`| name`) or as a
// base reference (`$func.name(...)`).
type Func func(call *Call) (any, error)

// Registry maps function names to implementations. Names are case-insensitive.
type Registry struct {
	funcs map[string]Func
	mu    sync.RWMutex
}

// NewRegistry returns a registry holding the built-in functions.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]Func)}
	registerBuiltins(r)
	return r
}

// NewEmptyRegistry returns a registry without built-ins.
func NewEmptyRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register adds or replaces a function.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[strings.ToLower(name)] = fn
}

func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[strings.ToLower(name)]
	return fn, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every function a compiled expression refers to is
// registered, including those nested in arguments and groups.
func (r *Registry) Validate(c *Compiled) error {
	if c == nil {
		return nil
	}
	if err := r.validateRef(c.Base); err != nil {
		return err
	}
	for _, t := range c.Transforms {
		if _, ok := r.Get(t.Name); !ok {
			return fmt.Errorf("unknown function %q in %q", t.Name, c.Source)
		}
		if t.Colon {
			continue
		}
		if err := r.validateArgs(t.Args); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) validateRef(ref *Reference) error {
	if ref == nil {
		return nil
	}
	switch ref.Kind {
	case RefCall:
		if _, ok := r.Get(ref.Func); !ok {
			return fmt.Errorf("unknown function %q in %q", ref.Func, ref.Raw)
		}
		return r.validateArgs(ref.Args)
	case RefArithmetic:
		if err := r.validateRef(ref.Left); err != nil {
			return err
		}
		return r.validateRef(ref.Right)
	case RefGroup:
		return r.Validate(ref.Group)
	}
	return nil
}

func (r *Registry) validateArgs(args []string) error {
	for _, arg := range args {
		// case() arms are not expressions
		if strings.Contains(arg, "->") {
			continue
		}
		c, err := Compile(arg)
		if err != nil {
			return err
		}
		if err := r.Validate(c); err != nil {
			return err
		}
	}
	return nil
}
