package manifest

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/errors"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/expression"
)

type AssignmentKind int

const (
	AssignExpression AssignmentKind = iota
	AssignLiteral
)

// FieldAssignment writes one target column of one target table.
type FieldAssignment struct {
	Path    string
	Table   string
	Column  string
	Kind    AssignmentKind
	Expr    *expression.Compiled
	Literal any
}

// CompiledMap is the compiled form of one entity's map.
type CompiledMap struct {
	Entity      string
	SourceID    string
	SourceTable string
	Assignments []FieldAssignment
	// Tables lists the target tables in order of first appearance.
	Tables []string
}

// ForTable returns the assignments writing table.
func (c *CompiledMap) ForTable(table string) []FieldAssignment {
	var out []FieldAssignment
	for _, a := range c.Assignments {
		if a.Table == table {
			out = append(out, a)
		}
	}
	return out
}

// Compiler compiles entity maps once per entity name and caches them for its
// own lifetime.
type Compiler struct {
	manifest *Manifest
	registry *expression.Registry
	cache    map[string]*CompiledMap
	mu       sync.RWMutex
}

func NewCompiler(m *Manifest, registry *expression.Registry) *Compiler {
	return &Compiler{
		manifest: m,
		registry: registry,
		cache:    make(map[string]*CompiledMap),
	}
}

// Compile returns the cached compiled map of entity, compiling it on first use.
func (c *Compiler) Compile(entity string) (*CompiledMap, error) {
	c.mu.RLock()
	if compiled, ok := c.cache[entity]; ok {
		c.mu.RUnlock()
		return compiled, nil
	}
	c.mu.RUnlock()

	cfg, err := c.manifest.Entity(entity)
	if err != nil {
		return nil, err
	}

	compiled, err := c.compile(entity, cfg)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[entity] = compiled
	c.mu.Unlock()

	return compiled, nil
}

func (c *Compiler) compile(entity string, cfg EntityConfig) (*CompiledMap, error) {
	sourceID, table, err := cfg.Source()
	if err != nil {
		return nil, errors.NewConfigErrorf(entity, "%v", err)
	}

	out := &CompiledMap{Entity: entity, SourceID: sourceID, SourceTable: table}

	paths := make([]string, 0, len(cfg.Map))
	for path := range cfg.Map {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	seen := map[string]bool{}
	for _, path := range paths {
		targetTable, column, err := SplitTargetPath(path)
		if err != nil {
			return nil, errors.NewConfigErrorf(entity, "%v", err)
		}

		assignment := FieldAssignment{Path: path, Table: targetTable, Column: column}
		switch v := cfg.Map[path].(type) {
		case string:
			expr, err := expression.Compile(v)
			if err != nil {
				return nil, errors.NewConfigErrorf(entity, "target '%s': %v", path, err)
			}
			if c.registry != nil {
				if err := c.registry.Validate(expr); err != nil {
					return nil, errors.NewConfigErrorf(entity, "target '%s': %v", path, err)
				}
			}
			assignment.Kind = AssignExpression
			assignment.Expr = expr
		default:
			assignment.Kind = AssignLiteral
			assignment.Literal = v
		}

		out.Assignments = append(out.Assignments, assignment)
		if !seen[targetTable] {
			seen[targetTable] = true
			out.Tables = append(out.Tables, targetTable)
		}
	}

	return out, nil
}

// SplitTargetPath splits `<schemaHint>.<table>.<column>`. The schema hint is
// ignored.
func SplitTargetPath(path string) (string, string, error) {
	segments := strings.Split(path, ".")
	if len(segments) < 3 {
		return "", "", fmt.Errorf("target path '%s' needs <schema>.<table>.<column>", path)
	}
	table, column := strings.TrimSpace(segments[1]), strings.TrimSpace(segments[2])
	if table == "" || column == "" {
		return "", "", fmt.Errorf("target path '%s' has an empty table or column", path)
	}
	return table, column, nil
}
