// Package category turns a flat category table into slug paths such as
// "buero/stuehle".
package category

import (
	"strings"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/expression"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/slug"
)

// RootParent marks a top-level category.
const RootParent = "0"

type Node struct {
	ID     string
	Parent string
	Name   string
}

// Resolver memoizes one path per id. It is not safe for concurrent Resolve
// calls; Paths computes everything up front for concurrent readers.
type Resolver struct {
	nodes    map[string]Node
	order    []string
	paths    map[string]string
	visiting map[string]bool
}

func NewResolver(nodes []Node) *Resolver {
	r := &Resolver{
		nodes:    make(map[string]Node, len(nodes)),
		paths:    make(map[string]string, len(nodes)),
		visiting: make(map[string]bool),
	}
	for _, n := range nodes {
		id := strings.TrimSpace(n.ID)
		if id == "" {
			continue
		}
		if _, dup := r.nodes[id]; !dup {
			r.order = append(r.order, id)
		}
		n.ID = id
		n.Parent = strings.TrimSpace(n.Parent)
		r.nodes[id] = n
	}
	return r
}

// NodesFromRows reads nodes from source rows using the given column names.
func NodesFromRows(rows []map[string]any, idCol, parentCol, nameCol string) []Node {
	nodes := make([]Node, 0, len(rows))
	for _, row := range rows {
		nodes = append(nodes, Node{
			ID:     expression.ToString(row[idCol]),
			Parent: expression.ToString(row[parentCol]),
			Name:   expression.ToString(row[nameCol]),
		})
	}
	return nodes
}

// Resolve returns the slug path of id, or "" for an unknown id. A parent that
// is missing, root, or part of a cycle ends the path.
func (r *Resolver) Resolve(id string) string {
	id = strings.TrimSpace(id)
	if p, ok := r.paths[id]; ok {
		return p
	}
	node, ok := r.nodes[id]
	if !ok {
		return ""
	}

	r.visiting[id] = true
	defer delete(r.visiting, id)

	own := slug.Make(node.Name)
	path := own
	if parent := node.Parent; parent != "" && parent != RootParent && parent != id && !r.visiting[parent] {
		if _, known := r.nodes[parent]; known {
			if prefix := r.Resolve(parent); prefix != "" {
				path = prefix + "/" + own
			}
		}
	}

	r.paths[id] = path
	return path
}

// Paths resolves every node and returns id -> path.
func (r *Resolver) Paths() map[string]string {
	out := make(map[string]string, len(r.order))
	for _, id := range r.order {
		out[id] = r.Resolve(id)
	}
	return out
}
