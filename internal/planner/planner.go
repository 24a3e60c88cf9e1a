// Package planner computes dependency-ordered start/stop orderings over a
// set of service descriptors (spec.md §4.1). It is pure: no I/O, no shared
// state, deterministic output for a given descriptor set — in the same
// spirit as the teacher's detector.Detector contracts, a small closed
// computation with no side effects.
package planner

import (
	"fmt"
	"sort"

	"github.com/systemg/systemg/internal/procspec"
)

// ConfigError is the taxonomy kind spec.md §7 assigns to planner failures.
type ConfigError struct {
	Kind    string // "DependencyCycle" | "UnknownDependency"
	Message string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("ConfigError(%s): %s", e.Kind, e.Message) }

// Plan holds the start order (topological, roots first) and stop order
// (its exact reverse) for one descriptor set.
type Plan struct {
	StartOrder []string
	StopOrder  []string
}

// node is the arena-indexed adjacency-list representation spec.md §9
// describes: names map to indices, indices map to neighbor indices, so the
// in-memory graph holds no pointer cycles.
type node struct {
	name  string
	index int
	deps  []int
}

// Build computes a Plan from specs, rejecting unknown dependency names and
// dependency cycles. The order is a depth-first post-order in which roots
// and each service's dependencies are visited in ascending-name order, to
// keep planner output deterministic for a given descriptor set regardless
// of map iteration order upstream.
func Build(specs []procspec.Spec) (*Plan, error) {
	index := make(map[string]int, len(specs))
	for i, s := range specs {
		index[s.Name] = i
	}

	nodes := make([]node, len(specs))
	for i, s := range specs {
		n := node{name: s.Name, index: i}
		for _, dep := range s.DependsOn {
			di, ok := index[dep]
			if !ok {
				return nil, &ConfigError{
					Kind:    "UnknownDependency",
					Message: fmt.Sprintf("service %q depends on unknown service %q", s.Name, dep),
				}
			}
			n.deps = append(n.deps, di)
		}
		nodes[i] = n
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(nodes))
	var order []int
	var path []string

	var visit func(i int) error
	visit = func(i int) error {
		switch color[i] {
		case black:
			return nil
		case gray:
			cyclePath := append(append([]string{}, path...), nodes[i].name)
			return &ConfigError{
				Kind:    "DependencyCycle",
				Message: fmt.Sprintf("dependency cycle: %v", cyclePath),
			}
		}
		color[i] = gray
		path = append(path, nodes[i].name)
		deps := append([]int{}, nodes[i].deps...)
		sort.Slice(deps, func(a, b int) bool { return nodes[deps[a]].name < nodes[deps[b]].name })
		for _, d := range deps {
			if err := visit(d); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		color[i] = black
		order = append(order, i)
		return nil
	}

	roots := make([]int, len(nodes))
	for i := range roots {
		roots[i] = i
	}
	sort.Slice(roots, func(a, b int) bool { return nodes[roots[a]].name < nodes[roots[b]].name })

	for _, i := range roots {
		if err := visit(i); err != nil {
			return nil, err
		}
	}

	start := make([]string, len(order))
	for i, idx := range order {
		start[i] = nodes[idx].name
	}
	stop := make([]string, len(start))
	for i, name := range start {
		stop[len(start)-1-i] = name
	}
	return &Plan{StartOrder: start, StopOrder: stop}, nil
}
