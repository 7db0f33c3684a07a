// Package graph computes dependency-first processing orders over named
// entities. It is a pure function of its inputs: no I/O, no logging.
package graph

import "fmt"

// CycleError reports that the dependency relation admits no valid
// order. Entity names one entity on the detected cycle.
type CycleError struct {
	Entity string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected at %q", e.Entity)
}

// UnknownDependencyError reports a declared dependency that does not
// name an entity in the batch.
type UnknownDependencyError struct {
	Entity     string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("%q depends on unknown entity %q", e.Entity, e.Dependency)
}

// DFS colors, indexed by entity position in the input slice.
type color uint8

const (
	white color = iota // unvisited
	grey               // on the current DFS path
	black              // finished
)

// Validate checks that every declared dependency names an entity in the
// batch. It must pass before Resolve is attempted.
func Validate(entities []string, deps map[string][]string) error {
	known := make(map[string]struct{}, len(entities))
	for _, name := range entities {
		known[name] = struct{}{}
	}
	for _, name := range entities {
		for _, d := range deps[name] {
			if _, ok := known[d]; !ok {
				return &UnknownDependencyError{Entity: name, Dependency: d}
			}
		}
	}
	return nil
}

// Resolve returns an order over entities in which every entity appears
// after everything it depends on, or a CycleError when no such order
// exists. On any error the returned slice is nil; there is no partial
// result.
//
// The walk is an iterative DFS over an index arena rather than a
// recursive one, so graph depth is bounded by heap, not stack. Ties
// between independent entities follow input order, but only the
// dependency constraint is contractual.
func Resolve(entities []string, deps map[string][]string) ([]string, error) {
	if err := Validate(entities, deps); err != nil {
		return nil, err
	}

	index := make(map[string]int, len(entities))
	for i, name := range entities {
		index[name] = i
	}

	colors := make([]color, len(entities))
	order := make([]string, 0, len(entities))

	// One frame per grey entity; next tracks how far into its
	// dependency list the walk has advanced.
	type frame struct {
		node int
		next int
	}

	for root := range entities {
		if colors[root] != white {
			continue
		}
		colors[root] = grey
		stack := []frame{{node: root}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			depList := deps[entities[top.node]]

			if top.next < len(depList) {
				dep := index[depList[top.next]]
				top.next++
				switch colors[dep] {
				case white:
					colors[dep] = grey
					stack = append(stack, frame{node: dep})
				case grey:
					return nil, &CycleError{Entity: entities[dep]}
				}
				continue
			}

			// All dependencies finished: the entity itself is next in
			// dependency-first order.
			colors[top.node] = black
			order = append(order, entities[top.node])
			stack = stack[:len(stack)-1]
		}
	}

	return order, nil
}
