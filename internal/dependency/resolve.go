package dependency

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// MissingDependencyError reports a declared dependency that no registered
// plugin provides.
type MissingDependencyError struct {
	Plugin     NodeID
	Dependency NodeID
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("plugin %s depends on %s, which is not registered", e.Plugin, e.Dependency)
}

// CycleError reports a dependency cycle. Members are listed in path order,
// starting and ending at the same node.
type CycleError struct {
	Members []NodeID
}

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Members))
	for _, id := range e.Members {
		parts = append(parts, string(id))
	}
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(parts, " -> "))
}

// Names returns the distinct cycle members.
func (e *CycleError) Names() []NodeID {
	seen := make(map[NodeID]bool, len(e.Members))
	var names []NodeID
	for _, id := range e.Members {
		if !seen[id] {
			seen[id] = true
			names = append(names, id)
		}
	}
	return names
}

// VersionConflictError reports a declared range the available version does
// not satisfy, naming both sides.
type VersionConflictError struct {
	Plugin     NodeID
	Dependency NodeID
	Declared   string
	Available  string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("plugin %s requires %s %s, but version %s is registered",
		e.Plugin, e.Dependency, e.Declared, e.Available)
}

// DFS colouring. White nodes are unvisited, grey nodes are on the current
// path, black nodes are finished. A grey-to-grey edge is a cycle.
type colour int

const (
	white colour = iota
	grey
	black
)

// Resolve produces a total order in which every node appears after all of
// its dependencies. Roots and siblings are visited in lexical order so the
// result is stable across runs.
func (g *Graph) Resolve() ([]NodeID, error) {
	colours := make(map[NodeID]colour, len(g.nodes))
	order := make([]NodeID, 0, len(g.nodes))
	var path []NodeID

	var visit func(id NodeID) error
	visit = func(id NodeID) error {
		colours[id] = grey
		path = append(path, id)

		node := g.nodes[id]
		for _, dep := range g.Dependencies(id) {
			target, ok := g.nodes[dep]
			if !ok {
				return &MissingDependencyError{Plugin: id, Dependency: dep}
			}

			if err := checkRange(id, dep, node.Requires[dep], target.Version); err != nil {
				return err
			}

			switch colours[dep] {
			case grey:
				return &CycleError{Members: cycleFrom(path, dep)}
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		path = path[:len(path)-1]
		colours[id] = black
		order = append(order, id)
		return nil
	}

	for _, id := range g.IDs() {
		if colours[id] == white {
			if err := visit(id); err != nil {
				return nil, err
			}
		}
	}

	return order, nil
}

// cycleFrom trims the DFS path to the members of the detected cycle and
// closes the loop for readability: [a b c] with back-edge to b → b -> c -> b.
func cycleFrom(path []NodeID, entry NodeID) []NodeID {
	start := 0
	for i, id := range path {
		if id == entry {
			start = i
			break
		}
	}
	members := make([]NodeID, 0, len(path)-start+1)
	members = append(members, path[start:]...)
	members = append(members, entry)
	return members
}

func checkRange(plugin, dep NodeID, declared string, available *semver.Version) error {
	if declared == "" || declared == "*" {
		return nil
	}
	if available == nil {
		// Nodes without a version only satisfy unconstrained edges.
		return &VersionConflictError{Plugin: plugin, Dependency: dep, Declared: declared, Available: "unknown"}
	}

	constraint, err := semver.NewConstraint(declared)
	if err != nil {
		return fmt.Errorf("plugin %s declares invalid range %q for %s: %w", plugin, declared, dep, err)
	}

	if !constraint.Check(available) {
		return &VersionConflictError{
			Plugin:     plugin,
			Dependency: dep,
			Declared:   declared,
			Available:  available.String(),
		}
	}
	return nil
}
