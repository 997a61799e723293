// Package dependency resolves the boot order of plugins from their declared
// dependencies.
//
// Each node in the graph is a plugin; edges are the semver ranges a plugin
// declares against its dependencies. Resolve performs a depth-first
// topological sort with three-colour marking, so the kernel initializes
// every plugin after all of its dependencies.
//
// # Dependency Rules
//
//  1. Every declared dependency must be registered, otherwise Resolve
//     returns a MissingDependencyError naming both sides.
//  2. A back-edge during the walk is a cycle; Resolve returns a CycleError
//     listing the members in path order.
//  3. The registered version of a dependency must satisfy the declared
//     range (^, ~, >=, exact), otherwise Resolve returns a
//     VersionConflictError naming the range and the available version.
//
// # Usage Example
//
//	graph := dependency.New()
//	graph.AddNode(dependency.Node{ID: "storage", Version: v1})
//	graph.AddNode(dependency.Node{
//	    ID:       "audit",
//	    Version:  v1,
//	    Requires: map[dependency.NodeID]string{"storage": "^1.0.0"},
//	})
//
//	order, err := graph.Resolve()
//	// order: ["storage", "audit"]
//
// Roots and siblings are visited in lexical order, so the resolved order is
// stable across runs.
//
// # Thread Safety
//
// The Graph is not synchronized. The kernel builds it during the
// single-threaded bootstrap phase and treats it as read-only afterwards.
package dependency
