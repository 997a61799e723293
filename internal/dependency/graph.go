package dependency

import (
	"sort"

	"github.com/Masterminds/semver/v3"
)

// NodeID is the unique identifier for a node inside a dependency graph.
// Kept as a string alias so callers can use plugin identifiers directly.
type NodeID string

// Node is one plugin in the graph: its identifier, the version it provides,
// and the semver range it requires from each dependency.
type Node struct {
	ID       NodeID
	Version  *semver.Version
	Requires map[NodeID]string
}

// Graph answers dependency queries and produces the boot order. It is *not*
// thread-safe by itself; the kernel builds it single-threaded during
// bootstrap and never mutates it afterwards.
type Graph struct {
	nodes map[NodeID]*Node
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[NodeID]*Node)}
}

// AddNode adds (or replaces) a node in the graph.
func (g *Graph) AddNode(n Node) {
	if g.nodes == nil {
		g.nodes = make(map[NodeID]*Node)
	}
	// Copy to avoid external mutations
	copied := n
	g.nodes[n.ID] = &copied
}

// Get returns a pointer to the stored node or nil if it does not exist.
func (g *Graph) Get(id NodeID) *Node {
	return g.nodes[id]
}

// Has reports whether a node exists.
func (g *Graph) Has(id NodeID) bool {
	_, ok := g.nodes[id]
	return ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// IDs returns all node identifiers in lexical order, which keeps every walk
// over the graph deterministic.
func (g *Graph) IDs() []NodeID {
	ids := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Dependencies returns the immediate dependency IDs of a node, in lexical
// order.
func (g *Graph) Dependencies(id NodeID) []NodeID {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	deps := make([]NodeID, 0, len(n.Requires))
	for dep := range n.Requires {
		deps = append(deps, dep)
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })
	return deps
}
