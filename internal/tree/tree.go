package tree

import (
	"fmt"
	"sort"
)

// Edge is one parent -> child link in a tree description.
type Edge struct {
	Parent int
	Child  int
}

// InvalidTreeError reports a structural defect in a tree description.
// Node is -1 when the defect is not attributable to a single node.
type InvalidTreeError struct {
	Node   int
	Reason string
}

func (e *InvalidTreeError) Error() string {
	if e.Node < 0 {
		return fmt.Sprintf("invalid tree: %s", e.Reason)
	}
	return fmt.Sprintf("invalid tree: node %d: %s", e.Node, e.Reason)
}

// Index is an immutable arena encoding of a rooted tree. Nodes are dense
// integer ids 0..NumNodes()-1 assigned by the caller through the edge list.
// Every node carries an Euler-tour leaf interval, so descendant, containment
// and overlap queries are O(1).
type Index struct {
	parent   []int
	children [][]int
	lo, hi   []int // leaf interval [lo, hi) in tour positions
	leafAt   []int // leaf id by tour position
	labels   []string
	root     int
}

// NewIndex builds an Index from an edge list, the expected leaf count, and
// optional per-node labels (nil for none). The node ids referenced by the
// edges must form the dense range 0..N-1.
func NewIndex(edges []Edge, leafCount int, labels []string) (*Index, error) {
	if len(edges) == 0 {
		return nil, &InvalidTreeError{Node: -1, Reason: "empty edge list"}
	}

	n := 0
	for _, e := range edges {
		if e.Parent < 0 {
			return nil, &InvalidTreeError{Node: e.Parent, Reason: "negative node id"}
		}
		if e.Child < 0 {
			return nil, &InvalidTreeError{Node: e.Child, Reason: "negative node id"}
		}
		if e.Parent+1 > n {
			n = e.Parent + 1
		}
		if e.Child+1 > n {
			n = e.Child + 1
		}
	}

	parent := make([]int, n)
	for i := range parent {
		parent[i] = -1
	}
	children := make([][]int, n)
	mentioned := make([]bool, n)

	for _, e := range edges {
		if e.Parent == e.Child {
			return nil, &InvalidTreeError{Node: e.Child, Reason: "self loop"}
		}
		if parent[e.Child] != -1 {
			return nil, &InvalidTreeError{Node: e.Child, Reason: "more than one parent"}
		}
		parent[e.Child] = e.Parent
		children[e.Parent] = append(children[e.Parent], e.Child)
		mentioned[e.Parent] = true
		mentioned[e.Child] = true
	}

	for id, ok := range mentioned {
		if !ok {
			return nil, &InvalidTreeError{Node: id, Reason: "id missing from edge list"}
		}
	}

	root := -1
	for id := 0; id < n; id++ {
		if parent[id] != -1 {
			continue
		}
		if root != -1 {
			return nil, &InvalidTreeError{Node: id, Reason: "second root"}
		}
		root = id
	}
	if root == -1 {
		// Every node has a parent, so the edges close a cycle somewhere.
		return nil, &InvalidTreeError{Node: edges[0].Child, Reason: "no root (edges form a cycle)"}
	}

	if labels != nil && len(labels) != n {
		return nil, &InvalidTreeError{Node: -1, Reason: fmt.Sprintf("%d labels for %d nodes", len(labels), n)}
	}

	ix := &Index{
		parent:   parent,
		children: children,
		lo:       make([]int, n),
		hi:       make([]int, n),
		labels:   labels,
		root:     root,
	}

	// Euler tour: only leaf visits advance the position counter, so each
	// node's descendant leaves occupy the contiguous interval [lo, hi).
	type frame struct {
		node int
		next int
	}
	reached := make([]bool, n)
	pos := 0
	visited := 0
	stack := make([]frame, 0, 64)
	stack = append(stack, frame{node: root})
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		if f.next == 0 {
			reached[f.node] = true
			visited++
			ix.lo[f.node] = pos
			if len(children[f.node]) == 0 {
				ix.leafAt = append(ix.leafAt, f.node)
				pos++
				ix.hi[f.node] = pos
				stack = stack[:len(stack)-1]
				continue
			}
		}
		if f.next < len(children[f.node]) {
			child := children[f.node][f.next]
			f.next++
			stack = append(stack, frame{node: child})
			continue
		}
		ix.hi[f.node] = pos
		stack = stack[:len(stack)-1]
	}

	if visited != n {
		for id, ok := range reached {
			if !ok {
				return nil, &InvalidTreeError{Node: id, Reason: "unreachable from root"}
			}
		}
	}

	if got := len(ix.leafAt); got != leafCount {
		return nil, &InvalidTreeError{Node: -1, Reason: fmt.Sprintf("declared %d leaves, tree has %d", leafCount, got)}
	}

	return ix, nil
}

// Root returns the root node id.
func (ix *Index) Root() int { return ix.root }

// NumNodes returns the total node count.
func (ix *Index) NumNodes() int { return len(ix.parent) }

// NumLeaves returns the leaf count.
func (ix *Index) NumLeaves() int { return len(ix.leafAt) }

// Parent returns node's parent id, or -1 for the root.
func (ix *Index) Parent(node int) int { return ix.parent[node] }

// Children returns node's child ids in edge-list order. The slice is shared
// with the index and must not be modified.
func (ix *Index) Children(node int) []int { return ix.children[node] }

// IsLeaf reports whether node has no children.
func (ix *Index) IsLeaf(node int) bool { return len(ix.children[node]) == 0 }

// LeafInterval returns node's Euler-tour leaf interval [lo, hi).
func (ix *Index) LeafInterval(node int) (lo, hi int) { return ix.lo[node], ix.hi[node] }

// LeafAt returns the leaf id occupying the given tour position.
func (ix *Index) LeafAt(pos int) int { return ix.leafAt[pos] }

// NumDescendantLeaves returns the size of node's descendant leaf set.
func (ix *Index) NumDescendantLeaves(node int) int { return ix.hi[node] - ix.lo[node] }

// DescendantLeaves returns the leaves at or below node, ascending by id.
func (ix *Index) DescendantLeaves(node int) []int {
	leaves := append([]int(nil), ix.leafAt[ix.lo[node]:ix.hi[node]]...)
	sort.Ints(leaves)
	return leaves
}

// Ancestors returns the path from the root down to node, inclusive.
func (ix *Index) Ancestors(node int) []int {
	path := []int{node}
	for p := ix.parent[node]; p != -1; p = ix.parent[p] {
		path = append(path, p)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Contains reports whether descendant's leaf set lies inside ancestor's.
// A node contains itself.
func (ix *Index) Contains(ancestor, descendant int) bool {
	return ix.lo[ancestor] <= ix.lo[descendant] && ix.hi[descendant] <= ix.hi[ancestor]
}

// Overlaps reports whether the two nodes share at least one descendant leaf.
func (ix *Index) Overlaps(a, b int) bool {
	return ix.lo[a] < ix.hi[b] && ix.lo[b] < ix.hi[a]
}

// Label returns node's label, or "" when none were provided.
func (ix *Index) Label(node int) string {
	if ix.labels == nil {
		return ""
	}
	return ix.labels[node]
}
