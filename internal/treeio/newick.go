// Package treeio converts external tree and score representations into the
// engine's native types. It understands Newick documents, explicit edge
// lists, and CSV or JSON score tables.
package treeio

import (
	"fmt"
	"io"
	"strings"

	"github.com/evolbioinfo/gotree/io/newick"
	gotree "github.com/evolbioinfo/gotree/tree"

	"github.com/arborstack/arbor-fdr/internal/tree"
)

// ParseNewick reads a single Newick document and indexes it. Node ids are
// assigned by a depth-first walk from the root following the document's
// child order: leaves take 0..L-1 in encounter order, internal nodes take
// L..N-1. Tip labels and any internal labels are preserved.
func ParseNewick(r io.Reader) (*tree.Index, error) {
	parsed, err := newick.NewParser(r).Parse()
	if err != nil {
		return nil, fmt.Errorf("parse newick: %w", err)
	}
	if err := parsed.UpdateTipIndex(); err != nil {
		return nil, fmt.Errorf("index newick tips: %w", err)
	}
	return indexParsed(parsed)
}

// ParseNewickString is ParseNewick over an in-memory document.
func ParseNewickString(doc string) (*tree.Index, error) {
	return ParseNewick(strings.NewReader(doc))
}

func indexParsed(parsed *gotree.Tree) (*tree.Index, error) {
	root := parsed.Root()
	if root == nil {
		return nil, &tree.InvalidTreeError{Node: -1, Reason: "newick document has no root"}
	}

	var nodes, leaves int
	countNodes(root, nil, &nodes, &leaves)
	if nodes < 2 {
		return nil, &tree.InvalidTreeError{Node: -1, Reason: "newick document has a single node"}
	}

	labels := make([]string, nodes)
	edges := make([]tree.Edge, 0, nodes-1)
	nextLeaf, nextInternal := 0, leaves

	var assign func(cur, prev *gotree.Node) int
	assign = func(cur, prev *gotree.Node) int {
		var id int
		if cur.Tip() {
			id = nextLeaf
			nextLeaf++
		} else {
			id = nextInternal
			nextInternal++
		}
		labels[id] = cur.Name()
		for _, next := range cur.Neigh() {
			if next == prev {
				continue
			}
			edges = append(edges, tree.Edge{Parent: id, Child: assign(next, cur)})
		}
		return id
	}
	assign(root, nil)

	return tree.NewIndex(edges, leaves, labels)
}

func countNodes(cur, prev *gotree.Node, nodes, leaves *int) {
	*nodes++
	if cur.Tip() {
		*leaves++
	}
	for _, next := range cur.Neigh() {
		if next != prev {
			countNodes(next, cur, nodes, leaves)
		}
	}
}
