package tree

import (
	"errors"
	"reflect"
	"testing"
)

// balancedEdges describes the tree 6 -> (4 -> (0, 1), 5 -> (2, 3)).
func balancedEdges() []Edge {
	return []Edge{{6, 4}, {6, 5}, {4, 0}, {4, 1}, {5, 2}, {5, 3}}
}

func TestNewIndexStructure(t *testing.T) {
	ix, err := NewIndex(balancedEdges(), 4, nil)
	if err != nil {
		t.Fatalf("NewIndex returned error: %v", err)
	}

	if got := ix.Root(); got != 6 {
		t.Fatalf("Root = %d, want 6", got)
	}
	if got := ix.NumNodes(); got != 7 {
		t.Fatalf("NumNodes = %d, want 7", got)
	}
	if got := ix.NumLeaves(); got != 4 {
		t.Fatalf("NumLeaves = %d, want 4", got)
	}
	if got := ix.Parent(4); got != 6 {
		t.Fatalf("Parent(4) = %d, want 6", got)
	}
	if got := ix.Parent(6); got != -1 {
		t.Fatalf("Parent(root) = %d, want -1", got)
	}
	if got := ix.Children(6); !reflect.DeepEqual(got, []int{4, 5}) {
		t.Fatalf("Children(6) = %v, want [4 5]", got)
	}
	if !ix.IsLeaf(3) || ix.IsLeaf(5) {
		t.Fatalf("IsLeaf misclassified: leaf 3 or internal 5")
	}
}

func TestLeafIntervals(t *testing.T) {
	ix, err := NewIndex(balancedEdges(), 4, nil)
	if err != nil {
		t.Fatalf("NewIndex returned error: %v", err)
	}

	wantIntervals := map[int][2]int{
		6: {0, 4},
		4: {0, 2},
		5: {2, 4},
		0: {0, 1},
		1: {1, 2},
		2: {2, 3},
		3: {3, 4},
	}
	for node, want := range wantIntervals {
		lo, hi := ix.LeafInterval(node)
		if lo != want[0] || hi != want[1] {
			t.Fatalf("LeafInterval(%d) = [%d, %d), want [%d, %d)", node, lo, hi, want[0], want[1])
		}
	}

	if got := ix.DescendantLeaves(5); !reflect.DeepEqual(got, []int{2, 3}) {
		t.Fatalf("DescendantLeaves(5) = %v, want [2 3]", got)
	}
	if got := ix.DescendantLeaves(6); !reflect.DeepEqual(got, []int{0, 1, 2, 3}) {
		t.Fatalf("DescendantLeaves(root) = %v, want all leaves", got)
	}
	if got := ix.DescendantLeaves(1); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("DescendantLeaves(leaf) = %v, want [1]", got)
	}
	if got := ix.NumDescendantLeaves(4); got != 2 {
		t.Fatalf("NumDescendantLeaves(4) = %d, want 2", got)
	}
}

func TestAncestryQueries(t *testing.T) {
	ix, err := NewIndex(balancedEdges(), 4, nil)
	if err != nil {
		t.Fatalf("NewIndex returned error: %v", err)
	}

	if got := ix.Ancestors(2); !reflect.DeepEqual(got, []int{6, 5, 2}) {
		t.Fatalf("Ancestors(2) = %v, want [6 5 2]", got)
	}
	if got := ix.Ancestors(6); !reflect.DeepEqual(got, []int{6}) {
		t.Fatalf("Ancestors(root) = %v, want [6]", got)
	}

	if !ix.Contains(6, 3) || !ix.Contains(5, 5) {
		t.Fatalf("Contains should accept descendants and self")
	}
	if ix.Contains(4, 2) || ix.Contains(0, 6) {
		t.Fatalf("Contains accepted a non-descendant")
	}

	if !ix.Overlaps(4, 0) || !ix.Overlaps(6, 5) {
		t.Fatalf("Overlaps missed shared leaves")
	}
	if ix.Overlaps(4, 5) || ix.Overlaps(0, 1) {
		t.Fatalf("Overlaps reported disjoint nodes")
	}
}

func TestLabels(t *testing.T) {
	labels := []string{"a", "b", "c", "d", "ab", "cd", "root"}
	ix, err := NewIndex(balancedEdges(), 4, labels)
	if err != nil {
		t.Fatalf("NewIndex returned error: %v", err)
	}
	if got := ix.Label(6); got != "root" {
		t.Fatalf("Label(6) = %q, want root", got)
	}

	bare, err := NewIndex(balancedEdges(), 4, nil)
	if err != nil {
		t.Fatalf("NewIndex returned error: %v", err)
	}
	if got := bare.Label(2); got != "" {
		t.Fatalf("Label without labels = %q, want empty", got)
	}
}

func TestNewIndexRejectsBadInput(t *testing.T) {
	cases := []struct {
		name      string
		edges     []Edge
		leafCount int
		labels    []string
		wantNode  int
	}{
		{name: "empty", edges: nil, leafCount: 0, wantNode: -1},
		{name: "self loop", edges: []Edge{{0, 0}}, leafCount: 1, wantNode: 0},
		{name: "two parents", edges: []Edge{{2, 0}, {2, 1}, {1, 0}}, leafCount: 1, wantNode: 0},
		{name: "two roots", edges: []Edge{{0, 1}, {2, 3}}, leafCount: 2, wantNode: 2},
		{name: "closed cycle", edges: []Edge{{0, 1}, {1, 0}}, leafCount: 0, wantNode: 1},
		{name: "detached cycle", edges: []Edge{{0, 1}, {2, 3}, {3, 2}}, leafCount: 1, wantNode: 2},
		{name: "missing id", edges: []Edge{{0, 2}}, leafCount: 1, wantNode: 1},
		{name: "negative id", edges: []Edge{{-1, 0}}, leafCount: 1, wantNode: -1},
		{name: "leaf count off", edges: balancedEdges(), leafCount: 5, wantNode: -1},
		{name: "label length off", edges: balancedEdges(), leafCount: 4, labels: []string{"x"}, wantNode: -1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewIndex(tc.edges, tc.leafCount, tc.labels)
			if err == nil {
				t.Fatalf("NewIndex accepted %s input", tc.name)
			}
			var ite *InvalidTreeError
			if !errors.As(err, &ite) {
				t.Fatalf("error type = %T, want *InvalidTreeError", err)
			}
			if ite.Node != tc.wantNode {
				t.Fatalf("offending node = %d, want %d (err: %v)", ite.Node, tc.wantNode, err)
			}
		})
	}
}
