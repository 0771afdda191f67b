package candidate

import (
	"fmt"
	"math"
	"sort"

	"github.com/arborstack/arbor-fdr/internal/scores"
	"github.com/arborstack/arbor-fdr/internal/tree"
)

// Candidate is one tree cut: the nodes representing one resolution of the
// tree at tuning value T. Nodes are ascending by id and their descendant
// leaf sets partition the full leaf set.
type Candidate struct {
	T     float64
	Nodes []int
}

// List is the candidate family generated for one feature, ascending by T.
type List []Candidate

// InvariantViolationError reports an internally produced node set that is
// not a valid tree cut. It indicates an implementation bug, never bad input.
type InvariantViolationError struct {
	T      float64
	Node   int
	Reason string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("candidate invariant violation at t=%g: node %d: %s", e.T, e.Node, e.Reason)
}

type verdict int

const (
	split verdict = iota
	merge
)

// decide applies the merge rule at one internal node: the node swallows its
// subtree when it shows a direction, no child points the opposite way, and
// no child's p-value diverges from the node's own by more than t. Only the
// divergence clause depends on t, so a node merged at some t stays merged
// at every larger t.
func decide(parent scores.Score, children []scores.Score, t float64) verdict {
	if parent.Sign == 0 || parent.P >= 1 {
		return split
	}
	for _, c := range children {
		if c.Sign != 0 && c.Sign != parent.Sign {
			return split
		}
		if math.Abs(c.P-parent.P) > t {
			return split
		}
	}
	return merge
}

// Generate produces one Candidate per tuning value for a single feature.
// The grid must be strictly ascending within [0, 1], and feat must score
// every node of the tree.
func Generate(ix *tree.Index, feat []scores.Score, grid []float64) (List, error) {
	if ix == nil {
		return nil, fmt.Errorf("nil tree index")
	}
	if len(feat) != ix.NumNodes() {
		return nil, &scores.ScoreMismatchError{Node: -1, Reason: fmt.Sprintf("%d scores for %d nodes", len(feat), ix.NumNodes())}
	}
	if err := validateGrid(grid); err != nil {
		return nil, err
	}

	list := make(List, 0, len(grid))
	childScores := make([]scores.Score, 0, 8)
	for _, t := range grid {
		nodes := make([]int, 0, ix.NumLeaves())
		stack := []int{ix.Root()}
		for len(stack) > 0 {
			node := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if ix.IsLeaf(node) {
				nodes = append(nodes, node)
				continue
			}
			kids := ix.Children(node)
			childScores = childScores[:0]
			for _, c := range kids {
				childScores = append(childScores, feat[c])
			}
			if decide(feat[node], childScores, t) == merge {
				nodes = append(nodes, node)
				continue
			}
			for i := len(kids) - 1; i >= 0; i-- {
				stack = append(stack, kids[i])
			}
		}
		sort.Ints(nodes)

		if err := validateCut(ix, t, nodes); err != nil {
			return nil, err
		}
		list = append(list, Candidate{T: t, Nodes: nodes})
	}
	return list, nil
}

func validateGrid(grid []float64) error {
	if len(grid) == 0 {
		return fmt.Errorf("empty tuning grid")
	}
	for i, t := range grid {
		if math.IsNaN(t) || t < 0 || t > 1 {
			return fmt.Errorf("tuning value %v outside [0, 1]", t)
		}
		if i > 0 && t <= grid[i-1] {
			return fmt.Errorf("tuning grid not strictly ascending at %v", t)
		}
	}
	return nil
}

// validateCut checks that the node set tiles the full leaf range: sorted by
// interval start, each node must begin exactly where the previous ended.
func validateCut(ix *tree.Index, t float64, nodes []int) error {
	type span struct {
		lo, hi, node int
	}
	spans := make([]span, 0, len(nodes))
	for _, node := range nodes {
		lo, hi := ix.LeafInterval(node)
		spans = append(spans, span{lo: lo, hi: hi, node: node})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].lo < spans[j].lo })

	cursor := 0
	for _, s := range spans {
		if s.lo != cursor {
			reason := "overlaps the previous node"
			if s.lo > cursor {
				reason = fmt.Sprintf("leaves uncovered leaf positions [%d, %d)", cursor, s.lo)
			}
			return &InvariantViolationError{T: t, Node: s.node, Reason: reason}
		}
		cursor = s.hi
	}
	if cursor != ix.NumLeaves() {
		return &InvariantViolationError{T: t, Node: -1, Reason: fmt.Sprintf("covers %d of %d leaves", cursor, ix.NumLeaves())}
	}
	return nil
}
