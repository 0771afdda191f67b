package scores

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/arborstack/arbor-fdr/internal/stattest"
	"github.com/arborstack/arbor-fdr/internal/tree"
)

// Score is one per-node test outcome: a p-value in [0, 1] and a direction
// in {-1, 0, 1}. Positive means the second group runs higher.
type Score struct {
	P    float64
	Sign int
}

// ScoreMismatchError reports score input inconsistent with the tree or the
// feature set. Node is -1 when no single node is at fault.
type ScoreMismatchError struct {
	Feature string
	Node    int
	Reason  string
}

func (e *ScoreMismatchError) Error() string {
	switch {
	case e.Feature == "" && e.Node < 0:
		return fmt.Sprintf("score mismatch: %s", e.Reason)
	case e.Node < 0:
		return fmt.Sprintf("score mismatch: feature %q: %s", e.Feature, e.Reason)
	case e.Feature == "":
		return fmt.Sprintf("score mismatch: node %d: %s", e.Node, e.Reason)
	default:
		return fmt.Sprintf("score mismatch: feature %q: node %d: %s", e.Feature, e.Node, e.Reason)
	}
}

// Table holds exactly one Score per node per feature. Feature order is the
// input order and is preserved through the whole pipeline.
type Table struct {
	features []string
	index    map[string]int
	dense    [][]Score
	numNodes int
}

// Features returns the feature names in input order.
func (t *Table) Features() []string {
	return append([]string(nil), t.features...)
}

// NumFeatures returns the feature count.
func (t *Table) NumFeatures() int { return len(t.features) }

// NumNodes returns the per-feature score count.
func (t *Table) NumNodes() int { return t.numNodes }

// Scores returns the dense per-node scores for a feature. The slice is
// shared with the table and must not be modified.
func (t *Table) Scores(feature string) ([]Score, bool) {
	i, ok := t.index[feature]
	if !ok {
		return nil, false
	}
	return t.dense[i], true
}

func (t *Table) insert(feature string, dense []Score) error {
	if feature == "" {
		return &ScoreMismatchError{Node: -1, Reason: "empty feature name"}
	}
	if _, dup := t.index[feature]; dup {
		return &ScoreMismatchError{Feature: feature, Node: -1, Reason: "duplicate feature"}
	}
	t.index[feature] = len(t.features)
	t.features = append(t.features, feature)
	t.dense = append(t.dense, dense)
	return nil
}

// Row is one externally supplied score entry.
type Row struct {
	Node int
	P    float64
	Sign int
}

// FeatureRows pairs a feature name with its raw score rows.
type FeatureRows struct {
	Feature string
	Rows    []Row
}

// FromRows validates externally computed scores against the tree and
// assembles a Table. Every feature must carry exactly one row per node.
func FromRows(ix *tree.Index, input []FeatureRows) (*Table, error) {
	if ix == nil {
		return nil, errors.New("nil tree index")
	}
	if len(input) == 0 {
		return nil, &ScoreMismatchError{Node: -1, Reason: "no features supplied"}
	}

	n := ix.NumNodes()
	t := &Table{index: make(map[string]int, len(input)), numNodes: n}
	for _, fr := range input {
		dense := make([]Score, n)
		filled := make([]bool, n)
		for _, row := range fr.Rows {
			if row.Node < 0 || row.Node >= n {
				return nil, &ScoreMismatchError{Feature: fr.Feature, Node: row.Node, Reason: "node not in tree"}
			}
			if filled[row.Node] {
				return nil, &ScoreMismatchError{Feature: fr.Feature, Node: row.Node, Reason: "duplicate score row"}
			}
			if math.IsNaN(row.P) || row.P < 0 || row.P > 1 {
				return nil, &ScoreMismatchError{Feature: fr.Feature, Node: row.Node, Reason: fmt.Sprintf("p-value %v outside [0, 1]", row.P)}
			}
			if row.Sign < -1 || row.Sign > 1 {
				return nil, &ScoreMismatchError{Feature: fr.Feature, Node: row.Node, Reason: fmt.Sprintf("sign %d outside {-1, 0, 1}", row.Sign)}
			}
			dense[row.Node] = Score{P: row.P, Sign: row.Sign}
			filled[row.Node] = true
		}
		for node, ok := range filled {
			if !ok {
				return nil, &ScoreMismatchError{Feature: fr.Feature, Node: node, Reason: "no score row for node"}
			}
		}
		if err := t.insert(fr.Feature, dense); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// ObservationMatrix carries raw two-group measurements for one feature.
// Group rows are per-sample vectors whose columns follow Leaves, which must
// list every tree leaf exactly once.
type ObservationMatrix struct {
	Feature string
	Leaves  []int
	Group1  [][]float64
	Group2  [][]float64
}

// FromObservations sums raw leaf observations up the tree (one total per
// node per sample), runs the two-sample test at every node, and assembles a
// Table. A degenerate test result is recovered locally: p = 1 with the sign
// of the raw group mean difference, 0 only on an exact tie.
func FromObservations(ix *tree.Index, input []ObservationMatrix, test stattest.TwoSample) (*Table, error) {
	if ix == nil {
		return nil, errors.New("nil tree index")
	}
	if len(input) == 0 {
		return nil, &ScoreMismatchError{Node: -1, Reason: "no features supplied"}
	}
	if test == nil {
		test = stattest.WilcoxonRankSum
	}

	n := ix.NumNodes()
	t := &Table{index: make(map[string]int, len(input)), numNodes: n}
	for _, m := range input {
		colAtPos, err := leafColumns(ix, m)
		if err != nil {
			return nil, err
		}
		if len(m.Group1) == 0 || len(m.Group2) == 0 {
			return nil, &ScoreMismatchError{Feature: m.Feature, Node: -1, Reason: "each group needs at least one sample"}
		}
		for _, group := range [][][]float64{m.Group1, m.Group2} {
			for _, row := range group {
				if len(row) != len(m.Leaves) {
					return nil, &ScoreMismatchError{Feature: m.Feature, Node: -1, Reason: fmt.Sprintf("sample width %d for %d leaf columns", len(row), len(m.Leaves))}
				}
			}
		}

		prefix1 := groupPrefixSums(colAtPos, m.Group1)
		prefix2 := groupPrefixSums(colAtPos, m.Group2)

		dense := make([]Score, n)
		for node := 0; node < n; node++ {
			lo, hi := ix.LeafInterval(node)
			xs := nodeTotals(prefix1, lo, hi)
			ys := nodeTotals(prefix2, lo, hi)

			p, sign, err := test(xs, ys)
			switch {
			case errors.Is(err, stattest.ErrDegenerate):
				p, sign = 1, signFromMeans(xs, ys)
			case err != nil:
				return nil, fmt.Errorf("feature %q: node %d: %w", m.Feature, node, err)
			case math.IsNaN(p):
				p, sign = 1, signFromMeans(xs, ys)
			}
			if p < 0 {
				p = 0
			}
			if p > 1 {
				p = 1
			}
			dense[node] = Score{P: p, Sign: sign}
		}
		if err := t.insert(m.Feature, dense); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// leafColumns maps Euler-tour leaf positions to observation columns.
func leafColumns(ix *tree.Index, m ObservationMatrix) ([]int, error) {
	if len(m.Leaves) != ix.NumLeaves() {
		return nil, &ScoreMismatchError{Feature: m.Feature, Node: -1, Reason: fmt.Sprintf("%d leaf columns for %d tree leaves", len(m.Leaves), ix.NumLeaves())}
	}
	colAtPos := make([]int, len(m.Leaves))
	seen := make([]bool, ix.NumNodes())
	for col, leaf := range m.Leaves {
		if leaf < 0 || leaf >= ix.NumNodes() || !ix.IsLeaf(leaf) {
			return nil, &ScoreMismatchError{Feature: m.Feature, Node: leaf, Reason: "not a tree leaf"}
		}
		if seen[leaf] {
			return nil, &ScoreMismatchError{Feature: m.Feature, Node: leaf, Reason: "duplicate leaf column"}
		}
		seen[leaf] = true
		pos, _ := ix.LeafInterval(leaf)
		colAtPos[pos] = col
	}
	return colAtPos, nil
}

// groupPrefixSums precomputes, per sample, the running sum of leaf values in
// tour order, so any node's total is one subtraction.
func groupPrefixSums(colAtPos []int, rows [][]float64) [][]float64 {
	prefixes := make([][]float64, len(rows))
	for s, row := range rows {
		prefix := make([]float64, len(colAtPos)+1)
		for pos, col := range colAtPos {
			prefix[pos+1] = prefix[pos] + row[col]
		}
		prefixes[s] = prefix
	}
	return prefixes
}

func nodeTotals(prefixes [][]float64, lo, hi int) []float64 {
	totals := make([]float64, len(prefixes))
	for s, prefix := range prefixes {
		totals[s] = prefix[hi] - prefix[lo]
	}
	return totals
}

func signFromMeans(xs, ys []float64) int {
	mx := stat.Mean(xs, nil)
	my := stat.Mean(ys, nil)
	switch {
	case my > mx:
		return 1
	case my < mx:
		return -1
	default:
		return 0
	}
}
