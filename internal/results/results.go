// Package results assembles the typed product of one analysis run: the
// full candidate families, the selected resolution per feature, the flat
// output table, and its schema description.
package results

import (
	"fmt"

	"github.com/arborstack/arbor-fdr/internal/candidate"
	"github.com/arborstack/arbor-fdr/internal/evaluate"
)

// ConsistencyError reports an internally inconsistent assembly input. It
// flags a defect in an upstream stage, not bad user data.
type ConsistencyError struct {
	Feature string
	Reason  string
}

func (e *ConsistencyError) Error() string {
	if e.Feature == "" {
		return fmt.Sprintf("inconsistent result assembly: %s", e.Reason)
	}
	return fmt.Sprintf("inconsistent result assembly: feature %q: %s", e.Feature, e.Reason)
}

// Column describes one output table column.
type Column struct {
	Name    string
	Type    string
	Meaning string
}

// FDR pairs the configured target level with the realized estimate.
type FDR struct {
	Target   float64
	Realized float64
}

// FeatureResult collects everything produced for one feature: the full
// tuning family keyed by tuning value, and the selected resolution.
type FeatureResult struct {
	Candidates map[float64]candidate.Candidate
	Best       candidate.Candidate
	Signals    int
	Estimate   float64
}

// Bundle is the complete typed product of one analysis run. Output rows
// are grouped by feature in input order and ascend by node id within a
// feature; Order preserves the feature input order for iteration over
// Features.
type Bundle struct {
	Order    []string
	Features map[string]FeatureResult
	Output   []evaluate.Row
	FDR      FDR
	Method   string
	Mode     evaluate.Mode
	Columns  []Column
}

// TotalSignals counts flagged rows across the whole output table.
func (b *Bundle) TotalSignals() int {
	n := 0
	for _, row := range b.Output {
		if row.Signal {
			n++
		}
	}
	return n
}

// Assemble validates and packages the evaluator's outcome together with
// the full candidate families. Every feature with a candidate family must
// carry a matching outcome, a selected resolution drawn from that family,
// and one output row per selected node.
func Assemble(input []evaluate.FeatureCandidates, outcome *evaluate.Outcome) (*Bundle, error) {
	if outcome == nil {
		return nil, &ConsistencyError{Reason: "nil evaluation outcome"}
	}
	if len(input) != len(outcome.Features) {
		return nil, &ConsistencyError{Reason: fmt.Sprintf("%d candidate families against %d feature outcomes", len(input), len(outcome.Features))}
	}

	bundle := &Bundle{
		Order:    make([]string, 0, len(input)),
		Features: make(map[string]FeatureResult, len(input)),
		Output:   outcome.Rows,
		FDR:      FDR{Target: outcome.Alpha, Realized: outcome.RealizedFDR},
		Method:   outcome.Method,
		Mode:     outcome.Mode,
		Columns:  columnsFor(outcome.Mode),
	}

	rowAt := 0
	for i, fc := range input {
		fo := outcome.Features[i]
		if fo.Feature != fc.Feature {
			return nil, &ConsistencyError{Feature: fc.Feature, Reason: fmt.Sprintf("outcome position %d holds feature %q", i, fo.Feature)}
		}
		if _, dup := bundle.Features[fc.Feature]; dup {
			return nil, &ConsistencyError{Feature: fc.Feature, Reason: "duplicate feature key"}
		}

		candidates := make(map[float64]candidate.Candidate, len(fc.List))
		bestListed := false
		for _, cand := range fc.List {
			candidates[cand.T] = cand
			if cand.T == fo.Best.T {
				bestListed = true
			}
		}
		if !bestListed {
			return nil, &ConsistencyError{Feature: fc.Feature, Reason: fmt.Sprintf("selected resolution t=%v absent from candidate family", fo.Best.T)}
		}
		if len(fo.Rows) != len(fo.Best.Nodes) {
			return nil, &ConsistencyError{Feature: fc.Feature, Reason: fmt.Sprintf("%d output rows against %d selected nodes", len(fo.Rows), len(fo.Best.Nodes))}
		}
		for j, row := range fo.Rows {
			if row.Node != fo.Best.Nodes[j] {
				return nil, &ConsistencyError{Feature: fc.Feature, Reason: fmt.Sprintf("output row %d holds node %d, selected node is %d", j, row.Node, fo.Best.Nodes[j])}
			}
			if rowAt >= len(outcome.Rows) || outcome.Rows[rowAt] != row {
				return nil, &ConsistencyError{Feature: fc.Feature, Reason: "flat output table out of step with per-feature rows"}
			}
			rowAt++
		}

		bundle.Order = append(bundle.Order, fc.Feature)
		bundle.Features[fc.Feature] = FeatureResult{
			Candidates: candidates,
			Best:       fo.Best,
			Signals:    fo.Signals,
			Estimate:   fo.Estimate,
		}
	}
	if rowAt != len(outcome.Rows) {
		return nil, &ConsistencyError{Reason: fmt.Sprintf("flat output table carries %d rows beyond the per-feature sum", len(outcome.Rows)-rowAt)}
	}
	return bundle, nil
}

// columnsFor describes the output schema. The feature column exists only
// in multiple mode, where rows from different features share one table.
func columnsFor(mode evaluate.Mode) []Column {
	cols := make([]Column, 0, 6)
	cols = append(cols, Column{Name: "node", Type: "int", Meaning: "tree node id within the selected resolution"})
	if mode == evaluate.ModeMultiple {
		cols = append(cols, Column{Name: "feature", Type: "string", Meaning: "feature the row belongs to"})
	}
	cols = append(cols,
		Column{Name: "pvalue", Type: "float64", Meaning: "raw p-value of the node's two-sample test"},
		Column{Name: "sign", Type: "int", Meaning: "direction of the group difference, -1, 0 or 1"},
		Column{Name: "adj_pvalue", Type: "float64", Meaning: "multiplicity-adjusted p-value within its correction family"},
		Column{Name: "signal", Type: "bool", Meaning: "true when adj_pvalue is at or below the target level"},
	)
	return cols
}
