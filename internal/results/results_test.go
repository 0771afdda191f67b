package results

import (
	"errors"
	"reflect"
	"testing"

	"github.com/arborstack/arbor-fdr/internal/candidate"
	"github.com/arborstack/arbor-fdr/internal/evaluate"
)

func wellFormed() ([]evaluate.FeatureCandidates, *evaluate.Outcome) {
	input := []evaluate.FeatureCandidates{
		{Feature: "geneA", List: candidate.List{
			{T: 0, Nodes: []int{0, 1, 2, 3}},
			{T: 0.5, Nodes: []int{2, 3, 4}},
		}},
		{Feature: "geneB", List: candidate.List{
			{T: 0, Nodes: []int{0, 1, 2, 3}},
		}},
	}
	rowsA := []evaluate.Row{
		{Feature: "geneA", Node: 2, P: 1, Sign: 0, AdjP: 1, Signal: false},
		{Feature: "geneA", Node: 3, P: 1, Sign: 0, AdjP: 1, Signal: false},
		{Feature: "geneA", Node: 4, P: 0.001, Sign: 1, AdjP: 0.003, Signal: true},
	}
	rowsB := []evaluate.Row{
		{Feature: "geneB", Node: 0, P: 1, Sign: 0, AdjP: 1, Signal: false},
		{Feature: "geneB", Node: 1, P: 1, Sign: 0, AdjP: 1, Signal: false},
		{Feature: "geneB", Node: 2, P: 1, Sign: 0, AdjP: 1, Signal: false},
		{Feature: "geneB", Node: 3, P: 1, Sign: 0, AdjP: 1, Signal: false},
	}
	outcome := &evaluate.Outcome{
		Mode:        evaluate.ModeSingle,
		Method:      "bh-single/sign-consistency",
		Alpha:       0.05,
		RealizedFDR: 0,
		Features: []evaluate.FeatureOutcome{
			{Feature: "geneA", Best: input[0].List[1], Rows: rowsA, Signals: 1, Estimate: 0},
			{Feature: "geneB", Best: input[1].List[0], Rows: rowsB, Signals: 0, Estimate: 0},
		},
	}
	outcome.Rows = append(append([]evaluate.Row{}, rowsA...), rowsB...)
	return input, outcome
}

func TestAssembleBuildsBundle(t *testing.T) {
	input, outcome := wellFormed()

	bundle, err := Assemble(input, outcome)
	if err != nil {
		t.Fatalf("Assemble returned error: %v", err)
	}

	if !reflect.DeepEqual(bundle.Order, []string{"geneA", "geneB"}) {
		t.Fatalf("Order = %v", bundle.Order)
	}
	fr, ok := bundle.Features["geneA"]
	if !ok {
		t.Fatalf("geneA missing from Features")
	}
	if len(fr.Candidates) != 2 {
		t.Fatalf("geneA carries %d candidates, want 2", len(fr.Candidates))
	}
	if got := fr.Candidates[0.5]; !reflect.DeepEqual(got.Nodes, []int{2, 3, 4}) {
		t.Fatalf("candidate at t=0.5 = %v", got.Nodes)
	}
	if fr.Best.T != 0.5 || fr.Signals != 1 {
		t.Fatalf("Best.T = %v with %d signals, want 0.5 and 1", fr.Best.T, fr.Signals)
	}
	if bundle.FDR != (FDR{Target: 0.05, Realized: 0}) {
		t.Fatalf("FDR = %+v", bundle.FDR)
	}
	if bundle.Method != "bh-single/sign-consistency" {
		t.Fatalf("Method = %q", bundle.Method)
	}
	if len(bundle.Output) != 7 {
		t.Fatalf("Output has %d rows, want 7", len(bundle.Output))
	}
	if got := bundle.TotalSignals(); got != 1 {
		t.Fatalf("TotalSignals = %d, want 1", got)
	}
}

func TestAssembleColumnSchema(t *testing.T) {
	input, outcome := wellFormed()

	single, err := Assemble(input, outcome)
	if err != nil {
		t.Fatalf("Assemble returned error: %v", err)
	}
	wantSingle := []string{"node", "pvalue", "sign", "adj_pvalue", "signal"}
	if got := columnNames(single.Columns); !reflect.DeepEqual(got, wantSingle) {
		t.Fatalf("single-mode columns = %v, want %v", got, wantSingle)
	}

	input, outcome = wellFormed()
	outcome.Mode = evaluate.ModeMultiple
	multiple, err := Assemble(input, outcome)
	if err != nil {
		t.Fatalf("Assemble returned error: %v", err)
	}
	wantMultiple := []string{"node", "feature", "pvalue", "sign", "adj_pvalue", "signal"}
	if got := columnNames(multiple.Columns); !reflect.DeepEqual(got, wantMultiple) {
		t.Fatalf("multiple-mode columns = %v, want %v", got, wantMultiple)
	}
	for _, col := range multiple.Columns {
		if col.Type == "" || col.Meaning == "" {
			t.Fatalf("column %q lacks type or meaning", col.Name)
		}
	}
}

func columnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

func TestAssembleRejectsInconsistentInput(t *testing.T) {
	cases := []struct {
		name        string
		corrupt     func(input []evaluate.FeatureCandidates, outcome *evaluate.Outcome) ([]evaluate.FeatureCandidates, *evaluate.Outcome)
		wantFeature string
	}{
		{
			name: "feature count mismatch",
			corrupt: func(in []evaluate.FeatureCandidates, out *evaluate.Outcome) ([]evaluate.FeatureCandidates, *evaluate.Outcome) {
				out.Features = out.Features[:1]
				return in, out
			},
		},
		{
			name: "feature order mismatch",
			corrupt: func(in []evaluate.FeatureCandidates, out *evaluate.Outcome) ([]evaluate.FeatureCandidates, *evaluate.Outcome) {
				out.Features[0], out.Features[1] = out.Features[1], out.Features[0]
				return in, out
			},
			wantFeature: "geneA",
		},
		{
			name: "best resolution outside family",
			corrupt: func(in []evaluate.FeatureCandidates, out *evaluate.Outcome) ([]evaluate.FeatureCandidates, *evaluate.Outcome) {
				out.Features[0].Best.T = 0.7
				return in, out
			},
			wantFeature: "geneA",
		},
		{
			name: "row count against selected nodes",
			corrupt: func(in []evaluate.FeatureCandidates, out *evaluate.Outcome) ([]evaluate.FeatureCandidates, *evaluate.Outcome) {
				out.Features[0].Rows = out.Features[0].Rows[:2]
				return in, out
			},
			wantFeature: "geneA",
		},
		{
			name: "row node against selected node",
			corrupt: func(in []evaluate.FeatureCandidates, out *evaluate.Outcome) ([]evaluate.FeatureCandidates, *evaluate.Outcome) {
				out.Features[0].Rows[1].Node = 5
				return in, out
			},
			wantFeature: "geneA",
		},
		{
			name: "flat table out of step",
			corrupt: func(in []evaluate.FeatureCandidates, out *evaluate.Outcome) ([]evaluate.FeatureCandidates, *evaluate.Outcome) {
				out.Rows[0], out.Rows[1] = out.Rows[1], out.Rows[0]
				return in, out
			},
			wantFeature: "geneA",
		},
		{
			name: "flat table trailing rows",
			corrupt: func(in []evaluate.FeatureCandidates, out *evaluate.Outcome) ([]evaluate.FeatureCandidates, *evaluate.Outcome) {
				out.Rows = append(out.Rows, evaluate.Row{Feature: "geneB", Node: 4, P: 1, AdjP: 1})
				return in, out
			},
		},
		{
			name: "duplicate feature key",
			corrupt: func(in []evaluate.FeatureCandidates, out *evaluate.Outcome) ([]evaluate.FeatureCandidates, *evaluate.Outcome) {
				in[1] = in[0]
				out.Features[1] = out.Features[0]
				out.Rows = append(append([]evaluate.Row{}, out.Features[0].Rows...), out.Features[0].Rows...)
				return in, out
			},
			wantFeature: "geneA",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input, outcome := tc.corrupt(wellFormed())
			_, err := Assemble(input, outcome)
			var ce *ConsistencyError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want *ConsistencyError", err)
			}
			if ce.Feature != tc.wantFeature {
				t.Fatalf("error names feature %q, want %q", ce.Feature, tc.wantFeature)
			}
		})
	}

	if _, err := Assemble(nil, nil); err == nil {
		t.Fatalf("Assemble accepted a nil outcome")
	}
}
