package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/arborstack/arbor-fdr/internal/evaluate"
	"github.com/arborstack/arbor-fdr/internal/scores"
	"github.com/arborstack/arbor-fdr/internal/tree"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// groupedIndex builds a 111-node tree: leaves 0-99, ten internal group
// nodes 100-109 holding ten leaves each, root 110.
func groupedIndex(t *testing.T) *tree.Index {
	t.Helper()
	edges := make([]tree.Edge, 0, 110)
	for g := 0; g < 10; g++ {
		edges = append(edges, tree.Edge{Parent: 110, Child: 100 + g})
		for l := 0; l < 10; l++ {
			edges = append(edges, tree.Edge{Parent: 100 + g, Child: 10*g + l})
		}
	}
	ix, err := tree.NewIndex(edges, 100, nil)
	if err != nil {
		t.Fatalf("NewIndex returned error: %v", err)
	}
	return ix
}

// groupedObservations measures ten features over eight samples per group.
// Every even-indexed feature is perturbed: leaves under the even group
// nodes (100, 102, 104, 106, 108) run higher in the second group.
func groupedObservations() []scores.ObservationMatrix {
	leaves := make([]int, 100)
	for i := range leaves {
		leaves[i] = i
	}
	input := make([]scores.ObservationMatrix, 0, 10)
	for f := 0; f < 10; f++ {
		perturbed := f%2 == 0
		g1 := make([][]float64, 8)
		g2 := make([][]float64, 8)
		for s := 0; s < 8; s++ {
			g1[s] = make([]float64, 100)
			g2[s] = make([]float64, 100)
			for l := 0; l < 100; l++ {
				base := float64(s + 1)
				g1[s][l] = base
				g2[s][l] = base
				if perturbed && (l/10)%2 == 0 {
					g2[s][l] += 10
				}
			}
		}
		input = append(input, scores.ObservationMatrix{
			Feature: fmt.Sprintf("gene%02d", f),
			Leaves:  leaves,
			Group1:  g1,
			Group2:  g2,
		})
	}
	return input
}

func TestDefaultGrid(t *testing.T) {
	grid := DefaultGrid()
	if len(grid) != 11 {
		t.Fatalf("grid has %d values, want 11", len(grid))
	}
	if grid[0] != 0 || grid[10] != 1 {
		t.Fatalf("grid spans [%v, %v], want [0, 1]", grid[0], grid[10])
	}
	for i := 1; i < len(grid); i++ {
		if grid[i] <= grid[i-1] {
			t.Fatalf("grid not ascending at index %d: %v", i, grid)
		}
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	ix := groupedIndex(t)
	table, err := scores.FromObservations(ix, groupedObservations(), nil)
	if err != nil {
		t.Fatalf("FromObservations returned error: %v", err)
	}

	pipe := NewPipeline(discardLogger(), nil)
	bundle, err := pipe.Run(context.Background(), ix, table, Params{Workers: 4})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	wantOrder := make([]string, 10)
	for f := range wantOrder {
		wantOrder[f] = fmt.Sprintf("gene%02d", f)
	}
	if !reflect.DeepEqual(bundle.Order, wantOrder) {
		t.Fatalf("Order = %v", bundle.Order)
	}
	if bundle.Method != "bh-single/sign-consistency" {
		t.Fatalf("Method = %q", bundle.Method)
	}
	if bundle.FDR.Target != 0.05 || bundle.FDR.Realized != 0 {
		t.Fatalf("FDR = %+v, want target 0.05 and realized 0", bundle.FDR)
	}

	signals := make(map[string][]int)
	for _, row := range bundle.Output {
		if row.Signal {
			signals[row.Feature] = append(signals[row.Feature], row.Node)
		}
	}

	wantSignals := []int{100, 102, 104, 106, 108}
	wantBest := make([]int, 0, 55)
	for g := 1; g < 10; g += 2 {
		for l := 0; l < 10; l++ {
			wantBest = append(wantBest, 10*g+l)
		}
	}
	wantBest = append(wantBest, wantSignals...)
	allLeaves := make([]int, 100)
	for i := range allLeaves {
		allLeaves[i] = i
	}

	for f := 0; f < 10; f++ {
		name := wantOrder[f]
		fr, ok := bundle.Features[name]
		if !ok {
			t.Fatalf("%s missing from Features", name)
		}
		if f%2 == 0 {
			// Perturbed: the five inflated group nodes are exactly the
			// signals, reported at the resolution that merges each of them.
			if !reflect.DeepEqual(signals[name], wantSignals) {
				t.Fatalf("%s signal nodes = %v, want %v", name, signals[name], wantSignals)
			}
			if !reflect.DeepEqual(fr.Best.Nodes, wantBest) {
				t.Fatalf("%s best candidate = %v, want %v", name, fr.Best.Nodes, wantBest)
			}
			if fr.Signals != 5 {
				t.Fatalf("%s Signals = %d, want 5", name, fr.Signals)
			}
			// The full tree collapses to the root only at maximum tolerance.
			if root := fr.Candidates[1.0].Nodes; !reflect.DeepEqual(root, []int{110}) {
				t.Fatalf("%s candidate at t=1 = %v, want [110]", name, root)
			}
		} else {
			// Unperturbed: no signals anywhere, and every tuning value
			// resolves to the full leaf set.
			if len(signals[name]) != 0 {
				t.Fatalf("%s has signal nodes %v, want none", name, signals[name])
			}
			if !reflect.DeepEqual(fr.Best.Nodes, allLeaves) {
				t.Fatalf("%s best candidate = %v, want all 100 leaves", name, fr.Best.Nodes)
			}
			for _, tv := range DefaultGrid() {
				if got := fr.Candidates[tv].Nodes; !reflect.DeepEqual(got, allLeaves) {
					t.Fatalf("%s candidate at t=%v is not the full leaf set", name, tv)
				}
			}
		}
	}

	// Rows stay grouped by feature in input order, 55 rows for a perturbed
	// feature and 100 for an unperturbed one.
	idx := 0
	for f := 0; f < 10; f++ {
		count := 100
		if f%2 == 0 {
			count = 55
		}
		for j := 0; j < count; j++ {
			if bundle.Output[idx].Feature != wantOrder[f] {
				t.Fatalf("row %d belongs to %s, want %s", idx, bundle.Output[idx].Feature, wantOrder[f])
			}
			idx++
		}
	}
	if idx != len(bundle.Output) {
		t.Fatalf("output has %d rows, want %d", len(bundle.Output), idx)
	}
}

func TestPipelineEndToEndMultiple(t *testing.T) {
	ix := groupedIndex(t)
	table, err := scores.FromObservations(ix, groupedObservations(), nil)
	if err != nil {
		t.Fatalf("FromObservations returned error: %v", err)
	}

	pipe := NewPipeline(discardLogger(), nil)
	bundle, err := pipe.Run(context.Background(), ix, table, Params{Mode: evaluate.ModeMultiple, Workers: 4})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if bundle.Method != "bh-multiple/sign-consistency" {
		t.Fatalf("Method = %q", bundle.Method)
	}

	// The pooled pass spans 775 rows, 25 of them strong; the inflated group
	// nodes survive the larger family.
	if got := bundle.TotalSignals(); got != 25 {
		t.Fatalf("TotalSignals = %d, want 25", got)
	}
	for _, row := range bundle.Output {
		if row.Signal {
			if row.Node < 100 || row.Node%2 != 0 {
				t.Fatalf("unexpected signal row %+v", row)
			}
			if row.AdjP <= row.P || row.AdjP > 0.05 {
				t.Fatalf("pooled AdjP = %v for raw %v, want within (raw, 0.05]", row.AdjP, row.P)
			}
		} else if row.AdjP != 1 {
			t.Fatalf("null row %+v should adjust to 1", row)
		}
	}
}

func TestPipelineDeterministic(t *testing.T) {
	ix := groupedIndex(t)
	table, err := scores.FromObservations(ix, groupedObservations(), nil)
	if err != nil {
		t.Fatalf("FromObservations returned error: %v", err)
	}

	pipe := NewPipeline(discardLogger(), nil)
	first, err := pipe.Run(context.Background(), ix, table, Params{Workers: 8})
	if err != nil {
		t.Fatalf("first Run returned error: %v", err)
	}
	second, err := pipe.Run(context.Background(), ix, table, Params{Workers: 2})
	if err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated runs differ")
	}
}

func TestPipelineRunValidation(t *testing.T) {
	ix := groupedIndex(t)
	table, err := scores.FromObservations(ix, groupedObservations()[:2], nil)
	if err != nil {
		t.Fatalf("FromObservations returned error: %v", err)
	}
	pipe := NewPipeline(nil, nil)

	if _, err := pipe.Run(context.Background(), nil, table, Params{}); err == nil {
		t.Fatalf("Run accepted a nil index")
	}
	if _, err := pipe.Run(context.Background(), ix, nil, Params{}); err == nil {
		t.Fatalf("Run accepted a nil table")
	}

	var ume *evaluate.UnknownModeError
	if _, err := pipe.Run(context.Background(), ix, table, Params{Mode: "both"}); !errors.As(err, &ume) {
		t.Fatalf("bad mode: err = %v, want *UnknownModeError", err)
	}

	if _, err := pipe.Run(context.Background(), ix, table, Params{Grid: []float64{0.5, 0.1}}); err == nil {
		t.Fatalf("Run accepted a descending grid")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pipe.Run(ctx, ix, table, Params{Workers: 1}); err == nil {
		t.Fatalf("Run ignored a canceled context")
	}
}
