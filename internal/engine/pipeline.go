package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arborstack/arbor-fdr/internal/candidate"
	"github.com/arborstack/arbor-fdr/internal/evaluate"
	"github.com/arborstack/arbor-fdr/internal/results"
	"github.com/arborstack/arbor-fdr/internal/scores"
	"github.com/arborstack/arbor-fdr/internal/tree"
)

// DefaultGrid returns the evenly spaced tuning sequence 0.0 through 1.0 in
// steps of 0.1.
func DefaultGrid() []float64 {
	grid := make([]float64, 11)
	for i := range grid {
		grid[i] = float64(i) / 10
	}
	return grid
}

// Params configure one analysis run.
type Params struct {
	Grid    []float64     // ascending tuning values in [0, 1], DefaultGrid when nil
	Alpha   float64       // target false-discovery level, evaluate.DefaultAlpha when 0
	Mode    evaluate.Mode // cross-feature handling, single when empty
	Workers int           // generation fan-out width, NumCPU when 0
}

// Pipeline runs candidate generation, resolution evaluation, and result
// assembly over one tree and score table.
type Pipeline struct {
	logger *slog.Logger
	proxy  evaluate.ProxyEstimator
}

// NewPipeline constructs an analysis pipeline. A nil proxy selects the
// sign-consistency estimator.
func NewPipeline(logger *slog.Logger, proxy evaluate.ProxyEstimator) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{logger: logger, proxy: proxy}
}

// Run generates the candidate family of every feature over the tuning
// grid, evaluates the families, and assembles the result bundle. Features
// fan out across params.Workers goroutines; each traversal reads only the
// shared tree and its own score slice, and output ordering is fixed by the
// table's feature order, never by scheduling.
func (p *Pipeline) Run(ctx context.Context, ix *tree.Index, table *scores.Table, params Params) (*results.Bundle, error) {
	if ix == nil {
		return nil, fmt.Errorf("nil tree index")
	}
	if table == nil {
		return nil, fmt.Errorf("nil score table")
	}
	mode, err := evaluate.ParseMode(string(params.Mode))
	if err != nil {
		return nil, err
	}
	grid := params.Grid
	if grid == nil {
		grid = DefaultGrid()
	}
	features := table.Features()
	if len(features) == 0 {
		return nil, fmt.Errorf("score table holds no features")
	}
	workers := params.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	start := time.Now()
	families := make([]evaluate.FeatureCandidates, len(features))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, feature := range features {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			feat, _ := table.Scores(feature)
			list, err := candidate.Generate(ix, feat, grid)
			if err != nil {
				return fmt.Errorf("feature %q: %w", feature, err)
			}
			families[i] = evaluate.FeatureCandidates{Feature: feature, List: list}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	p.logger.Debug("candidate generation complete",
		slog.Int("features", len(features)),
		slog.Int("grid", len(grid)),
		slog.Duration("elapsed", time.Since(start)))

	ev, err := evaluate.NewEvaluator(ix, table, evaluate.Options{Alpha: params.Alpha, Proxy: p.proxy})
	if err != nil {
		return nil, err
	}
	outcome, err := ev.Evaluate(families, mode)
	if err != nil {
		return nil, err
	}
	bundle, err := results.Assemble(families, outcome)
	if err != nil {
		return nil, err
	}

	p.logger.Info("analysis complete",
		slog.Int("features", len(features)),
		slog.String("mode", string(mode)),
		slog.Int("signals", bundle.TotalSignals()),
		slog.Float64("realized_fdr", bundle.FDR.Realized),
		slog.Duration("elapsed", time.Since(start)))
	return bundle, nil
}
