// Package services hosts the analysis facade tying transport, engine,
// persistence and caching together.
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/arborstack/arbor-fdr/internal/cache"
	"github.com/arborstack/arbor-fdr/internal/engine"
	"github.com/arborstack/arbor-fdr/internal/evaluate"
	"github.com/arborstack/arbor-fdr/internal/insights"
	"github.com/arborstack/arbor-fdr/internal/metrics"
	"github.com/arborstack/arbor-fdr/internal/models"
	"github.com/arborstack/arbor-fdr/internal/scores"
	"github.com/arborstack/arbor-fdr/internal/stattest"
	"github.com/arborstack/arbor-fdr/internal/tree"
	"github.com/arborstack/arbor-fdr/internal/treeio"
	"github.com/arborstack/arbor-fdr/internal/utils"
)

// ValidationError reports an analysis request the service refused to run.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid analysis request: %s: %v", e.Reason, e.Err)
	}
	return "invalid analysis request: " + e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

// RunStore abstracts run persistence.
type RunStore interface {
	SaveRun(ctx context.Context, rec *models.RunRecord) error
	GetRun(ctx context.Context, runID string) (*models.RunRecord, error)
	ListRuns(ctx context.Context, q models.ListRunsRequest) ([]models.RunSummary, error)
	DeleteRun(ctx context.Context, runID string) error
}

// AnalysisOptions bound and tune the service.
type AnalysisOptions struct {
	MaxFeatures int           // reject requests above this feature count, 0 for unbounded
	MaxNodes    int           // reject trees above this node count, 0 for unbounded
	Workers     int           // candidate generation fan-out, NumCPU when 0
	CacheTTL    time.Duration // result cache lifetime, 0 for no expiry
	ListDefault int           // page size when a list request has no limit
}

// AnalysisService runs analyses and serves the stored run history. A nil
// store disables persistence; a nil cache provider disables result reuse.
type AnalysisService struct {
	logger    *slog.Logger
	pipeline  *engine.Pipeline
	store     RunStore
	cache     cache.Provider
	profiles  *engine.ProfileSet
	miner     *insights.Miner
	opts      AnalysisOptions
	latencies *utils.LatencyTracker
}

// NewAnalysisService constructs the service facade.
func NewAnalysisService(logger *slog.Logger, pipeline *engine.Pipeline, store RunStore,
	cacheProvider cache.Provider, profiles *engine.ProfileSet, miner *insights.Miner,
	opts AnalysisOptions) *AnalysisService {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.Disabled{}
	}
	if opts.ListDefault <= 0 {
		opts.ListDefault = 50
	}
	return &AnalysisService{
		logger:    logger,
		pipeline:  pipeline,
		store:     store,
		cache:     cacheProvider,
		profiles:  profiles,
		miner:     miner,
		opts:      opts,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Analyze validates the request, runs the pipeline, and returns the run
// record. Identical requests are answered from the result cache; completed
// runs are persisted best-effort.
func (s *AnalysisService) Analyze(ctx context.Context, req *models.AnalysisRequest) (*models.RunRecord, error) {
	if req == nil {
		return nil, &ValidationError{Reason: "request cannot be nil"}
	}
	if s.pipeline == nil {
		return nil, utils.NewAppError("service.analyze", "pipeline not configured", nil)
	}
	if err := s.validate(req); err != nil {
		return nil, err
	}
	params, profile, err := s.resolveParams(req.Params)
	if err != nil {
		return nil, err
	}

	digest, err := requestDigest(req, params)
	if err != nil {
		return nil, utils.NewAppError("service.analyze", "computing request digest", err)
	}
	if rec := s.cachedRun(ctx, digest); rec != nil {
		return rec, nil
	}

	ix, err := treeio.FromDocument(req.Tree)
	if err != nil {
		return nil, &ValidationError{Reason: "tree", Err: err}
	}
	if s.opts.MaxNodes > 0 && ix.NumNodes() > s.opts.MaxNodes {
		return nil, &ValidationError{Reason: fmt.Sprintf("tree has %d nodes, limit is %d", ix.NumNodes(), s.opts.MaxNodes)}
	}
	table, err := s.buildTable(ix, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	bundle, err := s.pipeline.Run(ctx, ix, table, params)
	elapsed := time.Since(start)
	if err != nil {
		metrics.ObserveAnalysis(elapsed, metrics.OutcomeError, 0)
		s.logger.Error("analysis pipeline failed", slog.Any("error", err))
		return nil, err
	}
	metrics.ObserveAnalysis(elapsed, metrics.OutcomeSuccess, len(bundle.Order))
	s.latencies.Observe(elapsed)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("analysis latency",
			slog.Duration("p95", s.latencies.Percentile(95)),
			slog.Int("samples", count))
	}

	rec := runRecordFromBundle(bundle, elapsed, digest, profile)
	if s.store != nil {
		if err := s.store.SaveRun(ctx, rec); err != nil {
			s.logger.Warn("run store failed", slog.String("run_id", rec.RunID), slog.Any("error", err))
		}
	}
	s.storeCached(ctx, digest, rec)
	return rec, nil
}

// GetRun loads one stored run.
func (s *AnalysisService) GetRun(ctx context.Context, runID string) (*models.RunRecord, error) {
	if s.store == nil {
		return nil, utils.NewAppError("service.get", "run store not configured", nil)
	}
	return s.store.GetRun(ctx, runID)
}

// ListRuns returns stored run summaries, applying the default page size
// when the request has none.
func (s *AnalysisService) ListRuns(ctx context.Context, q models.ListRunsRequest) ([]models.RunSummary, error) {
	if s.store == nil {
		return nil, utils.NewAppError("service.list", "run store not configured", nil)
	}
	if q.Mode != "" {
		if _, err := evaluate.ParseMode(q.Mode); err != nil {
			return nil, &ValidationError{Reason: "mode filter", Err: err}
		}
	}
	if q.Limit <= 0 {
		q.Limit = s.opts.ListDefault
	}
	return s.store.ListRuns(ctx, q)
}

// DeleteRun removes a stored run and drops its cached result.
func (s *AnalysisService) DeleteRun(ctx context.Context, runID string) error {
	if s.store == nil {
		return utils.NewAppError("service.delete", "run store not configured", nil)
	}
	rec, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if rec.Digest != "" {
		if err := s.cache.Del(ctx, rec.Digest); err != nil {
			s.logger.Warn("cache invalidation failed", slog.String("run_id", runID), slog.Any("error", err))
		}
	}
	return s.store.DeleteRun(ctx, runID)
}

// Hotspots aggregates flagged nodes across stored runs.
func (s *AnalysisService) Hotspots(ctx context.Context, since time.Time, minRuns, limit int) ([]models.Hotspot, error) {
	if s.miner == nil {
		return nil, utils.NewAppError("service.hotspots", "insights miner not configured", nil)
	}
	return s.miner.Hotspots(ctx, since, minRuns, limit)
}

// LatencyP95 reports the current p95 analysis latency.
func (s *AnalysisService) LatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}

func (s *AnalysisService) validate(req *models.AnalysisRequest) error {
	hasScores := len(req.Scores) > 0
	hasObs := len(req.Observations) > 0
	switch {
	case hasScores && hasObs:
		return &ValidationError{Reason: "request carries both scores and observations"}
	case !hasScores && !hasObs:
		return &ValidationError{Reason: "request carries neither scores nor observations"}
	}

	features := len(req.Scores)
	if hasObs {
		features = len(req.Observations)
	}
	if s.opts.MaxFeatures > 0 && features > s.opts.MaxFeatures {
		return &ValidationError{Reason: fmt.Sprintf("%d features exceed the limit of %d", features, s.opts.MaxFeatures)}
	}

	if hasScores && req.Params.Test != "" {
		return &ValidationError{Reason: "test applies to observations, not precomputed scores"}
	}
	return nil
}

func (s *AnalysisService) resolveParams(p models.AnalysisParams) (engine.Params, string, error) {
	params := engine.Params{Workers: s.opts.Workers}
	profile := ""
	if p.Profile != "" {
		base, ok := s.profiles.Resolve(p.Profile)
		if !ok {
			return engine.Params{}, "", &ValidationError{Reason: fmt.Sprintf("unknown profile %q", p.Profile)}
		}
		params.Grid = base.Grid
		params.Alpha = base.Alpha
		params.Mode = base.Mode
		profile = p.Profile
	}

	if p.Grid != nil {
		params.Grid = p.Grid
	}
	if p.Alpha != 0 {
		params.Alpha = p.Alpha
	}
	if p.Mode != "" {
		mode, err := evaluate.ParseMode(p.Mode)
		if err != nil {
			return engine.Params{}, "", &ValidationError{Reason: "mode", Err: err}
		}
		params.Mode = mode
	}

	if params.Alpha < 0 || params.Alpha >= 1 {
		return engine.Params{}, "", &ValidationError{Reason: fmt.Sprintf("alpha %v outside (0, 1)", params.Alpha)}
	}
	if params.Grid != nil {
		if err := checkGrid(params.Grid); err != nil {
			return engine.Params{}, "", &ValidationError{Reason: "grid", Err: err}
		}
	}
	return params, profile, nil
}

func checkGrid(grid []float64) error {
	if len(grid) == 0 {
		return errors.New("empty tuning grid")
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

func (s *AnalysisService) buildTable(ix *tree.Index, req *models.AnalysisRequest) (*scores.Table, error) {
	if len(req.Scores) > 0 {
		table, err := scores.FromRows(ix, toFeatureRows(req.Scores))
		if err != nil {
			return nil, &ValidationError{Reason: "scores", Err: err}
		}
		return table, nil
	}

	test, err := stattest.ByName(req.Params.Test)
	if err != nil {
		return nil, &ValidationError{Reason: "test", Err: err}
	}
	table, err := scores.FromObservations(ix, toObservationMatrices(req.Observations), test)
	if err != nil {
		return nil, &ValidationError{Reason: "observations", Err: err}
	}
	return table, nil
}

// requestDigest fingerprints the effective analysis inputs: the submitted
// tree and data plus the resolved parameters.
func requestDigest(req *models.AnalysisRequest, params engine.Params) (string, error) {
	payload := struct {
		Tree         models.TreeDocument          `json:"tree"`
		Scores       []models.FeatureScores       `json:"scores,omitempty"`
		Observations []models.FeatureObservations `json:"observations,omitempty"`
		Test         string                       `json:"test,omitempty"`
		Grid         []float64                    `json:"grid"`
		Alpha        float64                      `json:"alpha"`
		Mode         string                       `json:"mode"`
	}{
		Tree:         req.Tree,
		Scores:       req.Scores,
		Observations: req.Observations,
		Test:         req.Params.Test,
		Grid:         params.Grid,
		Alpha:        params.Alpha,
		Mode:         string(params.Mode),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

func (s *AnalysisService) cachedRun(ctx context.Context, digest string) *models.RunRecord {
	raw, err := s.cache.Get(ctx, digest)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("result cache read failed", slog.Any("error", err))
		}
		metrics.CacheEvent(metrics.CacheMiss)
		return nil
	}
	var rec models.RunRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.logger.Warn("result cache entry corrupt", slog.Any("error", err))
		metrics.CacheEvent(metrics.CacheMiss)
		return nil
	}
	metrics.CacheEvent(metrics.CacheHit)
	s.logger.Debug("analysis served from cache", slog.String("run_id", rec.RunID))
	return &rec
}

func (s *AnalysisService) storeCached(ctx context.Context, digest string, rec *models.RunRecord) {
	raw, err := json.Marshal(rec)
	if err != nil {
		s.logger.Warn("result cache encode failed", slog.Any("error", err))
		return
	}
	if err := s.cache.Set(ctx, digest, raw, s.opts.CacheTTL); err != nil {
		s.logger.Warn("result cache write failed", slog.Any("error", err))
	}
}
