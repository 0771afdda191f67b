package evaluate

import (
	"fmt"

	"github.com/arborstack/arbor-fdr/internal/candidate"
	"github.com/arborstack/arbor-fdr/internal/scores"
	"github.com/arborstack/arbor-fdr/internal/tree"
)

// DefaultAlpha is the target false-discovery level when none is configured.
const DefaultAlpha = 0.05

// Mode selects how signal flags are finalized across features.
type Mode string

const (
	// ModeSingle finalizes each feature's decisions at its own resolution.
	ModeSingle Mode = "single"
	// ModeMultiple pools the selected rows of every feature into one
	// cross-feature correction pass before assigning flags.
	ModeMultiple Mode = "multiple"
)

// UnknownModeError reports a mode outside {single, multiple}.
type UnknownModeError struct {
	Mode string
}

func (e *UnknownModeError) Error() string {
	return fmt.Sprintf("unknown evaluation mode %q (want single or multiple)", e.Mode)
}

// ParseMode validates a raw mode flag. The empty string selects ModeSingle.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case "", ModeSingle:
		return ModeSingle, nil
	case ModeMultiple:
		return ModeMultiple, nil
	default:
		return "", &UnknownModeError{Mode: raw}
	}
}

// Options configure an Evaluator.
type Options struct {
	Alpha float64        // target false-discovery level, DefaultAlpha when 0
	Proxy ProxyEstimator // achieved-FDR estimator, SignConsistency when nil
}

// Evaluator corrects candidate families for multiplicity and selects the
// best resolution per feature.
type Evaluator struct {
	ix    *tree.Index
	table *scores.Table
	proxy ProxyEstimator
	alpha float64
}

// NewEvaluator builds an Evaluator over a fixed tree and score table.
func NewEvaluator(ix *tree.Index, table *scores.Table, opts Options) (*Evaluator, error) {
	if ix == nil {
		return nil, fmt.Errorf("nil tree index")
	}
	if table == nil {
		return nil, fmt.Errorf("nil score table")
	}
	alpha := opts.Alpha
	if alpha == 0 {
		alpha = DefaultAlpha
	}
	if alpha < 0 || alpha >= 1 {
		return nil, fmt.Errorf("alpha %v outside (0, 1)", alpha)
	}
	proxy := opts.Proxy
	if proxy == nil {
		proxy = SignConsistency{}
	}
	return &Evaluator{ix: ix, table: table, proxy: proxy, alpha: alpha}, nil
}

// Alpha returns the configured target level.
func (e *Evaluator) Alpha() float64 { return e.alpha }

// FeatureCandidates pairs a feature with its generated candidate family.
type FeatureCandidates struct {
	Feature string
	List    candidate.List
}

// Row is one output table entry.
type Row struct {
	Feature string
	Node    int
	P       float64
	Sign    int
	AdjP    float64
	Signal  bool
}

// FeatureOutcome is the finalized product for one feature.
type FeatureOutcome struct {
	Feature  string
	Best     candidate.Candidate
	Rows     []Row // rows of the selected candidate, ascending by node id
	Signals  int
	Estimate float64 // estimated false-discovery proportion at Best.T
}

// Outcome is the full evaluation product across features.
type Outcome struct {
	Mode        Mode
	Method      string
	Alpha       float64
	RealizedFDR float64
	Features    []FeatureOutcome
	Rows        []Row // flat table grouped by feature in input order
}

// Evaluate runs per-candidate correction, per-feature resolution selection,
// and, in multiple mode, the pooled cross-feature pass. Output rows are
// grouped by feature in input order and ascend by node id within a feature.
func (e *Evaluator) Evaluate(input []FeatureCandidates, mode Mode) (*Outcome, error) {
	switch mode {
	case "":
		mode = ModeSingle
	case ModeSingle, ModeMultiple:
	default:
		return nil, &UnknownModeError{Mode: string(mode)}
	}
	if len(input) == 0 {
		return nil, fmt.Errorf("no features to evaluate")
	}

	outcome := &Outcome{
		Mode:   mode,
		Method: fmt.Sprintf("bh-%s/%s", mode, e.proxy.Name()),
		Alpha:  e.alpha,
	}
	for _, fc := range input {
		fo, err := e.evaluateFeature(fc)
		if err != nil {
			return nil, err
		}
		outcome.Features = append(outcome.Features, fo)
		if fo.Estimate > outcome.RealizedFDR {
			outcome.RealizedFDR = fo.Estimate
		}
	}

	if mode == ModeMultiple {
		poolAcrossFeatures(outcome, e.alpha)
	}
	for _, fo := range outcome.Features {
		outcome.Rows = append(outcome.Rows, fo.Rows...)
	}
	return outcome, nil
}

func (e *Evaluator) evaluateFeature(fc FeatureCandidates) (FeatureOutcome, error) {
	feat, ok := e.table.Scores(fc.Feature)
	if !ok {
		return FeatureOutcome{}, &scores.ScoreMismatchError{Feature: fc.Feature, Node: -1, Reason: "feature missing from score table"}
	}
	if len(fc.List) == 0 {
		return FeatureOutcome{}, fmt.Errorf("feature %q: empty candidate list", fc.Feature)
	}

	// Each candidate's node set is one hypothesis family: its nodes are
	// disjoint in leaf coverage, so the family is the unit of correction.
	adjusted := make([][]float64, len(fc.List))
	signals := make([][]SignalNode, len(fc.List))
	for i, cand := range fc.List {
		ps := make([]float64, len(cand.Nodes))
		for j, node := range cand.Nodes {
			if node < 0 || node >= len(feat) {
				return FeatureOutcome{}, &scores.ScoreMismatchError{Feature: fc.Feature, Node: node, Reason: "candidate references node absent from score table"}
			}
			ps[j] = feat[node].P
		}
		adjusted[i] = AdjustBH(ps)
		for j, node := range cand.Nodes {
			if adjusted[i][j] <= e.alpha {
				signals[i] = append(signals[i], SignalNode{Node: node, Sign: feat[node].Sign})
			}
		}
	}

	estimates := make([]float64, len(fc.List))
	for i := range fc.List {
		others := make([]SignalNode, 0)
		for j := range fc.List {
			if j != i {
				others = append(others, signals[j]...)
			}
		}
		estimates[i] = e.proxy.Estimate(e.ix, signals[i], others)
	}

	best := e.selectBest(signals, estimates)
	bestCand := fc.List[best]
	rows := make([]Row, len(bestCand.Nodes))
	for j, node := range bestCand.Nodes {
		rows[j] = Row{
			Feature: fc.Feature,
			Node:    node,
			P:       feat[node].P,
			Sign:    feat[node].Sign,
			AdjP:    adjusted[best][j],
			Signal:  adjusted[best][j] <= e.alpha,
		}
	}

	return FeatureOutcome{
		Feature:  fc.Feature,
		Best:     bestCand,
		Rows:     rows,
		Signals:  len(signals[best]),
		Estimate: estimates[best],
	}, nil
}

// selectBest picks the resolution with the most signal nodes among those
// whose estimate stays within alpha; ties go to the smaller t. When no
// resolution qualifies, it falls back to the smallest estimate, then the
// fewest signals, then the smaller t.
func (e *Evaluator) selectBest(signals [][]SignalNode, estimates []float64) int {
	best := -1
	for i := range signals {
		if estimates[i] > e.alpha {
			continue
		}
		if best == -1 || len(signals[i]) > len(signals[best]) {
			best = i
		}
	}
	if best != -1 {
		return best
	}
	for i := range signals {
		switch {
		case best == -1:
			best = i
		case estimates[i] < estimates[best]:
			best = i
		case estimates[i] == estimates[best] && len(signals[i]) < len(signals[best]):
			best = i
		}
	}
	return best
}

// poolAcrossFeatures reruns the correction once over the raw p-values of
// every selected row and reassigns flags at the pooled level.
func poolAcrossFeatures(outcome *Outcome, alpha float64) {
	var pooled []float64
	for _, fo := range outcome.Features {
		for _, row := range fo.Rows {
			pooled = append(pooled, row.P)
		}
	}
	adjusted := AdjustBH(pooled)

	k := 0
	for i := range outcome.Features {
		fo := &outcome.Features[i]
		count := 0
		for j := range fo.Rows {
			fo.Rows[j].AdjP = adjusted[k]
			fo.Rows[j].Signal = adjusted[k] <= alpha
			if fo.Rows[j].Signal {
				count++
			}
			k++
		}
		fo.Signals = count
	}
}
