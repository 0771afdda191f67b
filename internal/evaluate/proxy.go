package evaluate

import "github.com/arborstack/arbor-fdr/internal/tree"

// SignalNode is one provisional signal call inside a candidate.
type SignalNode struct {
	Node int
	Sign int
}

// ProxyEstimator estimates the achieved false-discovery proportion of one
// resolution. own holds the resolution's signal nodes; others holds the
// signal nodes of every other resolution in the same tuning family. The
// estimate must lie in [0, 1] and be 0 when own is empty.
type ProxyEstimator interface {
	Name() string
	Estimate(ix *tree.Index, own, others []SignalNode) float64
}

// SignConsistency is the default estimator. A signal node contradicted by
// an opposite-direction signal with overlapping leaf coverage at another
// resolution counts as one estimated false positive; the estimate is the
// contradicted fraction.
type SignConsistency struct{}

// Name implements ProxyEstimator.
func (SignConsistency) Name() string { return "sign-consistency" }

// Estimate implements ProxyEstimator.
func (SignConsistency) Estimate(ix *tree.Index, own, others []SignalNode) float64 {
	if len(own) == 0 {
		return 0
	}
	contradicted := 0
	for _, s := range own {
		if s.Sign == 0 {
			continue
		}
		for _, o := range others {
			if o.Sign == -s.Sign && ix.Overlaps(s.Node, o.Node) {
				contradicted++
				break
			}
		}
	}
	return float64(contradicted) / float64(len(own))
}
