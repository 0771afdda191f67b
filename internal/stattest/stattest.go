package stattest

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrDegenerate reports input on which a test statistic is undefined, for
// example a zero-variance pooled sample. Callers substitute a conservative
// score instead of failing.
var ErrDegenerate = errors.New("degenerate sample")

// TwoSample computes a two-sided p-value and a direction for two numeric
// samples. Sign is +1 when ys tend larger than xs, -1 when smaller, and 0
// on an exact tie.
type TwoSample func(xs, ys []float64) (p float64, sign int, err error)

// ByName resolves a test by its configuration name. The empty string picks
// the default rank-sum test.
func ByName(name string) (TwoSample, error) {
	switch name {
	case "", "rank-sum", "wilcoxon":
		return WilcoxonRankSum, nil
	case "welch", "t-test":
		return WelchT, nil
	default:
		return nil, fmt.Errorf("unknown two-sample test %q", name)
	}
}

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// WilcoxonRankSum is the default two-sample test: Mann-Whitney U with
// midranks for ties and a tie-corrected normal approximation including a
// continuity correction.
func WilcoxonRankSum(xs, ys []float64) (float64, int, error) {
	n1, n2 := len(xs), len(ys)
	if n1 == 0 || n2 == 0 {
		return 0, 0, fmt.Errorf("rank-sum: empty group: %w", ErrDegenerate)
	}

	type obs struct {
		value float64
		first bool
	}
	pooled := make([]obs, 0, n1+n2)
	for _, v := range xs {
		if math.IsNaN(v) {
			return 0, 0, fmt.Errorf("rank-sum: non-numeric value: %w", ErrDegenerate)
		}
		pooled = append(pooled, obs{value: v, first: true})
	}
	for _, v := range ys {
		if math.IsNaN(v) {
			return 0, 0, fmt.Errorf("rank-sum: non-numeric value: %w", ErrDegenerate)
		}
		pooled = append(pooled, obs{value: v})
	}
	sort.Slice(pooled, func(i, j int) bool { return pooled[i].value < pooled[j].value })

	// Midranks: each tie group shares the mean of the ranks it spans. The
	// tie term feeds the variance correction below.
	rankSum1 := 0.0
	tieTerm := 0.0
	for i := 0; i < len(pooled); {
		j := i
		for j < len(pooled) && pooled[j].value == pooled[i].value {
			j++
		}
		rank := float64(i+j+1) / 2
		if size := float64(j - i); size > 1 {
			tieTerm += size*size*size - size
		}
		for k := i; k < j; k++ {
			if pooled[k].first {
				rankSum1 += rank
			}
		}
		i = j
	}

	f1, f2 := float64(n1), float64(n2)
	n := f1 + f2
	u1 := rankSum1 - f1*(f1+1)/2
	mean := f1 * f2 / 2
	variance := f1 * f2 / 12 * ((n + 1) - tieTerm/(n*(n-1)))
	if variance <= 0 {
		return 0, 0, fmt.Errorf("rank-sum: zero variance: %w", ErrDegenerate)
	}

	var z float64
	switch {
	case u1 > mean:
		z = (u1 - mean - 0.5) / math.Sqrt(variance)
	case u1 < mean:
		z = (u1 - mean + 0.5) / math.Sqrt(variance)
	}

	p := 2 * stdNormal.Survival(math.Abs(z))
	if p > 1 {
		p = 1
	}

	sign := 0
	switch {
	case u1 < mean:
		sign = 1
	case u1 > mean:
		sign = -1
	}
	return p, sign, nil
}

// WelchT is an unequal-variance t test, usable when the measurements are
// roughly continuous and each group has at least two samples.
func WelchT(xs, ys []float64) (float64, int, error) {
	n1, n2 := len(xs), len(ys)
	if n1 < 2 || n2 < 2 {
		return 0, 0, fmt.Errorf("welch: need two samples per group: %w", ErrDegenerate)
	}

	mean1, var1 := stat.MeanVariance(xs, nil)
	mean2, var2 := stat.MeanVariance(ys, nil)
	a := var1 / float64(n1)
	b := var2 / float64(n2)
	se := math.Sqrt(a + b)
	if se == 0 || math.IsNaN(se) {
		return 0, 0, fmt.Errorf("welch: zero variance: %w", ErrDegenerate)
	}

	t := (mean2 - mean1) / se
	// Welch-Satterthwaite degrees of freedom.
	df := (a + b) * (a + b) / (a*a/float64(n1-1) + b*b/float64(n2-1))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}

	p := 2 * dist.Survival(math.Abs(t))
	if p > 1 {
		p = 1
	}

	sign := 0
	switch {
	case mean2 > mean1:
		sign = 1
	case mean2 < mean1:
		sign = -1
	}
	return p, sign, nil
}
