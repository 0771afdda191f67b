package evaluate

import "sort"

// AdjustBH computes Benjamini-Hochberg step-up adjusted p-values for one
// hypothesis family. The result preserves input order and is clamped to 1.
func AdjustBH(ps []float64) []float64 {
	m := len(ps)
	if m == 0 {
		return nil
	}

	order := make([]int, m)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return ps[order[a]] < ps[order[b]] })

	// Walk ranks from largest to smallest keeping the running minimum of
	// p * m / rank. Equal p-values end up with equal adjusted values, so
	// tie order never matters.
	adjusted := make([]float64, m)
	running := 1.0
	for i := m - 1; i >= 0; i-- {
		value := ps[order[i]] * float64(m) / float64(i+1)
		if value < running {
			running = value
		}
		adjusted[order[i]] = running
	}
	return adjusted
}
