package oracles

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Spearman is the rank correlation of a and b: the Pearson correlation of
// their ranks, with tied values sharing their average rank. It is NaN when
// either input has fewer than two distinct values or the lengths differ.
func Spearman(a, b []float64) float64 {
	if len(a) != len(b) || len(a) < 2 {
		return math.NaN()
	}
	return stat.Correlation(ranks(a), ranks(b), nil)
}

// ranks returns 1-based ranks with ties averaged.
func ranks(v []float64) []float64 {
	idx := make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return v[idx[i]] < v[idx[j]] })

	out := make([]float64, len(v))
	for lo := 0; lo < len(idx); {
		hi := lo + 1
		for hi < len(idx) && v[idx[hi]] == v[idx[lo]] {
			hi++
		}
		avg := float64(lo+hi+1) / 2
		for _, i := range idx[lo:hi] {
			out[i] = avg
		}
		lo = hi
	}
	return out
}
