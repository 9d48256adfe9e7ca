package datasets

import (
	"fmt"
	"math"
	"sort"

	"github.com/Noofbiz/designBench/array"
)

// Moments are per-feature means and standard deviations. A feature whose
// standard deviation is zero stores 1 so normalization stays invertible.
type Moments struct {
	Mean []float64
	Std  []float64
}

func (m *Moments) check(a *array.Array) error {
	if a.DType != array.DTypeFloat32 {
		return fmt.Errorf("%w: cannot normalize %s values", ErrFormatMismatch, a.DType)
	}
	if a.RowSize() != len(m.Mean) {
		return fmt.Errorf("%w: rows of %d features, statistics for %d",
			ErrFormatMismatch, a.RowSize(), len(m.Mean))
	}
	return nil
}

func (m *Moments) normalize(a *array.Array) (*array.Array, error) {
	if err := m.check(a); err != nil {
		return nil, err
	}
	out := array.Zeros(array.DTypeFloat32, a.Shape...)
	d := len(m.Mean)
	for i, v := range a.Floats {
		j := i % d
		out.Floats[i] = float32((float64(v) - m.Mean[j]) / m.Std[j])
	}
	return out, nil
}

func (m *Moments) denormalize(a *array.Array) (*array.Array, error) {
	if err := m.check(a); err != nil {
		return nil, err
	}
	out := array.Zeros(array.DTypeFloat32, a.Shape...)
	d := len(m.Mean)
	for i, v := range a.Floats {
		j := i % d
		out.Floats[i] = float32(float64(v)*m.Std[j] + m.Mean[j])
	}
	return out, nil
}

// welford accumulates per-feature moments one row at a time in a single
// pass, so statistics over sharded data never need the whole axis in memory.
type welford struct {
	n    float64
	mean []float64
	m2   []float64
}

func newWelford(features int) *welford {
	return &welford{mean: make([]float64, features), m2: make([]float64, features)}
}

// add folds every row of a into the accumulator.
func (w *welford) add(a *array.Array) {
	d := len(w.mean)
	vals := a.Float32s()
	for r := 0; r+d <= len(vals); r += d {
		w.n++
		for j, v := range vals[r : r+d] {
			x := float64(v)
			delta := x - w.mean[j]
			w.mean[j] += delta / w.n
			w.m2[j] += delta * (x - w.mean[j])
		}
	}
}

func (w *welford) moments() *Moments {
	m := &Moments{Mean: append([]float64(nil), w.mean...), Std: make([]float64, len(w.mean))}
	for j := range m.Std {
		std := 0.0
		if w.n > 0 {
			std = math.Sqrt(w.m2[j] / w.n)
		}
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		m.Std[j] = std
	}
	return m
}

// percentile returns the p-th percentile (0 <= p <= 100) of sorted using
// linear interpolation between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if hi >= len(sorted) {
		hi = len(sorted) - 1
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// percentiles sorts a copy of values and evaluates each p in ps.
func percentiles(values []float32, ps ...float64) []float64 {
	sorted := make([]float64, len(values))
	for i, v := range values {
		sorted[i] = float64(v)
	}
	sort.Float64s(sorted)
	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = percentile(sorted, p)
	}
	return out
}
