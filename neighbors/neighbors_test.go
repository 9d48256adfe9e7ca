package neighbors

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/designBench/array"
	"github.com/Noofbiz/designBench/datasets"
)

// lineExamples has designs (i, 0) scored i for i in [0, n).
func lineExamples(t *testing.T, n int) *datasets.Examples {
	t.Helper()
	xs := make([]float32, 2*n)
	ys := make([]float32, n)
	for i := 0; i < n; i++ {
		xs[2*i] = float32(i)
		ys[i] = float32(i)
	}
	x, _ := array.FromFloats(xs, n, 2)
	y, _ := array.FromFloats(ys, n, 1)
	ds, err := datasets.FromArrays(datasets.Continuous, x, y, datasets.Options{})
	require.NoError(t, err)
	tr, err := ds.Transform(context.Background())
	require.NoError(t, err)
	ex, err := ds.Examples(tr)
	require.NoError(t, err)
	return ex
}

func TestPredictAveragesNearest(t *testing.T) {
	m, err := NewModel(Config{K: 3, Workers: 4})
	require.NoError(t, err)
	require.NoError(t, m.Fit(context.Background(), lineExamples(t, 20)))
	assert.Equal(t, 20, m.Len())

	q, _ := array.FromFloats([]float32{
		10, 0.1, // neighbours 10, 9, 11
		0, 0, // neighbours 0, 1, 2
		100, 0, // neighbours 19, 18, 17
	}, 3, 2)
	got, err := m.Predict(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1}, got.Shape)
	assert.InDeltaSlice(t, []float32{10, 1, 18}, got.Floats, 1e-6)
}

func TestWeightedExactMatch(t *testing.T) {
	m, err := NewModel(Config{K: 4, Weighted: true})
	require.NoError(t, err)
	require.NoError(t, m.Fit(context.Background(), lineExamples(t, 10)))

	q, _ := array.FromFloats([]float32{4, 0, 4.5, 0}, 2, 2)
	got, err := m.Predict(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, float32(4), got.Floats[0])
	assert.InDelta(t, 4.5, got.Floats[1], 1e-5)
}

func TestPredictErrors(t *testing.T) {
	m, err := NewModel(Config{})
	require.NoError(t, err)
	q, _ := array.FromFloats([]float32{1, 2}, 1, 2)
	_, err = m.Predict(context.Background(), q)
	require.Error(t, err)

	require.NoError(t, m.Fit(context.Background(), lineExamples(t, 5)))
	wide, _ := array.FromFloats([]float32{1, 2, 3}, 1, 3)
	_, err = m.Predict(context.Background(), wide)
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Predict(ctx, q)
	require.ErrorIs(t, err, context.Canceled)

	_, err = NewModel(Config{K: -1})
	require.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	m, err := NewModel(Config{K: 2})
	require.NoError(t, err)
	require.NoError(t, m.Fit(context.Background(), lineExamples(t, 8)))

	data, err := m.MarshalBinary()
	require.NoError(t, err)
	restored := &Model{}
	require.NoError(t, restored.UnmarshalBinary(data))

	q, _ := array.FromFloats([]float32{2.2, 0, 6.9, 1}, 2, 2)
	a, err := m.Predict(context.Background(), q)
	require.NoError(t, err)
	b, err := restored.Predict(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, a.Floats, b.Floats)
}
