package oracles

import (
	"context"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/designBench/array"
	"github.com/Noofbiz/designBench/datasets"
	"github.com/Noofbiz/designBench/neighbors"
	"github.com/Noofbiz/designBench/simple"
)

// tokenData has n sequences of length 6 over 4 classes scored by token sum.
func tokenData(t *testing.T, n int, seed int64) (x, y *array.Array) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	tokens := make([]int32, n*6)
	scores := make([]float32, n)
	for i := range tokens {
		tokens[i] = int32(rng.Intn(4))
		scores[i/6] += float32(tokens[i])
	}
	x, _ = array.FromInts(tokens, n, 6)
	y, _ = array.FromFloats(scores, n, 1)
	return x, y
}

func knn(t *testing.T) *neighbors.Model {
	t.Helper()
	m, err := neighbors.NewModel(neighbors.Config{K: 3})
	require.NoError(t, err)
	return m
}

func fitConfig(f datasets.Format) Config {
	return Config{
		Fit:            true,
		ExpectedFormat: f,
		Split:          datasets.SplitOptions{ValFraction: 0.2, Seed: 1},
	}
}

// TestPredictIsFormatInvariant checks that the same designs score identically
// whichever format the caller's dataset is in.
func TestPredictIsFormatInvariant(t *testing.T) {
	ctx := context.Background()
	x, y := tokenData(t, 200, 1)
	ds, err := datasets.FromArrays(datasets.Discrete, x, y, datasets.Options{Name: "tokens", NumClasses: 4})
	require.NoError(t, err)

	o, err := New(ctx, ds, knn(t), fitConfig(datasets.Format{Logits: true, NormalizedX: true, NormalizedY: true}))
	require.NoError(t, err)
	assert.Equal(t, datasets.Format{}, ds.Format(), "building an oracle must not touch the dataset")
	assert.Equal(t, "tokens-oracle", o.Name())

	p := o.Params()
	assert.Equal(t, 160, p.TrainSize)
	assert.Equal(t, 40, p.ValSize)
	assert.GreaterOrEqual(t, p.RankCorrelation, -1.0)
	assert.LessOrEqual(t, p.RankCorrelation, 1.0)
	assert.Greater(t, p.RankCorrelation, 0.3)

	raw, err := ds.Transform(ctx)
	require.NoError(t, err)
	want, err := o.Predict(ctx, x, raw)
	require.NoError(t, err)
	assert.Equal(t, []int{200, 1}, want.Shape)

	require.NoError(t, ds.MapToLogits())
	require.NoError(t, ds.MapNormalizeX(ctx))
	require.NoError(t, ds.MapNormalizeY(ctx))
	nx, _, err := ds.Arrays(ctx)
	require.NoError(t, err)
	tr, err := ds.Transform(ctx)
	require.NoError(t, err)
	got, err := o.Predict(ctx, nx, tr)
	require.NoError(t, err)
	assert.Equal(t, want.Floats, got.Floats)

	// tokens claimed to be normalized logits
	_, err = o.Predict(ctx, x, tr)
	require.ErrorIs(t, err, datasets.ErrFormatMismatch)
}

func TestPredictRejectsOtherDatasets(t *testing.T) {
	ctx := context.Background()
	x, y := tokenData(t, 50, 2)
	ds, err := datasets.FromArrays(datasets.Discrete, x, y, datasets.Options{NumClasses: 4})
	require.NoError(t, err)
	o, err := New(ctx, ds, knn(t), fitConfig(datasets.Format{}))
	require.NoError(t, err)

	wrong := datasets.Transform{Kind: datasets.Discrete, NumClasses: 5, InputShape: []int{6}}
	_, err = o.Predict(ctx, x, wrong)
	require.ErrorIs(t, err, datasets.ErrFormatMismatch)

	reals := datasets.Transform{Kind: datasets.Continuous, InputShape: []int{6}}
	_, err = o.Predict(ctx, array.Zeros(array.DTypeFloat32, 1, 6), reals)
	require.ErrorIs(t, err, datasets.ErrFormatMismatch)
}

// TestValidationScoresDoNotLeak fits oracles on datasets that differ only in
// the scores of the validation partition and expects identical models,
// including the normalization moments they were trained under.
func TestValidationScoresDoNotLeak(t *testing.T) {
	ctx := context.Background()
	x, y := tokenData(t, 100, 3)
	ds, err := datasets.FromArrays(datasets.Discrete, x, y, datasets.Options{NumClasses: 4})
	require.NoError(t, err)

	split := fitConfig(datasets.Format{}).Split
	_, val, err := ds.Split(ctx, split)
	require.NoError(t, err)

	perturbed := y.Clone()
	err = val.ForEachBatch(ctx, datasets.BatchOptions{}, func(b datasets.Batch) error {
		for _, r := range b.Rows {
			perturbed.Floats[r] = -1000
		}
		return nil
	})
	require.NoError(t, err)
	ds2, err := datasets.FromArrays(datasets.Discrete, x, perturbed, datasets.Options{NumClasses: 4})
	require.NoError(t, err)

	mlp := func(t *testing.T) Model {
		m, err := simple.NewModel(simple.Config{HiddenSizes: []int{8}, Epochs: 3, Seed: 1})
		require.NoError(t, err)
		return m
	}
	cases := []struct {
		name   string
		format datasets.Format
		model  func(t *testing.T) Model
	}{
		{"knn logits", datasets.Format{Logits: true}, func(t *testing.T) Model { return knn(t) }},
		{"mlp normalized", datasets.Format{Logits: true, NormalizedX: true, NormalizedY: true}, mlp},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := fitConfig(tc.format)
			o1, err := New(ctx, ds, tc.model(t), cfg)
			require.NoError(t, err)
			o2, err := New(ctx, ds2, tc.model(t), cfg)
			require.NoError(t, err)
			assert.Equal(t, o1.ExpectedTransform(), o2.ExpectedTransform())

			tr, err := ds.Transform(ctx)
			require.NoError(t, err)
			p1, err := o1.Predict(ctx, x, tr)
			require.NoError(t, err)
			p2, err := o2.Predict(ctx, x, tr)
			require.NoError(t, err)
			assert.Equal(t, p1.Floats, p2.Floats)
			// constant validation scores have no rank correlation
			assert.True(t, math.IsNaN(o2.Params().RankCorrelation))
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	x, y := tokenData(t, 80, 4)
	ds, err := datasets.FromArrays(datasets.Discrete, x, y, datasets.Options{NumClasses: 4})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "oracles", "knn.oracle")
	cfg := fitConfig(datasets.Format{Logits: true, NormalizedX: true})
	cfg.Path = path
	fitted, err := New(ctx, ds, knn(t), cfg)
	require.NoError(t, err)

	loaded, err := New(ctx, ds, knn(t), Config{Path: path, ExpectedFormat: datasets.Format{}})
	require.NoError(t, err)
	assert.Equal(t, fitted.Name(), loaded.Name())
	assert.Equal(t, fitted.ExpectedTransform().Format, loaded.ExpectedTransform().Format)
	assert.Equal(t, fitted.Params().RankCorrelation, loaded.Params().RankCorrelation)

	tr, err := ds.Transform(ctx)
	require.NoError(t, err)
	a, err := fitted.Predict(ctx, x, tr)
	require.NoError(t, err)
	b, err := loaded.Predict(ctx, x, tr)
	require.NoError(t, err)
	assert.Equal(t, a.Floats, b.Floats)

	other, oy := tokenData(t, 10, 5)
	wide, err := other.Reshape(5, 12)
	require.NoError(t, err)
	ods, err := datasets.FromArrays(datasets.Discrete, wide, oy.Slice(0, 5), datasets.Options{NumClasses: 4})
	require.NoError(t, err)
	_, err = New(ctx, ods, knn(t), Config{Path: path})
	require.ErrorIs(t, err, datasets.ErrFormatMismatch)

	_, err = New(ctx, ds, knn(t), Config{})
	require.Error(t, err)
}

// TestLoadedNoiseLevel checks that a noise level asked for at load time wins
// over the noiseless level a snapshot was saved with.
func TestLoadedNoiseLevel(t *testing.T) {
	ctx := context.Background()
	x, y := tokenData(t, 60, 8)
	ds, err := datasets.FromArrays(datasets.Discrete, x, y, datasets.Options{NumClasses: 4})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "quiet.oracle")
	cfg := fitConfig(datasets.Format{Logits: true})
	cfg.Path = path
	fitted, err := New(ctx, ds, knn(t), cfg)
	require.NoError(t, err)
	assert.Zero(t, fitted.NoiseStd())

	quiet, err := New(ctx, ds, knn(t), Config{Path: path})
	require.NoError(t, err)
	assert.Zero(t, quiet.NoiseStd())

	noisy, err := New(ctx, ds, knn(t), Config{Path: path, NoiseStd: 0.5, Seed: 2})
	require.NoError(t, err)
	assert.Equal(t, 0.5, noisy.NoiseStd())

	tr, err := ds.Transform(ctx)
	require.NoError(t, err)
	a, err := quiet.Predict(ctx, x, tr)
	require.NoError(t, err)
	b, err := noisy.Predict(ctx, x, tr)
	require.NoError(t, err)
	assert.NotEqual(t, a.Floats, b.Floats)
}

// TestExactFunctionWithNoise uses a FuncModel on continuous designs and checks
// noise is seeded and centred on the exact score.
func TestExactFunctionWithNoise(t *testing.T) {
	ctx := context.Background()
	n := 400
	xs := make([]float32, 2*n)
	ys := make([]float32, n)
	rng := rand.New(rand.NewSource(6))
	for i := 0; i < n; i++ {
		xs[2*i], xs[2*i+1] = rng.Float32(), rng.Float32()
		ys[i] = xs[2*i] + xs[2*i+1]
	}
	x, _ := array.FromFloats(xs, n, 2)
	y, _ := array.FromFloats(ys, n, 1)
	ds, err := datasets.FromArrays(datasets.Continuous, x, y, datasets.Options{})
	require.NoError(t, err)

	sum := FuncModel(func(_ context.Context, x *array.Array) (*array.Array, error) {
		out := make([]float32, x.Rows())
		for i := range out {
			r := x.Row(i)
			out[i] = r[0] + r[1]
		}
		return array.FromFloats(out, len(out))
	})

	exact, err := New(ctx, ds, sum, fitConfig(datasets.Format{}))
	require.NoError(t, err)
	assert.InDelta(t, 1, exact.Params().RankCorrelation, 1e-9)

	tr, err := ds.Transform(ctx)
	require.NoError(t, err)
	p, err := exact.Predict(ctx, x, tr)
	require.NoError(t, err)
	assert.Equal(t, y.Floats, p.Floats)

	cfg := fitConfig(datasets.Format{})
	cfg.NoiseStd, cfg.Seed = 0.5, 11
	noisy1, err := New(ctx, ds, sum, cfg)
	require.NoError(t, err)
	noisy2, err := New(ctx, ds, sum, cfg)
	require.NoError(t, err)
	a, err := noisy1.Predict(ctx, x, tr)
	require.NoError(t, err)
	b, err := noisy2.Predict(ctx, x, tr)
	require.NoError(t, err)
	assert.Equal(t, a.Floats, b.Floats)

	var mean, sq float64
	for i := range a.Floats {
		d := float64(a.Floats[i] - y.Floats[i])
		mean += d
		sq += d * d
	}
	mean /= float64(n)
	assert.InDelta(t, 0, mean, 0.1)
	assert.InDelta(t, 0.5, math.Sqrt(sq/float64(n)), 0.1)
}

func TestSpearman(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	assert.InDelta(t, 1, Spearman(a, []float64{2, 4, 8, 16, 1000}), 1e-12)
	assert.InDelta(t, -1, Spearman(a, []float64{5, 4, 3, 2, 1}), 1e-12)
	assert.Equal(t, []float64{1, 2.5, 2.5, 4}, ranks([]float64{1, 3, 3, 7}))
	assert.True(t, math.IsNaN(Spearman(a, []float64{1, 2})))
	assert.True(t, math.IsNaN(Spearman([]float64{1}, []float64{1})))

	rho := Spearman([]float64{1, 2, 2, 3}, []float64{1, 3, 2, 4})
	assert.Greater(t, rho, 0.0)
	assert.LessOrEqual(t, rho, 1.0)
}
