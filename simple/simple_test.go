package simple

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/Noofbiz/designBench/array"
	"github.com/Noofbiz/designBench/datasets"
)

// mockDataset implements the minimal Dataset interface required by the trainer.
type mockDataset struct {
	inputs [][]float32
	labels []float32
}

func (m *mockDataset) Len() int { return len(m.inputs) }

func (m *mockDataset) ForEachBatch(_ context.Context, opts datasets.BatchOptions, fn func(x, y *array.Array) error) error {
	order := rand.New(rand.NewSource(opts.Seed)).Perm(len(m.inputs))
	dim := len(m.inputs[0])
	for lo := 0; lo < len(order); lo += opts.BatchSize {
		hi := min(lo+opts.BatchSize, len(order))
		xs := make([]float32, 0, (hi-lo)*dim)
		ys := make([]float32, 0, hi-lo)
		for _, i := range order[lo:hi] {
			xs = append(xs, m.inputs[i]...)
			ys = append(ys, m.labels[i])
		}
		x, _ := array.FromFloats(xs, hi-lo, dim)
		y, _ := array.FromFloats(ys, hi-lo, 1)
		if err := fn(x, y); err != nil {
			return err
		}
	}
	return nil
}

func mse(preds, labels []float32) float64 {
	if len(preds) == 0 {
		return 0.0
	}
	var sum float64
	for i := range preds {
		d := float64(preds[i] - labels[i])
		sum += d * d
	}
	return sum / float64(len(preds))
}

// linearData builds inputs on a 10x10 grid with label 0.2*x + 0.05*y.
func linearData(n int) *mockDataset {
	ds := &mockDataset{inputs: make([][]float32, n), labels: make([]float32, n)}
	for i := 0; i < n; i++ {
		x := float32(i % 10)
		y := float32((i / 10) % 10)
		ds.inputs[i] = []float32{x, y, 0}
		ds.labels[i] = 0.2*x + 0.05*y
	}
	return ds
}

// TestModelTrainWithMockDataset verifies the pure-Go trainer reduces MSE on a
// simple synthetic regression dataset.
func TestModelTrainWithMockDataset(t *testing.T) {
	ds := linearData(120)
	model, err := NewModel(Config{
		HiddenSizes:  []int{32, 16},
		LearningRate: 0.01,
		Epochs:       30,
		BatchSize:    16,
		Seed:         42,
		InputDim:     3,
	})
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}

	holdInputs, holdLabels := ds.inputs[:20], ds.labels[:20]
	predBefore, err := model.PredictBatch(holdInputs)
	if err != nil {
		t.Fatalf("PredictBatch(before) error: %v", err)
	}
	mseBefore := mse(predBefore, holdLabels)

	if err := model.TrainWithDataset(context.Background(), ds); err != nil {
		t.Fatalf("TrainWithDataset error: %v", err)
	}

	predAfter, err := model.PredictBatch(holdInputs)
	if err != nil {
		t.Fatalf("PredictBatch(after) error: %v", err)
	}
	mseAfter := mse(predAfter, holdLabels)
	t.Logf("mse before=%.6f after=%.6f", mseBefore, mseAfter)

	if !(mseAfter+1e-9 < mseBefore) {
		t.Fatalf("expected mse to decrease after training: before=%.6f after=%.6f", mseBefore, mseAfter)
	}
	for i, p := range predAfter {
		if math.IsNaN(float64(p)) || math.IsInf(float64(p), 0) {
			t.Fatalf("non-finite prediction at %d: %v", i, p)
		}
	}
}

// TestFitOnExamples trains through the datasets.Examples adapter, letting the
// model size its input layer from the first batch of logits.
func TestFitOnExamples(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(3))
	const n, l, c = 64, 4, 3
	tokens := make([]int32, n*l)
	scores := make([]float32, n)
	for i := range tokens {
		tokens[i] = int32(rng.Intn(c))
		scores[i/l] += float32(tokens[i])
	}
	x, _ := array.FromInts(tokens, n, l)
	y, _ := array.FromFloats(scores, n, 1)
	ds, err := datasets.FromArrays(datasets.Discrete, x, y, datasets.Options{NumClasses: c})
	if err != nil {
		t.Fatalf("FromArrays error: %v", err)
	}
	if err := ds.MapToLogits(); err != nil {
		t.Fatalf("MapToLogits error: %v", err)
	}
	tr, err := ds.Transform(ctx)
	if err != nil {
		t.Fatalf("Transform error: %v", err)
	}
	ex, err := ds.Examples(tr)
	if err != nil {
		t.Fatalf("Examples error: %v", err)
	}

	model, err := NewModel(Config{HiddenSizes: []int{8}, Epochs: 2, Seed: 7})
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	if err := model.Fit(ctx, ex); err != nil {
		t.Fatalf("Fit error: %v", err)
	}
	if model.Config.InputDim != l*c {
		t.Fatalf("expected input dim %d, got %d", l*c, model.Config.InputDim)
	}

	logits, err := datasets.ToLogits(x.Slice(0, 5), c, tr.SoftInterpolation)
	if err != nil {
		t.Fatalf("ToLogits error: %v", err)
	}
	preds, err := model.Predict(ctx, logits)
	if err != nil {
		t.Fatalf("Predict error: %v", err)
	}
	if preds.Shape[0] != 5 || preds.Shape[1] != 1 {
		t.Fatalf("unexpected prediction shape %v", preds.Shape)
	}
}

// TestMarshalRoundTrip verifies a restored model predicts exactly like the original.
func TestMarshalRoundTrip(t *testing.T) {
	ds := linearData(40)
	model, err := NewModel(Config{HiddenSizes: []int{4}, Epochs: 3, Seed: 1, InputDim: 3})
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	if err := model.TrainWithDataset(context.Background(), ds); err != nil {
		t.Fatalf("TrainWithDataset error: %v", err)
	}

	data, err := model.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary error: %v", err)
	}
	restored := &Model{}
	if err := restored.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary error: %v", err)
	}

	a, _ := model.PredictBatch(ds.inputs)
	b, err := restored.PredictBatch(ds.inputs)
	if err != nil {
		t.Fatalf("PredictBatch error: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("prediction %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestUntrainedModelRejectsPredict(t *testing.T) {
	model, err := NewModel(Config{Seed: 1})
	if err != nil {
		t.Fatalf("NewModel error: %v", err)
	}
	if _, err := model.PredictBatch([][]float32{{1, 2}}); err == nil {
		t.Fatal("expected error predicting before training")
	}
	if _, err := NewModel(Config{HiddenSizes: []int{0}}); err == nil {
		t.Fatal("expected invalid hidden size to be rejected")
	}
}
