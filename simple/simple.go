// Package simple provides a small fully-connected regression network used as a
// reference oracle model. It is trained with a self-contained mini-batch SGD
// loop in pure Go, so it has no deep-learning runtime dependency and trains
// deterministically for a fixed seed.
package simple

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/Noofbiz/designBench/array"
	"github.com/Noofbiz/designBench/datasets"
)

// Config holds configurable hyperparameters for the MLP model and training.
type Config struct {
	// HiddenSizes is the list of hidden layer sizes. Example: []int{64, 32}
	// If empty, a single hidden layer of size 64 will be used.
	HiddenSizes []int `mapstructure:"hidden_sizes" validate:"dive,gt=0"`

	// InputDim is the number of features per design. If zero it is taken
	// from the first training batch.
	InputDim int `mapstructure:"input_dim" validate:"gte=0"`

	// LearningRate used by SGD (default 0.001).
	LearningRate float64 `mapstructure:"learning_rate" validate:"gte=0"`

	// Epochs to train for (default 10).
	Epochs int `mapstructure:"epochs" validate:"gte=0"`

	// BatchSize for mini-batch updates (default 8).
	BatchSize int `mapstructure:"batch_size" validate:"gte=0"`

	// Seed controls RNG for weight init and shuffling. If zero, time-based seed is used.
	Seed int64 `mapstructure:"seed"`

	// ClipNorm bounds the L2 norm of each averaged minibatch gradient. Zero
	// disables clipping.
	ClipNorm float32 `mapstructure:"clip_norm" validate:"gte=0"`
}

var validate = validator.New()

// Dataset is the minimal interface this package requires from training data.
// *datasets.Examples satisfies it; x arrives with one design per row.
type Dataset interface {
	Len() int
	ForEachBatch(ctx context.Context, opts datasets.BatchOptions, fn func(x, y *array.Array) error) error
}

// Model is a small configurable MLP with a single scalar output.
type Model struct {
	// Config used for training / initialization.
	Config Config

	// layerSizes includes input size, hidden sizes, then output size.
	layerSizes []int

	// weights[l] is a matrix of shape [out][in] for layer l -> l+1
	weights [][][]float32

	// biases[l] is a vector of length out for layer l -> l+1
	biases [][]float32

	// rng used for weight initialization and shuffling
	rng *rand.Rand
}

// NewModel creates a new Model instance with the provided configuration.
// Weights are allocated once the input dimension is known.
func NewModel(cfg Config) (*Model, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid model config: %w", err)
	}
	// defaults
	if len(cfg.HiddenSizes) == 0 {
		cfg.HiddenSizes = []int{64}
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.001
	}
	if cfg.Epochs == 0 {
		cfg.Epochs = 10
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 8
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	m := &Model{
		Config: cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
	if cfg.InputDim > 0 {
		m.init(cfg.InputDim)
	}
	return m, nil
}

// init allocates small random weights for inputDim features.
func (m *Model) init(inputDim int) {
	const outputDim = 1

	sizes := make([]int, 0, 2+len(m.Config.HiddenSizes))
	sizes = append(sizes, inputDim)
	sizes = append(sizes, m.Config.HiddenSizes...)
	sizes = append(sizes, outputDim)
	m.layerSizes = sizes
	m.Config.InputDim = inputDim

	L := len(sizes) - 1
	m.weights = make([][][]float32, L)
	m.biases = make([][]float32, L)
	for l := 0; l < L; l++ {
		in := sizes[l]
		out := sizes[l+1]
		// Xavier/Glorot uniform initialization heuristic
		limit := float32(math.Sqrt(6.0 / float64(in+out)))
		mat := make([][]float32, out)
		for j := 0; j < out; j++ {
			row := make([]float32, in)
			for i := 0; i < in; i++ {
				row[i] = (m.rng.Float32()*2.0 - 1.0) * limit * 0.5
			}
			mat[j] = row
		}
		m.weights[l] = mat
		m.biases[l] = make([]float32, out)
	}
}

// activationReLU applies ReLU in-place over the slice.
func activationReLU(x []float32) {
	for i := range x {
		if x[i] < 0 {
			x[i] = 0
		}
	}
}

// activationReLUDeriv returns elementwise derivative of ReLU applied to preact.
func activationReLUDeriv(preact []float32) []float32 {
	d := make([]float32, len(preact))
	for i := range preact {
		if preact[i] > 0 {
			d[i] = 1.0
		}
	}
	return d
}

// forwardSingle performs a forward pass for a single input vector, returning:
// - preActivations: list of pre-activation vectors per layer (len = L)
// - activations: list of activation vectors per layer (len = L+1, activations[0] = input)
func (m *Model) forwardSingle(input []float32) (preActs [][]float32, acts [][]float32, err error) {
	if len(input) != m.layerSizes[0] {
		return nil, nil, fmt.Errorf("input has %d features, model expects %d", len(input), m.layerSizes[0])
	}
	L := len(m.weights)
	acts = make([][]float32, L+1)
	acts[0] = make([]float32, len(input))
	copy(acts[0], input)

	preActs = make([][]float32, L)
	for l := 0; l < L; l++ {
		inVec := acts[l]
		outDim := len(m.biases[l])
		pre := make([]float32, outDim)
		W := m.weights[l]
		b := m.biases[l]
		for j := 0; j < outDim; j++ {
			sum := float32(0.0)
			for i, w := range W[j] {
				sum += w * inVec[i]
			}
			pre[j] = sum + b[j]
		}
		preActs[l] = pre

		// Activation: ReLU for hidden, linear for last layer
		act := make([]float32, outDim)
		copy(act, pre)
		if l < L-1 {
			activationReLU(act)
		}
		acts[l+1] = act
	}
	return preActs, acts, nil
}

// PredictBatch returns one prediction per input vector.
func (m *Model) PredictBatch(inputs [][]float32) ([]float32, error) {
	if m.layerSizes == nil {
		return nil, errors.New("model has not been trained")
	}
	out := make([]float32, len(inputs))
	for i, in := range inputs {
		_, acts, err := m.forwardSingle(in)
		if err != nil {
			return nil, err
		}
		out[i] = acts[len(acts)-1][0]
	}
	return out, nil
}

// Predict scores a batch of designs, flattening each design into a feature
// vector. The result has shape (N, 1).
func (m *Model) Predict(ctx context.Context, x *array.Array) (*array.Array, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	preds, err := m.PredictBatch(rows(x))
	if err != nil {
		return nil, err
	}
	return array.FromFloats(preds, len(preds), 1)
}

// Fit trains on ex.
func (m *Model) Fit(ctx context.Context, ex *datasets.Examples) error {
	return m.TrainWithDataset(ctx, ex)
}

func rows(x *array.Array) [][]float32 {
	out := make([][]float32, x.Rows())
	for i := range out {
		out[i] = x.Row(i)
	}
	return out
}

// TrainWithDataset trains the model with mini-batch SGD on a mean-squared
// error loss. Each epoch is one shuffled pass over ds; gradients are averaged
// over the minibatch before the update.
func (m *Model) TrainWithDataset(ctx context.Context, ds Dataset) error {
	if ds == nil {
		return errors.New("dataset is nil")
	}
	if ds.Len() == 0 {
		return errors.New("dataset has no examples")
	}
	lr := float32(m.Config.LearningRate)

	for ep := 0; ep < m.Config.Epochs; ep++ {
		var sum float64
		var n int
		opts := datasets.BatchOptions{BatchSize: m.Config.BatchSize, Shuffle: true, Seed: m.rng.Int63()}
		err := ds.ForEachBatch(ctx, opts, func(x, y *array.Array) error {
			if m.layerSizes == nil {
				m.init(x.RowSize())
			}
			loss, err := m.step(rows(x), y.Float32s(), lr)
			if err != nil {
				return err
			}
			sum += loss * float64(x.Rows())
			n += x.Rows()
			return nil
		})
		if err != nil {
			return err
		}
		log.Debug().Int("epoch", ep+1).Float64("mse", sum/float64(max(n, 1))).Msg("mlp epoch")
	}
	return nil
}

// step applies one averaged SGD update for a minibatch and returns the
// minibatch loss before the update.
func (m *Model) step(inputs [][]float32, labels []float32, lr float32) (float64, error) {
	batchN := len(inputs)
	if batchN == 0 {
		return 0, nil
	}

	// Initialize gradient accumulators (same shape as weights / biases)
	L := len(m.weights)
	gradW := make([][][]float32, L)
	gradB := make([][]float32, L)
	for l := 0; l < L; l++ {
		outDim := len(m.biases[l])
		inDim := len(m.weights[l][0])
		gradW[l] = make([][]float32, outDim)
		for j := 0; j < outDim; j++ {
			gradW[l][j] = make([]float32, inDim)
		}
		gradB[l] = make([]float32, outDim)
	}

	var loss float64
	for ex := 0; ex < batchN; ex++ {
		preacts, acts, err := m.forwardSingle(inputs[ex])
		if err != nil {
			return 0, err
		}

		// dLoss/dOutput = 2*(pred - label)
		diff := acts[len(acts)-1][0] - labels[ex]
		loss += float64(diff) * float64(diff)
		delta := []float32{2.0 * diff}

		// Backprop to compute gradients, accumulate into gradW/gradB
		for l := L - 1; l >= 0; l-- {
			inAct := acts[l]
			for j := range delta {
				gradB[l][j] += delta[j]
				for i := range inAct {
					gradW[l][j][i] += delta[j] * inAct[i]
				}
			}

			// propagate delta to previous layer if needed
			if l > 0 {
				prevLen := len(m.weights[l][0])
				newDelta := make([]float32, prevLen)
				for i := 0; i < prevLen; i++ {
					sum := float32(0.0)
					for j := range delta {
						sum += m.weights[l][j][i] * delta[j]
					}
					newDelta[i] = sum
				}
				deriv := activationReLUDeriv(preacts[l-1])
				for i := range newDelta {
					newDelta[i] *= deriv[i]
				}
				delta = newDelta
			}
		}
	}

	scale := float32(1.0 / float64(batchN))
	if m.Config.ClipNorm > 0 {
		var norm float64
		for l := range gradW {
			for j := range gradW[l] {
				g := float64(gradB[l][j] * scale)
				norm += g * g
				for _, w := range gradW[l][j] {
					g := float64(w * scale)
					norm += g * g
				}
			}
		}
		if norm = math.Sqrt(norm); norm > float64(m.Config.ClipNorm) {
			scale *= float32(float64(m.Config.ClipNorm) / norm)
		}
	}

	// Apply averaged gradients (SGD) over the minibatch
	for l := 0; l < L; l++ {
		for j := range m.biases[l] {
			m.biases[l][j] -= lr * gradB[l][j] * scale
			for i := range m.weights[l][j] {
				m.weights[l][j][i] -= lr * gradW[l][j][i] * scale
			}
		}
	}
	return loss / float64(batchN), nil
}

// snapshot is the serialized form of a trained model.
type snapshot struct {
	Config     Config
	LayerSizes []int
	Weights    [][][]float32
	Biases     [][]float32
}

// MarshalBinary encodes the configuration and trained weights.
func (m *Model) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(snapshot{
		Config:     m.Config,
		LayerSizes: m.layerSizes,
		Weights:    m.weights,
		Biases:     m.biases,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode model: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores a model written by MarshalBinary.
func (m *Model) UnmarshalBinary(data []byte) error {
	var s snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("failed to decode model: %w", err)
	}
	m.Config = s.Config
	m.layerSizes = s.LayerSizes
	m.weights = s.Weights
	m.biases = s.Biases
	m.rng = rand.New(rand.NewSource(s.Config.Seed))
	return nil
}
