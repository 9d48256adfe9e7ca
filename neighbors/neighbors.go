// Package neighbors provides a k-nearest-neighbour regression model. Fit keeps
// every training example in memory; Predict averages the scores of the K
// closest examples in feature space, scanning with a pool of workers.
package neighbors

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/Noofbiz/designBench/array"
	"github.com/Noofbiz/designBench/datasets"
)

// Config controls the neighbour search.
type Config struct {
	// K is the number of neighbours averaged per prediction (default 5).
	K int `mapstructure:"k" validate:"gte=0"`

	// Weighted averages neighbours by inverse distance instead of uniformly.
	Weighted bool `mapstructure:"weighted"`

	// Workers bounds the goroutines used by Predict. Zero uses runtime.NumCPU.
	Workers int `mapstructure:"workers" validate:"gte=0"`

	// BatchSize is used when reading training examples (default 256).
	BatchSize int `mapstructure:"batch_size" validate:"gte=0"`
}

var validate = validator.New()

// Model is a k-NN regressor.
type Model struct {
	Config Config

	inputs [][]float32
	labels []float32
}

// NewModel returns an untrained model.
func NewModel(cfg Config) (*Model, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid neighbors config: %w", err)
	}
	if cfg.K == 0 {
		cfg.K = 5
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 256
	}
	return &Model{Config: cfg}, nil
}

// Len is the number of stored examples.
func (m *Model) Len() int { return len(m.inputs) }

// Fit stores every example of ex, replacing earlier ones.
func (m *Model) Fit(ctx context.Context, ex *datasets.Examples) error {
	m.inputs, m.labels = nil, nil
	err := ex.ForEachBatch(ctx, datasets.BatchOptions{BatchSize: m.Config.BatchSize}, func(x, y *array.Array) error {
		for i := 0; i < x.Rows(); i++ {
			m.inputs = append(m.inputs, append([]float32(nil), x.Row(i)...))
		}
		m.labels = append(m.labels, y.Float32s()...)
		return nil
	})
	if err != nil {
		return err
	}
	if len(m.inputs) == 0 {
		return errors.New("no training examples")
	}
	log.Debug().Int("examples", len(m.inputs)).Int("k", m.Config.K).Msg("stored neighbours")
	return nil
}

// neighbor holds a stored example and its distance to a query.
type neighbor struct {
	idx      int
	distance float64
}

// Predict scores each design of x. The result has shape (N, 1).
func (m *Model) Predict(ctx context.Context, x *array.Array) (*array.Array, error) {
	if len(m.inputs) == 0 {
		return nil, errors.New("model has not been trained")
	}
	if x.RowSize() != len(m.inputs[0]) {
		return nil, fmt.Errorf("designs have %d features, model expects %d", x.RowSize(), len(m.inputs[0]))
	}
	n := x.Rows()
	out := make([]float32, n)

	workerCount := m.Config.Workers
	if workerCount == 0 {
		workerCount = runtime.NumCPU()
	}
	workerCount = max(min(workerCount, n), 1)

	// Use a worker pool, one query per job.
	jobs := make(chan int, n)
	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					continue
				}
				out[i] = m.average(m.nearest(x.Row(i)))
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return array.FromFloats(out, n, 1)
}

// nearest performs a linear scan and returns up to K neighbours sorted by
// increasing distance. Equal distances keep insertion order.
func (m *Model) nearest(query []float32) []neighbor {
	candidates := make([]neighbor, len(m.inputs))
	for i, in := range m.inputs {
		candidates[i] = neighbor{idx: i, distance: math.Sqrt(euclideanDistanceSquared(query, in))}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].distance < candidates[j].distance
	})
	return candidates[:min(m.Config.K, len(candidates))]
}

func (m *Model) average(nbs []neighbor) float32 {
	if !m.Config.Weighted {
		var sum float64
		for _, nb := range nbs {
			sum += float64(m.labels[nb.idx])
		}
		return float32(sum / float64(len(nbs)))
	}
	var sum, wsum float64
	for _, nb := range nbs {
		if nb.distance == 0 {
			// exact match
			return m.labels[nb.idx]
		}
		w := 1 / nb.distance
		sum += w * float64(m.labels[nb.idx])
		wsum += w
	}
	return float32(sum / wsum)
}

// euclideanDistanceSquared computes squared Euclidean distance between two equal-length float32 slices.
func euclideanDistanceSquared(a, b []float32) float64 {
	sum := 0.0
	for i := 0; i < len(a) && i < len(b); i++ {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return sum
}

type snapshot struct {
	Config Config
	Inputs [][]float32
	Labels []float32
}

// MarshalBinary encodes the configuration and stored examples.
func (m *Model) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshot{Config: m.Config, Inputs: m.inputs, Labels: m.labels}); err != nil {
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
	m.Config, m.inputs, m.labels = s.Config, s.Inputs, s.Labels
	return nil
}
