// Package oracles provides the black-box scoring functions that stand in for
// real-world evaluation of designs.
//
// An Oracle wraps a Model trained (or loaded) for one fixed input format. That
// format is frozen as a datasets.Transform when the oracle is built; designs
// passed to Predict carry the Transform they are expressed in, and the oracle
// maps them back to canonical form and forward into its own before scoring.
// Changing the format of the dataset used to build an oracle therefore never
// changes its predictions.
package oracles

import (
	"context"
	"encoding"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/Noofbiz/designBench/array"
	"github.com/Noofbiz/designBench/datasets"
)

// Model is the learned or exact function behind an Oracle. Inputs and outputs
// are in the oracle's expected format.
type Model interface {
	Fit(ctx context.Context, ex *datasets.Examples) error
	// Predict returns one score per design, shape (N, 1) or (N).
	Predict(ctx context.Context, x *array.Array) (*array.Array, error)
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// Config controls how an Oracle is built.
type Config struct {
	// Name identifies the oracle in logs and snapshots.
	Name string `mapstructure:"name"`

	// Fit trains the model on the dataset. Otherwise a snapshot is loaded
	// from Path.
	Fit bool `mapstructure:"fit"`

	// ExpectedFormat is the representation the model consumes. It is ignored
	// when loading, where the snapshot's format wins.
	ExpectedFormat datasets.Format `mapstructure:"expected_format"`

	// NoiseStd adds zero-mean Gaussian noise to every raw prediction. When
	// loading, zero keeps the level recorded in the snapshot.
	NoiseStd float64 `mapstructure:"noise_std" validate:"gte=0"`
	Seed     int64   `mapstructure:"seed"`

	// Split configures the training / validation partition used by Fit.
	Split datasets.SplitOptions `mapstructure:"split"`

	// BatchSize is used when scoring the validation partition.
	BatchSize int `mapstructure:"batch_size" validate:"gte=0"`

	// Path, when set, is where a fitted oracle is saved and where Fit=false
	// loads from.
	Path string `mapstructure:"path" validate:"required_without=Fit"`
}

var validate = validator.New()

// Params describe how the oracle was built and how well it ranks.
type Params struct {
	// RankCorrelation is the Spearman correlation between predictions and
	// true scores on the validation partition. NaN when there was none.
	RankCorrelation float64
	TrainSize       int
	ValSize         int
	Split           datasets.SplitOptions
}

// Oracle scores designs. Predict is safe for concurrent use.
type Oracle struct {
	name     string
	ds       *datasets.Dataset
	expected datasets.Transform
	noiseStd float64
	model    Model
	params   Params

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds an oracle over a private copy of ds. With cfg.Fit the copy is
// split, the expected Transform is taken from the training partition in
// cfg.ExpectedFormat, and model is trained on that partition and ranked on
// the validation partition; otherwise model state and
// format are loaded from cfg.Path. ds itself is not modified.
func New(ctx context.Context, ds *datasets.Dataset, model Model, cfg Config) (*Oracle, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid oracle config: %w", err)
	}
	if model == nil {
		return nil, fmt.Errorf("oracle needs a model")
	}
	if cfg.Name == "" {
		cfg.Name = ds.Name + "-oracle"
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = datasets.DefaultBatchSize
	}
	o := &Oracle{
		name:     cfg.Name,
		ds:       ds.Clone(),
		noiseStd: cfg.NoiseStd,
		model:    model,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
	}

	if !cfg.Fit {
		if err := o.load(cfg.Path); err != nil {
			return nil, err
		}
		own, err := o.ds.Transform(ctx)
		if err != nil {
			return nil, err
		}
		if err := o.expected.Compatible(own); err != nil {
			return nil, fmt.Errorf("oracle %s does not match dataset %s: %w", o.name, ds.Name, err)
		}
		return o, nil
	}

	if err := o.fit(ctx, cfg); err != nil {
		return nil, err
	}
	if cfg.Path != "" {
		if err := o.Save(cfg.Path); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Oracle) fit(ctx context.Context, cfg Config) error {
	train, val, err := o.ds.Split(ctx, cfg.Split)
	if err != nil {
		return err
	}
	if train.Size() == 0 {
		return fmt.Errorf("oracle %s: empty training partition", o.name)
	}

	// Normalization moments come from the training partition only.
	if err := train.SetFormat(ctx, cfg.ExpectedFormat); err != nil {
		return fmt.Errorf("failed to apply expected format %s: %w", cfg.ExpectedFormat, err)
	}
	if o.expected, err = train.Transform(ctx); err != nil {
		return err
	}
	ex, err := train.Examples(o.expected)
	if err != nil {
		return err
	}
	if err := o.model.Fit(ctx, ex); err != nil {
		return fmt.Errorf("failed to fit oracle %s: %w", o.name, err)
	}

	rho := math.NaN()
	if val.Size() > 0 {
		if rho, err = o.rank(ctx, val, cfg.BatchSize); err != nil {
			return err
		}
	}
	o.params = Params{RankCorrelation: rho, TrainSize: train.Size(), ValSize: val.Size(), Split: cfg.Split}
	log.Info().Str("oracle", o.name).Str("format", o.expected.Format.String()).
		Int("train", train.Size()).Int("val", val.Size()).Float64("rank_correlation", rho).
		Msg("fitted oracle")
	return nil
}

// rank scores the validation partition and correlates predictions with the
// raw scores. The validation scores are only read here, after fitting.
func (o *Oracle) rank(ctx context.Context, val *datasets.Dataset, batchSize int) (float64, error) {
	canonical := datasets.Format{}
	raw := o.expected
	raw.Format, raw.X, raw.Y = canonical, nil, nil

	var preds, truth []float64
	err := val.ForEachBatch(ctx, datasets.BatchOptions{BatchSize: batchSize, Format: &canonical}, func(b datasets.Batch) error {
		y, err := o.predict(ctx, b.X, raw, false)
		if err != nil {
			return err
		}
		for i, v := range y.Floats {
			preds = append(preds, float64(v))
			truth = append(truth, float64(b.Y.Floats[i]))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to score validation partition: %w", err)
	}
	return Spearman(preds, truth), nil
}

// Name identifies the oracle.
func (o *Oracle) Name() string { return o.name }

// Params returns the fit summary.
func (o *Oracle) Params() Params { return o.params }

// ExpectedTransform is the frozen format the model consumes.
func (o *Oracle) ExpectedTransform() datasets.Transform { return o.expected }

// NoiseStd is the standard deviation of the noise added to predictions.
func (o *Oracle) NoiseStd() float64 { return o.noiseStd }

// Predict scores designs expressed in from's format. Designs are mapped to
// canonical form, then into the oracle's expected format; the model output is
// mapped back to the raw score scale before noise is added. The result has
// shape (N, 1) and is always raw scores, whatever from.Format says about y.
func (o *Oracle) Predict(ctx context.Context, x *array.Array, from datasets.Transform) (*array.Array, error) {
	return o.predict(ctx, x, from, true)
}

func (o *Oracle) predict(ctx context.Context, x *array.Array, from datasets.Transform, noisy bool) (*array.Array, error) {
	if err := o.expected.Compatible(from); err != nil {
		return nil, err
	}
	canon, err := from.InverseX(x)
	if err != nil {
		return nil, err
	}
	in, err := o.expected.ForwardX(canon)
	if err != nil {
		return nil, err
	}
	out, err := o.model.Predict(ctx, in)
	if err != nil {
		return nil, err
	}
	if out.Len() != x.Rows() {
		return nil, fmt.Errorf("%w: model returned %v for %d designs", array.ErrShape, out.Shape, x.Rows())
	}
	if out, err = out.Reshape(x.Rows(), 1); err != nil {
		return nil, err
	}
	y, err := o.expected.InverseY(out)
	if err != nil {
		return nil, err
	}
	if noisy && o.noiseStd > 0 {
		o.mu.Lock()
		for i := range y.Floats {
			y.Floats[i] += float32(o.rng.NormFloat64() * o.noiseStd)
		}
		o.mu.Unlock()
	}
	return y, nil
}

// FuncModel is an exact scoring function used as a model. It needs no
// fitting and has no state to save.
type FuncModel func(ctx context.Context, x *array.Array) (*array.Array, error)

// Fit is a no-op.
func (FuncModel) Fit(context.Context, *datasets.Examples) error { return nil }

// Predict calls f.
func (f FuncModel) Predict(ctx context.Context, x *array.Array) (*array.Array, error) {
	return f(ctx, x)
}

// MarshalBinary returns no data.
func (FuncModel) MarshalBinary() ([]byte, error) { return nil, nil }

// UnmarshalBinary accepts any data.
func (FuncModel) UnmarshalBinary([]byte) error { return nil }
