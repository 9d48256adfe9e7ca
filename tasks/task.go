// Package tasks pairs a dataset with the oracle that scores its designs.
//
// Format changes go through the Task so callers can freely move the dataset
// into logits or normalized space and still ask the oracle for scores in that
// same space.
package tasks

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Noofbiz/designBench/array"
	"github.com/Noofbiz/designBench/datasets"
	"github.com/Noofbiz/designBench/oracles"
)

// Task is a dataset and an oracle built for it.
type Task struct {
	ds     *datasets.Dataset
	oracle *oracles.Oracle
}

// New pairs ds with an oracle that was built for a dataset of the same kind
// and design shape.
func New(ctx context.Context, ds *datasets.Dataset, oracle *oracles.Oracle) (*Task, error) {
	tr, err := ds.Transform(ctx)
	if err != nil {
		return nil, err
	}
	if err := oracle.ExpectedTransform().Compatible(tr); err != nil {
		return nil, fmt.Errorf("oracle %s cannot score dataset %s: %w", oracle.Name(), ds.Name, err)
	}
	return &Task{ds: ds, oracle: oracle}, nil
}

// Make builds the oracle for ds and returns the task.
func Make(ctx context.Context, ds *datasets.Dataset, model oracles.Model, cfg oracles.Config) (*Task, error) {
	o, err := oracles.New(ctx, ds, model, cfg)
	if err != nil {
		return nil, err
	}
	log.Info().Str("dataset", ds.Name).Str("oracle", o.Name()).Int("size", ds.Size()).
		Float64("rank_correlation", o.Params().RankCorrelation).Msg("made task")
	return &Task{ds: ds, oracle: o}, nil
}

func (t *Task) Dataset() *datasets.Dataset { return t.ds }
func (t *Task) Oracle() *oracles.Oracle    { return t.oracle }

func (t *Task) Size() int                    { return t.ds.Size() }
func (t *Task) IsDiscrete() bool             { return t.ds.Kind() == datasets.Discrete }
func (t *Task) NumClasses() int              { return t.ds.NumClasses() }
func (t *Task) InputShape() []int            { return t.ds.InputShape() }
func (t *Task) InputDType() array.DType      { return t.ds.InputDType() }
func (t *Task) Format() datasets.Format      { return t.ds.Format() }
func (t *Task) IsLogits() bool               { return t.ds.IsLogits() }
func (t *Task) IsNormalizedX() bool          { return t.ds.IsNormalizedX() }
func (t *Task) IsNormalizedY() bool          { return t.ds.IsNormalizedY() }
func (t *Task) OracleParams() oracles.Params { return t.oracle.Params() }

func (t *Task) MapToLogits() error                        { return t.ds.MapToLogits() }
func (t *Task) MapToIntegers() error                      { return t.ds.MapToIntegers() }
func (t *Task) MapNormalizeX(ctx context.Context) error   { return t.ds.MapNormalizeX(ctx) }
func (t *Task) MapDenormalizeX(ctx context.Context) error { return t.ds.MapDenormalizeX(ctx) }
func (t *Task) MapNormalizeY(ctx context.Context) error   { return t.ds.MapNormalizeY(ctx) }
func (t *Task) MapDenormalizeY(ctx context.Context) error { return t.ds.MapDenormalizeY(ctx) }

// Subsample narrows the dataset. The oracle is unaffected.
func (t *Task) Subsample(ctx context.Context, opts datasets.SubsampleOptions) error {
	return t.ds.Subsample(ctx, opts)
}

// Relabel replaces the dataset's scores. The oracle is unaffected.
func (t *Task) Relabel(ctx context.Context, fn datasets.RelabelFunc, opts datasets.RelabelOptions) error {
	return t.ds.Relabel(ctx, fn, opts)
}

// RelabelWithOracle replaces the dataset's scores with the oracle's
// predictions for its designs.
func (t *Task) RelabelWithOracle(ctx context.Context, opts datasets.RelabelOptions) error {
	tr, err := t.ds.Transform(ctx)
	if err != nil {
		return err
	}
	return t.ds.Relabel(ctx, func(x, _ *array.Array) (*array.Array, error) {
		return t.oracle.Predict(ctx, x, tr)
	}, opts)
}

// IterateBatches iterates the dataset in its current format.
func (t *Task) IterateBatches(ctx context.Context, opts datasets.BatchOptions) (*datasets.Iterator, error) {
	return t.ds.IterateBatches(ctx, opts)
}

// IterateSamples iterates the dataset one design at a time.
func (t *Task) IterateSamples(ctx context.Context, opts datasets.BatchOptions) (*datasets.Iterator, error) {
	return t.ds.IterateSamples(ctx, opts)
}

// Arrays loads every design and score in the current format.
func (t *Task) Arrays(ctx context.Context) (x, y *array.Array, err error) {
	return t.ds.Arrays(ctx)
}

// Predict scores designs given in the dataset's current format and returns
// them in the dataset's current score format.
func (t *Task) Predict(ctx context.Context, x *array.Array) (*array.Array, error) {
	tr, err := t.ds.Transform(ctx)
	if err != nil {
		return nil, err
	}
	y, err := t.oracle.Predict(ctx, x, tr)
	if err != nil {
		return nil, err
	}
	return tr.ForwardY(y)
}
