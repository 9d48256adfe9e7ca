package datasets

import (
	"context"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/Noofbiz/designBench/array"
)

// Tensors converts the batch into gomlx tensors with the same shapes.
func (b Batch) Tensors() (x, y *tensors.Tensor) {
	return toTensor(b.X), toTensor(b.Y)
}

func toTensor(a *array.Array) *tensors.Tensor {
	if a.DType == array.DTypeInt32 {
		return tensors.FromFlatDataAndDimensions(a.Ints, a.Shape...)
	}
	return tensors.FromFlatDataAndDimensions(a.Floats, a.Shape...)
}

// TensorDataset adapts a Dataset to gomlx's train.Dataset interface
// (Name, Yield, Reset), so gomlx training loops can consume sharded data
// directly. Yield returns io.EOF at the end of each pass.
type TensorDataset struct {
	ctx context.Context
	ds  *Dataset
	it  *Iterator
}

// NewTensorDataset starts a batched pass over ds. gomlx's interface has no
// context parameter, so ctx is kept for the lifetime of the adapter.
func NewTensorDataset(ctx context.Context, ds *Dataset, opts BatchOptions) (*TensorDataset, error) {
	it, err := ds.IterateBatches(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &TensorDataset{ctx: ctx, ds: ds, it: it}, nil
}

// Name returns the name of the dataset.
func (t *TensorDataset) Name() string { return t.ds.Name }

// Reset restarts the pass for a new epoch.
func (t *TensorDataset) Reset() { t.it.Reset() }

// Yield returns the next batch of designs as inputs and scores as labels.
func (t *TensorDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	b, err := t.it.Next(t.ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	x, y := b.Tensors()
	return nil, []*tensors.Tensor{x}, []*tensors.Tensor{y}, nil
}
