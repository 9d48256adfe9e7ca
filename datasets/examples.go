package datasets

import (
	"context"

	"github.com/Noofbiz/designBench/array"
)

// Examples streams a dataset's designs and scores through a fixed Transform
// rather than the dataset's own format. Models train on Examples so they see
// exactly the representation they were built for, whatever happens to the
// dataset's format afterwards.
type Examples struct {
	ds *Dataset
	tr Transform
}

// Examples binds d to tr. tr must describe the same kind of designs.
func (d *Dataset) Examples(tr Transform) (*Examples, error) {
	if err := tr.Compatible(d.baseTransform(Format{})); err != nil {
		return nil, err
	}
	return &Examples{ds: d, tr: tr}, nil
}

// Len is the number of examples.
func (e *Examples) Len() int { return e.ds.Size() }

// Transform is the representation examples are produced in.
func (e *Examples) Transform() Transform { return e.tr }

// ForEachBatch reads one pass in canonical form and hands fn each batch in
// the bound format.
func (e *Examples) ForEachBatch(ctx context.Context, opts BatchOptions, fn func(x, y *array.Array) error) error {
	canonical := Format{}
	opts.Format = &canonical
	return e.ds.ForEachBatch(ctx, opts, func(b Batch) error {
		x, err := e.tr.ForwardX(b.X)
		if err != nil {
			return err
		}
		y, err := e.tr.ForwardY(b.Y)
		if err != nil {
			return err
		}
		return fn(x, y)
	})
}
