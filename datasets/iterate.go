package datasets

import (
	"context"
	"fmt"
	"io"
	"math/rand"

	"github.com/Noofbiz/designBench/array"
)

// DefaultBatchSize is used when BatchOptions.BatchSize is zero.
const DefaultBatchSize = 128

// BatchOptions control one pass over a dataset.
type BatchOptions struct {
	BatchSize int   `mapstructure:"batch_size" validate:"gte=0"`
	Shuffle   bool  `mapstructure:"shuffle"`
	Seed      int64 `mapstructure:"seed"`

	// Format overrides the dataset's current format for this pass.
	Format *Format `mapstructure:"-"`
}

// Batch is a group of designs with their scores.
type Batch struct {
	X *array.Array
	Y *array.Array
	// Rows are the global row indices of the designs, in batch order.
	Rows []int
}

// Size is the number of designs in the batch.
func (b Batch) Size() int { return len(b.Rows) }

// segment is a run of rows lying inside a single x shard and a single y shard.
type segment struct {
	lo, hi int
	xi, yi int
}

// segments cuts the row range at every x and every y shard boundary.
func (d *Dataset) segments() []segment {
	var segs []segment
	total := d.total()
	xi, yi := 0, 0
	for lo := 0; lo < total; {
		for d.xOff[xi+1] <= lo {
			xi++
		}
		for d.yOff[yi+1] <= lo {
			yi++
		}
		hi := min(d.xOff[xi+1], d.yOff[yi+1])
		segs = append(segs, segment{lo: lo, hi: hi, xi: xi, yi: yi})
		lo = hi
	}
	return segs
}

// Iterator walks a dataset batch by batch. Next returns io.EOF once every
// selected design has been returned exactly once; Reset starts another pass.
type Iterator struct {
	d     *Dataset
	tr    Transform
	batch int

	shuffle bool
	rng     *rand.Rand

	segs  []segment
	order []int
	next  int

	pendX, pendY *array.Array
	pendRows     []int
}

// IterateBatches starts a pass over the selected designs. Shuffling permutes
// the order of aligned segments and the rows inside each segment, so only one
// x shard and one y shard are decoded at a time; batches may straddle shards.
func (d *Dataset) IterateBatches(ctx context.Context, opts BatchOptions) (*Iterator, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid batch options: %w", err)
	}
	f := d.format
	if opts.Format != nil {
		f = *opts.Format
	}
	tr, err := d.transformFor(ctx, f)
	if err != nil {
		return nil, err
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultBatchSize
	}
	it := &Iterator{
		d:       d,
		tr:      tr,
		batch:   opts.BatchSize,
		shuffle: opts.Shuffle,
		rng:     rand.New(rand.NewSource(opts.Seed)),
		segs:    d.segments(),
	}
	it.Reset()
	return it, nil
}

// IterateSamples is IterateBatches with one design per batch.
func (d *Dataset) IterateSamples(ctx context.Context, opts BatchOptions) (*Iterator, error) {
	opts.BatchSize = 1
	return d.IterateBatches(ctx, opts)
}

// Transform is the format batches are returned in.
func (it *Iterator) Transform() Transform { return it.tr }

// Reset rewinds the iterator. A shuffled iterator draws a fresh order from
// its seeded stream, so successive passes differ but are reproducible.
func (it *Iterator) Reset() {
	it.order = make([]int, len(it.segs))
	for i := range it.order {
		it.order[i] = i
	}
	if it.shuffle {
		it.rng.Shuffle(len(it.order), func(i, j int) {
			it.order[i], it.order[j] = it.order[j], it.order[i]
		})
	}
	it.next = 0
	it.pendX, it.pendY, it.pendRows = nil, nil, nil
}

// Next returns the next batch in the iterator's format.
func (it *Iterator) Next(ctx context.Context) (Batch, error) {
	for len(it.pendRows) < it.batch && it.next < len(it.order) {
		if err := ctx.Err(); err != nil {
			return Batch{}, err
		}
		seg := it.segs[it.order[it.next]]
		it.next++
		if err := it.fill(ctx, seg); err != nil {
			return Batch{}, err
		}
	}
	if len(it.pendRows) == 0 {
		return Batch{}, io.EOF
	}

	n := min(it.batch, len(it.pendRows))
	rawX, rawY := it.pendX.Slice(0, n), it.pendY.Slice(0, n)
	rows := it.pendRows[:n:n]
	it.pendX = it.pendX.Slice(n, it.pendX.Rows())
	it.pendY = it.pendY.Slice(n, it.pendY.Rows())
	it.pendRows = it.pendRows[n:]

	x, err := it.tr.ForwardX(rawX)
	if err != nil {
		return Batch{}, err
	}
	y, err := it.tr.ForwardY(rawY)
	if err != nil {
		return Batch{}, err
	}
	return Batch{X: x, Y: y, Rows: rows}, nil
}

// fill appends the selected rows of seg to the pending buffers.
func (it *Iterator) fill(ctx context.Context, seg segment) error {
	d := it.d
	rows := append([]int(nil), d.selectedIn(seg.lo, seg.hi)...)
	if len(rows) == 0 {
		return nil
	}
	if it.shuffle {
		it.rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
	}

	xs, err := d.loadX(ctx, seg.xi)
	if err != nil {
		return err
	}
	ys, err := d.loadY(ctx, seg.yi)
	if err != nil {
		return err
	}
	xLocal := make([]int, len(rows))
	yLocal := make([]int, len(rows))
	for i, r := range rows {
		xLocal[i] = r - d.xOff[seg.xi]
		yLocal[i] = r - d.yOff[seg.yi]
	}
	x, y := xs.Take(xLocal), ys.Take(yLocal)

	if it.pendX == nil || it.pendX.Rows() == 0 {
		it.pendX, it.pendY = x, y
	} else {
		if it.pendX, err = array.Concat(it.pendX, x); err != nil {
			return err
		}
		if it.pendY, err = array.Concat(it.pendY, y); err != nil {
			return err
		}
	}
	it.pendRows = append(it.pendRows, rows...)
	return nil
}

// loadX decodes x shard i in canonical form.
func (d *Dataset) loadX(ctx context.Context, i int) (*array.Array, error) {
	a, err := d.xs[i].Load(ctx)
	if err != nil {
		return nil, err
	}
	if !array.SameShape(a.RowShape(), d.inputShape) {
		return nil, fmt.Errorf("%w: shard %s has designs of shape %v, expected %v",
			array.ErrShape, d.xs[i].Name(), a.RowShape(), d.inputShape)
	}
	switch {
	case d.kind == Discrete && a.DType != array.DTypeInt32:
		return nil, fmt.Errorf("%w: shard %s holds %s designs, expected tokens",
			ErrFormatMismatch, d.xs[i].Name(), a.DType)
	case d.kind == Continuous && a.DType == array.DTypeInt32:
		a = &array.Array{Shape: a.Shape, DType: array.DTypeFloat32, Floats: a.Float32s()}
	}
	return a, nil
}

// loadY decodes y shard i as float32 of shape (N, 1).
func (d *Dataset) loadY(ctx context.Context, i int) (*array.Array, error) {
	a, err := d.ys[i].Load(ctx)
	if err != nil {
		return nil, err
	}
	if a.Len() != a.Rows() {
		return nil, fmt.Errorf("%w: shard %s has scores of shape %v, expected (N, 1)",
			array.ErrShape, d.ys[i].Name(), a.Shape)
	}
	return &array.Array{Shape: []int{a.Rows(), 1}, DType: array.DTypeFloat32, Floats: a.Float32s()}, nil
}

// ForEachBatch calls fn for every batch of one pass.
func (d *Dataset) ForEachBatch(ctx context.Context, opts BatchOptions, fn func(Batch) error) error {
	it, err := d.IterateBatches(ctx, opts)
	if err != nil {
		return err
	}
	for {
		b, err := it.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
	}
}

// Arrays reads every selected design and score in the current format, in row
// order. It is meant for datasets that fit in memory.
func (d *Dataset) Arrays(ctx context.Context) (x, y *array.Array, err error) {
	var xs, ys []*array.Array
	err = d.ForEachBatch(ctx, BatchOptions{BatchSize: 4096}, func(b Batch) error {
		xs = append(xs, b.X)
		ys = append(ys, b.Y)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(xs) == 0 {
		t := d.baseTransform(d.format)
		return array.Zeros(t.XDType(), append([]int{0}, t.XShape()...)...),
			array.Zeros(array.DTypeFloat32, 0, 1), nil
	}
	if x, err = array.Concat(xs...); err != nil {
		return nil, nil, err
	}
	if y, err = array.Concat(ys...); err != nil {
		return nil, nil, err
	}
	return x, y, nil
}
