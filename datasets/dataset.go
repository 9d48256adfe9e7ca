package datasets

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Noofbiz/designBench/array"
	"github.com/Noofbiz/designBench/resource"
)

// DefaultSoftInterpolation is the weight of the true class when tokens are
// converted to logits.
const DefaultSoftInterpolation = 0.6

// Options configure dataset construction.
type Options struct {
	Name  string `mapstructure:"name"`
	XName string `mapstructure:"x_name"`
	YName string `mapstructure:"y_name"`

	// NumClasses is the token vocabulary size of a discrete dataset. It is
	// required for shard-backed datasets; FromArrays infers it from the
	// largest token when zero.
	NumClasses int `mapstructure:"num_classes" validate:"gte=0"`

	// SoftInterpolation in (0, 1] controls the logit encoding. Zero means
	// DefaultSoftInterpolation.
	SoftInterpolation float64 `mapstructure:"soft_interpolation" validate:"gte=0,lte=1"`

	// Cache holds decoded shards. Nil uses DefaultShardCache.
	Cache *ShardCache `mapstructure:"-"`

	// Concurrency bounds the parallel shard header scan. Zero means 8.
	Concurrency int `mapstructure:"concurrency" validate:"gte=0"`
}

var validate = validator.New()

func (o *Options) setDefaults() {
	if o.Name == "" {
		o.Name = "dataset"
	}
	if o.XName == "" {
		o.XName = "design"
	}
	if o.YName == "" {
		o.YName = "score"
	}
	if o.SoftInterpolation == 0 {
		o.SoftInterpolation = DefaultSoftInterpolation
	}
	if o.Concurrency == 0 {
		o.Concurrency = 8
	}
	if o.Cache == nil {
		o.Cache = DefaultShardCache()
	}
}

// Dataset is an ordered collection of designs and their scores, split over
// x and y shards whose boundaries need not line up. A Dataset is not safe for
// concurrent mutation; concurrent readers are fine once mutation stops.
type Dataset struct {
	Name  string
	XName string
	YName string

	kind       Kind
	numClasses int
	soft       float64
	inputShape []int

	xs, ys []Source
	// xOff and yOff are cumulative row counts, one entry longer than the
	// shard list.
	xOff, yOff []int

	// selection lists the retained global row indices in ascending order.
	// nil selects every row.
	selection []int

	format         Format
	xStats, yStats *Moments

	minPercentile, maxPercentile float64
	lo, hi                       float64

	cache *ShardCache
}

// NewDiscreteDataset builds a token dataset over x and y shard resources.
// Every resource is materialized locally while the shard headers are scanned.
func NewDiscreteDataset(ctx context.Context, xs, ys []*resource.Resource, opts Options) (*Dataset, error) {
	if opts.NumClasses <= 0 {
		return nil, fmt.Errorf("discrete dataset %q needs NumClasses", opts.Name)
	}
	return newFromResources(ctx, Discrete, xs, ys, opts)
}

// NewContinuousDataset builds a real-valued dataset over x and y shard resources.
func NewContinuousDataset(ctx context.Context, xs, ys []*resource.Resource, opts Options) (*Dataset, error) {
	return newFromResources(ctx, Continuous, xs, ys, opts)
}

func newFromResources(ctx context.Context, kind Kind, xs, ys []*resource.Resource, opts Options) (*Dataset, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid dataset options: %w", err)
	}
	opts.setDefaults()

	headers := make([]array.Header, len(xs)+len(ys))
	all := append(append([]*resource.Resource(nil), xs...), ys...)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, r := range all {
		g.Go(func() error {
			path, err := r.EnsureLocal(gctx)
			if err != nil {
				return err
			}
			h, err := array.ReadHeader(path)
			if err != nil {
				return fmt.Errorf("failed to read shard header %s: %w", path, err)
			}
			headers[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var inputShape []int
	xSources := make([]Source, len(xs))
	for i, r := range xs {
		h := headers[i]
		if len(h.Shape) == 0 {
			return nil, fmt.Errorf("%w: scalar x shard %s", array.ErrShape, r.Path())
		}
		if i == 0 {
			inputShape = append([]int(nil), h.Shape[1:]...)
		} else if !array.SameShape(inputShape, h.Shape[1:]) {
			return nil, fmt.Errorf("%w: x shard %s has designs of shape %v, expected %v",
				array.ErrShape, r.Path(), h.Shape[1:], inputShape)
		}
		xSources[i] = &fileSource{res: r, rows: h.Rows(), cache: opts.Cache}
	}
	ySources := make([]Source, len(ys))
	for i, r := range ys {
		h := headers[len(xs)+i]
		if len(h.Shape) == 0 || array.Size(h.Shape[1:]) != 1 {
			return nil, fmt.Errorf("%w: y shard %s has shape %v, expected (N, 1)",
				array.ErrShape, r.Path(), h.Shape)
		}
		ySources[i] = &fileSource{res: r, rows: h.Rows(), cache: opts.Cache}
	}

	d, err := build(kind, xSources, ySources, inputShape, opts)
	if err != nil {
		return nil, err
	}
	log.Info().Str("dataset", d.Name).Str("kind", kind.String()).
		Int("x_shards", len(xs)).Int("y_shards", len(ys)).Int("size", d.Size()).
		Msg("opened dataset")
	return d, nil
}

// FromArrays builds an in-memory dataset. y may have shape (N) or (N, 1).
// Continuous datasets convert integer x to float32.
func FromArrays(kind Kind, x, y *array.Array, opts Options) (*Dataset, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid dataset options: %w", err)
	}
	opts.setDefaults()
	if len(x.Shape) == 0 {
		return nil, fmt.Errorf("%w: scalar designs", array.ErrShape)
	}
	if y.Len() != y.Rows() {
		return nil, fmt.Errorf("%w: scores of shape %v, expected (N, 1)", array.ErrShape, y.Shape)
	}
	y, _ = y.Reshape(y.Rows(), 1)
	if y.DType == array.DTypeInt32 {
		y = &array.Array{Shape: y.Shape, DType: array.DTypeFloat32, Floats: y.Float32s()}
	}

	switch kind {
	case Discrete:
		if x.DType != array.DTypeInt32 {
			return nil, fmt.Errorf("%w: discrete designs must be tokens, got %s", ErrFormatMismatch, x.DType)
		}
		if opts.NumClasses == 0 {
			for _, v := range x.Ints {
				if int(v)+1 > opts.NumClasses {
					opts.NumClasses = int(v) + 1
				}
			}
		}
	case Continuous:
		if x.DType == array.DTypeInt32 {
			x = &array.Array{Shape: x.Shape, DType: array.DTypeFloat32, Floats: x.Float32s()}
		}
	}

	return build(kind,
		[]Source{NewMemorySource(opts.XName, x)},
		[]Source{NewMemorySource(opts.YName, y)},
		x.RowShape(), opts)
}

// FromSources builds a dataset over already opened shards.
func FromSources(kind Kind, xs, ys []Source, inputShape []int, opts Options) (*Dataset, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid dataset options: %w", err)
	}
	opts.setDefaults()
	if kind == Discrete && opts.NumClasses <= 0 {
		return nil, fmt.Errorf("discrete dataset %q needs NumClasses", opts.Name)
	}
	return build(kind, xs, ys, inputShape, opts)
}

func build(kind Kind, xs, ys []Source, inputShape []int, opts Options) (*Dataset, error) {
	d := &Dataset{
		Name:          opts.Name,
		XName:         opts.XName,
		YName:         opts.YName,
		kind:          kind,
		numClasses:    opts.NumClasses,
		soft:          opts.SoftInterpolation,
		inputShape:    append([]int(nil), inputShape...),
		xs:            xs,
		ys:            ys,
		xOff:          offsets(xs),
		yOff:          offsets(ys),
		minPercentile: 0,
		maxPercentile: 100,
		lo:            math.Inf(-1),
		hi:            math.Inf(1),
		cache:         opts.Cache,
	}
	if kind == Continuous {
		d.numClasses = 0
	}
	nx, ny := d.xOff[len(xs)], d.yOff[len(ys)]
	if nx != ny {
		return nil, fmt.Errorf("%w: %d designs across %d x shards, %d scores across %d y shards",
			ErrShardLengthMismatch, nx, len(xs), ny, len(ys))
	}
	return d, nil
}

func offsets(srcs []Source) []int {
	off := make([]int, len(srcs)+1)
	for i, s := range srcs {
		off[i+1] = off[i] + s.Len()
	}
	return off
}

// Kind reports whether designs are tokens or reals.
func (d *Dataset) Kind() Kind { return d.kind }

// NumClasses is the vocabulary size of a discrete dataset and zero otherwise.
func (d *Dataset) NumClasses() int { return d.numClasses }

// SoftInterpolation is the logit encoding weight of a discrete dataset.
func (d *Dataset) SoftInterpolation() float64 { return d.soft }

// Format is the representation designs and scores are currently read in.
func (d *Dataset) Format() Format { return d.format }

// IsLogits reports whether discrete designs are read as logits.
func (d *Dataset) IsLogits() bool { return d.format.Logits }

// IsNormalizedX reports whether designs are read standardized.
func (d *Dataset) IsNormalizedX() bool { return d.format.NormalizedX }

// IsNormalizedY reports whether scores are read standardized.
func (d *Dataset) IsNormalizedY() bool { return d.format.NormalizedY }

// total is the number of stored rows, selected or not.
func (d *Dataset) total() int { return d.xOff[len(d.xOff)-1] }

// Size is the number of designs currently selected.
func (d *Dataset) Size() int {
	if d.selection == nil {
		return d.total()
	}
	return len(d.selection)
}

// InputShape is the per-design shape in the current format.
func (d *Dataset) InputShape() []int { return d.baseTransform(d.format).XShape() }

// InputDType is the design element type in the current format.
func (d *Dataset) InputDType() array.DType { return d.baseTransform(d.format).XDType() }

// OutputShape is the per-design score shape, always (1).
func (d *Dataset) OutputShape() []int { return []int{1} }

// Shards returns the number of x and y shards.
func (d *Dataset) Shards() (x, y int) { return len(d.xs), len(d.ys) }

// Percentiles are the bounds of the last Subsample, (0, 100) by default.
func (d *Dataset) Percentiles() (lo, hi float64) { return d.minPercentile, d.maxPercentile }

// Thresholds are the raw score cut-points of the last Subsample, infinite by
// default.
func (d *Dataset) Thresholds() (lo, hi float64) { return d.lo, d.hi }

// Clone returns an independent dataset over the same shards. Mutating the
// clone's format or selection leaves d untouched.
func (d *Dataset) Clone() *Dataset {
	c := *d
	c.inputShape = append([]int(nil), d.inputShape...)
	c.xs = append([]Source(nil), d.xs...)
	c.ys = append([]Source(nil), d.ys...)
	c.xOff = append([]int(nil), d.xOff...)
	c.yOff = append([]int(nil), d.yOff...)
	if d.selection != nil {
		c.selection = append([]int(nil), d.selection...)
	}
	return &c
}

// withSelection clones d restricted to the given sorted global rows.
func (d *Dataset) withSelection(rows []int) *Dataset {
	c := d.Clone()
	c.selection = rows
	c.xStats, c.yStats = nil, nil
	return c
}

// selectedIn returns the selected global rows in [lo, hi).
func (d *Dataset) selectedIn(lo, hi int) []int {
	if d.selection == nil {
		rows := make([]int, hi-lo)
		for i := range rows {
			rows[i] = lo + i
		}
		return rows
	}
	a := sort.SearchInts(d.selection, lo)
	b := sort.SearchInts(d.selection, hi)
	return d.selection[a:b]
}

// rows returns every selected global row in ascending order.
func (d *Dataset) rows() []int { return d.selectedIn(0, d.total()) }

func (d *Dataset) baseTransform(f Format) Transform {
	return Transform{
		Kind:              d.kind,
		NumClasses:        d.numClasses,
		SoftInterpolation: d.soft,
		InputShape:        append([]int(nil), d.inputShape...),
		Format:            f,
	}
}

// Transform snapshots the current format together with its statistics,
// computing any statistics the format needs that are not cached yet.
func (d *Dataset) Transform(ctx context.Context) (Transform, error) {
	return d.transformFor(ctx, d.format)
}

func (d *Dataset) transformFor(ctx context.Context, f Format) (Transform, error) {
	if err := f.validFor(d.kind); err != nil {
		return Transform{}, err
	}
	t := d.baseTransform(f)
	if f.NormalizedX {
		if err := d.ensureXStats(ctx); err != nil {
			return Transform{}, err
		}
		t.X = d.xStats
	}
	if f.NormalizedY {
		if err := d.ensureYStats(ctx); err != nil {
			return Transform{}, err
		}
		t.Y = d.yStats
	}
	return t, nil
}

// SetFormat switches to f in one step, computing statistics as needed.
func (d *Dataset) SetFormat(ctx context.Context, f Format) error {
	if _, err := d.transformFor(ctx, f); err != nil {
		return err
	}
	d.format = f
	return nil
}

const statsBatchSize = 256

// ensureXStats computes design moments over the selected rows. Discrete
// designs are measured in logit space, the only space they are normalized in.
func (d *Dataset) ensureXStats(ctx context.Context) error {
	if d.xStats != nil {
		return nil
	}
	raw := Format{Logits: d.kind == Discrete}
	w := newWelford(array.Size(d.baseTransform(raw).XShape()))
	err := d.ForEachBatch(ctx, BatchOptions{BatchSize: statsBatchSize, Format: &raw}, func(b Batch) error {
		w.add(b.X)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to compute design statistics: %w", err)
	}
	d.xStats = w.moments()
	log.Debug().Str("dataset", d.Name).Int("features", len(d.xStats.Mean)).Msg("computed design statistics")
	return nil
}

func (d *Dataset) ensureYStats(ctx context.Context) error {
	if d.yStats != nil {
		return nil
	}
	scores, _, err := d.scores(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute score statistics: %w", err)
	}
	w := newWelford(1)
	w.add(&array.Array{Shape: []int{len(scores), 1}, DType: array.DTypeFloat32, Floats: scores})
	d.yStats = w.moments()
	return nil
}

// scores reads the canonical score of every selected row, touching y shards
// only, and returns them with their global row indices.
func (d *Dataset) scores(ctx context.Context) ([]float32, []int, error) {
	out := make([]float32, 0, d.Size())
	idx := make([]int, 0, d.Size())
	for i := range d.ys {
		rows := d.selectedIn(d.yOff[i], d.yOff[i+1])
		if len(rows) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		y, err := d.loadY(ctx, i)
		if err != nil {
			return nil, nil, err
		}
		vals := y.Floats
		for _, r := range rows {
			out = append(out, vals[r-d.yOff[i]])
			idx = append(idx, r)
		}
	}
	return out, idx, nil
}

// MapNormalizeX standardizes designs per feature. Discrete datasets must be
// in logit format first.
func (d *Dataset) MapNormalizeX(ctx context.Context) error {
	if d.format.NormalizedX {
		return ErrAlreadyInFormat
	}
	return d.SetFormat(ctx, d.format.WithNormalizedX(true))
}

// MapDenormalizeX undoes MapNormalizeX.
func (d *Dataset) MapDenormalizeX(context.Context) error {
	if !d.format.NormalizedX {
		return ErrAlreadyInFormat
	}
	d.format = d.format.WithNormalizedX(false)
	return nil
}

// MapNormalizeY standardizes scores.
func (d *Dataset) MapNormalizeY(ctx context.Context) error {
	if d.format.NormalizedY {
		return ErrAlreadyInFormat
	}
	return d.SetFormat(ctx, d.format.WithNormalizedY(true))
}

// MapDenormalizeY undoes MapNormalizeY.
func (d *Dataset) MapDenormalizeY(context.Context) error {
	if !d.format.NormalizedY {
		return ErrAlreadyInFormat
	}
	d.format = d.format.WithNormalizedY(false)
	return nil
}
