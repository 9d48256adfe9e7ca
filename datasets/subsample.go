package datasets

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/rs/zerolog/log"
)

// SubsampleOptions select designs by score percentile.
type SubsampleOptions struct {
	// MaxSamples caps the number of retained designs. Zero means no cap.
	MaxSamples    int     `mapstructure:"max_samples" validate:"gte=0"`
	MinPercentile float64 `mapstructure:"min_percentile" validate:"gte=0,lte=100"`
	MaxPercentile float64 `mapstructure:"max_percentile" validate:"gte=0,lte=100,gtefield=MinPercentile"`
	Seed          int64   `mapstructure:"seed"`
}

// Subsample keeps the designs whose raw score lies between the MinPercentile
// and MaxPercentile cut-points, both inclusive, then caps the result at
// MaxSamples by seeded sampling without replacement. Cut-points are exact
// percentiles of every selected score, computed with a pass over y shards
// only. Shards are not rewritten: the dataset's selection changes and its
// cached statistics are dropped.
func (d *Dataset) Subsample(ctx context.Context, opts SubsampleOptions) error {
	if !(opts.MinPercentile >= 0 && opts.MaxPercentile <= 100 && opts.MinPercentile <= opts.MaxPercentile) {
		return fmt.Errorf("%w: [%v, %v]", ErrInvalidPercentileRange, opts.MinPercentile, opts.MaxPercentile)
	}
	if err := validate.Struct(opts); err != nil {
		return fmt.Errorf("invalid subsample options: %w", err)
	}

	scores, rows, err := d.scores(ctx)
	if err != nil {
		return err
	}
	lo, hi := math.Inf(-1), math.Inf(1)
	if len(scores) > 0 {
		cut := percentiles(scores, opts.MinPercentile, opts.MaxPercentile)
		lo, hi = cut[0], cut[1]
	}

	kept := make([]int, 0, len(rows))
	for i, s := range scores {
		if v := float64(s); v >= lo && v <= hi {
			kept = append(kept, rows[i])
		}
	}
	if opts.MaxSamples > 0 && len(kept) > opts.MaxSamples {
		rng := rand.New(rand.NewSource(opts.Seed))
		perm := rng.Perm(len(kept))[:opts.MaxSamples]
		capped := make([]int, len(perm))
		for i, p := range perm {
			capped[i] = kept[p]
		}
		sort.Ints(capped)
		kept = capped
	}

	log.Info().Str("dataset", d.Name).
		Float64("min_percentile", opts.MinPercentile).Float64("max_percentile", opts.MaxPercentile).
		Float64("lo", lo).Float64("hi", hi).
		Int("before", len(rows)).Int("after", len(kept)).
		Msg("subsampled dataset")

	d.selection = kept
	d.minPercentile, d.maxPercentile = opts.MinPercentile, opts.MaxPercentile
	d.lo, d.hi = lo, hi
	d.xStats, d.yStats = nil, nil
	return d.refreshStats(ctx)
}

// refreshStats recomputes statistics the active format depends on, so the
// format stays usable after the selection or scores change.
func (d *Dataset) refreshStats(ctx context.Context) error {
	_, err := d.transformFor(ctx, d.format)
	return err
}
