package datasets

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Noofbiz/designBench/array"
	"github.com/Noofbiz/designBench/resource"
)

// SplitOptions control Split.
type SplitOptions struct {
	// ValFraction is the share of designs assigned to validation.
	ValFraction float64 `mapstructure:"val_fraction" validate:"gte=0,lte=1"`
	Seed        int64   `mapstructure:"seed"`
	// SubsetSize caps the training partition. Zero means no cap.
	SubsetSize int `mapstructure:"subset_size" validate:"gte=0"`
	// DiskTarget, when set, re-materializes both partitions as compressed
	// shards of ShardSize rows under a fresh directory in DiskTarget.
	DiskTarget string `mapstructure:"disk_target"`
	ShardSize  int    `mapstructure:"shard_size" validate:"gte=0"`
}

// Split partitions the selected designs into training and validation
// datasets. The result depends only on the selection and opts.
//
// When the data spans at least two aligned segments (runs inside one x shard
// and one y shard), whole segments are assigned to validation in seeded order
// until the target size is approached, so neither partition needs shards to be
// rewritten. Otherwise, or when segment granularity would leave a partition
// empty that should not be, designs are assigned individually. Both
// partitions keep the kind, shapes and format of d.
func (d *Dataset) Split(ctx context.Context, opts SplitOptions) (train, val *Dataset, err error) {
	if err := validate.Struct(opts); err != nil {
		return nil, nil, fmt.Errorf("invalid split options: %w", err)
	}

	n := d.Size()
	target := int(math.Round(opts.ValFraction * float64(n)))
	rng := rand.New(rand.NewSource(opts.Seed))

	var groups [][]int
	for _, seg := range d.segments() {
		if rows := d.selectedIn(seg.lo, seg.hi); len(rows) > 0 {
			groups = append(groups, rows)
		}
	}

	var trainRows, valRows []int
	bySegment := false
	if len(groups) >= 2 {
		trainRows, valRows = assignSegments(groups, target, rng)
		bySegment = (target == 0) == (len(valRows) == 0) && (target == n) == (len(trainRows) == 0)
	}
	if !bySegment {
		trainRows, valRows = assignRows(d.rows(), target, rng)
	}

	if opts.SubsetSize > 0 && len(trainRows) > opts.SubsetSize {
		trainRows = sample(trainRows, opts.SubsetSize, rng)
	}

	train, val = d.withSelection(trainRows), d.withSelection(valRows)
	train.Name, val.Name = d.Name+"-train", d.Name+"-val"

	if opts.DiskTarget != "" {
		dir := filepath.Join(opts.DiskTarget, "split-"+uuid.NewString())
		if train, err = train.Materialize(ctx, filepath.Join(dir, "train"), opts.ShardSize); err != nil {
			return nil, nil, err
		}
		if val, err = val.Materialize(ctx, filepath.Join(dir, "val"), opts.ShardSize); err != nil {
			return nil, nil, err
		}
	}

	log.Info().Str("dataset", d.Name).Int("train", train.Size()).Int("val", val.Size()).
		Bool("by_segment", bySegment).Bool("on_disk", opts.DiskTarget != "").
		Msg("split dataset")
	return train, val, nil
}

// assignSegments greedily moves whole segments, in seeded order, into the
// validation partition whenever doing so brings it no further from target.
func assignSegments(groups [][]int, target int, rng *rand.Rand) (train, val []int) {
	count := 0
	for _, g := range rng.Perm(len(groups)) {
		c := len(groups[g])
		if count < target && abs(count+c-target) <= abs(count-target) {
			val = append(val, groups[g]...)
			count += c
		} else {
			train = append(train, groups[g]...)
		}
	}
	sort.Ints(train)
	sort.Ints(val)
	return train, val
}

// assignRows sends target seeded-random rows to validation.
func assignRows(rows []int, target int, rng *rand.Rand) (train, val []int) {
	perm := rng.Perm(len(rows))
	for i, p := range perm {
		if i < target {
			val = append(val, rows[p])
		} else {
			train = append(train, rows[p])
		}
	}
	sort.Ints(train)
	sort.Ints(val)
	return train, val
}

// sample draws k rows without replacement and returns them sorted.
func sample(rows []int, k int, rng *rand.Rand) []int {
	out := make([]int, k)
	for i, p := range rng.Perm(len(rows))[:k] {
		out[i] = rows[p]
	}
	sort.Ints(out)
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Materialize writes the selected designs and scores, in canonical form, as
// compressed shards of shardSize rows under dir and returns a dataset over
// them with the same kind and format. shardSize zero writes one shard per
// axis.
func (d *Dataset) Materialize(ctx context.Context, dir string, shardSize int) (*Dataset, error) {
	canonical := Format{}
	n := d.Size()
	if shardSize <= 0 || shardSize > n {
		shardSize = max(n, 1)
	}

	var xs, ys []Source
	i := 0
	err := d.ForEachBatch(ctx, BatchOptions{BatchSize: shardSize, Format: &canonical}, func(b Batch) error {
		xPath := filepath.Join(dir, fmt.Sprintf("x-%05d%s", i, array.ExtArrayCompressed))
		yPath := filepath.Join(dir, fmt.Sprintf("y-%05d%s", i, array.ExtArrayCompressed))
		if err := array.WriteFile(xPath, b.X, array.WriteOptions{}); err != nil {
			return fmt.Errorf("failed to write shard %s: %w", xPath, err)
		}
		if err := array.WriteFile(yPath, b.Y, array.WriteOptions{}); err != nil {
			return fmt.Errorf("failed to write shard %s: %w", yPath, err)
		}
		xs = append(xs, &fileSource{res: localResource(xPath), rows: b.Size(), cache: d.cache})
		ys = append(ys, &fileSource{res: localResource(yPath), rows: b.Size(), cache: d.cache})
		i++
		return nil
	})
	if err != nil {
		return nil, err
	}

	m := d.Clone()
	m.xs, m.ys = xs, ys
	m.xOff, m.yOff = offsets(xs), offsets(ys)
	m.selection = nil
	m.xStats, m.yStats = nil, nil
	log.Debug().Str("dataset", d.Name).Str("dir", dir).Int("shards", len(xs)).Msg("materialized dataset")
	return m, nil
}

func localResource(path string) *resource.Resource { return resource.Local(path) }
