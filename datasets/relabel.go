package datasets

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Noofbiz/designBench/array"
)

// RelabelFunc scores a batch of designs. x arrives in the dataset's current
// format and y in the raw score scale; the result is raw scores, one per
// design, of shape (N) or (N, 1).
type RelabelFunc func(x, y *array.Array) (*array.Array, error)

// RelabelOptions control how new scores are stored.
type RelabelOptions struct {
	BatchSize int `mapstructure:"batch_size" validate:"gte=0"`
	// DiskTarget, when set, receives the new scores as compressed shards.
	// Otherwise they are kept in memory.
	DiskTarget string `mapstructure:"disk_target"`
	// ShardSize is the number of rows per written shard. Zero writes one shard.
	ShardSize int `mapstructure:"shard_size" validate:"gte=0"`
}

// Relabel replaces the score of every selected design with fn's output.
// Unselected rows keep their scores. Score statistics are recomputed.
func (d *Dataset) Relabel(ctx context.Context, fn RelabelFunc, opts RelabelOptions) error {
	if err := validate.Struct(opts); err != nil {
		return fmt.Errorf("invalid relabel options: %w", err)
	}

	scores := make([]float32, 0, d.total())
	for i := range d.ys {
		y, err := d.loadY(ctx, i)
		if err != nil {
			return err
		}
		scores = append(scores, y.Floats...)
	}

	f := d.format.WithNormalizedY(false)
	err := d.ForEachBatch(ctx, BatchOptions{BatchSize: opts.BatchSize, Format: &f}, func(b Batch) error {
		out, err := fn(b.X, b.Y)
		if err != nil {
			return err
		}
		if out.Len() != b.Size() {
			return fmt.Errorf("%w: relabel returned %v for %d designs", array.ErrShape, out.Shape, b.Size())
		}
		for i, v := range out.Float32s() {
			scores[b.Rows[i]] = v
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to relabel %s: %w", d.Name, err)
	}

	y, err := array.FromFloats(scores, len(scores), 1)
	if err != nil {
		return err
	}
	var ys []Source
	if opts.DiskTarget != "" {
		dir := filepath.Join(opts.DiskTarget, "relabel-"+uuid.NewString())
		if ys, err = writeShards(dir, "y", y, opts.ShardSize, d.cache); err != nil {
			return err
		}
	} else {
		ys = []Source{NewMemorySource(d.YName, y)}
	}

	d.ys = ys
	d.yOff = offsets(ys)
	d.yStats = nil
	log.Info().Str("dataset", d.Name).Int("relabeled", d.Size()).Int("y_shards", len(ys)).Msg("relabeled dataset")
	return d.refreshStats(ctx)
}

// writeShards stores a as shards of shardSize rows named <prefix>-NNNNN.arr.zst
// in dir. shardSize zero writes a single shard.
func writeShards(dir, prefix string, a *array.Array, shardSize int, cache *ShardCache) ([]Source, error) {
	n := a.Rows()
	if shardSize <= 0 || shardSize > n {
		shardSize = max(n, 1)
	}
	var srcs []Source
	for lo, i := 0, 0; lo < n; lo, i = lo+shardSize, i+1 {
		hi := min(lo+shardSize, n)
		path := filepath.Join(dir, fmt.Sprintf("%s-%05d%s", prefix, i, array.ExtArrayCompressed))
		if err := array.WriteFile(path, a.Slice(lo, hi), array.WriteOptions{}); err != nil {
			return nil, fmt.Errorf("failed to write shard %s: %w", path, err)
		}
		srcs = append(srcs, &fileSource{res: localResource(path), rows: hi - lo, cache: cache})
	}
	return srcs, nil
}
