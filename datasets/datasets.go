// Package datasets provides the (design, score) collections that offline
// model-based optimization benchmarks are built on.
//
// A Dataset owns an ordered list of x shards and an ordered list of y shards
// (or a single in-memory array of each). Shards are read lazily, one at a
// time, while iterating; the full collection never has to fit in memory.
//
// Storage is always canonical: tokens for discrete datasets, raw reals for
// continuous ones, and raw scores. Representation changes (token to logits,
// normalization of x and y) are recorded in an immutable Format value and
// applied on read, so every change can be undone exactly:
//
//	ds.MapToLogits()         // tokens -> soft one-hot logits
//	ds.MapNormalizeX(ctx)    // logits -> standardized logits
//	ds.MapDenormalizeX(ctx)
//	ds.MapToIntegers()       // back to the original tokens, bit for bit
//
// A Transform snapshots a Format together with the statistics it needs, which
// is how an oracle freezes the format it was trained on and maps designs
// arriving in any other format back into it.
package datasets

import (
	"context"
	"errors"

	"github.com/Noofbiz/designBench/array"
)

var (
	// ErrAlreadyInFormat is returned by a Map call whose target format is
	// already active. Nothing changes; callers may ignore it.
	ErrAlreadyInFormat = errors.New("dataset already in requested format")

	// ErrFormatOrder is returned when a representation change would break the
	// fixed composition order: discrete designs are normalized only in logit
	// space, so MapNormalizeX needs logits and MapToIntegers needs unnormalized logits.
	ErrFormatOrder = errors.New("format change out of order")

	// ErrNotDiscrete is returned by logit conversions on continuous datasets.
	ErrNotDiscrete = errors.New("dataset is not discrete")

	// ErrFormatMismatch is returned when designs cannot be interpreted in the
	// format they claim to be in.
	ErrFormatMismatch = errors.New("design format mismatch")

	// ErrInvalidPercentileRange is returned by Subsample for bounds outside
	// [0, 100] or with min > max.
	ErrInvalidPercentileRange = errors.New("invalid percentile range")

	// ErrShardLengthMismatch is returned at construction when x and y shards
	// hold different numbers of rows.
	ErrShardLengthMismatch = errors.New("x and y shard lengths differ")
)

// Source is one shard of designs or scores.
type Source interface {
	// Name identifies the shard in logs and cache keys.
	Name() string
	// Len is the number of rows in the shard.
	Len() int
	// Load decodes the whole shard. Callers must not modify the result.
	Load(ctx context.Context) (*array.Array, error)
}
