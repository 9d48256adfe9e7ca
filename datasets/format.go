package datasets

import (
	"fmt"
	"math"
	"strings"

	"github.com/Noofbiz/designBench/array"
)

// Kind separates token-sequence datasets from real-vector datasets.
type Kind int

const (
	// Continuous designs are real vectors.
	Continuous Kind = iota
	// Discrete designs are sequences of tokens in [0, NumClasses).
	Discrete
)

func (k Kind) String() string {
	if k == Discrete {
		return "discrete"
	}
	return "continuous"
}

// Format is the representation designs and scores are read in. It is a value:
// the With methods return a modified copy.
type Format struct {
	// Logits marks discrete designs as soft one-hot logits of shape
	// (sequence_length, num_classes) instead of tokens.
	Logits bool `mapstructure:"logits"`
	// NormalizedX marks designs as standardized per feature.
	NormalizedX bool `mapstructure:"normalized_x"`
	// NormalizedY marks scores as standardized.
	NormalizedY bool `mapstructure:"normalized_y"`
}

// WithLogits returns f with the logits flag set to v.
func (f Format) WithLogits(v bool) Format { f.Logits = v; return f }

// WithNormalizedX returns f with the x normalization flag set to v.
func (f Format) WithNormalizedX(v bool) Format { f.NormalizedX = v; return f }

// WithNormalizedY returns f with the y normalization flag set to v.
func (f Format) WithNormalizedY(v bool) Format { f.NormalizedY = v; return f }

func (f Format) String() string {
	var parts []string
	if f.Logits {
		parts = append(parts, "logits")
	}
	if f.NormalizedX {
		parts = append(parts, "normalized-x")
	}
	if f.NormalizedY {
		parts = append(parts, "normalized-y")
	}
	if len(parts) == 0 {
		return "raw"
	}
	return strings.Join(parts, "+")
}

// validFor checks the composition rules for kind.
func (f Format) validFor(kind Kind) error {
	if kind == Continuous && f.Logits {
		return fmt.Errorf("%w: logits format", ErrNotDiscrete)
	}
	if kind == Discrete && f.NormalizedX && !f.Logits {
		return fmt.Errorf("%w: discrete designs are normalized in logit space only", ErrFormatOrder)
	}
	return nil
}

// Transform is everything needed to move designs and scores between canonical
// storage and one Format. It never changes after it is built, so an oracle can
// hold one as its fixed input contract.
type Transform struct {
	Kind              Kind
	NumClasses        int
	SoftInterpolation float64
	// InputShape is the canonical per-design shape (sequence length for
	// discrete datasets).
	InputShape []int
	Format     Format
	// X and Y are set whenever the matching normalization flag is.
	X *Moments
	Y *Moments
}

// XShape is the per-design shape in t's format.
func (t Transform) XShape() []int {
	shape := append([]int(nil), t.InputShape...)
	if t.Kind == Discrete && t.Format.Logits {
		shape = append(shape, t.NumClasses)
	}
	return shape
}

// XDType is the element type of designs in t's format.
func (t Transform) XDType() array.DType {
	if t.Kind == Discrete && !t.Format.Logits {
		return array.DTypeInt32
	}
	return array.DTypeFloat32
}

// Compatible reports whether designs in u's format can be mapped into t's:
// same kind, same canonical shape and, for discrete data, the same classes.
func (t Transform) Compatible(u Transform) error {
	if t.Kind != u.Kind {
		return fmt.Errorf("%w: %s designs given to a %s transform", ErrFormatMismatch, u.Kind, t.Kind)
	}
	if !array.SameShape(t.InputShape, u.InputShape) {
		return fmt.Errorf("%w: design shape %v, expected %v", ErrFormatMismatch, u.InputShape, t.InputShape)
	}
	if t.Kind == Discrete && t.NumClasses != u.NumClasses {
		return fmt.Errorf("%w: %d classes, expected %d", ErrFormatMismatch, u.NumClasses, t.NumClasses)
	}
	return nil
}

// checkX verifies that x's trailing dimensions and dtype match t's format.
func (t Transform) checkX(x *array.Array) error {
	want := t.XShape()
	if len(x.Shape) != len(want)+1 || !array.SameShape(x.Shape[1:], want) {
		return fmt.Errorf("%w: designs of shape %v in %s format, expected (N, %v)",
			ErrFormatMismatch, x.Shape, t.Format, want)
	}
	if x.DType != t.XDType() {
		return fmt.Errorf("%w: %s designs in %s format, expected %s",
			ErrFormatMismatch, x.DType, t.Format, t.XDType())
	}
	return nil
}

// ForwardX maps canonical designs into t's format. The result never aliases x.
func (t Transform) ForwardX(x *array.Array) (*array.Array, error) {
	if !array.SameShape(x.RowShape(), t.InputShape) {
		return nil, fmt.Errorf("%w: canonical designs of shape %v, expected (N, %v)",
			ErrFormatMismatch, x.Shape, t.InputShape)
	}
	out := x
	if t.Kind == Discrete && t.Format.Logits {
		logits, err := ToLogits(x, t.NumClasses, t.SoftInterpolation)
		if err != nil {
			return nil, err
		}
		out = logits
	}
	if t.Format.NormalizedX {
		if t.X == nil {
			return nil, fmt.Errorf("normalized x requested without statistics")
		}
		return t.X.normalize(out)
	}
	if out == x {
		out = x.Clone()
	}
	return out, nil
}

// InverseX maps designs in t's format back to canonical storage form. Logits
// that are not exactly one-hot are projected to their argmax.
func (t Transform) InverseX(x *array.Array) (*array.Array, error) {
	if err := t.checkX(x); err != nil {
		return nil, err
	}
	out := x
	if t.Format.NormalizedX {
		if t.X == nil {
			return nil, fmt.Errorf("normalized x requested without statistics")
		}
		d, err := t.X.denormalize(out)
		if err != nil {
			return nil, err
		}
		out = d
	}
	if t.Kind == Discrete && t.Format.Logits {
		return ToIntegers(out)
	}
	if out == x {
		out = x.Clone()
	}
	return out, nil
}

// ForwardY maps raw scores into t's format.
func (t Transform) ForwardY(y *array.Array) (*array.Array, error) {
	if !t.Format.NormalizedY {
		return y.Clone(), nil
	}
	if t.Y == nil {
		return nil, fmt.Errorf("normalized y requested without statistics")
	}
	return t.Y.normalize(y)
}

// InverseY maps scores in t's format back to raw scores.
func (t Transform) InverseY(y *array.Array) (*array.Array, error) {
	if !t.Format.NormalizedY {
		return y.Clone(), nil
	}
	if t.Y == nil {
		return nil, fmt.Errorf("normalized y requested without statistics")
	}
	return t.Y.denormalize(y)
}

// ToLogits converts tokens of shape (N, L...) into logits of shape
// (N, L..., numClasses). Each token becomes the log of a distribution that
// puts soft+(1-soft)/C on the token and (1-soft)/C on every other class.
// soft == 1 yields the plain one-hot encoding instead of log probabilities.
func ToLogits(x *array.Array, numClasses int, soft float64) (*array.Array, error) {
	if x.DType != array.DTypeInt32 {
		return nil, fmt.Errorf("%w: cannot convert %s designs to logits", ErrFormatMismatch, x.DType)
	}
	if numClasses < 1 {
		return nil, fmt.Errorf("invalid number of classes %d", numClasses)
	}
	if soft <= 0 || soft > 1 {
		return nil, fmt.Errorf("soft interpolation %v outside (0, 1]", soft)
	}

	on, off := float32(1), float32(0)
	if soft < 1 {
		uniform := (1 - soft) / float64(numClasses)
		on = float32(math.Log(soft + uniform))
		off = float32(math.Log(uniform))
	}

	shape := append(append([]int(nil), x.Shape...), numClasses)
	out := array.Zeros(array.DTypeFloat32, shape...)
	for i, tok := range x.Ints {
		if tok < 0 || int(tok) >= numClasses {
			return nil, fmt.Errorf("%w: token %d outside [0, %d)", ErrFormatMismatch, tok, numClasses)
		}
		row := out.Floats[i*numClasses : (i+1)*numClasses]
		for c := range row {
			row[c] = off
		}
		row[tok] = on
	}
	return out, nil
}

// ToIntegers converts logits of shape (N, L..., C) into tokens of shape
// (N, L...) by taking the argmax over the last axis. Ties resolve to the
// lowest class, so perturbed logits are projected rather than rejected.
func ToIntegers(x *array.Array) (*array.Array, error) {
	if x.DType != array.DTypeFloat32 {
		return nil, fmt.Errorf("%w: cannot convert %s designs to integers", ErrFormatMismatch, x.DType)
	}
	if len(x.Shape) < 2 {
		return nil, fmt.Errorf("%w: logits need a class axis, got shape %v", ErrFormatMismatch, x.Shape)
	}
	classes := x.Shape[len(x.Shape)-1]
	if classes == 0 {
		return nil, fmt.Errorf("%w: zero classes", ErrFormatMismatch)
	}
	shape := append([]int(nil), x.Shape[:len(x.Shape)-1]...)
	out := array.Zeros(array.DTypeInt32, shape...)
	for i := range out.Ints {
		row := x.Floats[i*classes : (i+1)*classes]
		best := 0
		for c := 1; c < classes; c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		out.Ints[i] = int32(best)
	}
	return out, nil
}
