package datasets

// MapToLogits switches a discrete dataset from tokens to soft one-hot logits
// of shape (sequence_length, num_classes).
func (d *Dataset) MapToLogits() error {
	if d.kind != Discrete {
		return ErrNotDiscrete
	}
	if d.format.Logits {
		return ErrAlreadyInFormat
	}
	d.format = d.format.WithLogits(true)
	return nil
}

// MapToIntegers switches a discrete dataset from logits back to tokens.
// Normalized logits must be denormalized first.
func (d *Dataset) MapToIntegers() error {
	if d.kind != Discrete {
		return ErrNotDiscrete
	}
	if !d.format.Logits {
		return ErrAlreadyInFormat
	}
	if d.format.NormalizedX {
		return ErrFormatOrder
	}
	d.format = d.format.WithLogits(false)
	return nil
}
