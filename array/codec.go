package array

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for shard files whose extension has no codec,
// or whose codec cannot perform the requested operation.
var ErrUnsupportedFormat = errors.New("array: unsupported shard format")

// Header describes a shard file without its payload.
type Header struct {
	Shape []int
	DType DType
}

// Rows is the number of designs stored in the shard.
func (h Header) Rows() int {
	if len(h.Shape) == 0 {
		return 0
	}
	return h.Shape[0]
}

// WriteOptions tune how WriteFile encodes a shard.
type WriteOptions struct {
	// Half stores float payloads as IEEE 754 half precision. Reads always
	// return float32. Ignored for int arrays.
	Half bool
}

// Known shard file extensions.
const (
	ExtArray           = ".arr"
	ExtArrayCompressed = ".arr.zst"
	ExtNumpy           = ".npy"
	ExtCSV             = ".csv"
)

type codec interface {
	readHeader(path string) (Header, error)
	read(path string) (*Array, error)
	write(path string, a *Array, opts WriteOptions) error
}

func codecFor(path string) (codec, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ExtArrayCompressed):
		return gobCodec{compressed: true}, nil
	case strings.HasSuffix(lower, ExtArray):
		return gobCodec{}, nil
	case strings.HasSuffix(lower, ExtNumpy):
		return npyCodec{}, nil
	case strings.HasSuffix(lower, ExtCSV):
		return csvCodec{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
}

// ReadHeader returns the shape and dtype stored in a shard without decoding
// the full payload (where the format allows it).
func ReadHeader(path string) (Header, error) {
	c, err := codecFor(path)
	if err != nil {
		return Header{}, err
	}
	h, err := c.readHeader(path)
	if err != nil {
		return Header{}, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	return h, nil
}

// ReadFile decodes a whole shard.
func ReadFile(path string) (*Array, error) {
	c, err := codecFor(path)
	if err != nil {
		return nil, err
	}
	a, err := c.read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read shard %s: %w", path, err)
	}
	return a, nil
}

// WriteFile encodes a into path. The file is written to a temporary sibling
// and renamed, so readers never observe a partial shard.
func WriteFile(path string, a *Array, opts WriteOptions) error {
	c, err := codecFor(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create shard directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := c.write(tmp, a, opts); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write shard %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move shard into place %s: %w", path, err)
	}
	return nil
}
