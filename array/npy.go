package array

import (
	"fmt"
	"os"

	"github.com/sbinet/npyio"
)

// npyCodec reads NumPy .npy files. Integer arrays of any width become int32
// tokens; float arrays become float32. Writing is not supported: shards we
// produce ourselves use the .arr codec.
type npyCodec struct{}

func (npyCodec) open(path string) (*os.File, *npyio.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	r, err := npyio.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to parse npy header: %w", err)
	}
	if r.Header.Descr.Fortran {
		f.Close()
		return nil, nil, fmt.Errorf("%w: fortran ordered npy", ErrUnsupportedFormat)
	}
	return f, r, nil
}

func npyDType(descr string) (DType, error) {
	switch descr {
	case "<f4", "<f8", "|f4", "|f8":
		return DTypeFloat32, nil
	case "|i1", "|u1", "<i2", "<u2", "<i4", "<u4", "<i8":
		return DTypeInt32, nil
	}
	return 0, fmt.Errorf("%w: npy dtype %q", ErrUnsupportedFormat, descr)
}

func (c npyCodec) readHeader(path string) (Header, error) {
	f, r, err := c.open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()
	dt, err := npyDType(r.Header.Descr.Type)
	if err != nil {
		return Header{}, err
	}
	return Header{Shape: append([]int(nil), r.Header.Descr.Shape...), DType: dt}, nil
}

func (c npyCodec) read(path string) (*Array, error) {
	f, r, err := c.open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	shape := append([]int(nil), r.Header.Descr.Shape...)
	n := Size(shape)
	switch r.Header.Descr.Type {
	case "<f4", "|f4":
		data := make([]float32, n)
		if err := r.Read(&data); err != nil {
			return nil, err
		}
		return FromFloats(data, shape...)
	case "<f8", "|f8":
		raw := make([]float64, n)
		if err := r.Read(&raw); err != nil {
			return nil, err
		}
		data := make([]float32, n)
		for i, v := range raw {
			data[i] = float32(v)
		}
		return FromFloats(data, shape...)
	case "<i4":
		data := make([]int32, n)
		if err := r.Read(&data); err != nil {
			return nil, err
		}
		return FromInts(data, shape...)
	case "<i8":
		raw := make([]int64, n)
		if err := r.Read(&raw); err != nil {
			return nil, err
		}
		return FromInts(narrow(raw), shape...)
	case "|u1":
		raw := make([]uint8, n)
		if err := r.Read(&raw); err != nil {
			return nil, err
		}
		return FromInts(narrow(raw), shape...)
	case "|i1":
		raw := make([]int8, n)
		if err := r.Read(&raw); err != nil {
			return nil, err
		}
		return FromInts(narrow(raw), shape...)
	case "<i2":
		raw := make([]int16, n)
		if err := r.Read(&raw); err != nil {
			return nil, err
		}
		return FromInts(narrow(raw), shape...)
	case "<u2":
		raw := make([]uint16, n)
		if err := r.Read(&raw); err != nil {
			return nil, err
		}
		return FromInts(narrow(raw), shape...)
	case "<u4":
		raw := make([]uint32, n)
		if err := r.Read(&raw); err != nil {
			return nil, err
		}
		return FromInts(narrow(raw), shape...)
	}
	return nil, fmt.Errorf("%w: npy dtype %q", ErrUnsupportedFormat, r.Header.Descr.Type)
}

func (npyCodec) write(string, *Array, WriteOptions) error {
	return fmt.Errorf("%w: writing .npy shards", ErrUnsupportedFormat)
}

type integer interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~uint32 | ~int64
}

func narrow[T integer](raw []T) []int32 {
	out := make([]int32, len(raw))
	for i, v := range raw {
		out[i] = int32(v)
	}
	return out
}
