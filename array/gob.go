package array

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/x448/float16"
)

// gobVersion is incremented when the on-disk shard layout changes.
const gobVersion = 1

// gobHeader is the first record of a .arr stream. Keeping it separate from the
// payload lets ReadHeader stop after one Decode.
type gobHeader struct {
	Version int
	Shape   []int
	DType   DType
}

type gobPayload struct {
	Ints   []int32
	Floats []float32
	Half   []uint16
}

// gobCodec stores shards as two gob records, optionally inside a zstd frame.
type gobCodec struct {
	compressed bool
}

func (c gobCodec) open(path string) (io.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if !c.compressed {
		return bufio.NewReader(f), func() { f.Close() }, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to open zstd stream: %w", err)
	}
	return dec, func() {
		dec.Close()
		f.Close()
	}, nil
}

func (c gobCodec) readHeader(path string) (Header, error) {
	r, closeFn, err := c.open(path)
	if err != nil {
		return Header{}, err
	}
	defer closeFn()

	var h gobHeader
	if err := gob.NewDecoder(r).Decode(&h); err != nil {
		return Header{}, fmt.Errorf("failed to decode header: %w", err)
	}
	if h.Version != gobVersion {
		return Header{}, fmt.Errorf("%w: shard version %d", ErrUnsupportedFormat, h.Version)
	}
	return Header{Shape: h.Shape, DType: h.DType}, nil
}

func (c gobCodec) read(path string) (*Array, error) {
	r, closeFn, err := c.open(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	dec := gob.NewDecoder(r)
	var h gobHeader
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("failed to decode header: %w", err)
	}
	if h.Version != gobVersion {
		return nil, fmt.Errorf("%w: shard version %d", ErrUnsupportedFormat, h.Version)
	}
	var p gobPayload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	switch h.DType {
	case DTypeInt32:
		if p.Ints == nil {
			p.Ints = []int32{}
		}
		return FromInts(p.Ints, h.Shape...)
	case DTypeFloat16:
		floats := make([]float32, len(p.Half))
		for i, bits := range p.Half {
			floats[i] = float16.Frombits(bits).Float32()
		}
		return FromFloats(floats, h.Shape...)
	default:
		if p.Floats == nil {
			p.Floats = []float32{}
		}
		return FromFloats(p.Floats, h.Shape...)
	}
}

func (c gobCodec) write(path string, a *Array, opts WriteOptions) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriter(f)
	var w io.Writer = bw
	var enc *zstd.Encoder
	if c.compressed {
		enc, err = zstd.NewWriter(bw)
		if err != nil {
			return fmt.Errorf("failed to open zstd writer: %w", err)
		}
		w = enc
	}

	h := gobHeader{Version: gobVersion, Shape: a.Shape, DType: a.DType}
	var p gobPayload
	switch {
	case a.DType == DTypeInt32:
		p.Ints = a.Ints
	case opts.Half:
		h.DType = DTypeFloat16
		p.Half = make([]uint16, len(a.Floats))
		for i, v := range a.Floats {
			p.Half[i] = float16.Fromfloat32(v).Bits()
		}
	default:
		p.Floats = a.Floats
	}

	ge := gob.NewEncoder(w)
	if err := ge.Encode(h); err != nil {
		return fmt.Errorf("failed to encode header: %w", err)
	}
	if err := ge.Encode(p); err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to flush zstd stream: %w", err)
		}
	}
	return bw.Flush()
}
