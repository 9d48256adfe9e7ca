package array

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// csvCodec stores one design per row after a header line naming the columns.
// A file whose every field parses as an integer is read as tokens, otherwise
// as float32.
type csvCodec struct{}

func parseFloat32(s string) (float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty string")
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, err
	}
	return float32(v), nil
}

// countCSVRows counts the number of data rows in a CSV file (excluding header)
// and returns the header width.
func countCSVRows(path string) (rows, cols int, err error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read header: %w", err)
	}

	for {
		_, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, 0, err
		}
		rows++
	}

	return rows, len(header), nil
}

func (csvCodec) readHeader(path string) (Header, error) {
	rows, cols, err := countCSVRows(path)
	if err != nil {
		return Header{}, err
	}
	// The dtype is only known after scanning values; the length is what
	// callers of ReadHeader need.
	return Header{Shape: []int{rows, cols}, DType: DTypeFloat32}, nil
}

func (csvCodec) read(path string) (*Array, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols := len(header)

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", len(records), err)
		}
		records = append(records, record)
	}

	allInts := true
	for _, rec := range records {
		for _, field := range rec {
			if _, err := strconv.ParseInt(strings.TrimSpace(field), 10, 32); err != nil {
				allInts = false
				break
			}
		}
		if !allInts {
			break
		}
	}

	if allInts && len(records) > 0 {
		data := make([]int32, 0, len(records)*cols)
		for _, rec := range records {
			for _, field := range rec {
				v, _ := strconv.ParseInt(strings.TrimSpace(field), 10, 32)
				data = append(data, int32(v))
			}
		}
		return FromInts(data, len(records), cols)
	}

	data := make([]float32, 0, len(records)*cols)
	for i, rec := range records {
		for j, field := range rec {
			v, err := parseFloat32(field)
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s at row %d: %w", header[j], i, err)
			}
			data = append(data, v)
		}
	}
	return FromFloats(data, len(records), cols)
}

func (csvCodec) write(path string, a *Array, _ WriteOptions) error {
	if len(a.Shape) > 2 {
		return fmt.Errorf("%w: csv shards hold 2-D arrays, got %v", ErrUnsupportedFormat, a.Shape)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	cols := a.RowSize()
	header := make([]string, cols)
	for j := range header {
		header[j] = "c" + strconv.Itoa(j)
	}
	if err := w.Write(header); err != nil {
		return err
	}
	record := make([]string, cols)
	for i := 0; i < a.Rows(); i++ {
		for j := 0; j < cols; j++ {
			if a.DType == DTypeInt32 {
				record[j] = strconv.FormatInt(int64(a.Ints[i*cols+j]), 10)
			} else {
				record[j] = strconv.FormatFloat(float64(a.Floats[i*cols+j]), 'g', -1, 32)
			}
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
