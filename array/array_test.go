package array

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromIntsRejectsWrongShape(t *testing.T) {
	_, err := FromInts([]int32{1, 2, 3}, 2, 2)
	require.ErrorIs(t, err, ErrShape)
}

// TestSliceTakeConcat checks the row helpers used by the shard iterator.
func TestSliceTakeConcat(t *testing.T) {
	a, err := FromInts([]int32{0, 1, 2, 3, 4, 5, 6, 7}, 4, 2)
	require.NoError(t, err)

	s := a.Slice(1, 3)
	assert.Equal(t, []int{2, 2}, s.Shape)
	assert.Equal(t, []int32{2, 3, 4, 5}, s.Ints)

	taken := a.Take([]int{3, 0})
	assert.Equal(t, []int32{6, 7, 0, 1}, taken.Ints)

	joined, err := Concat(s, taken)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 2}, joined.Shape)
	assert.Equal(t, []int32{2, 3, 4, 5, 6, 7, 0, 1}, joined.Ints)

	f, err := FromFloats([]float32{1, 2}, 1, 2)
	require.NoError(t, err)
	_, err = Concat(a, f)
	require.ErrorIs(t, err, ErrShape)
}

func TestEqualAndClone(t *testing.T) {
	a, err := FromFloats([]float32{1.5, -2, 3}, 3, 1)
	require.NoError(t, err)
	b := a.Clone()
	assert.True(t, Equal(a, b))
	b.Floats[0] = 0
	assert.False(t, Equal(a, b))
	assert.Equal(t, float32(1.5), a.Floats[0])
}

// TestGobCodecRoundTrip writes int and float shards in plain and zstd form and
// reads them back.
func TestGobCodecRoundTrip(t *testing.T) {
	tmp := t.TempDir()

	tokens, err := FromInts([]int32{3, 1, 4, 1, 5, 9}, 3, 2)
	require.NoError(t, err)
	scores, err := FromFloats([]float32{0.25, -1.5, 42}, 3, 1)
	require.NoError(t, err)

	for _, name := range []string{"x.arr", "x.arr.zst"} {
		path := filepath.Join(tmp, name)
		require.NoError(t, WriteFile(path, tokens, WriteOptions{}))

		h, err := ReadHeader(path)
		require.NoError(t, err)
		assert.Equal(t, 3, h.Rows())
		assert.Equal(t, DTypeInt32, h.DType)

		got, err := ReadFile(path)
		require.NoError(t, err)
		assert.True(t, Equal(tokens, got), "%s: got %v", name, got.Ints)

		_, err = os.Stat(path + ".tmp")
		assert.True(t, os.IsNotExist(err), "temporary file left behind")
	}

	path := filepath.Join(tmp, "y.arr.zst")
	require.NoError(t, WriteFile(path, scores, WriteOptions{}))
	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.True(t, Equal(scores, got))
}

func TestGobCodecHalfPrecision(t *testing.T) {
	path := filepath.Join(t.TempDir(), "half.arr")
	a, err := FromFloats([]float32{0.1, 1, -3.25, 1000}, 4, 1)
	require.NoError(t, err)
	require.NoError(t, WriteFile(path, a, WriteOptions{Half: true}))

	h, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, DTypeFloat16, h.DType)

	got, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, DTypeFloat32, got.DType)
	for i := range a.Floats {
		assert.InDelta(t, a.Floats[i], got.Floats[i], 1e-3*float64(1+abs(a.Floats[i])))
	}
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// TestCSVCodec verifies the CSV shard reader infers token and real columns.
func TestCSVCodec(t *testing.T) {
	tmp := t.TempDir()

	ints := filepath.Join(tmp, "tokens.csv")
	require.NoError(t, os.WriteFile(ints, []byte("a,b\n1,2\n3,4\n5,6\n"), 0o644))
	h, err := ReadHeader(ints)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, h.Shape)

	got, err := ReadFile(ints)
	require.NoError(t, err)
	assert.Equal(t, DTypeInt32, got.DType)
	assert.Equal(t, []int32{1, 2, 3, 4, 5, 6}, got.Ints)

	reals := filepath.Join(tmp, "reals.csv")
	require.NoError(t, os.WriteFile(reals, []byte("score\n0.5\n-1\n"), 0o644))
	got, err = ReadFile(reals)
	require.NoError(t, err)
	assert.Equal(t, DTypeFloat32, got.DType)
	assert.Equal(t, []float32{0.5, -1}, got.Floats)

	out := filepath.Join(tmp, "out.csv")
	require.NoError(t, WriteFile(out, got, WriteOptions{}))
	back, err := ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, got.Floats, back.Floats)
}

func TestUnknownExtension(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "x.parquet"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	a, _ := FromFloats([]float32{1}, 1, 1)
	err = WriteFile(filepath.Join(t.TempDir(), "x.npy"), a, WriteOptions{})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}
