package vecio

import (
	"bytes"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	pool := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer pool.AssertSize(t, 0)
	b := NewRecordBuilder(pool)

	rec, err := b.Build([]complex128{1, 2 + 1i, 3, 4i}, []int{0, 1, 1, 4})
	require.NoError(t, err)
	defer rec.Release()

	assert.Equal(t, int64(4), rec.NumRows())
	assert.Equal(t, int64(4), rec.NumCols())
	assert.Equal(t, "block", rec.ColumnName(0))

	blocks := rec.Column(0).(*array.Int32)
	assert.Equal(t, []int32{0, 2, 2, 2}, blocks.Int32Values())
	index := rec.Column(1).(*array.Int32)
	assert.Equal(t, []int32{0, 0, 1, 2}, index.Int32Values())
	re := rec.Column(2).(*array.Float64)
	assert.Equal(t, []float64{1, 2, 3, 0}, re.Float64Values())
	im := rec.Column(3).(*array.Float64)
	assert.Equal(t, []float64{0, 1, 0, 4}, im.Float64Values())
}

func TestBuild_BadOffsets(t *testing.T) {
	b := NewRecordBuilder(nil)
	for _, offs := range [][]int{{}, {1, 3}, {0, 2}, {0, 3, 2, 3}} {
		_, err := b.Build([]complex128{1, 2, 3}, offs)
		assert.ErrorIs(t, err, ErrMalformed, "offsets %v", offs)
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	v := []complex128{1.5, -2i, 3 + 3i, 0, 7}
	offsets := []int{0, 2, 2, 5}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, v, offsets, nil))

	got, gotOffsets, err := Read(&buf, nil)
	require.NoError(t, err)
	assert.Equal(t, v, got)
	assert.Equal(t, offsets, gotOffsets)
}

func TestWriteRead_SingleBlock(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []complex128{1, 2}, nil, nil))

	got, offsets, err := Read(&buf, nil)
	require.NoError(t, err)
	assert.Equal(t, []complex128{1, 2}, got)
	assert.Equal(t, []int{0, 2}, offsets)
}

func TestRead_Garbage(t *testing.T) {
	_, _, err := Read(bytes.NewReader([]byte("not arrow")), nil)
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	b := NewRecordBuilder(nil)
	rec, err := b.Build([]complex128{1i, 2, 3}, []int{0, 2, 3})
	require.NoError(t, err)
	defer rec.Release()

	v, offsets, err := Decode(rec)
	require.NoError(t, err)
	assert.Equal(t, []complex128{1i, 2, 3}, v)
	assert.Equal(t, []int{0, 2, 3}, offsets)
}
