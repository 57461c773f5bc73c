// Package vecio encodes operator vectors as Arrow record batches and
// streams them in the Arrow IPC format.
//
// A vector becomes one row per element with columns block (int32), index
// within the block (int32), re and im (float64). The block offsets are kept
// in the schema metadata so empty blocks survive a round trip.
package vecio

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

const offsetsKey = "linop.offsets"

var ErrMalformed = errors.New("vecio: malformed vector stream")

// Schema returns the record schema for a vector split at offsets.
func Schema(offsets []int) *arrow.Schema {
	md := arrow.NewMetadata([]string{offsetsKey}, []string{formatOffsets(offsets)})
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "block", Type: arrow.PrimitiveTypes.Int32},
			{Name: "index", Type: arrow.PrimitiveTypes.Int32},
			{Name: "re", Type: arrow.PrimitiveTypes.Float64},
			{Name: "im", Type: arrow.PrimitiveTypes.Float64},
		},
		&md,
	)
}

// RecordBuilder creates Arrow records from vectors.
type RecordBuilder struct {
	mem memory.Allocator
}

// NewRecordBuilder creates a new builder. A nil allocator uses the Go
// allocator.
func NewRecordBuilder(mem memory.Allocator) *RecordBuilder {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &RecordBuilder{mem: mem}
}

// Build converts v into a record. offsets are the N+1 cumulative block
// boundaries of v; nil treats v as a single block.
func (b *RecordBuilder) Build(v []complex128, offsets []int) (arrow.Record, error) {
	if offsets == nil {
		offsets = []int{0, len(v)}
	}
	if err := checkOffsets(offsets, len(v)); err != nil {
		return nil, err
	}

	blockB := array.NewInt32Builder(b.mem)
	defer blockB.Release()
	indexB := array.NewInt32Builder(b.mem)
	defer indexB.Release()
	reB := array.NewFloat64Builder(b.mem)
	defer reB.Release()
	imB := array.NewFloat64Builder(b.mem)
	defer imB.Release()

	blockB.Reserve(len(v))
	indexB.Reserve(len(v))
	reB.Reserve(len(v))
	imB.Reserve(len(v))
	for blk := 0; blk+1 < len(offsets); blk++ {
		for i := offsets[blk]; i < offsets[blk+1]; i++ {
			blockB.UnsafeAppend(int32(blk))
			indexB.UnsafeAppend(int32(i - offsets[blk]))
			reB.UnsafeAppend(real(v[i]))
			imB.UnsafeAppend(imag(v[i]))
		}
	}

	cols := []arrow.Array{blockB.NewArray(), indexB.NewArray(), reB.NewArray(), imB.NewArray()}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	return array.NewRecord(Schema(offsets), cols, int64(len(v))), nil
}

// Write streams v as a single record in Arrow IPC format.
func Write(w io.Writer, v []complex128, offsets []int, mem memory.Allocator) error {
	b := NewRecordBuilder(mem)
	rec, err := b.Build(v, offsets)
	if err != nil {
		return err
	}
	defer rec.Release()

	wr := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(b.mem))
	if err := wr.Write(rec); err != nil {
		_ = wr.Close()
		return fmt.Errorf("vecio: write record: %w", err)
	}
	if err := wr.Close(); err != nil {
		return fmt.Errorf("vecio: close writer: %w", err)
	}
	return nil
}

// Read decodes an IPC stream written by Write. Rows of every record in the
// stream are concatenated.
func Read(r io.Reader, mem memory.Allocator) ([]complex128, []int, error) {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, nil, fmt.Errorf("vecio: open stream: %w", err)
	}
	defer rdr.Release()
	return ReadRecords(rdr)
}

// ReadRecords drains rdr and decodes the rows of every record into one
// vector. The returned offsets come from the schema metadata, or from the
// block column if the metadata is missing. A flight.Reader is read through
// its embedded *ipc.Reader.
func ReadRecords(rdr *ipc.Reader) ([]complex128, []int, error) {
	schema := rdr.Schema()
	if err := checkSchema(schema); err != nil {
		return nil, nil, err
	}

	var (
		v      []complex128
		counts []int
	)
	for rdr.Next() {
		var err error
		if v, counts, err = appendRecord(v, counts, rdr.Record()); err != nil {
			return nil, nil, err
		}
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("vecio: read stream: %w", err)
	}
	return finish(schema, v, counts)
}

// Decode converts a single record built by RecordBuilder back into a vector
// and its block offsets.
func Decode(rec arrow.Record) ([]complex128, []int, error) {
	if err := checkSchema(rec.Schema()); err != nil {
		return nil, nil, err
	}
	v, counts, err := appendRecord(nil, nil, rec)
	if err != nil {
		return nil, nil, err
	}
	return finish(rec.Schema(), v, counts)
}

func checkSchema(schema *arrow.Schema) error {
	for i, name := range []string{"block", "index", "re", "im"} {
		if schema.NumFields() <= i || schema.Field(i).Name != name {
			return fmt.Errorf("%w: want column %d named %q", ErrMalformed, i, name)
		}
	}
	return nil
}

func appendRecord(v []complex128, counts []int, rec arrow.Record) ([]complex128, []int, error) {
	blocks, ok1 := rec.Column(0).(*array.Int32)
	re, ok2 := rec.Column(2).(*array.Float64)
	im, ok3 := rec.Column(3).(*array.Float64)
	if !ok1 || !ok2 || !ok3 {
		return nil, nil, fmt.Errorf("%w: unexpected column types", ErrMalformed)
	}
	for i := 0; i < int(rec.NumRows()); i++ {
		v = append(v, complex(re.Value(i), im.Value(i)))
		blk := int(blocks.Value(i))
		if blk < 0 {
			return nil, nil, fmt.Errorf("%w: negative block id", ErrMalformed)
		}
		for len(counts) <= blk {
			counts = append(counts, 0)
		}
		counts[blk]++
	}
	return v, counts, nil
}

func finish(schema *arrow.Schema, v []complex128, counts []int) ([]complex128, []int, error) {
	if idx := schema.Metadata().FindKey(offsetsKey); idx >= 0 {
		offsets, err := parseOffsets(schema.Metadata().Values()[idx])
		if err != nil {
			return nil, nil, err
		}
		if err := checkOffsets(offsets, len(v)); err != nil {
			return nil, nil, err
		}
		return v, offsets, nil
	}

	offsets := make([]int, len(counts)+1)
	for i, c := range counts {
		offsets[i+1] = offsets[i] + c
	}
	return v, offsets, nil
}

func checkOffsets(offsets []int, n int) error {
	if len(offsets) == 0 || offsets[0] != 0 || offsets[len(offsets)-1] != n {
		return fmt.Errorf("%w: offsets %v do not cover %d elements", ErrMalformed, offsets, n)
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] < offsets[i-1] {
			return fmt.Errorf("%w: offsets %v are not non-decreasing", ErrMalformed, offsets)
		}
	}
	return nil
}

func formatOffsets(offsets []int) string {
	parts := make([]string, len(offsets))
	for i, o := range offsets {
		parts[i] = strconv.Itoa(o)
	}
	return strings.Join(parts, ",")
}

func parseOffsets(s string) ([]int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty offsets", ErrMalformed)
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: offsets %q", ErrMalformed, s)
		}
		out[i] = v
	}
	return out, nil
}
