// Package tensorio stores tensors as Arrow IPC streams.
//
// A stream carries one or more record batches with the fixed Schema below;
// each row is one tensor:
//
//	name  utf8
//	dtype utf8          f32 | f16 | bf16 | i64
//	shape list<int64>
//	data  binary        little-endian elements in row-major order
package tensorio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/quarrel-kernels/internal/tensor"
)

const formatName = "quarrel-tensors/v1"

var Schema = arrow.NewSchema([]arrow.Field{
	{Name: "name", Type: arrow.BinaryTypes.String},
	{Name: "dtype", Type: arrow.BinaryTypes.String},
	{Name: "shape", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)},
	{Name: "data", Type: arrow.BinaryTypes.Binary},
}, func() *arrow.Metadata {
	md := arrow.NewMetadata([]string{"format"}, []string{formatName})
	return &md
}())

var ErrFormat = errors.New("not a tensor stream")

// ToRecord packs ts into a single record batch. The caller releases it.
func ToRecord(mem memory.Allocator, ts ...*tensor.Tensor) (arrow.Record, error) {
	b := array.NewRecordBuilder(mem, Schema)
	defer b.Release()

	names := b.Field(0).(*array.StringBuilder)
	dtypes := b.Field(1).(*array.StringBuilder)
	shapes := b.Field(2).(*array.ListBuilder)
	dims := shapes.ValueBuilder().(*array.Int64Builder)
	payload := b.Field(3).(*array.BinaryBuilder)

	for _, t := range ts {
		if t == nil {
			return nil, errors.New("tensorio: nil tensor")
		}
		if t.DType() == tensor.Invalid {
			return nil, fmt.Errorf("tensorio: tensor %q has no dtype", t.Name())
		}
		names.Append(t.Name())
		dtypes.Append(t.DType().String())
		shapes.Append(true)
		for _, d := range t.Shape() {
			dims.Append(int64(d))
		}
		payload.Append(encode(t))
	}
	return b.NewRecord(), nil
}

// FromRecord unpacks every row of rec into a host tensor.
func FromRecord(rec arrow.Record) ([]*tensor.Tensor, error) {
	if md := rec.Schema().Metadata(); md.FindKey("format") < 0 || md.Values()[md.FindKey("format")] != formatName {
		return nil, ErrFormat
	}
	if rec.NumCols() != 4 {
		return nil, fmt.Errorf("%w: %d columns", ErrFormat, rec.NumCols())
	}
	names, ok1 := rec.Column(0).(*array.String)
	dtypes, ok2 := rec.Column(1).(*array.String)
	shapes, ok3 := rec.Column(2).(*array.List)
	payload, ok4 := rec.Column(3).(*array.Binary)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, fmt.Errorf("%w: unexpected column types", ErrFormat)
	}
	dims, ok := shapes.ListValues().(*array.Int64)
	if !ok {
		return nil, fmt.Errorf("%w: shape values are %s", ErrFormat, shapes.ListValues().DataType())
	}

	out := make([]*tensor.Tensor, 0, rec.NumRows())
	for i := 0; i < int(rec.NumRows()); i++ {
		dt, err := tensor.ParseDType(dtypes.Value(i))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		start, end := shapes.ValueOffsets(i)
		shape := make([]int, 0, end-start)
		for j := start; j < end; j++ {
			shape = append(shape, int(dims.Value(int(j))))
		}
		t, err := decode(names.Value(i), dt, shape, payload.Value(i))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Write encodes ts as one IPC stream.
func Write(w io.Writer, ts ...*tensor.Tensor) error {
	mem := memory.NewGoAllocator()
	rec, err := ToRecord(mem, ts...)
	if err != nil {
		return err
	}
	defer rec.Release()

	iw := ipc.NewWriter(w, ipc.WithSchema(Schema), ipc.WithAllocator(mem))
	if err := iw.Write(rec); err != nil {
		iw.Close()
		return fmt.Errorf("tensorio: write record: %w", err)
	}
	return iw.Close()
}

// Read decodes every tensor in an IPC stream, across all record batches.
func Read(r io.Reader) ([]*tensor.Tensor, error) {
	rdr, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("tensorio: open stream: %w", err)
	}
	defer rdr.Release()

	var out []*tensor.Tensor
	for rdr.Next() {
		ts, err := FromRecord(rdr.Record())
		if err != nil {
			return nil, err
		}
		out = append(out, ts...)
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("tensorio: read stream: %w", err)
	}
	return out, nil
}

func WriteFile(path string, ts ...*tensor.Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, ts...); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func ReadFile(path string) ([]*tensor.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Lookup returns the tensor called name, or nil.
func Lookup(ts []*tensor.Tensor, name string) *tensor.Tensor {
	for _, t := range ts {
		if t.Name() == name {
			return t
		}
	}
	return nil
}
