package record

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// FromArrow converts an Arrow record batch into a Batch. Column values are
// copied; the caller keeps ownership of rec. Unsupported column types are
// rejected with a descriptive error.
func FromArrow(rec arrow.Record) (*Batch, error) {
	if rec == nil {
		return nil, fmt.Errorf("nil arrow record")
	}
	b := NewBatch(int(rec.NumRows()))
	schema := rec.Schema()
	for i := 0; i < int(rec.NumCols()); i++ {
		name := schema.Field(i).Name
		var col Column
		switch a := rec.Column(i).(type) {
		case *array.Int32:
			col = NewInt32Column(append([]int32(nil), a.Int32Values()...))
		case *array.Int64:
			col = NewInt64Column(append([]int64(nil), a.Int64Values()...))
		case *array.Float32:
			col = NewFloat32Column(append([]float32(nil), a.Float32Values()...))
		case *array.Float64:
			col = NewFloat64Column(append([]float64(nil), a.Float64Values()...))
		default:
			return nil, fmt.Errorf("column %q: unsupported arrow type %s", name, schema.Field(i).Type)
		}
		if err := b.Set(name, col); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// ToArrow builds an Arrow record from the batch in the schema's field order.
// Every schema field must be present in the batch with a matching type.
// The caller must Release the returned record.
func ToArrow(b *Batch, schema *arrow.Schema, alloc memory.Allocator) (arrow.Record, error) {
	if alloc == nil {
		alloc = memory.DefaultAllocator
	}
	builder := array.NewRecordBuilder(alloc, schema)
	defer builder.Release()

	for i, field := range schema.Fields() {
		col, ok := b.Column(field.Name)
		if !ok {
			return nil, fmt.Errorf("batch is missing field %q", field.Name)
		}
		if !arrow.TypeEqual(col.DataType(), field.Type) {
			return nil, fmt.Errorf("field %q: batch has type %s, schema wants %s",
				field.Name, col.DataType(), field.Type)
		}
		switch fb := builder.Field(i).(type) {
		case *array.Int32Builder:
			v, _ := col.Int32s()
			fb.AppendValues(v, nil)
		case *array.Int64Builder:
			v, _ := col.Int64s()
			fb.AppendValues(v, nil)
		case *array.Float32Builder:
			v, _ := col.Float32s()
			fb.AppendValues(v, nil)
		case *array.Float64Builder:
			v, _ := col.Float64s()
			fb.AppendValues(v, nil)
		default:
			return nil, fmt.Errorf("field %q: unsupported builder type %s", field.Name, field.Type)
		}
	}
	return builder.NewRecord(), nil
}
