package record

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// Column holds one field's values for every galaxy in a tree batch.
// Supported element types are int32, int64, float32 and float64.
type Column struct {
	dtype arrow.DataType
	data  any
}

// NewInt32Column wraps v; the column aliases the slice, it does not copy.
func NewInt32Column(v []int32) Column {
	return Column{dtype: arrow.PrimitiveTypes.Int32, data: v}
}

// NewInt64Column wraps v; the column aliases the slice, it does not copy.
func NewInt64Column(v []int64) Column {
	return Column{dtype: arrow.PrimitiveTypes.Int64, data: v}
}

// NewFloat32Column wraps v; the column aliases the slice, it does not copy.
func NewFloat32Column(v []float32) Column {
	return Column{dtype: arrow.PrimitiveTypes.Float32, data: v}
}

// NewFloat64Column wraps v; the column aliases the slice, it does not copy.
func NewFloat64Column(v []float64) Column {
	return Column{dtype: arrow.PrimitiveTypes.Float64, data: v}
}

// DataType returns the Arrow type of the column's elements.
func (c Column) DataType() arrow.DataType { return c.dtype }

// Len returns the number of values in the column.
func (c Column) Len() int {
	switch v := c.data.(type) {
	case []int32:
		return len(v)
	case []int64:
		return len(v)
	case []float32:
		return len(v)
	case []float64:
		return len(v)
	}
	return 0
}

// Int32s returns the underlying slice if the column holds int32 values.
func (c Column) Int32s() ([]int32, bool) {
	v, ok := c.data.([]int32)
	return v, ok
}

// Int64s returns the underlying slice if the column holds int64 values.
func (c Column) Int64s() ([]int64, bool) {
	v, ok := c.data.([]int64)
	return v, ok
}

// Float32s returns the underlying slice if the column holds float32 values.
func (c Column) Float32s() ([]float32, bool) {
	v, ok := c.data.([]float32)
	return v, ok
}

// Float64s returns the underlying slice if the column holds float64 values.
func (c Column) Float64s() ([]float64, bool) {
	v, ok := c.data.([]float64)
	return v, ok
}

// AsInt64 returns a copy of the column widened to int64.
// It reports false for floating-point columns; index-like fields are
// always integral.
func (c Column) AsInt64() ([]int64, bool) {
	switch v := c.data.(type) {
	case []int64:
		out := make([]int64, len(v))
		copy(out, v)
		return out, true
	case []int32:
		out := make([]int64, len(v))
		for i, x := range v {
			out[i] = int64(x)
		}
		return out, true
	}
	return nil, false
}

// AsFloat64 returns a copy of the column widened to float64, for generic
// numeric comparisons.
func (c Column) AsFloat64() ([]float64, bool) {
	switch v := c.data.(type) {
	case []float64:
		out := make([]float64, len(v))
		copy(out, v)
		return out, true
	case []float32:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, true
	case []int32:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, true
	case []int64:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, true
	}
	return nil, false
}

// Batch is a column-oriented table holding one tree's galaxies.
// Columns keep their insertion order; all columns have the same length.
type Batch struct {
	rows  int
	names []string
	cols  map[string]Column
}

// NewBatch creates an empty batch for a tree of the given number of galaxies.
func NewBatch(rows int) *Batch {
	return &Batch{
		rows: rows,
		cols: make(map[string]Column),
	}
}

// NumRows returns the number of galaxies in the batch.
func (b *Batch) NumRows() int { return b.rows }

// Names returns the column names in insertion order.
func (b *Batch) Names() []string {
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}

// Has reports whether the batch contains the named column.
func (b *Batch) Has(name string) bool {
	_, ok := b.cols[name]
	return ok
}

// Column returns the named column.
func (b *Batch) Column(name string) (Column, bool) {
	c, ok := b.cols[name]
	return c, ok
}

// Set adds or replaces a column. The column length must match the batch's
// row count. Replacing keeps the column's original position.
func (b *Batch) Set(name string, c Column) error {
	if c.Len() != b.rows {
		return fmt.Errorf("column %q has %d values, batch has %d rows", name, c.Len(), b.rows)
	}
	if _, ok := b.cols[name]; !ok {
		b.names = append(b.names, name)
	}
	b.cols[name] = c
	return nil
}
