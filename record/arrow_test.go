package record

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"
)

func TestArrowRoundTrip(t *testing.T) {
	b := NewBatch(3)
	require.NoError(t, b.Set("descendant", NewInt32Column([]int32{2, 2, -1})))
	require.NoError(t, b.Set("global_index", NewInt64Column([]int64{10, 11, 12})))
	require.NoError(t, b.Set("mass", NewFloat64Column([]float64{0.1, 0.2, 0.3})))

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "descendant", Type: arrow.PrimitiveTypes.Int32},
		{Name: "global_index", Type: arrow.PrimitiveTypes.Int64},
		{Name: "mass", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	rec, err := ToArrow(b, schema, memory.DefaultAllocator)
	require.NoError(t, err)
	defer rec.Release()
	require.EqualValues(t, 3, rec.NumRows())
	require.EqualValues(t, 3, rec.NumCols())

	back, err := FromArrow(rec)
	require.NoError(t, err)
	require.Equal(t, b.Names(), back.Names())

	col, _ := back.Column("global_index")
	v, _ := col.Int64s()
	require.Equal(t, []int64{10, 11, 12}, v)
}

func TestToArrowMissingField(t *testing.T) {
	b := NewBatch(1)
	require.NoError(t, b.Set("descendant", NewInt32Column([]int32{-1})))

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "descendant", Type: arrow.PrimitiveTypes.Int32},
		{Name: "mass", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	_, err := ToArrow(b, schema, nil)
	require.ErrorContains(t, err, "mass")
}

func TestToArrowTypeMismatch(t *testing.T) {
	b := NewBatch(1)
	require.NoError(t, b.Set("descendant", NewInt64Column([]int64{-1})))

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "descendant", Type: arrow.PrimitiveTypes.Int32},
	}, nil)

	_, err := ToArrow(b, schema, nil)
	require.ErrorContains(t, err, "descendant")
}
