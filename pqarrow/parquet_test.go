package pqarrow

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"

	"github.com/chrisgervang/lonboard/pqarrow/convert"
)

func TestArrowSchemaToParquetSchema(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "value", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "color", Type: arrow.FixedSizeListOf(4, arrow.PrimitiveTypes.Uint8)},
		{Name: "name", Type: arrow.BinaryTypes.String},
	}, nil)

	pq, err := ArrowSchemaToParquetSchema("table", schema)
	require.NoError(t, err)

	byName := map[string]parquet.Field{}
	for _, f := range pq.Fields() {
		byName[f.Name()] = f
	}
	require.Len(t, byName, 3)

	require.True(t, byName["value"].Optional())
	require.Equal(t, parquet.Double, byName["value"].Type().Kind())

	require.True(t, byName["color"].Repeated())
	require.Equal(t, parquet.Int32, byName["color"].Type().Kind())

	require.False(t, byName["name"].Optional())
	require.False(t, byName["name"].Repeated())
}

func TestSchemaRoundTrip(t *testing.T) {
	in := arrow.NewSchema([]arrow.Field{
		{Name: "active", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "count", Type: arrow.PrimitiveTypes.Int64},
		{Name: "radius", Type: arrow.PrimitiveTypes.Float64},
		{Name: "tags", Type: arrow.ListOf(arrow.PrimitiveTypes.Float32)},
	}, nil)

	pq, err := ArrowSchemaToParquetSchema("table", in)
	require.NoError(t, err)

	out, err := ParquetSchemaToArrowSchema(pq)
	require.NoError(t, err)

	// parquet-go orders columns by name; compare fields by lookup.
	require.Equal(t, in.NumFields(), out.NumFields())
	for _, want := range in.Fields() {
		indices := out.FieldIndices(want.Name)
		require.Len(t, indices, 1, "field %s", want.Name)
		got := out.Field(indices[0])
		require.True(t, arrow.TypeEqual(want.Type, got.Type), "field %s: %s != %s", want.Name, want.Type, got.Type)
	}
}

func TestUnsupportedTypes(t *testing.T) {
	_, err := convert.ArrowFieldToParquetNode(arrow.Field{
		Name: "nested",
		Type: arrow.ListOf(arrow.ListOf(arrow.PrimitiveTypes.Float64)),
	})
	require.ErrorIs(t, err, convert.ErrUnsupportedType)

	_, err = convert.ArrowFieldToParquetNode(arrow.Field{
		Name: "ts",
		Type: arrow.FixedWidthTypes.Timestamp_ns,
	})
	require.ErrorIs(t, err, convert.ErrUnsupportedType)
}
