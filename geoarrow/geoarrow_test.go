package geoarrow

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"
)

func TestWKBFieldTagging(t *testing.T) {
	f := WKBField("geometry")
	require.Equal(t, "geometry", f.Name)
	require.Equal(t, arrow.BINARY, f.Type.ID())
	require.Equal(t, ExtensionWKB, ExtensionName(f))

	plain := arrow.Field{Name: "value", Type: arrow.PrimitiveTypes.Float64}
	require.Empty(t, ExtensionName(plain))
}

func TestGeometryColumn(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "value", Type: arrow.PrimitiveTypes.Float64},
		WKBField("geometry"),
	}, nil)

	name, ext, ok := GeometryColumn(schema)
	require.True(t, ok)
	require.Equal(t, "geometry", name)
	require.Equal(t, ExtensionWKB, ext)

	bare := arrow.NewSchema([]arrow.Field{
		{Name: "value", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
	_, _, ok = GeometryColumn(bare)
	require.False(t, ok)
}

func TestArrayRoundTripWithNulls(t *testing.T) {
	pool := memory.NewGoAllocator()
	geoms := []Geometry{
		Point{X: 1, Y: 2},
		nil,
		LineString{{X: 0, Y: 0}, {X: 3, Y: 3}},
	}

	arr := GeometriesToArray(pool, geoms)
	defer arr.Release()
	require.Equal(t, 3, arr.Len())
	require.True(t, arr.IsNull(1))

	decoded, err := ArrayToGeometries(arr)
	require.NoError(t, err)
	require.Equal(t, geoms, decoded)
}

func TestArrayToGeometriesRejectsNonBinary(t *testing.T) {
	b := array.NewFloat64Builder(memory.NewGoAllocator())
	defer b.Release()
	b.AppendValues([]float64{1}, nil)
	arr := b.NewArray()
	defer arr.Release()

	_, err := ArrayToGeometries(arr)
	require.ErrorContains(t, err, "must be binary")
}

func TestRecordGeometries(t *testing.T) {
	pool := memory.NewGoAllocator()
	arr := GeometriesToArray(pool, []Geometry{Point{X: 7, Y: 8}})
	defer arr.Release()

	schema := arrow.NewSchema([]arrow.Field{WKBField("geometry")}, nil)
	record := array.NewRecord(schema, []arrow.Array{arr}, 1)
	defer record.Release()

	geoms, err := RecordGeometries(record)
	require.NoError(t, err)
	require.Equal(t, []Geometry{Point{X: 7, Y: 8}}, geoms)

	bare := arrow.NewSchema([]arrow.Field{
		{Name: "geometry", Type: arrow.BinaryTypes.Binary},
	}, nil)
	untagged := array.NewRecord(bare, []arrow.Array{arr}, 1)
	defer untagged.Release()
	_, err = RecordGeometries(untagged)
	require.ErrorContains(t, err, "no geometry column")
}

func TestTagRecord(t *testing.T) {
	pool := memory.NewGoAllocator()
	arr := GeometriesToArray(pool, []Geometry{Point{X: 1, Y: 1}})
	defer arr.Release()

	bare := arrow.NewSchema([]arrow.Field{
		{Name: "geometry", Type: arrow.BinaryTypes.Binary},
	}, nil)
	record := array.NewRecord(bare, []arrow.Array{arr}, 1)

	tagged := TagRecord(record, "geometry")
	defer tagged.Release()

	name, ext, ok := GeometryColumn(tagged.Schema())
	require.True(t, ok)
	require.Equal(t, "geometry", name)
	require.Equal(t, ExtensionWKB, ext)

	geoms, err := RecordGeometries(tagged)
	require.NoError(t, err)
	require.Equal(t, []Geometry{Point{X: 1, Y: 1}}, geoms)
}

func TestTotalBounds(t *testing.T) {
	geoms := []Geometry{
		Point{X: 0, Y: 0},
		nil,
		Point{X: 10, Y: 10},
	}
	require.Equal(t, BBox{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}, TotalBounds(geoms))
	require.True(t, TotalBounds(nil).IsEmpty())
}
