package lonboard

import (
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/chrisgervang/lonboard/geoarrow"
)

func floatRecord(t *testing.T, values []float64) arrow.Record {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "value", Type: arrow.PrimitiveTypes.Float64},
	}, nil)
	b := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer b.Release()
	b.Field(0).(*array.Float64Builder).AppendValues(values, nil)
	return b.NewRecord()
}

func TestInferRowsPerChunk(t *testing.T) {
	small := floatRecord(t, []float64{1, 2, 3})
	defer small.Release()
	// Tiny tables fit one chunk.
	require.Equal(t, 3, InferRowsPerChunk(small))

	empty := floatRecord(t, nil)
	defer empty.Release()
	require.Equal(t, 1, InferRowsPerChunk(empty))

	values := make([]float64, 10_000)
	big := floatRecord(t, values)
	defer big.Release()
	n := InferRowsPerChunk(big)
	require.GreaterOrEqual(t, n, 1)
	require.LessOrEqual(t, n, 10_000)
}

func TestSerializeTableRowGroups(t *testing.T) {
	ctx := t.Context()
	record := floatRecord(t, []float64{1, 2, 3, 4, 5})
	defer record.Release()

	buf, err := SerializeTable(ctx, record, 2)
	require.NoError(t, err)

	file, err := buf.ParquetFile()
	require.NoError(t, err)
	// 5 rows at 2 per chunk: 2 + 2 + 1.
	require.Len(t, file.RowGroups(), 3)

	rows, err := buf.NumRows()
	require.NoError(t, err)
	require.Equal(t, int64(5), rows)
}

func TestSerializeSelection(t *testing.T) {
	ctx := t.Context()
	engine, _ := newTestEngine(t)
	require.NoError(t, engine.EnsureReady(ctx))

	record := floatRecord(t, []float64{10, 20, 30, 40})
	defer record.Release()

	// Selection indices are global row numbers, here spanning two chunks.
	buf, err := SerializeSelection(ctx, record, 2, roaring.BitmapOf(0, 3))
	require.NoError(t, err)

	decoded, err := engine.Decode(ctx, buf.Bytes())
	require.NoError(t, err)
	defer decoded.Release()

	values := decoded.Column(0).(*array.Float64)
	require.Equal(t, []float64{10, 40}, values.Float64Values())
}

func TestSerializeEmptySelection(t *testing.T) {
	ctx := t.Context()
	record := floatRecord(t, []float64{1, 2})
	defer record.Release()

	buf, err := SerializeSelection(ctx, record, 0, roaring.New())
	require.NoError(t, err)

	rows, err := buf.NumRows()
	require.NoError(t, err)
	require.Equal(t, int64(0), rows)
}

func TestSerializeGeometryMetadata(t *testing.T) {
	ctx := t.Context()
	record := testPointRecord(t)
	defer record.Release()

	buf, err := SerializeTable(ctx, record, 0)
	require.NoError(t, err)

	file, err := buf.ParquetFile()
	require.NoError(t, err)

	column, ok := file.Lookup(geoarrow.MetadataColumnKey)
	require.True(t, ok)
	require.Equal(t, "geometry", column)

	encoding, ok := file.Lookup(geoarrow.MetadataEncodingKey)
	require.True(t, ok)
	require.Equal(t, geoarrow.ExtensionWKB, encoding)
}

func TestSerializeColumnName(t *testing.T) {
	ctx := t.Context()
	col := floatColumn(t, []float64{0.5})
	defer col.Release()

	buf, err := SerializeColumn(ctx, col, "get_radius", 0)
	require.NoError(t, err)

	file, err := buf.ParquetFile()
	require.NoError(t, err)
	fields := file.Schema().Fields()
	require.Len(t, fields, 1)
	require.Equal(t, "get_radius", fields[0].Name())
}
