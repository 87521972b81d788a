package lonboard

import (
	"bytes"
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/parquet-go/parquet-go"
	"golang.org/x/sync/errgroup"

	"github.com/chrisgervang/lonboard/geoarrow"
	"github.com/chrisgervang/lonboard/pqarrow"
)

// targetChunkBytes is the uncompressed in-memory size a single row group
// aims for. Chunks bound the renderer's per-update allocation spikes.
const targetChunkBytes = 2 << 20

// InferRowsPerChunk derives a row-group size for a record from its
// in-memory footprint, targeting targetChunkBytes per chunk.
func InferRowsPerChunk(record arrow.Record) int {
	rows := int(record.NumRows())
	if rows == 0 {
		return 1
	}
	perRow := recordMemorySize(record) / rows
	if perRow < 1 {
		perRow = 1
	}
	n := targetChunkBytes / perRow
	if n < 1 {
		n = 1
	}
	if n > rows {
		n = rows
	}
	return n
}

func recordMemorySize(record arrow.Record) int {
	size := 0
	for i := 0; i < int(record.NumCols()); i++ {
		size += arrayDataSize(record.Column(i).Data())
	}
	return size
}

func arrayDataSize(data arrow.ArrayData) int {
	size := 0
	for _, buf := range data.Buffers() {
		if buf != nil {
			size += buf.Len()
		}
	}
	for _, child := range data.Children() {
		size += arrayDataSize(child)
	}
	return size
}

// SerializeTable encodes a record as a Parquet buffer with one row group
// per rowsPerChunk rows.
func SerializeTable(ctx context.Context, record arrow.Record, rowsPerChunk int) (*RawBuffer, error) {
	return serializeRows(ctx, record, rowsPerChunk, nil)
}

// SerializeSelection encodes only the rows whose indices are set in the
// selection bitmap, preserving row order.
func SerializeSelection(ctx context.Context, record arrow.Record, rowsPerChunk int, selection *roaring.Bitmap) (*RawBuffer, error) {
	return serializeRows(ctx, record, rowsPerChunk, selection)
}

// SerializeColumn encodes a single array as a one-column Parquet buffer,
// the transport form of array-valued accessors.
func SerializeColumn(ctx context.Context, col arrow.Array, name string, rowsPerChunk int) (*RawBuffer, error) {
	schema := arrow.NewSchema([]arrow.Field{{Name: name, Type: col.DataType()}}, nil)
	record := array.NewRecord(schema, []arrow.Array{col}, int64(col.Len()))
	defer record.Release()
	return serializeRows(ctx, record, rowsPerChunk, nil)
}

func serializeRows(ctx context.Context, record arrow.Record, rowsPerChunk int, selection *roaring.Bitmap) (*RawBuffer, error) {
	if rowsPerChunk < 1 {
		rowsPerChunk = InferRowsPerChunk(record)
	}

	schema, err := pqarrow.ArrowSchemaToParquetSchema("table", record.Schema())
	if err != nil {
		return nil, err
	}
	fields := schema.Fields()

	numRows := int(record.NumRows())
	numChunks := (numRows + rowsPerChunk - 1) / rowsPerChunk
	if numChunks == 0 {
		numChunks = 1
	}

	// Chunks convert independently; writing stitches them back in order.
	chunks := make([][]parquet.Row, numChunks)
	g, _ := errgroup.WithContext(ctx)
	for ci := 0; ci < numChunks; ci++ {
		start := ci * rowsPerChunk
		end := start + rowsPerChunk
		if end > numRows {
			end = numRows
		}
		g.Go(func() error {
			rows, err := pqarrow.RecordToRows(record, fields, start, end)
			if err != nil {
				return err
			}
			if selection != nil {
				kept := rows[:0]
				for i, row := range rows {
					if selection.Contains(uint32(start + i)) {
						kept = append(kept, row)
					}
				}
				rows = kept
			}
			chunks[ci] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	options := []parquet.WriterOption{schema}
	if name, ext, ok := geoarrow.GeometryColumn(record.Schema()); ok {
		options = append(options,
			parquet.KeyValueMetadata(geoarrow.MetadataColumnKey, name),
			parquet.KeyValueMetadata(geoarrow.MetadataEncodingKey, ext),
		)
	}

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[any](&buf, options...)
	for _, rows := range chunks {
		if len(rows) == 0 {
			continue
		}
		if _, err := w.WriteRows(rows); err != nil {
			return nil, fmt.Errorf("writing row group: %w", err)
		}
		if err := w.Flush(); err != nil {
			return nil, fmt.Errorf("flushing row group: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return NewRawBuffer(buf.Bytes()), nil
}
