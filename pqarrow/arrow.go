package pqarrow

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/parquet-go/parquet-go"

	"github.com/chrisgervang/lonboard/pqarrow/convert"
)

// ParquetSchemaToArrowSchema converts a flat parquet schema to an arrow
// schema, preserving field order.
func ParquetSchemaToArrowSchema(schema *parquet.Schema) (*arrow.Schema, error) {
	parquetFields := schema.Fields()
	fields := make([]arrow.Field, 0, len(parquetFields))
	for _, pf := range parquetFields {
		af, err := convert.ParquetFieldToArrowField(pf)
		if err != nil {
			return nil, err
		}
		fields = append(fields, af)
	}
	return arrow.NewSchema(fields, nil), nil
}

// ParquetFileToRecord decodes an entire parquet file into a single arrow
// record. Row groups are appended in file order, so the record's row order
// matches the writer's.
func ParquetFileToRecord(ctx context.Context, pool memory.Allocator, file *parquet.File) (arrow.Record, error) {
	schema, err := ParquetSchemaToArrowSchema(file.Schema())
	if err != nil {
		return nil, err
	}

	b := array.NewRecordBuilder(pool, schema)
	defer b.Release()

	parquetFields := file.Schema().Fields()
	for _, rg := range file.RowGroups() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		chunks := rg.ColumnChunks()
		if len(chunks) != len(parquetFields) {
			return nil, fmt.Errorf("inconsistent schema: %d fields, %d column chunks", len(parquetFields), len(chunks))
		}

		for i, chunk := range chunks {
			if err := appendColumnChunk(b.Field(i), parquetFields[i], chunk); err != nil {
				return nil, fmt.Errorf("column %q: %w", parquetFields[i].Name(), err)
			}
		}
	}

	return b.NewRecord(), nil
}

// appendColumnChunk feeds all pages of a column chunk into an arrow builder.
// For repeated leaves the builder is a list builder and repetition levels
// delimit the per-row lists.
func appendColumnChunk(b array.Builder, pf parquet.Field, chunk parquet.ColumnChunk) error {
	var (
		lb     *array.ListBuilder
		vw     valueWriter
		err    error
		values = make([]parquet.Value, 256)
	)
	if pf.Repeated() {
		var ok bool
		lb, ok = b.(*array.ListBuilder)
		if !ok {
			return fmt.Errorf("repeated column requires a list builder, got %T", b)
		}
		vw, err = newValueWriter(lb.ValueBuilder())
	} else {
		vw, err = newValueWriter(b)
	}
	if err != nil {
		return err
	}

	pages := chunk.Pages()
	defer pages.Close()

	for {
		page, err := pages.ReadPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		reader := page.Values()
		for {
			n, err := reader.ReadValues(values)
			for _, v := range values[:n] {
				if lb != nil {
					if v.DefinitionLevel() == 0 {
						// Row with an empty (or absent) list.
						lb.Append(true)
						continue
					}
					if v.RepetitionLevel() == 0 {
						lb.Append(true)
					}
					if err := vw(v); err != nil {
						return err
					}
					continue
				}
				if v.IsNull() {
					b.AppendNull()
					continue
				}
				if err := vw(v); err != nil {
					return err
				}
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
		}
	}
}

// valueWriter appends a single parquet value to an arrow builder.
type valueWriter func(parquet.Value) error

func newValueWriter(b array.Builder) (valueWriter, error) {
	switch b := b.(type) {
	case *array.BooleanBuilder:
		return func(v parquet.Value) error { b.Append(v.Boolean()); return nil }, nil
	case *array.Int8Builder:
		return func(v parquet.Value) error { b.Append(int8(v.Int32())); return nil }, nil
	case *array.Uint8Builder:
		return func(v parquet.Value) error { b.Append(uint8(v.Int32())); return nil }, nil
	case *array.Int32Builder:
		return func(v parquet.Value) error { b.Append(v.Int32()); return nil }, nil
	case *array.Uint32Builder:
		return func(v parquet.Value) error { b.Append(uint32(v.Int32())); return nil }, nil
	case *array.Int64Builder:
		return func(v parquet.Value) error { b.Append(v.Int64()); return nil }, nil
	case *array.Uint64Builder:
		return func(v parquet.Value) error { b.Append(uint64(v.Int64())); return nil }, nil
	case *array.Float32Builder:
		return func(v parquet.Value) error { b.Append(v.Float()); return nil }, nil
	case *array.Float64Builder:
		return func(v parquet.Value) error { b.Append(v.Double()); return nil }, nil
	case *array.StringBuilder:
		return func(v parquet.Value) error { b.Append(string(v.ByteArray())); return nil }, nil
	case *array.BinaryBuilder:
		return func(v parquet.Value) error { b.Append(v.ByteArray()); return nil }, nil
	default:
		return nil, fmt.Errorf("no value writer for builder %T", b)
	}
}
