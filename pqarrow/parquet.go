package pqarrow

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/parquet-go/parquet-go"

	"github.com/chrisgervang/lonboard/pqarrow/convert"
)

// RowWriter is the subset of a parquet writer needed to emit converted rows.
type RowWriter interface {
	WriteRows([]parquet.Row) (int, error)
}

// ArrowSchemaToParquetSchema builds a flat parquet schema from an arrow
// schema. parquet-go orders group fields by name, so the parquet column
// order is alphabetical regardless of the arrow field order.
func ArrowSchemaToParquetSchema(name string, schema *arrow.Schema) (*parquet.Schema, error) {
	group := parquet.Group{}
	for _, f := range schema.Fields() {
		node, err := convert.ArrowFieldToParquetNode(f)
		if err != nil {
			return nil, err
		}
		group[f.Name] = node
	}
	return parquet.NewSchema(name, group), nil
}

// RecordToRows converts rows [start, end) of an arrow record to parquet rows
// laid out in the parquet schema's field order.
func RecordToRows(record arrow.Record, fields []parquet.Field, start, end int) ([]parquet.Row, error) {
	rows := make([]parquet.Row, 0, end-start)
	for i := start; i < end; i++ {
		row := make([]parquet.Value, 0, len(fields))
		for j, f := range fields {
			columnIndexes := record.Schema().FieldIndices(f.Name())
			if len(columnIndexes) == 0 {
				// Column not found in record, append null to row.
				row = append(row, parquet.ValueOf(nil).Level(0, 0, j))
				continue
			}

			col := record.Column(columnIndexes[0])
			var err error
			row, err = appendRowValues(row, col, f, i, j)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", f.Name(), err)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteRecord writes an entire record through a parquet row writer.
func WriteRecord(w RowWriter, record arrow.Record, fields []parquet.Field) error {
	rows, err := RecordToRows(record, fields, 0, int(record.NumRows()))
	if err != nil {
		return err
	}
	_, err = w.WriteRows(rows)
	return err
}

func appendRowValues(row []parquet.Value, col arrow.Array, f parquet.Field, i, j int) ([]parquet.Value, error) {
	if col.IsNull(i) {
		return append(row, parquet.ValueOf(nil).Level(0, 0, j)), nil
	}

	def := 0
	if f.Optional() {
		def = 1
	}

	switch arr := col.(type) {
	case *array.List:
		start, end := arr.ValueOffsets(i)
		if start == end {
			return append(row, parquet.ValueOf(nil).Level(0, 0, j)), nil
		}
		elems := arr.ListValues()
		for k := start; k < end; k++ {
			v, err := leafValue(elems, int(k))
			if err != nil {
				return nil, err
			}
			rep := 0
			if k != start {
				rep = 1
			}
			row = append(row, v.Level(rep, 1, j))
		}
		return row, nil
	case *array.FixedSizeList:
		n := int(arr.DataType().(*arrow.FixedSizeListType).Len())
		elems := arr.ListValues()
		for k := 0; k < n; k++ {
			v, err := leafValue(elems, i*n+k)
			if err != nil {
				return nil, err
			}
			rep := 0
			if k != 0 {
				rep = 1
			}
			row = append(row, v.Level(rep, 1, j))
		}
		return row, nil
	default:
		v, err := leafValue(col, i)
		if err != nil {
			return nil, err
		}
		return append(row, v.Level(0, def, j)), nil
	}
}

func leafValue(col arrow.Array, i int) (parquet.Value, error) {
	switch arr := col.(type) {
	case *array.Boolean:
		return parquet.BooleanValue(arr.Value(i)), nil
	case *array.Int8:
		return parquet.Int32Value(int32(arr.Value(i))), nil
	case *array.Uint8:
		return parquet.Int32Value(int32(arr.Value(i))), nil
	case *array.Int32:
		return parquet.Int32Value(arr.Value(i)), nil
	case *array.Uint32:
		return parquet.Int32Value(int32(arr.Value(i))), nil
	case *array.Int64:
		return parquet.Int64Value(arr.Value(i)), nil
	case *array.Uint64:
		return parquet.Int64Value(int64(arr.Value(i))), nil
	case *array.Float32:
		return parquet.FloatValue(arr.Value(i)), nil
	case *array.Float64:
		return parquet.DoubleValue(arr.Value(i)), nil
	case *array.String:
		return parquet.ByteArrayValue([]byte(arr.Value(i))), nil
	case *array.Binary:
		return parquet.ByteArrayValue(arr.Value(i)), nil
	default:
		return parquet.Value{}, fmt.Errorf("unsupported array type %T", arr)
	}
}
