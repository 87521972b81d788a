package convert

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/parquet-go/parquet-go"
)

var ErrUnsupportedType = errors.New("unsupported type")

// ParquetFieldToArrowField converts a parquet field to an arrow field.
// Repeated leaves map to arrow lists; optional leaves map to nullable fields.
func ParquetFieldToArrowField(pf parquet.Field) (arrow.Field, error) {
	typ, err := ParquetNodeToType(pf)
	if err != nil {
		return arrow.Field{}, err
	}

	if pf.Repeated() {
		typ = arrow.ListOf(typ)
	}

	return arrow.Field{
		Name:     pf.Name(),
		Type:     typ,
		Nullable: pf.Optional(),
	}, nil
}

// ParquetNodeToType converts a parquet leaf node to the arrow type of a
// single element. Repetition is handled by the caller.
func ParquetNodeToType(n parquet.Node) (arrow.DataType, error) {
	if !n.Leaf() {
		return nil, fmt.Errorf("%w: nested group", ErrUnsupportedType)
	}

	t := n.Type()
	if lt := t.LogicalType(); lt != nil {
		switch {
		case lt.UTF8 != nil:
			return arrow.BinaryTypes.String, nil
		case lt.Integer != nil:
			switch lt.Integer.BitWidth {
			case 8:
				if lt.Integer.IsSigned {
					return arrow.PrimitiveTypes.Int8, nil
				}
				return arrow.PrimitiveTypes.Uint8, nil
			case 32:
				if lt.Integer.IsSigned {
					return arrow.PrimitiveTypes.Int32, nil
				}
				return arrow.PrimitiveTypes.Uint32, nil
			case 64:
				if lt.Integer.IsSigned {
					return arrow.PrimitiveTypes.Int64, nil
				}
				return arrow.PrimitiveTypes.Uint64, nil
			default:
				return nil, fmt.Errorf("%w: int bit width %d", ErrUnsupportedType, lt.Integer.BitWidth)
			}
		}
	}

	switch t.Kind() {
	case parquet.Boolean:
		return arrow.FixedWidthTypes.Boolean, nil
	case parquet.Int32:
		return arrow.PrimitiveTypes.Int32, nil
	case parquet.Int64:
		return arrow.PrimitiveTypes.Int64, nil
	case parquet.Float:
		return arrow.PrimitiveTypes.Float32, nil
	case parquet.Double:
		return arrow.PrimitiveTypes.Float64, nil
	case parquet.ByteArray:
		return arrow.BinaryTypes.Binary, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t.String())
	}
}

// ArrowFieldToParquetNode converts an arrow field to a parquet node. Lists
// and fixed-size lists become repeated leaves, so list shape survives a
// round trip but fixed-size lists come back as plain lists.
func ArrowFieldToParquetNode(f arrow.Field) (parquet.Node, error) {
	elem := f.Type
	repeated := false
	switch t := f.Type.(type) {
	case *arrow.ListType:
		elem = t.Elem()
		repeated = true
	case *arrow.FixedSizeListType:
		elem = t.Elem()
		repeated = true
	}

	node, err := arrowTypeToParquetNode(elem)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", f.Name, err)
	}

	if repeated {
		return parquet.Repeated(node), nil
	}
	if f.Nullable {
		return parquet.Optional(node), nil
	}
	return node, nil
}

func arrowTypeToParquetNode(t arrow.DataType) (parquet.Node, error) {
	switch t.ID() {
	case arrow.BOOL:
		return parquet.Leaf(parquet.BooleanType), nil
	case arrow.INT8:
		return parquet.Int(8), nil
	case arrow.UINT8:
		return parquet.Uint(8), nil
	case arrow.INT32:
		return parquet.Int(32), nil
	case arrow.UINT32:
		return parquet.Uint(32), nil
	case arrow.INT64:
		return parquet.Int(64), nil
	case arrow.UINT64:
		return parquet.Uint(64), nil
	case arrow.FLOAT32:
		return parquet.Leaf(parquet.FloatType), nil
	case arrow.FLOAT64:
		return parquet.Leaf(parquet.DoubleType), nil
	case arrow.STRING:
		return parquet.String(), nil
	case arrow.BINARY:
		return parquet.Leaf(parquet.ByteArrayType), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, t.Name())
	}
}
