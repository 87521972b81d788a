package lonboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// AccessorInput is the transport form of a per-row visual encoding input:
// either a Parquet-encoded single-column buffer or a plain value applied to
// every row. The union is resolved once at the boundary; consumers switch on
// the concrete type and must not assume a decode step occurred.
type AccessorInput interface {
	isAccessorInput()
}

// EncodedColumn carries a per-row array as a one-column Parquet buffer.
type EncodedColumn struct {
	Buffer *RawBuffer
}

// DirectValue carries a JSON-compatible scalar or small fixed array, e.g. a
// constant RGBA color.
type DirectValue struct {
	Value any
}

func (EncodedColumn) isAccessorInput() {}
func (DirectValue) isAccessorInput()   {}

// AccessorValue is the renderer-side resolution of an AccessorInput:
// exactly one of Array and Literal is set.
type AccessorValue struct {
	Array   arrow.Array
	Literal any
}

func (v AccessorValue) IsArray() bool { return v.Array != nil }

func (v AccessorValue) Release() {
	if v.Array != nil {
		v.Array.Release()
	}
}

// Accessor is the kernel-side form: a constant for all rows or a per-row
// column. The zero Accessor means "unset" and is omitted from layer state.
type Accessor struct {
	literal any
	column  arrow.Array
}

// Constant builds an accessor applying one value to every row.
func Constant(v any) Accessor {
	return Accessor{literal: v}
}

// Column builds a per-row accessor from an arrow array. The array length
// must match the layer table's row count; layers validate this on update.
func Column(arr arrow.Array) Accessor {
	return Accessor{column: arr}
}

func (a Accessor) IsZero() bool {
	return a.literal == nil && a.column == nil
}

// Len returns the row count of a per-row accessor.
func (a Accessor) Len() (int, bool) {
	if a.column == nil {
		return 0, false
	}
	return a.column.Len(), true
}

// input converts to the transport form, encoding columns as single-column
// Parquet buffers. The field name is the column name used in the buffer.
func (a Accessor) input(ctx context.Context, name string, rowsPerChunk int) (AccessorInput, error) {
	if a.column != nil {
		buf, err := SerializeColumn(ctx, a.column, name, rowsPerChunk)
		if err != nil {
			return nil, fmt.Errorf("accessor %q: %w", name, err)
		}
		return EncodedColumn{Buffer: buf}, nil
	}
	return DirectValue{Value: a.literal}, nil
}

var errColorChannels = errors.New("color must have 3 or 4 channels in the 0-255 range")

// validateColor enforces the [r, g, b, (a)] shape of color accessors, for
// constants and per-row arrays alike.
func validateColor(a Accessor) error {
	if a.column != nil {
		switch arr := a.column.(type) {
		case *array.FixedSizeList:
			w := int(arr.DataType().(*arrow.FixedSizeListType).Len())
			if w != 3 && w != 4 {
				return errColorChannels
			}
			if arr.ListValues().DataType().ID() != arrow.UINT8 {
				return fmt.Errorf("color array must hold uint8 channels, got %s", arr.ListValues().DataType().Name())
			}
			return nil
		default:
			return fmt.Errorf("color array must be a fixed-size list of uint8, got %T", arr)
		}
	}

	channels, err := intSlice(a.literal)
	if err != nil {
		return err
	}
	if len(channels) != 3 && len(channels) != 4 {
		return errColorChannels
	}
	for _, c := range channels {
		if c < 0 || c > 255 {
			return errColorChannels
		}
	}
	return nil
}

// validateFloat enforces that float accessors are numeric scalars or
// float arrays.
func validateFloat(a Accessor) error {
	if a.column != nil {
		switch a.column.DataType().ID() {
		case arrow.FLOAT32, arrow.FLOAT64, arrow.INT32, arrow.INT64:
			return nil
		default:
			return fmt.Errorf("numeric accessor array required, got %s", a.column.DataType().Name())
		}
	}

	switch a.literal.(type) {
	case float64, float32, int, int32, int64:
		return nil
	default:
		return fmt.Errorf("numeric accessor constant required, got %T", a.literal)
	}
}

func intSlice(v any) ([]int, error) {
	switch s := v.(type) {
	case []int:
		return s, nil
	case []uint8:
		out := make([]int, len(s))
		for i, c := range s {
			out[i] = int(c)
		}
		return out, nil
	case []float64:
		out := make([]int, len(s))
		for i, c := range s {
			out[i] = int(c)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a color channel list, got %T", v)
	}
}
