// Package geoarrow carries geometry columns through arrow tables. Geometry
// is transported as WKB byte arrays tagged with GeoArrow extension
// metadata; helpers convert between WKB columns and in-memory geometries.
package geoarrow

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// GeoArrow extension names used to tag geometry columns.
const (
	ExtensionPoint           = "geoarrow.point"
	ExtensionLineString      = "geoarrow.linestring"
	ExtensionPolygon         = "geoarrow.polygon"
	ExtensionMultiPoint      = "geoarrow.multipoint"
	ExtensionMultiLineString = "geoarrow.multilinestring"
	ExtensionMultiPolygon    = "geoarrow.multipolygon"
	ExtensionWKB             = "geoarrow.wkb"
)

// Parquet file metadata keys naming the geometry column and its encoding.
const (
	MetadataColumnKey   = "geoarrow:geometry_column"
	MetadataEncodingKey = "geoarrow:encoding"
)

const extensionNameKey = "ARROW:extension:name"

// ExtensionName returns the GeoArrow extension name of a field, or "".
func ExtensionName(f arrow.Field) string {
	idx := f.Metadata.FindKey(extensionNameKey)
	if idx < 0 {
		return ""
	}
	return f.Metadata.Values()[idx]
}

// WKBField builds the schema field for a WKB geometry column.
func WKBField(name string) arrow.Field {
	return arrow.Field{
		Name:     name,
		Type:     arrow.BinaryTypes.Binary,
		Metadata: arrow.NewMetadata([]string{extensionNameKey}, []string{ExtensionWKB}),
	}
}

// GeometryColumn finds the first geometry-tagged field of a schema.
func GeometryColumn(schema *arrow.Schema) (name, extension string, ok bool) {
	for _, f := range schema.Fields() {
		if ext := ExtensionName(f); ext != "" {
			return f.Name, ext, true
		}
	}
	return "", "", false
}

// TagRecord marks the named column of a record as a WKB geometry column.
// The input record is consumed; callers use the returned record in its
// place. Records without a matching binary column pass through unchanged.
func TagRecord(record arrow.Record, column string) arrow.Record {
	schema := record.Schema()
	indices := schema.FieldIndices(column)
	if len(indices) != 1 {
		return record
	}
	fields := schema.Fields()
	f := fields[indices[0]]
	if f.Type.ID() != arrow.BINARY {
		return record
	}
	f.Metadata = arrow.NewMetadata([]string{extensionNameKey}, []string{ExtensionWKB})
	fields[indices[0]] = f

	cols := make([]arrow.Array, record.NumCols())
	for i := range cols {
		cols[i] = record.Column(i)
	}
	tagged := array.NewRecord(arrow.NewSchema(fields, nil), cols, record.NumRows())
	record.Release()
	return tagged
}

// GeometriesToArray encodes geometries as a WKB binary array.
func GeometriesToArray(pool memory.Allocator, geoms []Geometry) arrow.Array {
	b := array.NewBinaryBuilder(pool, arrow.BinaryTypes.Binary)
	defer b.Release()
	for _, g := range geoms {
		if g == nil {
			b.AppendNull()
			continue
		}
		b.Append(EncodeWKB(g))
	}
	return b.NewArray()
}

// ArrayToGeometries decodes a WKB binary column. Null rows decode to nil.
func ArrayToGeometries(col arrow.Array) ([]Geometry, error) {
	arr, ok := col.(*array.Binary)
	if !ok {
		return nil, fmt.Errorf("geometry column must be binary, got %T", col)
	}
	geoms := make([]Geometry, arr.Len())
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			continue
		}
		g, err := DecodeWKB(arr.Value(i))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		geoms[i] = g
	}
	return geoms, nil
}

// RecordGeometries decodes the geometry column of a record.
func RecordGeometries(record arrow.Record) ([]Geometry, error) {
	name, _, ok := GeometryColumn(record.Schema())
	if !ok {
		return nil, fmt.Errorf("record has no geometry column")
	}
	indices := record.Schema().FieldIndices(name)
	return ArrayToGeometries(record.Column(indices[0]))
}

// TotalBounds unions the bounding boxes of all non-nil geometries.
func TotalBounds(geoms []Geometry) BBox {
	bb := EmptyBBox()
	for _, g := range geoms {
		if g != nil {
			bb = bb.Union(g.BBox())
		}
	}
	return bb
}
