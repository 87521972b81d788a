package geoarrow

import (
	"encoding/binary"
	"fmt"
	"math"
)

// GeomType is the WKB geometry type code.
type GeomType uint32

const (
	TypePoint GeomType = iota + 1
	TypeLineString
	TypePolygon
	TypeMultiPoint
	TypeMultiLineString
	TypeMultiPolygon
)

func (t GeomType) String() string {
	switch t {
	case TypePoint:
		return "point"
	case TypeLineString:
		return "linestring"
	case TypePolygon:
		return "polygon"
	case TypeMultiPoint:
		return "multipoint"
	case TypeMultiLineString:
		return "multilinestring"
	case TypeMultiPolygon:
		return "multipolygon"
	default:
		return fmt.Sprintf("geomtype(%d)", uint32(t))
	}
}

// BBox is an axis-aligned bounding box in lon/lat order.
type BBox struct {
	MinX, MinY, MaxX, MaxY float64
}

func EmptyBBox() BBox {
	return BBox{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
	}
}

func (b BBox) IsEmpty() bool { return b.MinX > b.MaxX }

func (b BBox) Extend(x, y float64) BBox {
	return BBox{
		MinX: math.Min(b.MinX, x), MinY: math.Min(b.MinY, y),
		MaxX: math.Max(b.MaxX, x), MaxY: math.Max(b.MaxY, y),
	}
}

func (b BBox) Union(o BBox) BBox {
	if o.IsEmpty() {
		return b
	}
	if b.IsEmpty() {
		return o
	}
	return BBox{
		MinX: math.Min(b.MinX, o.MinX), MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX), MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

func (b BBox) Center() (x, y float64) {
	return (b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2
}

// Geometry is a decoded planar geometry.
type Geometry interface {
	Type() GeomType
	BBox() BBox
}

type Point struct {
	X, Y float64
}

type MultiPoint []Point

// LineString is an ordered point sequence.
type LineString []Point

type MultiLineString []LineString

// Polygon is a list of rings; the first is the exterior.
type Polygon []LineString

type MultiPolygon []Polygon

func (Point) Type() GeomType           { return TypePoint }
func (MultiPoint) Type() GeomType      { return TypeMultiPoint }
func (LineString) Type() GeomType      { return TypeLineString }
func (MultiLineString) Type() GeomType { return TypeMultiLineString }
func (Polygon) Type() GeomType         { return TypePolygon }
func (MultiPolygon) Type() GeomType    { return TypeMultiPolygon }

func (p Point) BBox() BBox {
	return BBox{MinX: p.X, MinY: p.Y, MaxX: p.X, MaxY: p.Y}
}

func pointsBBox(points []Point) BBox {
	bb := EmptyBBox()
	for _, p := range points {
		bb = bb.Extend(p.X, p.Y)
	}
	return bb
}

func (m MultiPoint) BBox() BBox { return pointsBBox(m) }

func (l LineString) BBox() BBox { return pointsBBox(l) }

func (m MultiLineString) BBox() BBox {
	bb := EmptyBBox()
	for _, l := range m {
		bb = bb.Union(l.BBox())
	}
	return bb
}

func (p Polygon) BBox() BBox {
	if len(p) == 0 {
		return EmptyBBox()
	}
	// The exterior ring bounds the polygon.
	return pointsBBox(p[0])
}

func (m MultiPolygon) BBox() BBox {
	bb := EmptyBBox()
	for _, p := range m {
		bb = bb.Union(p.BBox())
	}
	return bb
}

const wkbLittleEndian = 1

// EncodeWKB serializes a geometry as little-endian WKB.
func EncodeWKB(g Geometry) []byte {
	w := &wkbWriter{}
	w.geometry(g)
	return w.buf
}

type wkbWriter struct {
	buf []byte
}

func (w *wkbWriter) geometry(g Geometry) {
	w.buf = append(w.buf, wkbLittleEndian)
	w.uint32(uint32(g.Type()))
	switch g := g.(type) {
	case Point:
		w.point(g)
	case LineString:
		w.points(g)
	case Polygon:
		w.uint32(uint32(len(g)))
		for _, ring := range g {
			w.points(ring)
		}
	case MultiPoint:
		w.uint32(uint32(len(g)))
		for _, p := range g {
			w.geometry(p)
		}
	case MultiLineString:
		w.uint32(uint32(len(g)))
		for _, l := range g {
			w.geometry(l)
		}
	case MultiPolygon:
		w.uint32(uint32(len(g)))
		for _, p := range g {
			w.geometry(p)
		}
	}
}

func (w *wkbWriter) uint32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *wkbWriter) float64(v float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
}

func (w *wkbWriter) point(p Point) {
	w.float64(p.X)
	w.float64(p.Y)
}

func (w *wkbWriter) points(points []Point) {
	w.uint32(uint32(len(points)))
	for _, p := range points {
		w.point(p)
	}
}

// DecodeWKB parses a WKB geometry of either byte order.
func DecodeWKB(data []byte) (Geometry, error) {
	r := &wkbReader{buf: data}
	g, err := r.geometry()
	if err != nil {
		return nil, err
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("wkb: %d trailing bytes", len(r.buf))
	}
	return g, nil
}

type wkbReader struct {
	buf   []byte
	order binary.ByteOrder
}

func (r *wkbReader) geometry() (Geometry, error) {
	if len(r.buf) < 1 {
		return nil, fmt.Errorf("wkb: missing byte order")
	}
	switch r.buf[0] {
	case 0:
		r.order = binary.BigEndian
	case wkbLittleEndian:
		r.order = binary.LittleEndian
	default:
		return nil, fmt.Errorf("wkb: invalid byte order %d", r.buf[0])
	}
	r.buf = r.buf[1:]

	typ, err := r.uint32()
	if err != nil {
		return nil, err
	}
	switch GeomType(typ) {
	case TypePoint:
		return r.point()
	case TypeLineString:
		return r.points()
	case TypePolygon:
		// Each ring needs at least its own count word.
		n, err := r.count(4)
		if err != nil {
			return nil, err
		}
		poly := make(Polygon, n)
		for i := range poly {
			if poly[i], err = r.points(); err != nil {
				return nil, err
			}
		}
		return poly, nil
	case TypeMultiPoint, TypeMultiLineString, TypeMultiPolygon:
		return r.multi(GeomType(typ))
	default:
		return nil, fmt.Errorf("wkb: unsupported geometry type %d", typ)
	}
}

// multi reads n member geometries, each a full WKB geometry with its own
// byte order, and asserts they match the container type.
func (r *wkbReader) multi(typ GeomType) (Geometry, error) {
	// Each member carries at least a byte order and a type word.
	n, err := r.count(5)
	if err != nil {
		return nil, err
	}
	members := make([]Geometry, n)
	for i := range members {
		if members[i], err = r.geometry(); err != nil {
			return nil, err
		}
	}

	switch typ {
	case TypeMultiPoint:
		out := make(MultiPoint, n)
		for i, g := range members {
			p, ok := g.(Point)
			if !ok {
				return nil, fmt.Errorf("wkb: %s member in multipoint", g.Type())
			}
			out[i] = p
		}
		return out, nil
	case TypeMultiLineString:
		out := make(MultiLineString, n)
		for i, g := range members {
			l, ok := g.(LineString)
			if !ok {
				return nil, fmt.Errorf("wkb: %s member in multilinestring", g.Type())
			}
			out[i] = l
		}
		return out, nil
	default:
		out := make(MultiPolygon, n)
		for i, g := range members {
			p, ok := g.(Polygon)
			if !ok {
				return nil, fmt.Errorf("wkb: %s member in multipolygon", g.Type())
			}
			out[i] = p
		}
		return out, nil
	}
}

func (r *wkbReader) uint32() (uint32, error) {
	if len(r.buf) < 4 {
		return 0, fmt.Errorf("wkb: truncated")
	}
	v := r.order.Uint32(r.buf)
	r.buf = r.buf[4:]
	return v, nil
}

// count reads an element count and bounds it against the bytes left, so a
// malformed header cannot drive a huge allocation.
func (r *wkbReader) count(elemSize int) (int, error) {
	n, err := r.uint32()
	if err != nil {
		return 0, err
	}
	if int64(n)*int64(elemSize) > int64(len(r.buf)) {
		return 0, fmt.Errorf("wkb: %d elements do not fit in %d remaining bytes", n, len(r.buf))
	}
	return int(n), nil
}

func (r *wkbReader) float64() (float64, error) {
	if len(r.buf) < 8 {
		return 0, fmt.Errorf("wkb: truncated")
	}
	v := math.Float64frombits(r.order.Uint64(r.buf))
	r.buf = r.buf[8:]
	return v, nil
}

func (r *wkbReader) point() (Point, error) {
	x, err := r.float64()
	if err != nil {
		return Point{}, err
	}
	y, err := r.float64()
	if err != nil {
		return Point{}, err
	}
	return Point{X: x, Y: y}, nil
}

func (r *wkbReader) points() (LineString, error) {
	n, err := r.count(16)
	if err != nil {
		return nil, err
	}
	points := make(LineString, n)
	for i := range points {
		if points[i], err = r.point(); err != nil {
			return nil, err
		}
	}
	return points, nil
}
