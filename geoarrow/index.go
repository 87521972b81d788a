package geoarrow

import (
	"fmt"
	"sort"

	"github.com/dhconnelly/rtreego"
)

// rectEpsilon keeps degenerate boxes (points, axis-aligned segments)
// insertable, since rtreego rejects zero-length rectangle sides.
const rectEpsilon = 1e-9

// Index is a spatial index over a geometry column, mapping bounding boxes
// back to row indices. It serves hover/click picking on the rendered layer.
type Index struct {
	tree *rtreego.Rtree
}

type indexEntry struct {
	row  int
	rect rtreego.Rect
}

// Bounds implements rtreego.Spatial.
func (e *indexEntry) Bounds() rtreego.Rect {
	return e.rect
}

// NewIndex builds an R-tree over the non-nil geometries. The slice index of
// each geometry is its row number. Geometries without an extent (empty
// lines, empty multis) are not indexed.
func NewIndex(geoms []Geometry) *Index {
	tree := rtreego.NewTree(2, 25, 50)
	for row, g := range geoms {
		if g == nil {
			continue
		}
		rect, err := bboxToRect(g.BBox())
		if err != nil {
			continue
		}
		tree.Insert(&indexEntry{row: row, rect: rect})
	}
	return &Index{tree: tree}
}

func bboxToRect(bb BBox) (rtreego.Rect, error) {
	if bb.IsEmpty() || bb.MaxY < bb.MinY {
		return rtreego.Rect{}, fmt.Errorf("invalid box: min exceeds max")
	}
	lengths := []float64{bb.MaxX - bb.MinX, bb.MaxY - bb.MinY}
	for i, l := range lengths {
		if l < rectEpsilon {
			lengths[i] = rectEpsilon
		}
	}
	return rtreego.NewRect(rtreego.Point{bb.MinX, bb.MinY}, lengths)
}

// SearchBBox returns the rows whose bounding boxes intersect the query box,
// in ascending row order. Inverted boxes are an error, not an empty result.
func (ix *Index) SearchBBox(bb BBox) ([]int, error) {
	rect, err := bboxToRect(bb)
	if err != nil {
		return nil, err
	}
	results := ix.tree.SearchIntersect(rect)
	rows := make([]int, 0, len(results))
	for _, r := range results {
		rows = append(rows, r.(*indexEntry).row)
	}
	sort.Ints(rows)
	return rows, nil
}

// Pick returns the rows whose bounding boxes fall within tolerance of a
// point, e.g. a cursor position in degrees.
func (ix *Index) Pick(x, y, tolerance float64) ([]int, error) {
	if tolerance < 0 {
		return nil, fmt.Errorf("negative pick tolerance %g", tolerance)
	}
	return ix.SearchBBox(BBox{
		MinX: x - tolerance, MinY: y - tolerance,
		MaxX: x + tolerance, MaxY: y + tolerance,
	})
}

// Size reports the number of indexed rows.
func (ix *Index) Size() int {
	return ix.tree.Size()
}
