package lonboard

import (
	"math"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/chrisgervang/lonboard/geoarrow"
)

// ViewState is the renderer's initial camera position.
type ViewState struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Zoom      float64 `json:"zoom"`
}

const (
	minZoom = 0
	maxZoom = 20
	// Zoom used when the data collapses to a single point.
	pointZoom = 12
)

// ComputeView derives an initial view state from the bounds of a record's
// geometry column. Records without geometry get a whole-world view.
func ComputeView(record arrow.Record) ViewState {
	geoms, err := geoarrow.RecordGeometries(record)
	if err != nil {
		return ViewState{}
	}
	return ViewFromBounds(geoarrow.TotalBounds(geoms))
}

// ViewFromBounds centers the camera on a bounding box and picks the zoom
// that fits the longer box axis into a 360-degree tile pyramid.
func ViewFromBounds(bb geoarrow.BBox) ViewState {
	if bb.IsEmpty() {
		return ViewState{}
	}

	lon, lat := bb.Center()
	extent := math.Max(bb.MaxX-bb.MinX, bb.MaxY-bb.MinY)
	if extent <= 0 {
		return ViewState{Longitude: lon, Latitude: lat, Zoom: pointZoom}
	}

	zoom := math.Log2(360 / extent)
	if zoom < minZoom {
		zoom = minZoom
	}
	if zoom > maxZoom {
		zoom = maxZoom
	}
	return ViewState{Longitude: lon, Latitude: lat, Zoom: zoom}
}
