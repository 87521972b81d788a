// Package lonboard bridges large geospatial datasets between a producing
// kernel process and a map renderer. Tables and per-row accessors travel as
// Parquet-encoded arrow buffers; reactive state on the receiving side keeps
// decoded records in sync with incoming buffers.
package lonboard

import (
	"context"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/chrisgervang/lonboard/geoarrow"
)

// Layer types as announced to the renderer.
const (
	LayerTypeScatterplot  = "scatterplot"
	LayerTypePath         = "path"
	LayerTypeSolidPolygon = "solid-polygon"
)

// Props is a JSON-compatible snapshot of a layer's synchronized state.
// Binary fields hold *RawBuffer values; everything else is a plain value.
type Props map[string]any

// Layer is the kernel-side model of one rendered layer.
type Layer interface {
	ID() string
	Type() string
	Table() arrow.Record
	Props(ctx context.Context) (Props, error)
}

type baseLayer struct {
	logger  log.Logger
	metrics *layerMetrics

	mtx          sync.Mutex
	id           string
	typ          string
	table        arrow.Record
	geomTypes    map[geoarrow.GeomType]bool
	view         ViewState
	rowsPerChunk int
	selection    *roaring.Bitmap
}

// Option configures properties shared by every layer type.
type Option func(*baseLayer) error

func WithID(id string) Option {
	return func(l *baseLayer) error {
		l.id = id
		return nil
	}
}

// WithRowsPerChunk overrides the inferred row-group size used when
// serializing the table and accessor columns.
func WithRowsPerChunk(n int) Option {
	return func(l *baseLayer) error {
		if n < 1 {
			return fmt.Errorf("rows per chunk must be positive, got %d", n)
		}
		l.rowsPerChunk = n
		return nil
	}
}

// WithSelection restricts the rows shipped to the renderer to the set bits
// of the bitmap.
func WithSelection(selection *roaring.Bitmap) Option {
	return func(l *baseLayer) error {
		l.selection = selection
		return nil
	}
}

func newBaseLayer(
	logger log.Logger,
	reg prometheus.Registerer,
	typ string,
	table arrow.Record,
	allowed []geoarrow.GeomType,
	options ...Option,
) (*baseLayer, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	l := &baseLayer{
		logger: log.With(logger, "layer_type", typ),
		id:     uuid.New().String(),
		typ:    typ,
	}
	for _, option := range options {
		if err := option(l); err != nil {
			return nil, err
		}
	}
	// The layer id as a constant label keeps multiple layers registrable on
	// one registerer.
	l.metrics = newLayerMetrics(prometheus.WrapRegistererWith(prometheus.Labels{"layer_id": l.id}, reg))
	if err := l.setTable(table, allowed); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *baseLayer) ID() string   { return l.id }
func (l *baseLayer) Type() string { return l.typ }

func (l *baseLayer) Table() arrow.Record {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.table
}

// NumRows is the full table row count, ignoring any selection.
func (l *baseLayer) NumRows() int {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if l.table == nil {
		return 0
	}
	return int(l.table.NumRows())
}

// InitialViewState is the default camera computed from the table bounds.
func (l *baseLayer) InitialViewState() ViewState {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.view
}

func (l *baseLayer) SetSelection(selection *roaring.Bitmap) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.selection = selection
}

func (l *baseLayer) setTable(table arrow.Record, allowed []geoarrow.GeomType) error {
	if table == nil {
		return fmt.Errorf("layer requires a table")
	}
	geoms, err := geoarrow.RecordGeometries(table)
	if err != nil {
		return err
	}

	allowedSet := make(map[geoarrow.GeomType]bool, len(allowed))
	for _, t := range allowed {
		allowedSet[t] = true
	}
	for i, g := range geoms {
		if g == nil {
			continue
		}
		if !allowedSet[g.Type()] {
			return fmt.Errorf("row %d: %s geometry not allowed in %s layer", i, g.Type(), l.typ)
		}
	}

	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.table = table
	l.geomTypes = allowedSet
	l.view = ViewFromBounds(geoarrow.TotalBounds(geoms))
	if l.rowsPerChunk == 0 {
		l.rowsPerChunk = InferRowsPerChunk(table)
	}
	return nil
}

// validateAccessor checks the accessor's per-row length against the table.
func (l *baseLayer) validateAccessor(name string, a Accessor) error {
	if n, ok := a.Len(); ok && n != l.NumRows() {
		return fmt.Errorf("%s must have same length as table (%d != %d)", name, n, l.NumRows())
	}
	return nil
}

// baseProps assembles the state shared by every layer type, serializing the
// table into its transport buffer.
func (l *baseLayer) baseProps(ctx context.Context) (Props, error) {
	l.mtx.Lock()
	table := l.table
	selection := l.selection
	rowsPerChunk := l.rowsPerChunk
	l.mtx.Unlock()

	var (
		buf *RawBuffer
		err error
	)
	if selection != nil {
		buf, err = SerializeSelection(ctx, table, rowsPerChunk, selection)
	} else {
		buf, err = SerializeTable(ctx, table, rowsPerChunk)
	}
	if err != nil {
		return nil, fmt.Errorf("serializing table: %w", err)
	}

	l.metrics.propsSnapshots.WithLabelValues(l.typ).Inc()
	l.metrics.serializedBytes.Add(float64(buf.Len()))
	level.Debug(l.logger).Log(
		"msg", "layer state serialized",
		"id", l.id,
		"bytes", buf.Len(),
		"fingerprint", buf.Fingerprint(),
	)

	return Props{
		"id":                  l.id,
		"_layer_type":         l.typ,
		"_initial_view_state": l.InitialViewState(),
		"_rows_per_chunk":     rowsPerChunk,
		"table_buffer":        buf,
	}, nil
}

// addAccessor encodes a non-zero accessor into the props under its name.
func (l *baseLayer) addAccessor(ctx context.Context, p Props, name string, a Accessor) error {
	if a.IsZero() {
		return nil
	}
	l.mtx.Lock()
	rowsPerChunk := l.rowsPerChunk
	l.mtx.Unlock()
	input, err := a.input(ctx, name, rowsPerChunk)
	if err != nil {
		return err
	}
	p[name] = input
	return nil
}

// ScatterplotLayer renders circles at point coordinates.
type ScatterplotLayer struct {
	*baseLayer

	RadiusUnits        string
	RadiusScale        float64
	RadiusMinPixels    float64
	RadiusMaxPixels    float64
	LineWidthUnits     string
	LineWidthScale     float64
	LineWidthMinPixels float64
	LineWidthMaxPixels float64
	Stroked            bool
	Filled             bool
	Billboard          bool
	Antialiasing       bool

	getRadius    Accessor
	getFillColor Accessor
	getLineColor Accessor
	getLineWidth Accessor
}

// NewScatterplotLayer builds a scatterplot layer over a point or multipoint
// table.
func NewScatterplotLayer(logger log.Logger, reg prometheus.Registerer, table arrow.Record, options ...Option) (*ScatterplotLayer, error) {
	base, err := newBaseLayer(logger, reg, LayerTypeScatterplot, table,
		[]geoarrow.GeomType{geoarrow.TypePoint, geoarrow.TypeMultiPoint}, options...)
	if err != nil {
		return nil, err
	}
	return &ScatterplotLayer{
		baseLayer:      base,
		RadiusUnits:    "meters",
		RadiusScale:    1,
		LineWidthUnits: "meters",
		LineWidthScale: 1,
		Filled:         true,
		Antialiasing:   true,
	}, nil
}

// SetGetRadius sets the per-object radius accessor, in RadiusUnits.
func (l *ScatterplotLayer) SetGetRadius(a Accessor) error {
	if err := validateFloat(a); err != nil {
		return fmt.Errorf("get_radius: %w", err)
	}
	if err := l.validateAccessor("get_radius", a); err != nil {
		return err
	}
	l.getRadius = a
	return nil
}

// SetGetFillColor sets the fill color accessor, [r, g, b, (a)] with 0-255
// channels.
func (l *ScatterplotLayer) SetGetFillColor(a Accessor) error {
	if err := validateColor(a); err != nil {
		return fmt.Errorf("get_fill_color: %w", err)
	}
	if err := l.validateAccessor("get_fill_color", a); err != nil {
		return err
	}
	l.getFillColor = a
	return nil
}

// SetGetLineColor sets the outline color accessor.
func (l *ScatterplotLayer) SetGetLineColor(a Accessor) error {
	if err := validateColor(a); err != nil {
		return fmt.Errorf("get_line_color: %w", err)
	}
	if err := l.validateAccessor("get_line_color", a); err != nil {
		return err
	}
	l.getLineColor = a
	return nil
}

// SetGetLineWidth sets the outline width accessor, in LineWidthUnits.
func (l *ScatterplotLayer) SetGetLineWidth(a Accessor) error {
	if err := validateFloat(a); err != nil {
		return fmt.Errorf("get_line_width: %w", err)
	}
	if err := l.validateAccessor("get_line_width", a); err != nil {
		return err
	}
	l.getLineWidth = a
	return nil
}

func (l *ScatterplotLayer) Props(ctx context.Context) (Props, error) {
	p, err := l.baseProps(ctx)
	if err != nil {
		return nil, err
	}

	p["radius_units"] = l.RadiusUnits
	p["radius_scale"] = l.RadiusScale
	p["radius_min_pixels"] = l.RadiusMinPixels
	p["radius_max_pixels"] = l.RadiusMaxPixels
	p["line_width_units"] = l.LineWidthUnits
	p["line_width_scale"] = l.LineWidthScale
	p["line_width_min_pixels"] = l.LineWidthMinPixels
	p["line_width_max_pixels"] = l.LineWidthMaxPixels
	p["stroked"] = l.Stroked
	p["filled"] = l.Filled
	p["billboard"] = l.Billboard
	p["antialiasing"] = l.Antialiasing

	for name, a := range map[string]Accessor{
		"get_radius":     l.getRadius,
		"get_fill_color": l.getFillColor,
		"get_line_color": l.getLineColor,
		"get_line_width": l.getLineWidth,
	} {
		if err := l.addAccessor(ctx, p, name, a); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// PathLayer renders polylines.
type PathLayer struct {
	*baseLayer

	WidthUnits     string
	WidthScale     float64
	WidthMinPixels float64
	WidthMaxPixels float64
	JointRounded   bool
	CapRounded     bool
	MiterLimit     int
	Billboard      bool

	getColor Accessor
	getWidth Accessor
}

// NewPathLayer builds a path layer over a linestring or multilinestring
// table.
func NewPathLayer(logger log.Logger, reg prometheus.Registerer, table arrow.Record, options ...Option) (*PathLayer, error) {
	base, err := newBaseLayer(logger, reg, LayerTypePath, table,
		[]geoarrow.GeomType{geoarrow.TypeLineString, geoarrow.TypeMultiLineString}, options...)
	if err != nil {
		return nil, err
	}
	return &PathLayer{
		baseLayer:  base,
		WidthUnits: "meters",
		WidthScale: 1,
		MiterLimit: 4,
	}, nil
}

func (l *PathLayer) SetGetColor(a Accessor) error {
	if err := validateColor(a); err != nil {
		return fmt.Errorf("get_color: %w", err)
	}
	if err := l.validateAccessor("get_color", a); err != nil {
		return err
	}
	l.getColor = a
	return nil
}

func (l *PathLayer) SetGetWidth(a Accessor) error {
	if err := validateFloat(a); err != nil {
		return fmt.Errorf("get_width: %w", err)
	}
	if err := l.validateAccessor("get_width", a); err != nil {
		return err
	}
	l.getWidth = a
	return nil
}

func (l *PathLayer) Props(ctx context.Context) (Props, error) {
	p, err := l.baseProps(ctx)
	if err != nil {
		return nil, err
	}

	p["width_units"] = l.WidthUnits
	p["width_scale"] = l.WidthScale
	p["width_min_pixels"] = l.WidthMinPixels
	p["width_max_pixels"] = l.WidthMaxPixels
	p["joint_rounded"] = l.JointRounded
	p["cap_rounded"] = l.CapRounded
	p["miter_limit"] = l.MiterLimit
	p["billboard"] = l.Billboard

	for name, a := range map[string]Accessor{
		"get_color": l.getColor,
		"get_width": l.getWidth,
	} {
		if err := l.addAccessor(ctx, p, name, a); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// SolidPolygonLayer renders filled and optionally extruded polygons.
type SolidPolygonLayer struct {
	*baseLayer

	Filled         bool
	Extruded       bool
	Wireframe      bool
	ElevationScale float64

	getElevation Accessor
	getFillColor Accessor
	getLineColor Accessor
}

// NewSolidPolygonLayer builds a polygon layer over a polygon or
// multipolygon table.
func NewSolidPolygonLayer(logger log.Logger, reg prometheus.Registerer, table arrow.Record, options ...Option) (*SolidPolygonLayer, error) {
	base, err := newBaseLayer(logger, reg, LayerTypeSolidPolygon, table,
		[]geoarrow.GeomType{geoarrow.TypePolygon, geoarrow.TypeMultiPolygon}, options...)
	if err != nil {
		return nil, err
	}
	return &SolidPolygonLayer{
		baseLayer:      base,
		Filled:         true,
		ElevationScale: 1,
	}, nil
}

// SetGetElevation sets the extrusion height accessor, in meters. Only
// applies when Extruded is set.
func (l *SolidPolygonLayer) SetGetElevation(a Accessor) error {
	if err := validateFloat(a); err != nil {
		return fmt.Errorf("get_elevation: %w", err)
	}
	if err := l.validateAccessor("get_elevation", a); err != nil {
		return err
	}
	l.getElevation = a
	return nil
}

func (l *SolidPolygonLayer) SetGetFillColor(a Accessor) error {
	if err := validateColor(a); err != nil {
		return fmt.Errorf("get_fill_color: %w", err)
	}
	if err := l.validateAccessor("get_fill_color", a); err != nil {
		return err
	}
	l.getFillColor = a
	return nil
}

func (l *SolidPolygonLayer) SetGetLineColor(a Accessor) error {
	if err := validateColor(a); err != nil {
		return fmt.Errorf("get_line_color: %w", err)
	}
	if err := l.validateAccessor("get_line_color", a); err != nil {
		return err
	}
	l.getLineColor = a
	return nil
}

func (l *SolidPolygonLayer) Props(ctx context.Context) (Props, error) {
	p, err := l.baseProps(ctx)
	if err != nil {
		return nil, err
	}

	p["filled"] = l.Filled
	p["extruded"] = l.Extruded
	p["wireframe"] = l.Wireframe
	p["elevation_scale"] = l.ElevationScale

	for name, a := range map[string]Accessor{
		"get_elevation":  l.getElevation,
		"get_fill_color": l.getFillColor,
		"get_line_color": l.getLineColor,
	} {
		if err := l.addAccessor(ctx, p, name, a); err != nil {
			return nil, err
		}
	}
	return p, nil
}
