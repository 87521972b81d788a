package decoder

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"
	"github.com/thanos-io/objstore"

	"github.com/chrisgervang/lonboard/geoarrow"
)

type row struct {
	Value float64 `parquet:"value"`
}

func encodeRows(t *testing.T, values []float64) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[row](&buf)
	rows := make([]row, len(values))
	for i, v := range values {
		rows[i] = row{Value: v}
	}
	_, err := w.Write(rows)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestEnsureReadyIdempotent(t *testing.T) {
	e, err := New(nil, nil)
	require.NoError(t, err)

	require.Equal(t, StateUninitialized, e.State())
	require.False(t, e.Ready())

	require.NoError(t, e.EnsureReady(t.Context()))
	require.Equal(t, StateReady, e.State())
	require.True(t, e.Ready())

	// Readiness is monotonic.
	require.NoError(t, e.EnsureReady(t.Context()))
	require.True(t, e.Ready())
}

func TestDecodeBeforeReady(t *testing.T) {
	e, err := New(nil, nil)
	require.NoError(t, err)

	_, err = e.Decode(t.Context(), encodeRows(t, []float64{1}))
	require.ErrorIs(t, err, ErrNotReady)
}

func TestDecodeRoundTrip(t *testing.T) {
	e, err := New(nil, nil)
	require.NoError(t, err)
	require.NoError(t, e.EnsureReady(t.Context()))

	record, err := e.Decode(t.Context(), encodeRows(t, []float64{0.1, 0.9}))
	require.NoError(t, err)
	defer record.Release()

	require.Equal(t, int64(2), record.NumRows())
	values := record.Column(0).(*array.Float64)
	require.Equal(t, []float64{0.1, 0.9}, values.Float64Values())
}

func TestDecodeMalformedBuffer(t *testing.T) {
	e, err := New(nil, nil)
	require.NoError(t, err)
	require.NoError(t, e.EnsureReady(t.Context()))

	_, err = e.Decode(t.Context(), []byte("not parquet"))
	require.Error(t, err)
}

func TestDecodeColumn(t *testing.T) {
	e, err := New(nil, nil)
	require.NoError(t, err)
	require.NoError(t, e.EnsureReady(t.Context()))

	column, err := e.DecodeColumn(t.Context(), encodeRows(t, []float64{0.1, 0.9}))
	require.NoError(t, err)
	defer column.Release()

	values := column.(*array.Float64)
	require.Equal(t, 2, values.Len())
	require.Equal(t, []float64{0.1, 0.9}, values.Float64Values())
}

func TestDecodeColumnRejectsMultipleColumns(t *testing.T) {
	type wide struct {
		A float64 `parquet:"a"`
		B float64 `parquet:"b"`
	}
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[wide](&buf)
	_, err := w.Write([]wide{{A: 1, B: 2}})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	e, err := New(nil, nil)
	require.NoError(t, err)
	require.NoError(t, e.EnsureReady(t.Context()))

	_, err = e.DecodeColumn(t.Context(), buf.Bytes())
	require.ErrorContains(t, err, "single-column")
}

type countingSource struct {
	fetches atomic.Int32
	data    []byte
	err     error
}

func (s *countingSource) Fetch(context.Context) ([]byte, error) {
	s.fetches.Add(1)
	return s.data, s.err
}

func (s *countingSource) Location() string { return "counting" }

func TestLoadFailureLatches(t *testing.T) {
	source := &countingSource{err: errors.New("fetch exploded")}
	e, err := New(nil, nil, WithModuleSource(source))
	require.NoError(t, err)

	err = e.EnsureReady(t.Context())
	require.ErrorContains(t, err, "fetch exploded")
	require.Equal(t, StateFailed, e.State())

	// No refetch; the original error is returned.
	err2 := e.EnsureReady(t.Context())
	require.Equal(t, err, err2)
	require.Equal(t, int32(1), source.fetches.Load())

	_, err = e.Decode(t.Context(), encodeRows(t, []float64{1}))
	require.ErrorIs(t, err, ErrNotReady)
}

func TestInvalidModuleBytes(t *testing.T) {
	source := &countingSource{data: []byte("not wasm")}
	e, err := New(nil, nil, WithModuleSource(source))
	require.NoError(t, err)

	require.ErrorContains(t, e.EnsureReady(t.Context()), "compiling decode module")
	require.Equal(t, StateFailed, e.State())
}

func TestModuleMissingExports(t *testing.T) {
	// The smallest valid module: magic and version, no exports.
	empty := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	e, err := New(nil, nil, WithModuleSource(StaticSource(empty)))
	require.NoError(t, err)

	err = e.EnsureReady(t.Context())
	require.ErrorContains(t, err, `does not export "malloc"`)
	require.NoError(t, e.Close(t.Context()))
}

func TestConcurrentEnsureReadySingleFetch(t *testing.T) {
	source := &countingSource{err: errors.New("nope")}
	e, err := New(nil, nil, WithModuleSource(source))
	require.NoError(t, err)

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- e.EnsureReady(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.ErrorContains(t, err, "nope")
	}
	require.Equal(t, int32(1), source.fetches.Load())
}

func TestBucketSource(t *testing.T) {
	bucket := objstore.NewInMemBucket()
	require.NoError(t, bucket.Upload(t.Context(), "modules/parquet-0.6.1.wasm", bytes.NewReader([]byte("module bytes"))))

	source := &BucketSource{Bucket: bucket, Key: "modules/parquet-0.6.1.wasm"}
	data, err := source.Fetch(t.Context())
	require.NoError(t, err)
	require.Equal(t, []byte("module bytes"), data)
	require.Contains(t, source.Location(), "modules/parquet-0.6.1.wasm")
}

func TestDecodeRestoresGeometryTag(t *testing.T) {
	type geoRow struct {
		Geometry []byte  `parquet:"geometry"`
		Value    float64 `parquet:"value"`
	}
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[geoRow](&buf,
		parquet.KeyValueMetadata(geoarrow.MetadataColumnKey, "geometry"),
		parquet.KeyValueMetadata(geoarrow.MetadataEncodingKey, geoarrow.ExtensionWKB),
	)
	_, err := w.Write([]geoRow{
		{Geometry: geoarrow.EncodeWKB(geoarrow.Point{X: 1, Y: 2}), Value: 3},
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	e, err := New(nil, nil)
	require.NoError(t, err)
	require.NoError(t, e.EnsureReady(t.Context()))

	record, err := e.Decode(t.Context(), buf.Bytes())
	require.NoError(t, err)
	defer record.Release()

	// The tag lives in the file footer; decoded records must carry it so
	// geometry helpers work downstream.
	name, ext, ok := geoarrow.GeometryColumn(record.Schema())
	require.True(t, ok)
	require.Equal(t, "geometry", name)
	require.Equal(t, geoarrow.ExtensionWKB, ext)

	geoms, err := geoarrow.RecordGeometries(record)
	require.NoError(t, err)
	require.Equal(t, []geoarrow.Geometry{geoarrow.Point{X: 1, Y: 2}}, geoms)
}

func TestDecodeRespectsRecordSchema(t *testing.T) {
	e, err := New(nil, nil)
	require.NoError(t, err)
	require.NoError(t, e.EnsureReady(t.Context()))

	record, err := e.Decode(t.Context(), encodeRows(t, []float64{1}))
	require.NoError(t, err)
	defer record.Release()

	require.Equal(t, "value", record.ColumnName(0))
	require.Equal(t, arrow.FLOAT64, record.Column(0).DataType().ID())
}
