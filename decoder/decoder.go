// Package decoder turns Parquet-encoded buffers back into arrow records on
// the rendering side of the bridge. Decoding is performed either natively or
// by a WebAssembly plugin that is fetched and instantiated exactly once per
// Engine.
package decoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/parquet-go/parquet-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tetratelabs/wazero"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/chrisgervang/lonboard/geoarrow"
	"github.com/chrisgervang/lonboard/pqarrow"
)

// ErrNotReady is returned by Decode when the engine has not finished
// initializing. Callers are expected to gate on EnsureReady; there is no
// queueing of pending decodes.
var ErrNotReady = errors.New("decoder: not ready")

// State is the engine lifecycle. It only ever moves forward; a failed init
// latches for the lifetime of the engine.
type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Engine decodes Parquet buffers into arrow records. An Engine is intended
// to be shared process-wide and is safe for concurrent use.
type Engine struct {
	logger        log.Logger
	tracer        trace.Tracer
	pool          memory.Allocator
	metrics       *metrics
	source        ModuleSource
	pinnedVersion string

	mtx     sync.Mutex
	state   State
	initErr error
	done    chan struct{}
	plugin  *plugin
	runtime wazero.Runtime
}

type Option func(*Engine) error

// New creates an engine. Without a module source the engine decodes
// natively and EnsureReady only flips the lifecycle.
func New(logger log.Logger, reg prometheus.Registerer, options ...Option) (*Engine, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	e := &Engine{
		logger:        logger,
		tracer:        noop.NewTracerProvider().Tracer(""),
		pool:          memory.NewGoAllocator(),
		metrics:       newMetrics(reg),
		pinnedVersion: DefaultModuleVersion,
	}

	for _, option := range options {
		if err := option(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// WithModuleSource configures where the decode plugin is fetched from. The
// fetched module must export the parquet-wasm ABI and report a version equal
// to the pinned one.
func WithModuleSource(source ModuleSource) Option {
	return func(e *Engine) error {
		e.source = source
		return nil
	}
}

func WithAllocator(pool memory.Allocator) Option {
	return func(e *Engine) error {
		e.pool = pool
		return nil
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) error {
		e.tracer = tracer
		return nil
	}
}

// WithPinnedModuleVersion overrides the version the fetched module must
// report. The default tracks the version of the encoding library on the
// producing side; the two must move in lockstep.
func WithPinnedModuleVersion(version string) Option {
	return func(e *Engine) error {
		e.pinnedVersion = version
		return nil
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.state
}

// Ready reports whether Decode may be called.
func (e *Engine) Ready() bool {
	return e.State() == StateReady
}

// EnsureReady initializes the engine on first call and is a no-op on every
// call after that. Concurrent callers share a single init attempt and all
// observe its outcome. A failed init is permanent; subsequent calls return
// the original error without refetching.
func (e *Engine) EnsureReady(ctx context.Context) error {
	e.mtx.Lock()
	switch e.state {
	case StateReady:
		e.mtx.Unlock()
		return nil
	case StateFailed:
		err := e.initErr
		e.mtx.Unlock()
		return err
	case StateLoading:
		done := e.done
		e.mtx.Unlock()
		select {
		case <-done:
			return e.initOutcome()
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.state = StateLoading
	e.done = make(chan struct{})
	e.mtx.Unlock()

	e.metrics.loadAttempts.Inc()
	start := time.Now()
	err := e.init(ctx)

	e.mtx.Lock()
	if err != nil {
		e.state = StateFailed
		e.initErr = err
		level.Error(e.logger).Log("msg", "decoder init failed", "err", err)
	} else {
		e.state = StateReady
		level.Debug(e.logger).Log("msg", "decoder ready", "duration", time.Since(start))
	}
	close(e.done)
	e.mtx.Unlock()
	return err
}

func (e *Engine) initOutcome() error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	return e.initErr
}

func (e *Engine) init(ctx context.Context) error {
	if e.source == nil {
		return nil
	}

	level.Debug(e.logger).Log("msg", "fetching decode module", "location", e.source.Location())
	moduleBytes, err := e.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetching decode module from %s: %w", e.source.Location(), err)
	}

	runtime := wazero.NewRuntime(ctx)
	p, err := newPlugin(ctx, runtime, moduleBytes)
	if err != nil {
		_ = runtime.Close(ctx)
		return err
	}

	version, err := p.versionString(ctx)
	if err != nil {
		_ = runtime.Close(ctx)
		return fmt.Errorf("reading module version: %w", err)
	}
	if version != e.pinnedVersion {
		_ = runtime.Close(ctx)
		return fmt.Errorf("decode module version %q does not match pinned version %q", version, e.pinnedVersion)
	}

	e.mtx.Lock()
	e.plugin = p
	e.runtime = runtime
	e.mtx.Unlock()
	return nil
}

// Decode converts a Parquet-encoded buffer into an arrow record. It fails
// fast with ErrNotReady before initialization completes and otherwise is a
// pure function of its input. Errors from the underlying Parquet and arrow
// libraries propagate unmodified.
func (e *Engine) Decode(ctx context.Context, data []byte) (arrow.Record, error) {
	if !e.Ready() {
		e.metrics.decodes.WithLabelValues("not_ready").Inc()
		return nil, ErrNotReady
	}

	ctx, span := e.tracer.Start(ctx, "Engine/Decode")
	defer span.End()

	start := time.Now()
	record, err := e.decode(ctx, data)
	if err != nil {
		e.metrics.decodes.WithLabelValues("error").Inc()
		return nil, err
	}

	e.metrics.decodes.WithLabelValues("success").Inc()
	e.metrics.decodeDuration.Observe(time.Since(start).Seconds())
	e.metrics.decodedBytes.Add(float64(len(data)))
	return record, nil
}

func (e *Engine) decode(ctx context.Context, data []byte) (arrow.Record, error) {
	// The footer carries the geometry column tag, which neither decode path
	// can recover from column data alone.
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	e.mtx.Lock()
	p := e.plugin
	e.mtx.Unlock()

	var record arrow.Record
	if p != nil {
		record, err = p.decode(ctx, data)
	} else {
		record, err = pqarrow.ParquetFileToRecord(ctx, e.pool, file)
	}
	if err != nil {
		return nil, err
	}

	if name, ok := file.Lookup(geoarrow.MetadataColumnKey); ok {
		record = geoarrow.TagRecord(record, name)
	}
	return record, nil
}

// DecodeColumn decodes a buffer that carries a single-column table and
// returns that column. This is the transport form of array-valued
// accessors.
func (e *Engine) DecodeColumn(ctx context.Context, data []byte) (arrow.Array, error) {
	record, err := e.Decode(ctx, data)
	if err != nil {
		return nil, err
	}
	defer record.Release()

	if record.NumCols() != 1 {
		return nil, fmt.Errorf("expected a single-column buffer, got %d columns", record.NumCols())
	}

	column := record.Column(0)
	column.Retain()
	return column, nil
}

// Close releases the plugin runtime, if any. The engine must not be used
// afterwards.
func (e *Engine) Close(ctx context.Context) error {
	e.mtx.Lock()
	defer e.mtx.Unlock()
	if e.runtime != nil {
		return e.runtime.Close(ctx)
	}
	return nil
}
