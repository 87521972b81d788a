package lonboard

import (
	"context"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/chrisgervang/lonboard/decoder"
)

// TableState keeps a decoded table in sync with an incoming raw buffer. It
// watches two inputs, engine readiness and the buffer pointer, and
// re-derives the record only when one of them changes. The gate is
// referential: a new *RawBuffer with byte-identical content still decodes,
// the same pointer supplied twice never does.
//
// Re-derivation is last-write-wins. A generation counter, bumped on every
// input change, discards completions that raced with a newer input, so the
// published record never goes backwards.
type TableState struct {
	logger log.Logger
	engine *decoder.Engine

	mtx         sync.Mutex
	buf         *RawBuffer
	derivedFrom *RawBuffer
	record      arrow.Record
	generation  uint64
	subs        []func(arrow.Record)
}

func NewTableState(logger log.Logger, engine *decoder.Engine) *TableState {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &TableState{logger: logger, engine: engine}
}

// Subscribe registers a callback invoked synchronously after each
// successful re-derivation, while the new record is current.
func (s *TableState) Subscribe(fn func(arrow.Record)) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.subs = append(s.subs, fn)
}

// Record returns the current decoded record, or nil if nothing has been
// derived yet. The record stays valid until the next re-derivation.
func (s *TableState) Record() arrow.Record {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.record
}

// SetBuffer replaces the watched buffer. If the pointer is unchanged this
// is a no-op regardless of content.
func (s *TableState) SetBuffer(ctx context.Context, buf *RawBuffer) error {
	s.mtx.Lock()
	if buf == s.buf {
		s.mtx.Unlock()
		return nil
	}
	s.buf = buf
	s.generation++
	s.mtx.Unlock()

	return s.derive(ctx)
}

// Resync re-runs the derivation gate. Callers invoke it after the second
// watched input, engine readiness, changes; it is also safe to call
// spuriously.
func (s *TableState) Resync(ctx context.Context) error {
	s.mtx.Lock()
	s.generation++
	s.mtx.Unlock()
	return s.derive(ctx)
}

func (s *TableState) derive(ctx context.Context) error {
	s.mtx.Lock()
	buf := s.buf
	gen := s.generation
	s.mtx.Unlock()

	if buf == nil || buf.Len() == 0 || !s.engine.Ready() {
		// Retain the previous record; a later Resync picks this buffer up.
		return nil
	}
	s.mtx.Lock()
	alreadyDerived := buf == s.derivedFrom
	s.mtx.Unlock()
	if alreadyDerived {
		return nil
	}

	record, err := s.engine.Decode(ctx, buf.Bytes())
	if err != nil {
		return err
	}

	s.mtx.Lock()
	if gen != s.generation {
		// A newer input won the race; drop this result.
		s.mtx.Unlock()
		record.Release()
		return nil
	}
	if s.record != nil {
		s.record.Release()
	}
	s.record = record
	s.derivedFrom = buf
	subs := make([]func(arrow.Record), len(s.subs))
	copy(subs, s.subs)
	s.mtx.Unlock()

	level.Debug(s.logger).Log(
		"msg", "table re-derived",
		"rows", record.NumRows(),
		"fingerprint", buf.Fingerprint(),
	)
	for _, fn := range subs {
		fn(record)
	}
	return nil
}

// Release drops the current record. The state may be reused afterwards.
func (s *TableState) Release() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.record != nil {
		s.record.Release()
		s.record = nil
		s.derivedFrom = nil
	}
}

// AccessorState is TableState's analogue for accessor inputs. Encoded
// columns follow the same readiness/identity gate and publish the buffer's
// single column; direct values publish unchanged with no decode.
type AccessorState struct {
	logger log.Logger
	engine *decoder.Engine

	mtx         sync.Mutex
	input       AccessorInput
	derivedFrom *RawBuffer
	value       AccessorValue
	generation  uint64
	subs        []func(AccessorValue)
}

func NewAccessorState(logger log.Logger, engine *decoder.Engine) *AccessorState {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &AccessorState{logger: logger, engine: engine}
}

func (s *AccessorState) Subscribe(fn func(AccessorValue)) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.subs = append(s.subs, fn)
}

// Value returns the current accessor value. The zero AccessorValue means
// nothing has been published yet.
func (s *AccessorState) Value() AccessorValue {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.value
}

// Set replaces the watched input. Encoded columns are gated on buffer
// pointer identity; setting an encoded column with the same *RawBuffer is a
// no-op. Direct values always publish.
func (s *AccessorState) Set(ctx context.Context, input AccessorInput) error {
	s.mtx.Lock()
	if enc, ok := input.(EncodedColumn); ok {
		if prev, ok := s.input.(EncodedColumn); ok && prev.Buffer == enc.Buffer {
			s.mtx.Unlock()
			return nil
		}
	}
	s.input = input
	s.generation++
	s.mtx.Unlock()

	return s.derive(ctx)
}

// Resync re-runs the gate after engine readiness changes.
func (s *AccessorState) Resync(ctx context.Context) error {
	s.mtx.Lock()
	s.generation++
	s.mtx.Unlock()
	return s.derive(ctx)
}

func (s *AccessorState) derive(ctx context.Context) error {
	s.mtx.Lock()
	input := s.input
	gen := s.generation
	s.mtx.Unlock()

	switch in := input.(type) {
	case DirectValue:
		s.publish(gen, AccessorValue{Literal: in.Value}, nil)
		return nil
	case EncodedColumn:
		buf := in.Buffer
		if buf == nil || buf.Len() == 0 || !s.engine.Ready() {
			return nil
		}
		s.mtx.Lock()
		alreadyDerived := buf == s.derivedFrom
		s.mtx.Unlock()
		if alreadyDerived {
			return nil
		}

		column, err := s.engine.DecodeColumn(ctx, buf.Bytes())
		if err != nil {
			return err
		}
		s.publish(gen, AccessorValue{Array: column}, buf)
		return nil
	default:
		return nil
	}
}

func (s *AccessorState) publish(gen uint64, value AccessorValue, from *RawBuffer) {
	s.mtx.Lock()
	if gen != s.generation {
		s.mtx.Unlock()
		value.Release()
		return
	}
	s.value.Release()
	s.value = value
	s.derivedFrom = from
	subs := make([]func(AccessorValue), len(s.subs))
	copy(subs, s.subs)
	s.mtx.Unlock()

	for _, fn := range subs {
		fn(value)
	}
}

// Release drops the current value.
func (s *AccessorState) Release() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.value.Release()
	s.value = AccessorValue{}
	s.derivedFrom = nil
}
