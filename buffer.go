package lonboard

import (
	"bytes"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/parquet-go/parquet-go"
)

// RawBuffer is an immutable Parquet-encoded payload as it crosses the
// kernel/renderer boundary. Buffers are replaced wholesale, never mutated,
// so pointer identity of a *RawBuffer is the re-derivation key for all
// reactive state. Two buffers with equal bytes are still distinct inputs.
type RawBuffer struct {
	data []byte

	fpOnce sync.Once
	fp     uint64
}

func NewRawBuffer(data []byte) *RawBuffer {
	return &RawBuffer{data: data}
}

func (b *RawBuffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

func (b *RawBuffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Fingerprint is a content hash used for log correlation only. It plays no
// part in change detection.
func (b *RawBuffer) Fingerprint() uint64 {
	b.fpOnce.Do(func() {
		b.fp = xxhash.Sum64(b.data)
	})
	return b.fp
}

// ParquetFile opens the buffer as a parquet file.
func (b *RawBuffer) ParquetFile() (*parquet.File, error) {
	return parquet.OpenFile(bytes.NewReader(b.data), int64(len(b.data)))
}

// NumRows reports the row count without decoding column data.
func (b *RawBuffer) NumRows() (int64, error) {
	f, err := b.ParquetFile()
	if err != nil {
		return 0, err
	}
	var n int64
	for _, rg := range f.RowGroups() {
		n += rg.NumRows()
	}
	return n, nil
}
