package decoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// DefaultModuleVersion is the parquet-wasm release the producing side
// encodes with. The fetched module must report exactly this version;
// skew between encoder and decoder is a silent-corruption risk otherwise.
const DefaultModuleVersion = "0.6.1"

const (
	exportMalloc      = "malloc"
	exportFree        = "free"
	exportReadParquet = "read_parquet"
	exportVersion     = "version"
)

// plugin wraps an instantiated parquet-wasm module. The ABI is:
//
//	malloc(size u32) -> ptr u32
//	free(ptr u32, size u32)
//	read_parquet(ptr u32, size u32) -> (ptr u32 << 32 | len u32)
//	version() -> (ptr u32 << 32 | len u32)
//
// read_parquet returns the decoded table as an Arrow IPC stream in module
// memory.
type plugin struct {
	// The module instance is not reentrant; calls are serialized.
	mtx sync.Mutex
	mod api.Module

	malloc      api.Function
	free        api.Function
	readParquet api.Function
	version     api.Function
}

func newPlugin(ctx context.Context, runtime wazero.Runtime, moduleBytes []byte) (*plugin, error) {
	compiled, err := runtime.CompileModule(ctx, moduleBytes)
	if err != nil {
		return nil, fmt.Errorf("compiling decode module: %w", err)
	}

	mod, err := runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("parquet"))
	if err != nil {
		return nil, fmt.Errorf("instantiating decode module: %w", err)
	}

	p := &plugin{mod: mod}
	for _, export := range []struct {
		name string
		fn   *api.Function
	}{
		{exportMalloc, &p.malloc},
		{exportFree, &p.free},
		{exportReadParquet, &p.readParquet},
		{exportVersion, &p.version},
	} {
		f := mod.ExportedFunction(export.name)
		if f == nil {
			return nil, fmt.Errorf("decode module does not export %q", export.name)
		}
		*export.fn = f
	}

	return p, nil
}

func (p *plugin) versionString(ctx context.Context) (string, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	results, err := p.version.Call(ctx)
	if err != nil {
		return "", err
	}
	b, err := p.readPacked(results)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (p *plugin) decode(ctx context.Context, data []byte) (arrow.Record, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	size := uint64(len(data))
	results, err := p.malloc.Call(ctx, size)
	if err != nil {
		return nil, fmt.Errorf("allocating module memory: %w", err)
	}
	ptr := results[0]
	defer p.free.Call(ctx, ptr, size) //nolint:errcheck

	if !p.mod.Memory().Write(uint32(ptr), data) {
		return nil, fmt.Errorf("buffer of %d bytes does not fit in module memory", len(data))
	}

	results, err = p.readParquet.Call(ctx, ptr, size)
	if err != nil {
		return nil, fmt.Errorf("read_parquet: %w", err)
	}

	ipcBytes, err := p.readPacked(results)
	if err != nil {
		return nil, err
	}
	outPtr, outLen := unpack(results[0])
	defer p.free.Call(ctx, uint64(outPtr), uint64(outLen)) //nolint:errcheck

	return readIPCRecord(ipcBytes)
}

// readPacked copies a (ptr, len) packed return value out of module memory.
// The copy must happen before the region is freed.
func (p *plugin) readPacked(results []uint64) ([]byte, error) {
	if len(results) != 1 {
		return nil, fmt.Errorf("expected a packed (ptr, len) result, got %d values", len(results))
	}
	ptr, length := unpack(results[0])
	view, ok := p.mod.Memory().Read(ptr, length)
	if !ok {
		return nil, fmt.Errorf("module returned out-of-range region (ptr=%d len=%d)", ptr, length)
	}
	return bytes.Clone(view), nil
}

func unpack(v uint64) (ptr, length uint32) {
	return uint32(v >> 32), uint32(v)
}

// readIPCRecord reads the first record of an Arrow IPC stream.
func readIPCRecord(data []byte) (arrow.Record, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Release()

	if !reader.Next() {
		if reader.Err() != nil {
			return nil, reader.Err()
		}
		return nil, errors.New("no records in IPC stream")
	}

	record := reader.Record()
	record.Retain()
	return record, nil
}
