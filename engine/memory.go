package engine

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	flowbridge "github.com/wippyai/flow-bridge"
	"github.com/wippyai/flow-bridge/errors"
)

// WazeroMemory wraps wazero memory to implement flowbridge.Memory
type WazeroMemory struct {
	mem api.Memory
}

func (m *WazeroMemory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", offset, length)
	}
	return data, nil
}

func (m *WazeroMemory) Write(offset uint32, data []byte) error {
	ok := m.mem.Write(offset, data)
	if !ok {
		return fmt.Errorf("write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	return nil
}

func (m *WazeroMemory) ReadU8(offset uint32) (uint8, error) {
	val, ok := m.mem.ReadByte(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d", offset)
	}
	return val, nil
}

func (m *WazeroMemory) ReadU32(offset uint32) (uint32, error) {
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d", offset)
	}
	return val, nil
}

func (m *WazeroMemory) ReadU64(offset uint32) (uint64, error) {
	val, ok := m.mem.ReadUint64Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d", offset)
	}
	return val, nil
}

func (m *WazeroMemory) WriteU8(offset uint32, value uint8) error {
	if !m.mem.WriteByte(offset, value) {
		return fmt.Errorf("write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *WazeroMemory) WriteU32(offset uint32, value uint32) error {
	ok := m.mem.WriteUint32Le(offset, value)
	if !ok {
		return fmt.Errorf("write out of bounds: offset=%d", offset)
	}
	return nil
}

func (m *WazeroMemory) WriteU64(offset uint32, value uint64) error {
	ok := m.mem.WriteUint64Le(offset, value)
	if !ok {
		return fmt.Errorf("write out of bounds: offset=%d", offset)
	}
	return nil
}

// Size returns the current memory size in bytes.
func (m *WazeroMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

var _ flowbridge.Memory = (*WazeroMemory)(nil)

// guestFunc is an exported guest function. api.Function satisfies it.
type guestFunc interface {
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

// guestAllocator implements flowbridge.Allocator over the guest's malloc
// and free.
type guestAllocator struct {
	mallocFn   guestFunc
	freeFn     guestFunc
	currentCtx context.Context
	mu         sync.Mutex
}

func (a *guestAllocator) setContext(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentCtx = ctx
}

func (a *guestAllocator) context() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.currentCtx == nil {
		return context.Background()
	}
	return a.currentCtx
}

func (a *guestAllocator) Alloc(size uint32) (uint32, error) {
	if size == 0 {
		size = 1
	}
	res, err := a.mallocFn.Call(a.context(), uint64(size))
	if err != nil {
		return 0, errors.Wrap(errors.PhaseEngine, errors.KindAllocation, err, fmt.Sprintf("malloc(%d)", size))
	}
	if len(res) == 0 || uint32(res[0]) == 0 {
		return 0, errors.AllocationFailed(errors.PhaseEngine, size)
	}
	return uint32(res[0]), nil
}

func (a *guestAllocator) Free(ptr uint32) {
	if ptr == 0 {
		return
	}
	if _, err := a.freeFn.Call(a.context(), uint64(ptr)); err != nil {
		Logger().Warn("Free: failed to call free",
			zap.Uint32("ptr", ptr),
			zap.Error(err))
	}
}

var _ flowbridge.Allocator = (*guestAllocator)(nil)

const (
	cstringChunk = 64
	maxCString   = 16 << 20
)

// readCString reads a NUL-terminated string starting at ptr.
func readCString(mem flowbridge.Memory, ptr uint32) (string, error) {
	if ptr == 0 {
		return "", fmt.Errorf("read string: null pointer")
	}
	var buf []byte
	off := ptr
	for {
		chunk, err := mem.Read(off, cstringChunk)
		if err != nil {
			// Near the end of memory: fall back to single bytes.
			b, err := mem.ReadU8(off)
			if err != nil {
				return "", fmt.Errorf("read string at %#x: unterminated: %w", ptr, err)
			}
			if b == 0 {
				return string(buf), nil
			}
			buf = append(buf, b)
			off++
			continue
		}
		if i := bytes.IndexByte(chunk, 0); i >= 0 {
			return string(append(buf, chunk[:i]...)), nil
		}
		buf = append(buf, chunk...)
		if len(buf) > maxCString {
			return "", fmt.Errorf("read string at %#x: longer than %d bytes", ptr, maxCString)
		}
		off += cstringChunk
	}
}

// writeCString copies s into guest memory with a trailing NUL. The caller
// frees the returned pointer.
func writeCString(mem flowbridge.Memory, alloc flowbridge.Allocator, s string) (uint32, error) {
	if bytes.IndexByte([]byte(s), 0) >= 0 {
		return 0, errors.InvalidInput(errors.PhaseEncode, "string contains NUL byte")
	}
	size := uint32(len(s) + 1)
	ptr, err := alloc.Alloc(size)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, size)
	copy(buf, s)
	if err := mem.Write(ptr, buf); err != nil {
		alloc.Free(ptr)
		return 0, err
	}
	return ptr, nil
}
