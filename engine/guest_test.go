package engine

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"testing"

	flowbridge "github.com/wippyai/flow-bridge"
	"github.com/wippyai/flow-bridge/flowtest"
)

// fakeMemory is a little-endian byte slice standing in for linear memory.
type fakeMemory struct {
	buf []byte
}

func (m *fakeMemory) bounds(off, n uint32) error {
	if uint64(off)+uint64(n) > uint64(len(m.buf)) {
		return fmt.Errorf("out of bounds: offset=%d, length=%d", off, n)
	}
	return nil
}

func (m *fakeMemory) Read(off, n uint32) ([]byte, error) {
	if err := m.bounds(off, n); err != nil {
		return nil, err
	}
	return m.buf[off : off+n], nil
}

func (m *fakeMemory) Write(off uint32, data []byte) error {
	if err := m.bounds(off, uint32(len(data))); err != nil {
		return err
	}
	copy(m.buf[off:], data)
	return nil
}

func (m *fakeMemory) ReadU8(off uint32) (uint8, error) {
	if err := m.bounds(off, 1); err != nil {
		return 0, err
	}
	return m.buf[off], nil
}

func (m *fakeMemory) ReadU32(off uint32) (uint32, error) {
	b, err := m.Read(off, 4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

func (m *fakeMemory) ReadU64(off uint32) (uint64, error) {
	lo, err := m.ReadU32(off)
	if err != nil {
		return 0, err
	}
	hi, err := m.ReadU32(off + 4)
	if err != nil {
		return 0, err
	}
	return uint64(lo) | uint64(hi)<<32, nil
}

func (m *fakeMemory) WriteU8(off uint32, v uint8) error {
	return m.Write(off, []byte{v})
}

func (m *fakeMemory) WriteU32(off uint32, v uint32) error {
	return m.Write(off, []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

func (m *fakeMemory) WriteU64(off uint32, v uint64) error {
	if err := m.WriteU32(off, uint32(v)); err != nil {
		return err
	}
	return m.WriteU32(off+4, uint32(v>>32))
}

// fakeFunc is a guest export implemented in Go.
type fakeFunc func(p []uint64) uint64

type exportFunc struct {
	fn      fakeFunc
	results int
	trap    error
}

func (e *exportFunc) Call(_ context.Context, params ...uint64) ([]uint64, error) {
	if e.trap != nil {
		return nil, e.trap
	}
	r := e.fn(params)
	if e.results == 0 {
		return nil, nil
	}
	return []uint64{r}, nil
}

type fakeModule struct {
	prog  *flowtest.Program
	names []uint32
}

type fakeForeign struct {
	adapter, module string
	functions       []string
}

// fakeGuest implements the libflow C API over flowtest programs, with a
// bump allocator that tracks every live malloc.
type fakeGuest struct {
	mem         *fakeMemory
	exports     map[string]*exportFunc
	live        map[uint32]uint32
	modules     map[uint32]*fakeModule
	foreign     []fakeForeign
	faults      []string
	errMsg      string
	errBuf      uint32
	next        uint32
	nextHandle  uint32
	lastArgv    uint32
	lastArgc    uint32
	failMalloc  bool
	initialized bool
}

const fakeMemorySize = 4 << 20

func newFakeGuest() *fakeGuest {
	g := &fakeGuest{
		mem:        &fakeMemory{buf: make([]byte, fakeMemorySize)},
		live:       make(map[uint32]uint32),
		modules:    make(map[uint32]*fakeModule),
		next:       0x1000,
		nextHandle: 0x100,
	}
	g.errBuf = g.static(1024)

	i32 := func(v int32) uint64 { return uint64(uint32(v)) }
	g.exports = map[string]*exportFunc{
		exportMalloc: {results: 1, fn: func(p []uint64) uint64 { return uint64(g.malloc(uint32(p[0]))) }},
		exportFree:   {fn: func(p []uint64) uint64 { g.free(uint32(p[0])); return 0 }},

		exportInit: {results: 1, fn: func(p []uint64) uint64 {
			g.initialized = true
			return 0
		}},
		exportCleanup: {fn: func(p []uint64) uint64 {
			g.initialized = false
			return 0
		}},
		exportLoadModule: {results: 1, fn: func(p []uint64) uint64 {
			if !g.initialized {
				g.errMsg = "Runtime not initialized. Call flow_init() first."
				return 0
			}
			path := g.cstr(uint32(p[0]))
			src, err := os.ReadFile(path)
			if err != nil {
				g.errMsg = "Failed to open file: " + path
				return 0
			}
			return uint64(g.compile(string(src)))
		}},
		exportCompileString: {results: 1, fn: func(p []uint64) uint64 {
			if !g.initialized {
				g.errMsg = "Runtime not initialized. Call flow_init() first."
				return 0
			}
			return uint64(g.compile(g.cstr(uint32(p[0]))))
		}},
		exportUnloadModule: {fn: func(p []uint64) uint64 {
			if _, ok := g.modules[uint32(p[0])]; !ok {
				g.faults = append(g.faults, fmt.Sprintf("unload of unknown module %#x", p[0]))
			}
			delete(g.modules, uint32(p[0]))
			return 0
		}},
		exportCallV: {fn: func(p []uint64) uint64 {
			g.call(uint32(p[0]), uint32(p[1]), uint32(p[2]), uint32(p[3]), uint32(p[4]))
			return 0
		}},
		exportGetError: {results: 1, fn: func(p []uint64) uint64 {
			if g.errMsg == "" {
				return 0
			}
			g.mem.Write(g.errBuf, append([]byte(g.errMsg), 0))
			return uint64(g.errBuf)
		}},
		exportClearError: {fn: func(p []uint64) uint64 {
			g.errMsg = ""
			return 0
		}},

		exportFunctionCount: {results: 1, fn: func(p []uint64) uint64 {
			m, ok := g.modules[uint32(p[0])]
			if !ok {
				return i32(-1)
			}
			return uint64(len(m.names))
		}},
		exportListFunctions: {results: 1, fn: func(p []uint64) uint64 {
			m, ok := g.modules[uint32(p[0])]
			if !ok || p[1] == 0 {
				return i32(-1)
			}
			return uint64(g.nameArray(uint32(p[1]), m.prog.Names()))
		}},
		exportFreeNames: {fn: func(p []uint64) uint64 {
			arr, n := uint32(p[0]), int32(uint32(p[1]))
			if arr == 0 {
				return 0
			}
			for i := int32(0); i < n; i++ {
				s, _ := g.mem.ReadU32(arr + uint32(i)*4)
				g.free(s)
			}
			g.free(arr)
			return 0
		}},
		exportFunctionNameAt: {results: 1, fn: func(p []uint64) uint64 {
			m, ok := g.modules[uint32(p[0])]
			i := int32(uint32(p[1]))
			if !ok || i < 0 || int(i) >= len(m.names) {
				return 0
			}
			return uint64(m.names[i])
		}},
		exportGetFunctionInfo: {results: 1, fn: func(p []uint64) uint64 {
			m, ok := g.modules[uint32(p[0])]
			if !ok || p[1] == 0 {
				return 0
			}
			sig, ok := m.prog.Signature(g.cstr(uint32(p[1])))
			if !ok {
				return 0
			}
			return uint64(g.functionInfo(sig))
		}},
		exportFreeFunctionInfo: {fn: func(p []uint64) uint64 {
			g.freeFunctionInfo(uint32(p[0]))
			return 0
		}},

		exportRegisterForeign: {results: 1, fn: func(p []uint64) uint64 {
			n := int32(uint32(p[3]))
			if p[0] == 0 || p[1] == 0 || p[2] == 0 || n <= 0 {
				return i32(-1)
			}
			fm := fakeForeign{adapter: g.cstr(uint32(p[0])), module: g.cstr(uint32(p[1]))}
			for i := int32(0); i < n; i++ {
				s, _ := g.mem.ReadU32(uint32(p[2]) + uint32(i)*4)
				fm.functions = append(fm.functions, g.cstr(s))
			}
			g.foreign = append(g.foreign, fm)
			return 0
		}},
		exportHasForeign: {results: 1, fn: func(p []uint64) uint64 {
			if p[0] == 0 || p[1] == 0 {
				return i32(-1)
			}
			if g.findForeign(uint32(p[0]), uint32(p[1])) != nil {
				return 1
			}
			return 0
		}},
		exportForeignFunctionCount: {results: 1, fn: func(p []uint64) uint64 {
			if fm := g.findForeign(uint32(p[0]), uint32(p[1])); fm != nil {
				return uint64(len(fm.functions))
			}
			return 0
		}},
		exportForeignFunctions: {results: 1, fn: func(p []uint64) uint64 {
			fm := g.findForeign(uint32(p[0]), uint32(p[1]))
			if fm == nil {
				return i32(-1)
			}
			return uint64(g.nameArray(uint32(p[2]), fm.functions))
		}},
	}
	return g
}

func (g *fakeGuest) library(t *testing.T) *Library {
	t.Helper()
	lib, err := newLibrary(g.mem, g.lookup, "/")
	if err != nil {
		t.Fatalf("newLibrary: %v", err)
	}
	return lib
}

func (g *fakeGuest) lookup(name string) guestFunc {
	if fn, ok := g.exports[name]; ok {
		return fn
	}
	return nil
}

// static allocates memory the guest owns for its whole life.
func (g *fakeGuest) static(size uint32) uint32 {
	p := g.next
	g.next += (size + 7) &^ 7
	return p
}

func (g *fakeGuest) malloc(size uint32) uint32 {
	if g.failMalloc || g.next+size > fakeMemorySize {
		return 0
	}
	p := g.static(size)
	g.live[p] = size
	return p
}

func (g *fakeGuest) free(p uint32) {
	if p == 0 {
		return
	}
	if _, ok := g.live[p]; !ok {
		g.faults = append(g.faults, fmt.Sprintf("invalid free of %#x", p))
		return
	}
	delete(g.live, p)
}

func (g *fakeGuest) outstanding() int {
	return len(g.live)
}

func (g *fakeGuest) cstr(p uint32) string {
	s, err := readCString(g.mem, p)
	if err != nil {
		g.faults = append(g.faults, err.Error())
	}
	return s
}

func (g *fakeGuest) strdup(s string) uint32 {
	p := g.malloc(uint32(len(s) + 1))
	g.mem.Write(p, append([]byte(s), 0))
	return p
}

func (g *fakeGuest) compile(src string) uint32 {
	prog, err := flowtest.Compile(src)
	if err != nil {
		g.errMsg = "Compilation error: " + err.Error()
		return 0
	}
	m := &fakeModule{prog: prog}
	for _, name := range prog.Names() {
		p := g.static(uint32(len(name) + 1))
		g.mem.Write(p, append([]byte(name), 0))
		m.names = append(m.names, p)
	}
	h := g.nextHandle
	g.nextHandle += 0x10
	g.modules[h] = m
	return h
}

func (g *fakeGuest) writeVoid(at uint32) {
	g.mem.WriteU32(at, uint32(flowbridge.TypeVoid))
	g.mem.WriteU64(at+8, 0)
}

func (g *fakeGuest) call(sret, h, fn, argc, argv uint32) {
	g.lastArgc, g.lastArgv = argc, argv
	m, ok := g.modules[h]
	if !g.initialized || !ok || fn == 0 {
		g.errMsg = "Invalid parameters to flow_call_v"
		g.writeVoid(sret)
		return
	}

	var args []flowbridge.WireValue
	for i := uint32(0); i < argc; i++ {
		at := argv + i*valueSize
		tag, _ := g.mem.ReadU32(at)
		payload, _ := g.mem.ReadU64(at + 8)
		switch flowbridge.ValueType(tag) {
		case flowbridge.TypeInt:
			args = append(args, flowbridge.Int(int64(payload)))
		case flowbridge.TypeFloat:
			args = append(args, flowbridge.Float(math.Float64frombits(payload)))
		case flowbridge.TypeBool:
			args = append(args, flowbridge.Bool(payload&0xff != 0))
		case flowbridge.TypeString:
			if uint32(payload) == 0 {
				args = append(args, flowbridge.WireValue{Type: flowbridge.TypeString, TextNull: true})
			} else {
				args = append(args, flowbridge.String(g.cstr(uint32(payload))))
			}
		default:
			args = append(args, flowbridge.Void())
		}
	}

	res, err := m.prog.Call(g.cstr(fn), args, 0)
	if err != nil {
		g.errMsg = err.Error()
		g.writeVoid(sret)
		return
	}

	g.mem.WriteU32(sret, uint32(res.Type))
	g.mem.WriteU32(sret+4, 0)
	switch res.Type {
	case flowbridge.TypeInt:
		g.mem.WriteU64(sret+8, uint64(res.Int))
	case flowbridge.TypeFloat:
		g.mem.WriteU64(sret+8, math.Float64bits(res.Float))
	case flowbridge.TypeBool:
		g.mem.WriteU64(sret+8, 0)
		if res.Bool {
			g.mem.WriteU8(sret+8, 1)
		}
	case flowbridge.TypeString:
		g.mem.WriteU64(sret+8, uint64(g.strdup(res.Text)))
	default:
		g.mem.WriteU64(sret+8, 0)
	}
}

func (g *fakeGuest) nameArray(out uint32, names []string) int32 {
	if len(names) == 0 {
		g.mem.WriteU32(out, 0)
		return 0
	}
	arr := g.malloc(uint32(len(names)) * 4)
	for i, name := range names {
		g.mem.WriteU32(arr+uint32(i)*4, g.strdup(name))
	}
	g.mem.WriteU32(out, arr)
	return int32(len(names))
}

func (g *fakeGuest) functionInfo(sig flowtest.Signature) uint32 {
	info := g.malloc(infoSize)
	g.mem.WriteU32(info+infoNameOffset, g.strdup(sig.Name))
	g.mem.WriteU32(info+infoReturnTypeOffset, g.strdup(sig.Return))
	g.mem.WriteU32(info+infoParamCountOffset, uint32(len(sig.Params)))
	var params uint32
	if len(sig.Params) > 0 {
		params = g.malloc(uint32(len(sig.Params)) * paramInfoSize)
		for i, p := range sig.Params {
			at := params + uint32(i)*paramInfoSize
			g.mem.WriteU32(at+paramInfoNameOffset, g.strdup(p.Name))
			g.mem.WriteU32(at+paramInfoTypeOffset, g.strdup(p.Type))
		}
	}
	g.mem.WriteU32(info+infoParamsOffset, params)
	return info
}

func (g *fakeGuest) freeFunctionInfo(info uint32) {
	if info == 0 {
		return
	}
	name, _ := g.mem.ReadU32(info + infoNameOffset)
	ret, _ := g.mem.ReadU32(info + infoReturnTypeOffset)
	n, _ := g.mem.ReadU32(info + infoParamCountOffset)
	params, _ := g.mem.ReadU32(info + infoParamsOffset)
	g.free(name)
	g.free(ret)
	for i := uint32(0); i < n; i++ {
		at := params + i*paramInfoSize
		pn, _ := g.mem.ReadU32(at + paramInfoNameOffset)
		pt, _ := g.mem.ReadU32(at + paramInfoTypeOffset)
		g.free(pn)
		g.free(pt)
	}
	g.free(params)
	g.free(info)
}

func (g *fakeGuest) findForeign(adapter, module uint32) *fakeForeign {
	a, m := g.cstr(adapter), g.cstr(module)
	for i := range g.foreign {
		if g.foreign[i].adapter == a && g.foreign[i].module == m {
			return &g.foreign[i]
		}
	}
	return nil
}

func (g *fakeGuest) sortedFaults() []string {
	out := append([]string(nil), g.faults...)
	sort.Strings(out)
	return out
}
