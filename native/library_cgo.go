//go:build cgo && flownative

package native

/*
#cgo LDFLAGS: -lflow
#include <stdint.h>
#include <stdbool.h>
#include <stdlib.h>

typedef enum {
    FLOW_VAL_INT,
    FLOW_VAL_FLOAT,
    FLOW_VAL_STRING,
    FLOW_VAL_BOOL,
    FLOW_VAL_VOID
} flow_type_t;

typedef struct {
    flow_type_t type;
    union {
        int64_t int_val;
        double float_val;
        const char* string_val;
        bool bool_val;
    } data;
} flow_value_t;

typedef struct flow_module flow_module_t;

typedef struct {
    const char* name;
    const char* type;
} flow_param_info_t;

typedef struct {
    const char* name;
    const char* return_type;
    int param_count;
    flow_param_info_t* params;
} flow_function_info_t;

int flow_init(void);
void flow_cleanup(void);
flow_module_t* flow_load_module(const char* path);
flow_module_t* flow_compile_string(const char* source);
void flow_unload_module(flow_module_t* module);
flow_value_t flowc_call_v(flow_module_t* module, const char* function, int argc, flow_value_t* argv);
const char* flow_get_error(void);
void flow_clear_error(void);

int flow_reflect_function_count(flow_module_t* module);
int flow_reflect_list_functions(flow_module_t* module, char*** names_out);
void flow_reflect_free_names(char** names, int count);
const char* flow_reflect_function_name_at(flow_module_t* module, int index);
flow_function_info_t* flow_reflect_get_function_info(flow_module_t* module, const char* function_name);
void flow_reflect_free_function_info(flow_function_info_t* info);

int flow_reflect_register_foreign_module(const char* adapter, const char* module_name, const char** function_names, int function_count);
int flow_reflect_has_foreign_module(const char* adapter, const char* module_name);
int flow_reflect_foreign_function_count(const char* adapter, const char* module_name);
int flow_reflect_foreign_functions(const char* adapter, const char* module_name, char*** names_out);

static void set_value(flow_value_t* v, int tag, int64_t i, double f, const char* s, bool b) {
    v->type = (flow_type_t)tag;
    switch (tag) {
    case FLOW_VAL_INT:    v->data.int_val = i; break;
    case FLOW_VAL_FLOAT:  v->data.float_val = f; break;
    case FLOW_VAL_STRING: v->data.string_val = s; break;
    case FLOW_VAL_BOOL:   v->data.bool_val = b; break;
    default:              v->data.int_val = 0; break;
    }
}

static int64_t value_int(flow_value_t* v) { return v->data.int_val; }
static double value_float(flow_value_t* v) { return v->data.float_val; }
static const char* value_string(flow_value_t* v) { return v->data.string_val; }
static bool value_bool(flow_value_t* v) { return v->data.bool_val; }
*/
import "C"

import (
	"context"
	"fmt"
	"unsafe"

	flowbridge "github.com/wippyai/flow-bridge"
)

// Library calls the system libflow directly. Pointers it returns are
// process addresses.
type Library struct{}

var _ flowbridge.Library = (*Library)(nil)

// Open returns the native library.
func Open() (flowbridge.Library, error) {
	return &Library{}, nil
}

func module(h flowbridge.Handle) *C.flow_module_t {
	return (*C.flow_module_t)(unsafe.Pointer(h))
}

func (l *Library) Init(ctx context.Context) int32 {
	return int32(C.flow_init())
}

func (l *Library) Cleanup(ctx context.Context) {
	C.flow_cleanup()
}

func (l *Library) LoadModule(ctx context.Context, path string) flowbridge.Handle {
	cs := C.CString(path)
	defer C.free(unsafe.Pointer(cs))
	return flowbridge.Handle(unsafe.Pointer(C.flow_load_module(cs)))
}

func (l *Library) CompileString(ctx context.Context, source string) flowbridge.Handle {
	cs := C.CString(source)
	defer C.free(unsafe.Pointer(cs))
	return flowbridge.Handle(unsafe.Pointer(C.flow_compile_string(cs)))
}

func (l *Library) UnloadModule(ctx context.Context, h flowbridge.Handle) {
	C.flow_unload_module(module(h))
}

func (l *Library) Call(ctx context.Context, h flowbridge.Handle, function string, args []flowbridge.WireValue) flowbridge.WireValue {
	fn := C.CString(function)
	defer C.free(unsafe.Pointer(fn))

	var argv *C.flow_value_t
	if args != nil {
		size := C.size_t(len(args)) * C.size_t(unsafe.Sizeof(C.flow_value_t{}))
		if size == 0 {
			size = 1
		}
		argv = (*C.flow_value_t)(C.malloc(size))
		defer C.free(unsafe.Pointer(argv))

		slots := unsafe.Slice(argv, len(args))
		for i, a := range args {
			var text *C.char
			if a.Type == flowbridge.TypeString && !a.TextNull {
				text = C.CString(a.Text)
				defer C.free(unsafe.Pointer(text))
			}
			C.set_value(&slots[i], C.int(a.Type), C.int64_t(a.Int), C.double(a.Float), text, C.bool(a.Bool))
		}
	}

	res := C.flowc_call_v(module(h), fn, C.int(len(args)), argv)
	switch t := flowbridge.ValueType(res._type); t {
	case flowbridge.TypeInt:
		return flowbridge.Int(int64(C.value_int(&res)))
	case flowbridge.TypeFloat:
		return flowbridge.Float(float64(C.value_float(&res)))
	case flowbridge.TypeBool:
		return flowbridge.Bool(bool(C.value_bool(&res)))
	case flowbridge.TypeString:
		s := C.value_string(&res)
		if s == nil {
			return flowbridge.WireValue{Type: flowbridge.TypeString, TextNull: true}
		}
		defer C.free(unsafe.Pointer(s))
		return flowbridge.String(C.GoString(s))
	case flowbridge.TypeVoid:
		return flowbridge.Void()
	default:
		return flowbridge.WireValue{Type: t}
	}
}

func (l *Library) GetError(ctx context.Context) (string, bool) {
	p := C.flow_get_error()
	if p == nil {
		return "", false
	}
	return C.GoString(p), true
}

func (l *Library) ClearError(ctx context.Context) {
	C.flow_clear_error()
}

func (l *Library) FunctionCount(ctx context.Context, h flowbridge.Handle) int32 {
	return int32(C.flow_reflect_function_count(module(h)))
}

func (l *Library) ListFunctions(ctx context.Context, h flowbridge.Handle) (flowbridge.Ptr, int32) {
	var names **C.char
	n := C.flow_reflect_list_functions(module(h), &names)
	return flowbridge.Ptr(unsafe.Pointer(names)), int32(n)
}

func (l *Library) FreeNames(ctx context.Context, names flowbridge.Ptr, count int32) {
	C.flow_reflect_free_names((**C.char)(unsafe.Pointer(names)), C.int(count))
}

func (l *Library) FunctionNameAt(ctx context.Context, h flowbridge.Handle, index int32) flowbridge.Ptr {
	return flowbridge.Ptr(unsafe.Pointer(C.flow_reflect_function_name_at(module(h), C.int(index))))
}

func (l *Library) GetFunctionInfo(ctx context.Context, h flowbridge.Handle, function string) flowbridge.Ptr {
	cs := C.CString(function)
	defer C.free(unsafe.Pointer(cs))
	return flowbridge.Ptr(unsafe.Pointer(C.flow_reflect_get_function_info(module(h), cs)))
}

func (l *Library) FreeFunctionInfo(ctx context.Context, info flowbridge.Ptr) {
	C.flow_reflect_free_function_info((*C.flow_function_info_t)(unsafe.Pointer(info)))
}

func (l *Library) ReadString(ctx context.Context, p flowbridge.Ptr) (string, error) {
	if p == 0 {
		return "", fmt.Errorf("read string: null pointer")
	}
	return C.GoString((*C.char)(unsafe.Pointer(p))), nil
}

func (l *Library) ReadPtrArray(ctx context.Context, p flowbridge.Ptr, n int32) ([]flowbridge.Ptr, error) {
	if p == 0 {
		return nil, fmt.Errorf("read array: null pointer")
	}
	if n < 0 {
		return nil, fmt.Errorf("read array: negative length %d", n)
	}
	src := unsafe.Slice((**C.char)(unsafe.Pointer(p)), n)
	out := make([]flowbridge.Ptr, n)
	for i, s := range src {
		out[i] = flowbridge.Ptr(unsafe.Pointer(s))
	}
	return out, nil
}

func (l *Library) ReadFunctionInfo(ctx context.Context, p flowbridge.Ptr) (flowbridge.RawFunctionInfo, error) {
	if p == 0 {
		return flowbridge.RawFunctionInfo{}, fmt.Errorf("read function info: null pointer")
	}
	info := (*C.flow_function_info_t)(unsafe.Pointer(p))
	return flowbridge.RawFunctionInfo{
		Name:       flowbridge.Ptr(unsafe.Pointer(info.name)),
		ReturnType: flowbridge.Ptr(unsafe.Pointer(info.return_type)),
		ParamCount: int32(info.param_count),
		Params:     flowbridge.Ptr(unsafe.Pointer(info.params)),
	}, nil
}

func (l *Library) ReadParamInfo(ctx context.Context, params flowbridge.Ptr, index int32) (flowbridge.RawParamInfo, error) {
	if params == 0 {
		return flowbridge.RawParamInfo{}, fmt.Errorf("read param info: null pointer")
	}
	if index < 0 {
		return flowbridge.RawParamInfo{}, fmt.Errorf("read param info: negative index %d", index)
	}
	p := unsafe.Slice((*C.flow_param_info_t)(unsafe.Pointer(params)), index+1)[index]
	return flowbridge.RawParamInfo{
		Name: flowbridge.Ptr(unsafe.Pointer(p.name)),
		Type: flowbridge.Ptr(unsafe.Pointer(p._type)),
	}, nil
}

func (l *Library) RegisterForeignModule(ctx context.Context, adapter, module string, functions []string) int32 {
	ca, cm := C.CString(adapter), C.CString(module)
	defer C.free(unsafe.Pointer(ca))
	defer C.free(unsafe.Pointer(cm))

	var arr **C.char
	if len(functions) > 0 {
		arr = (**C.char)(C.malloc(C.size_t(len(functions)) * C.size_t(unsafe.Sizeof(uintptr(0)))))
		defer C.free(unsafe.Pointer(arr))
		slots := unsafe.Slice(arr, len(functions))
		for i, fn := range functions {
			slots[i] = C.CString(fn)
			defer C.free(unsafe.Pointer(slots[i]))
		}
	}
	return int32(C.flow_reflect_register_foreign_module(ca, cm, arr, C.int(len(functions))))
}

func (l *Library) HasForeignModule(ctx context.Context, adapter, module string) int32 {
	ca, cm := C.CString(adapter), C.CString(module)
	defer C.free(unsafe.Pointer(ca))
	defer C.free(unsafe.Pointer(cm))
	return int32(C.flow_reflect_has_foreign_module(ca, cm))
}

func (l *Library) ForeignFunctionCount(ctx context.Context, adapter, module string) int32 {
	ca, cm := C.CString(adapter), C.CString(module)
	defer C.free(unsafe.Pointer(ca))
	defer C.free(unsafe.Pointer(cm))
	return int32(C.flow_reflect_foreign_function_count(ca, cm))
}

func (l *Library) ForeignFunctions(ctx context.Context, adapter, module string) (flowbridge.Ptr, int32) {
	ca, cm := C.CString(adapter), C.CString(module)
	defer C.free(unsafe.Pointer(ca))
	defer C.free(unsafe.Pointer(cm))
	var names **C.char
	n := C.flow_reflect_foreign_functions(ca, cm, &names)
	return flowbridge.Ptr(unsafe.Pointer(names)), int32(n)
}
