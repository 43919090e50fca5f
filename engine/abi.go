package engine

import (
	"github.com/tetratelabs/wazero/api"
)

// Guest exports of libflow built for wasm32-wasi.
const (
	exportMalloc = "malloc"
	exportFree   = "free"

	exportInit          = "flow_init"
	exportCleanup       = "flow_cleanup"
	exportLoadModule    = "flow_load_module"
	exportCompileString = "flow_compile_string"
	exportUnloadModule  = "flow_unload_module"
	exportCallV         = "flowc_call_v"
	exportGetError      = "flow_get_error"
	exportClearError    = "flow_clear_error"

	exportFunctionCount    = "flow_reflect_function_count"
	exportListFunctions    = "flow_reflect_list_functions"
	exportFreeNames        = "flow_reflect_free_names"
	exportFunctionNameAt   = "flow_reflect_function_name_at"
	exportGetFunctionInfo  = "flow_reflect_get_function_info"
	exportFreeFunctionInfo = "flow_reflect_free_function_info"

	exportRegisterForeign      = "flow_reflect_register_foreign_module"
	exportHasForeign           = "flow_reflect_has_foreign_module"
	exportForeignFunctionCount = "flow_reflect_foreign_function_count"
	exportForeignFunctions     = "flow_reflect_foreign_functions"
)

// wasm32 layout of flow_value_t: a 4-byte tag, 4 bytes of padding and an
// 8-byte union. Bools occupy the first payload byte, strings a u32 pointer.
const (
	valueSize          = 16
	valueTagOffset     = 0
	valuePayloadOffset = 8
)

// wasm32 layout of flow_function_info_t.
const (
	infoSize             = 16
	infoNameOffset       = 0
	infoReturnTypeOffset = 4
	infoParamCountOffset = 8
	infoParamsOffset     = 12
)

// wasm32 layout of flow_param_info_t.
const (
	paramInfoSize       = 8
	paramInfoNameOffset = 0
	paramInfoTypeOffset = 4
)

const ptrSize = 4

// signature is the core wasm type of an export.
type signature struct {
	params  []api.ValueType
	results []api.ValueType
}

func sig(params, results int) signature {
	s := signature{}
	for i := 0; i < params; i++ {
		s.params = append(s.params, api.ValueTypeI32)
	}
	for i := 0; i < results; i++ {
		s.results = append(s.results, api.ValueTypeI32)
	}
	return s
}

// requiredExports lists every export the library resolves, with its
// expected signature. flowc_call_v returns its 16-byte struct through a
// hidden pointer passed as the first parameter.
var requiredExports = map[string]signature{
	exportMalloc: sig(1, 1),
	exportFree:   sig(1, 0),

	exportInit:          sig(0, 1),
	exportCleanup:       sig(0, 0),
	exportLoadModule:    sig(1, 1),
	exportCompileString: sig(1, 1),
	exportUnloadModule:  sig(1, 0),
	exportCallV:         sig(5, 0),
	exportGetError:      sig(0, 1),
	exportClearError:    sig(0, 0),

	exportFunctionCount:    sig(1, 1),
	exportListFunctions:    sig(2, 1),
	exportFreeNames:        sig(2, 0),
	exportFunctionNameAt:   sig(2, 1),
	exportGetFunctionInfo:  sig(2, 1),
	exportFreeFunctionInfo: sig(1, 0),

	exportRegisterForeign:      sig(4, 1),
	exportHasForeign:           sig(2, 1),
	exportForeignFunctionCount: sig(2, 1),
	exportForeignFunctions:     sig(3, 1),
}

func (s signature) equal(o signature) bool {
	return equalTypes(s.params, o.params) && equalTypes(s.results, o.results)
}

func equalTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s signature) String() string {
	return "(" + typeList(s.params) + ") -> (" + typeList(s.results) + ")"
}

func typeList(ts []api.ValueType) string {
	out := ""
	for i, t := range ts {
		if i > 0 {
			out += ", "
		}
		out += api.ValueTypeName(t)
	}
	return out
}
