package codec

import (
	"fmt"
	"math"
	"strconv"

	flowbridge "github.com/wippyai/flow-bridge"
	"github.com/wippyai/flow-bridge/errors"
)

// Encode converts a Go value to a wire value.
//
// bool is checked before the integer kinds so it never becomes an int.
// Unsigned values above math.MaxInt64 overflow. nil encodes as void and a
// WireValue passes through unchanged.
func Encode(v any) (flowbridge.WireValue, error) {
	return encodeAt(nil, v)
}

// EncodeAll encodes call arguments. An empty argument list yields a nil
// slice, which the library passes as a null array.
func EncodeAll(args []any) ([]flowbridge.WireValue, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]flowbridge.WireValue, len(args))
	for i, a := range args {
		w, err := encodeAt([]string{"arg" + strconv.Itoa(i)}, a)
		if err != nil {
			return nil, err
		}
		out[i] = w
	}
	return out, nil
}

func encodeAt(path []string, v any) (flowbridge.WireValue, error) {
	switch x := v.(type) {
	case nil:
		return flowbridge.Void(), nil
	case flowbridge.WireValue:
		return x, nil
	case bool:
		return flowbridge.Bool(x), nil
	case int:
		return flowbridge.Int(int64(x)), nil
	case int8:
		return flowbridge.Int(int64(x)), nil
	case int16:
		return flowbridge.Int(int64(x)), nil
	case int32:
		return flowbridge.Int(int64(x)), nil
	case int64:
		return flowbridge.Int(x), nil
	case uint:
		return encodeUnsigned(path, uint64(x))
	case uint8:
		return flowbridge.Int(int64(x)), nil
	case uint16:
		return flowbridge.Int(int64(x)), nil
	case uint32:
		return flowbridge.Int(int64(x)), nil
	case uint64:
		return encodeUnsigned(path, x)
	case uintptr:
		return encodeUnsigned(path, uint64(x))
	case float32:
		return flowbridge.Float(float64(x)), nil
	case float64:
		return flowbridge.Float(x), nil
	case string:
		return flowbridge.String(x), nil
	default:
		return flowbridge.WireValue{}, errors.UnsupportedType(path, fmt.Sprintf("%T", v))
	}
}

func encodeUnsigned(path []string, x uint64) (flowbridge.WireValue, error) {
	if x > math.MaxInt64 {
		return flowbridge.WireValue{}, errors.Overflow(errors.PhaseEncode, path, x, "int")
	}
	return flowbridge.Int(int64(x)), nil
}

// Decode converts a wire value to int64, float64, string, bool or nil.
// A string value with a null pointer decodes to nil.
func Decode(w flowbridge.WireValue) (any, error) {
	switch w.Type {
	case flowbridge.TypeInt:
		return w.Int, nil
	case flowbridge.TypeFloat:
		return w.Float, nil
	case flowbridge.TypeString:
		if w.TextNull {
			return nil, nil
		}
		return w.Text, nil
	case flowbridge.TypeBool:
		return w.Bool, nil
	case flowbridge.TypeVoid:
		return nil, nil
	default:
		return nil, errors.New(errors.PhaseDecode, errors.KindProtocol).
			Value(int32(w.Type)).
			Detail("unknown value tag %d", int32(w.Type)).
			Build()
	}
}
