package codec

import (
	"fmt"
	"strconv"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/flow-bridge/errors"
)

// WITType maps a Flow type name to the WIT type with the same value space.
// void maps to nil.
func WITType(flowType string) (wit.Type, error) {
	switch flowType {
	case "int":
		return wit.S64{}, nil
	case "float":
		return wit.F64{}, nil
	case "string":
		return wit.String{}, nil
	case "bool":
		return wit.Bool{}, nil
	case "void", "":
		return nil, nil
	default:
		return nil, errors.New(errors.PhaseReflect, errors.KindUnsupported).
			FlowType(flowType).
			Detail("no WIT equivalent").
			Build()
	}
}

// WITName renders a WIT type the way it is spelled in WIT text.
func WITName(t wit.Type) string {
	switch t.(type) {
	case nil:
		return "void"
	case wit.Bool:
		return "bool"
	case wit.S64:
		return "s64"
	case wit.F64:
		return "f64"
	case wit.String:
		return "string"
	default:
		return fmt.Sprintf("%T", t)
	}
}

// ParseArg converts user-entered text to a Go value of the given type.
func ParseArg(text string, t wit.Type) (any, error) {
	switch t.(type) {
	case wit.String:
		return text, nil
	case wit.S64:
		v, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidInput, err, "parse int")
		}
		return v, nil
	case wit.F64:
		v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidInput, err, "parse float")
		}
		return v, nil
	case wit.Bool:
		switch strings.TrimSpace(strings.ToLower(text)) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return nil, errors.InvalidInput(errors.PhaseEncode, fmt.Sprintf("parse bool: %q", text))
	case nil:
		return nil, nil
	default:
		return text, nil
	}
}

// InferArg guesses the type of untyped text: int, then float, then bool,
// otherwise string.
func InferArg(text string) any {
	if v, err := strconv.ParseInt(text, 10, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseFloat(text, 64); err == nil {
		return v
	}
	switch text {
	case "true":
		return true
	case "false":
		return false
	}
	return text
}
