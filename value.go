package flowbridge

import "fmt"

// ValueType is the tag of a WireValue. The numbering matches flow_type_t.
type ValueType int32

const (
	TypeInt ValueType = iota
	TypeFloat
	TypeString
	TypeBool
	TypeVoid
)

func (t ValueType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeBool:
		return "bool"
	case TypeVoid:
		return "void"
	default:
		return fmt.Sprintf("type(%d)", int32(t))
	}
}

// Valid reports whether t is one of the five known tags.
func (t ValueType) Valid() bool {
	return t >= TypeInt && t <= TypeVoid
}

// ParseValueType maps a Flow type name to its tag.
func ParseValueType(name string) (ValueType, bool) {
	switch name {
	case "int":
		return TypeInt, true
	case "float":
		return TypeFloat, true
	case "string":
		return TypeString, true
	case "bool":
		return TypeBool, true
	case "void":
		return TypeVoid, true
	}
	return 0, false
}

// WireValue is the tagged value exchanged with libflow. Only the field
// selected by Type is meaningful.
type WireValue struct {
	Text  string
	Int   int64
	Float float64
	Type  ValueType
	Bool  bool
	// TextNull marks a string value whose native pointer was null.
	TextNull bool
}

func Int(v int64) WireValue {
	return WireValue{Type: TypeInt, Int: v}
}

func Float(v float64) WireValue {
	return WireValue{Type: TypeFloat, Float: v}
}

func String(v string) WireValue {
	return WireValue{Type: TypeString, Text: v}
}

func Bool(v bool) WireValue {
	return WireValue{Type: TypeBool, Bool: v}
}

func Void() WireValue {
	return WireValue{Type: TypeVoid}
}

// AsInt returns the int payload. Like the native extractors it does not
// check the tag.
func (v WireValue) AsInt() int64 {
	return v.Int
}

func (v WireValue) AsFloat() float64 {
	return v.Float
}

func (v WireValue) AsString() string {
	return v.Text
}

func (v WireValue) AsBool() bool {
	return v.Bool
}

func (v WireValue) String() string {
	switch v.Type {
	case TypeInt:
		return fmt.Sprintf("%d", v.Int)
	case TypeFloat:
		return fmt.Sprintf("%g", v.Float)
	case TypeString:
		if v.TextNull {
			return "<null>"
		}
		return fmt.Sprintf("%q", v.Text)
	case TypeBool:
		return fmt.Sprintf("%t", v.Bool)
	case TypeVoid:
		return "void"
	default:
		return fmt.Sprintf("<%s>", v.Type)
	}
}
