package flowbridge

import "testing"

func TestValueConstructors(t *testing.T) {
	tests := []struct {
		name string
		v    WireValue
		want ValueType
	}{
		{"int", Int(42), TypeInt},
		{"float", Float(1.5), TypeFloat},
		{"string", String("hi"), TypeString},
		{"bool", Bool(true), TypeBool},
		{"void", Void(), TypeVoid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.v.Type != tt.want {
				t.Errorf("Type = %v, want %v", tt.v.Type, tt.want)
			}
		})
	}

	if Int(-7).AsInt() != -7 {
		t.Error("AsInt mismatch")
	}
	if Float(2.25).AsFloat() != 2.25 {
		t.Error("AsFloat mismatch")
	}
	if String("héllo").AsString() != "héllo" {
		t.Error("AsString mismatch")
	}
	if !Bool(true).AsBool() {
		t.Error("AsBool mismatch")
	}
}

func TestValueTypeNumbering(t *testing.T) {
	// Must stay in sync with flow_type_t.
	if TypeInt != 0 || TypeFloat != 1 || TypeString != 2 || TypeBool != 3 || TypeVoid != 4 {
		t.Fatal("tag numbering changed")
	}
	if ValueType(9).Valid() {
		t.Error("tag 9 should be invalid")
	}
	if got := ValueType(9).String(); got != "type(9)" {
		t.Errorf("String() = %q", got)
	}
}

func TestParseValueType(t *testing.T) {
	for _, name := range []string{"int", "float", "string", "bool", "void"} {
		vt, ok := ParseValueType(name)
		if !ok {
			t.Fatalf("ParseValueType(%q) failed", name)
		}
		if vt.String() != name {
			t.Errorf("round trip %q -> %q", name, vt.String())
		}
	}
	if _, ok := ParseValueType("i32"); ok {
		t.Error("i32 is not a Flow type")
	}
}
