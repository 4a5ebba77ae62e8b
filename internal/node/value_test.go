package node

import (
	"encoding/json"
	"testing"
)

func TestValue_Normalize(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  string
	}{
		{"text", Text(`{"a":1}`), `{"a":1}`},
		{"bytes", Bytes([]byte(`{"a":1}`)), `{"a":1}`},
		{"invalid utf8 dropped", Bytes([]byte{'o', 0xff, 'k'}), "ok"},
		{"bool true", Bool(true), "true"},
		{"bool false", Bool(false), "false"},
		{"integer", Numeric(42), "42"},
		{"fraction", Numeric(12.34), "12.34"},
		{"zero value", Value{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.value.Normalize(); got != tt.want {
				t.Errorf("Normalize() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValue_Truthy(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  bool
	}{
		{"bool true", Bool(true), true},
		{"bool false", Bool(false), false},
		{"numeric one", Numeric(1), true},
		{"numeric zero", Numeric(0), false},
		{"text true", Text("true"), true},
		{"text False", Text("False"), false},
		{"text 1", Text("1"), true},
		{"text 0", Text(" 0 "), false},
		{"text 0.0", Text("0.0"), false},
		{"text word", Text("on"), true},
		{"text empty", Text(""), false},
		{"bytes", Bytes([]byte{0}), true},
		{"empty bytes", Bytes(nil), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.value.Truthy(); got != tt.want {
				t.Errorf("Truthy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValue_BytesAreCopied(t *testing.T) {
	src := []byte("frame")
	v := Bytes(src)
	src[0] = 'X'

	raw, ok := v.Raw()
	if !ok {
		t.Fatal("Raw() ok = false for bytes value")
	}
	if string(raw) != "frame" {
		t.Errorf("Raw() = %q, want frame", raw)
	}
	if _, ok := Text("x").Raw(); ok {
		t.Error("Raw() ok = true for text value")
	}
}

func TestValue_Equal(t *testing.T) {
	if !Text("Ready").Equal(Text("Ready")) {
		t.Error("equal texts reported unequal")
	}
	if Text("1").Equal(Numeric(1)) {
		t.Error("different kinds reported equal")
	}
	if !Bytes([]byte{1, 2}).Equal(Bytes([]byte{1, 2})) {
		t.Error("equal bytes reported unequal")
	}
}

func TestValue_MarshalJSON(t *testing.T) {
	tests := []struct {
		value Value
		want  string
	}{
		{Text("Ready"), `"Ready"`},
		{Bool(true), `true`},
		{Numeric(1.5), `1.5`},
		{Bytes([]byte("hi")), `"aGk="`},
	}
	for _, tt := range tests {
		got, err := json.Marshal(tt.value)
		if err != nil {
			t.Fatalf("Marshal(%v) error = %v", tt.value, err)
		}
		if string(got) != tt.want {
			t.Errorf("Marshal(%v) = %s, want %s", tt.value, got, tt.want)
		}
	}
}

func TestValue_String(t *testing.T) {
	if got := Bytes(make([]byte, 3)).String(); got != "<3 bytes>" {
		t.Errorf("String() = %q, want <3 bytes>", got)
	}
}
