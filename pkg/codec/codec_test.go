package codec

import (
	"errors"
	"strconv"
	"strings"
	"testing"
)

type repo struct {
	Name  string `json:"name"`
	Stars int    `json:"stars"`
}

// celsius is encoded on the wire as a string like "21.5C".
type celsius float64

func TestDecode_FallbackJSON(t *testing.T) {
	r := NewRegistry()

	got, err := Decode[repo](r, []byte(`{"name":"okquery","stars":3}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Name != "okquery" || got.Stars != 3 {
		t.Errorf("Decode() = %+v", got)
	}
}

func TestDecode_Mismatch(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "array into struct", data: `[1,2]`},
		{name: "string into int field", data: `{"stars":"many"}`},
		{name: "not json", data: `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode[repo](NewRegistry(), []byte(tt.data))
			var decErr *DecodeError
			if !errors.As(err, &decErr) {
				t.Fatalf("Decode() error = %v, want *DecodeError", err)
			}
			if !strings.Contains(decErr.Error(), "codec.repo") {
				t.Errorf("Error() = %q, want type name", decErr.Error())
			}
		})
	}
}

func TestDecode_MapAndList(t *testing.T) {
	r := NewRegistry()

	m, err := Decode[map[string]int](r, []byte(`{"a":1,"b":2}`))
	if err != nil {
		t.Fatalf("Decode(map) error = %v", err)
	}
	if m["a"] != 1 || m["b"] != 2 {
		t.Errorf("Decode(map) = %v", m)
	}

	l, err := Decode[[]string](r, []byte(`["x","y"]`))
	if err != nil {
		t.Fatalf("Decode(list) error = %v", err)
	}
	if len(l) != 2 || l[0] != "x" {
		t.Errorf("Decode(list) = %v", l)
	}

	if _, err := Decode[map[string]int](r, []byte(`[1]`)); err == nil {
		t.Error("Decode(map) of array should fail")
	}
}

func TestRegister_CustomDecoder(t *testing.T) {
	r := NewRegistry()
	Register(r, func(data []byte) (celsius, error) {
		s := strings.Trim(string(data), `"`)
		f, err := strconv.ParseFloat(strings.TrimSuffix(s, "C"), 64)
		return celsius(f), err
	})

	got, err := Decode[celsius](r, []byte(`"21.5C"`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got != 21.5 {
		t.Errorf("Decode() = %v, want 21.5", got)
	}

	if _, err := Decode[celsius](r, []byte(`"warm"`)); err == nil {
		t.Error("custom decoder error should surface")
	} else {
		var decErr *DecodeError
		if !errors.As(err, &decErr) {
			t.Errorf("error = %T, want *DecodeError", err)
		}
	}

	// Other registries are unaffected.
	if _, err := Decode[celsius](NewRegistry(), []byte(`"21.5C"`)); err == nil {
		t.Error("fallback decoder should reject string for float type")
	}
}

func TestEncode(t *testing.T) {
	r := NewRegistry()
	RegisterEncoder(r, func(v celsius) ([]byte, error) {
		return []byte(`"` + strconv.FormatFloat(float64(v), 'f', 1, 64) + `C"`), nil
	})

	data, err := Encode(r, celsius(3))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if string(data) != `"3.0C"` {
		t.Errorf("Encode() = %s", data)
	}

	data, err = Encode(r, repo{Name: "a"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if string(data) != `{"name":"a","stars":0}` {
		t.Errorf("Encode() = %s", data)
	}

	if _, err := Encode(r, func() {}); err == nil {
		t.Error("Encode(func) should fail")
	}
}
