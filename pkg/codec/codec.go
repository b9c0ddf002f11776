// Package codec provides the JSON codec used to decode response bodies.
//
// Types are resolved through an explicit Registry keyed by reflect.Type.
// A type with a registered decoder is decoded by that function; every other
// type falls back to encoding/json.
package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// DecodeFunc decodes raw JSON into a value of type T.
type DecodeFunc[T any] func(data []byte) (T, error)

// EncodeFunc encodes a value of type T into JSON.
type EncodeFunc[T any] func(v T) ([]byte, error)

// DecodeError reports that a payload did not match the structure of the target type.
type DecodeError struct {
	Type reflect.Type
	Err  error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", typeName(e.Type), e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Registry holds per-type decoders and encoders.
type Registry struct {
	mu       sync.RWMutex
	decoders map[reflect.Type]func([]byte) (any, error)
	encoders map[reflect.Type]func(any) ([]byte, error)
}

// NewRegistry returns an empty registry that decodes everything with encoding/json.
func NewRegistry() *Registry {
	return &Registry{
		decoders: make(map[reflect.Type]func([]byte) (any, error)),
		encoders: make(map[reflect.Type]func(any) ([]byte, error)),
	}
}

// Default is the registry used when a client is built without one.
var Default = NewRegistry()

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Register installs a decoder for T, replacing any previous one.
func Register[T any](r *Registry, fn DecodeFunc[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[typeOf[T]()] = func(data []byte) (any, error) {
		return fn(data)
	}
}

// RegisterEncoder installs an encoder for T, replacing any previous one.
func RegisterEncoder[T any](r *Registry, fn EncodeFunc[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encoders[typeOf[T]()] = func(v any) ([]byte, error) {
		return fn(v.(T))
	}
}

// Decode decodes data into a T. Structural mismatches are reported as *DecodeError.
func Decode[T any](r *Registry, data []byte) (T, error) {
	var zero T
	t := typeOf[T]()

	if r == nil {
		r = Default
	}

	r.mu.RLock()
	fn, ok := r.decoders[t]
	r.mu.RUnlock()

	if ok {
		v, err := fn(data)
		if err != nil {
			return zero, &DecodeError{Type: t, Err: err}
		}
		out, _ := v.(T)
		return out, nil
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, &DecodeError{Type: t, Err: err}
	}
	return v, nil
}

// DecodeString is Decode for a string payload.
func DecodeString[T any](r *Registry, s string) (T, error) {
	return Decode[T](r, []byte(s))
}

// Encode encodes v using the encoder registered for its dynamic type, or encoding/json.
func Encode(r *Registry, v any) ([]byte, error) {
	if r == nil {
		r = Default
	}

	if v != nil {
		r.mu.RLock()
		fn, ok := r.encoders[reflect.TypeOf(v)]
		r.mu.RUnlock()
		if ok {
			return fn(v)
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", typeName(reflect.TypeOf(v)), err)
	}
	return data, nil
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
