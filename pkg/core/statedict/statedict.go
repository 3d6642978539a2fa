// Copyright 2024-2026 The GoTron Authors. SPDX-License-Identifier: Apache-2.0

// Package statedict models the state of a training component (optimizer,
// learning-rate scheduler, scaling metadata) as an ordered mapping from
// string keys to nested values, and provides the codec that serializes it
// to a single binary blob.
//
// The persistence layer (pkg/serialize) treats a Dict as a black box: it is
// materialized immediately before a write, and consumed immediately after a
// read. Values are one of:
//
//   - scalars: bool, int64, float64 or string (plain int is accepted and
//     stored as int64);
//   - *Tensor: an opaque typed buffer of numeric data;
//   - *Dict: a nested ordered mapping;
//   - List: a sequence of any of the above.
//
// See Write and Read for the serialization format.
package statedict

import (
	"fmt"
	"slices"
	"strings"
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/x448/float16"

	. "github.com/gomlx/exceptions"
)

// Device names where tensor data is materialized when loading.
// This package keeps all data in host memory; the device is a placement tag
// consumed by whoever hands the state back to the training runtime.
type Device string

const (
	// CPU is host memory, also used as the staging area when loading large
	// replicated state.
	CPU Device = "cpu"

	// CUDA is the default accelerator placement tag.
	CUDA Device = "cuda"
)

// List is a sequence value inside a Dict.
type List []any

// Dict is an ordered mapping from string keys to state values.
// Iteration and serialization follow insertion order.
type Dict struct {
	keys   []string
	values map[string]any
}

// New creates an empty Dict.
func New() *Dict {
	return &Dict{values: make(map[string]any)}
}

// Set stores the value under key, appending the key if new and keeping the
// original insertion position otherwise.
//
// It panics if the value is not one of the supported state types: that is a
// programming error, not a runtime condition.
func (d *Dict) Set(key string, value any) *Dict {
	switch v := value.(type) {
	case int:
		value = int64(v)
	case int64, float64, bool, string, *Tensor, *Dict, List:
		// Stored as is.
	default:
		Panicf("statedict.Dict.Set(%q, %T): unsupported state value type", key, value)
	}
	if _, found := d.values[key]; !found {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
	return d
}

// Get returns the value stored under key.
func (d *Dict) Get(key string) (value any, found bool) {
	value, found = d.values[key]
	return
}

// GetTensor returns the tensor stored under key, or nil if the key is absent
// or holds something else.
func (d *Dict) GetTensor(key string) *Tensor {
	t, _ := d.values[key].(*Tensor)
	return t
}

// GetDict returns the nested Dict stored under key, or nil if the key is
// absent or holds something else.
func (d *Dict) GetDict(key string) *Dict {
	sub, _ := d.values[key].(*Dict)
	return sub
}

// Keys returns a copy of the keys in insertion order.
func (d *Dict) Keys() []string {
	return slices.Clone(d.keys)
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	return len(d.keys)
}

// Equal reports whether two Dicts hold the same keys in the same order with
// deeply equal values. Tensor device tags are ignored: two copies of the
// same state staged on different devices are still the same state.
func (d *Dict) Equal(other *Dict) bool {
	if d == nil || other == nil {
		return d == other
	}
	if !slices.Equal(d.keys, other.keys) {
		return false
	}
	for _, key := range d.keys {
		if !valueEqual(d.values[key], other.values[key]) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	switch va := a.(type) {
	case *Tensor:
		vb, ok := b.(*Tensor)
		return ok && va.Equal(vb)
	case *Dict:
		vb, ok := b.(*Dict)
		return ok && va.Equal(vb)
	case List:
		vb, ok := b.(List)
		if !ok || len(va) != len(vb) {
			return false
		}
		for ii := range va {
			if !valueEqual(va[ii], vb[ii]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// String implements the fmt.Stringer interface. It prints keys and value
// summaries, not tensor contents.
func (d *Dict) String() string {
	var sb strings.Builder
	sb.WriteString("statedict.Dict{")
	for ii, key := range d.keys {
		if ii > 0 {
			sb.WriteString(", ")
		}
		switch v := d.values[key].(type) {
		case *Tensor:
			_, _ = fmt.Fprintf(&sb, "%s: %s", key, v)
		case *Dict:
			_, _ = fmt.Fprintf(&sb, "%s: Dict(%d entries)", key, v.Len())
		default:
			_, _ = fmt.Fprintf(&sb, "%s: %v", key, v)
		}
	}
	sb.WriteString("}")
	return sb.String()
}

// Tensor is an opaque, densely stored numeric buffer: a dtype, dimensions and
// the raw row-major data. The persistence layer never interprets the values,
// only moves the bytes.
type Tensor struct {
	dtype  dtypes.DType
	dims   []int
	data   []byte
	device Device
}

// NewTensor creates a zero-initialized tensor of the given dtype and dimensions.
// No dimensions create a scalar tensor.
func NewTensor(dtype dtypes.DType, dims ...int) *Tensor {
	size := 1
	for _, dim := range dims {
		if dim <= 0 {
			Panicf("statedict.NewTensor(%s, %v): dimensions must be positive", dtype, dims)
		}
		size *= dim
	}
	return &Tensor{
		dtype:  dtype,
		dims:   slices.Clone(dims),
		data:   make([]byte, size*int(dtype.Memory())),
		device: CPU,
	}
}

// FromFlat creates a tensor with the given flat (row-major) values and
// dimensions. The dtype is inferred from the Go type, including
// float16.Float16 for half-precision buffers.
func FromFlat[T dtypes.Supported](values []T, dims ...int) *Tensor {
	dtype := dtypes.FromGenericsType[T]()
	t := NewTensor(dtype, dims...)
	if t.Size() != len(values) {
		Panicf("statedict.FromFlat: %d values do not fill dimensions %v", len(values), dims)
	}
	if len(values) > 0 {
		src := unsafe.Slice((*byte)(unsafe.Pointer(&values[0])), len(t.data))
		copy(t.data, src)
	}
	return t
}

// Flat returns a copy of the tensor's values as a flat (row-major) slice.
// It fails if T does not match the tensor's dtype.
func Flat[T dtypes.Supported](t *Tensor) ([]T, error) {
	dtype := dtypes.FromGenericsType[T]()
	if dtype != t.dtype {
		return nil, fmt.Errorf("statedict.Flat[%s] called on %s tensor", dtype, t.dtype)
	}
	flat := make([]T, t.Size())
	if len(flat) > 0 {
		dst := unsafe.Slice((*byte)(unsafe.Pointer(&flat[0])), len(t.data))
		copy(dst, t.data)
	}
	return flat, nil
}

// DType returns the tensor element type.
func (t *Tensor) DType() dtypes.DType { return t.dtype }

// Dimensions returns a copy of the tensor dimensions.
func (t *Tensor) Dimensions() []int { return slices.Clone(t.dims) }

// Size returns the number of elements.
func (t *Tensor) Size() int {
	size := 1
	for _, dim := range t.dims {
		size *= dim
	}
	return size
}

// Memory returns the number of bytes used to store the tensor data.
func (t *Tensor) Memory() int { return len(t.data) }

// Device returns the placement tag of the tensor.
func (t *Tensor) Device() Device { return t.device }

// ToDevice retags the tensor with the given device and returns it.
// Data stays in host memory; the tag tells the consumer where to
// materialize it.
func (t *Tensor) ToDevice(device Device) *Tensor {
	t.device = device
	return t
}

// Equal reports whether two tensors have the same dtype, dimensions and data.
// The device tag is not compared.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.dtype == other.dtype &&
		slices.Equal(t.dims, other.dims) &&
		slices.Equal(t.data, other.data)
}

// String implements the fmt.Stringer interface.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor[%s%v]", t.dtype, t.dims)
}

// ScalarValue returns the first element of the tensor as a float64, for
// reporting. Half-precision values are widened with the float16 package.
// It returns 0 for dtypes it does not know how to convert.
func (t *Tensor) ScalarValue() float64 {
	if len(t.data) == 0 {
		return 0
	}
	switch t.dtype {
	case dtypes.Float16:
		bits := uint16(t.data[0]) | uint16(t.data[1])<<8
		return float64(float16.Frombits(bits).Float32())
	case dtypes.Float32:
		flat, _ := Flat[float32](t)
		return float64(flat[0])
	case dtypes.Float64:
		flat, _ := Flat[float64](t)
		return flat[0]
	case dtypes.Int64:
		flat, _ := Flat[int64](t)
		return float64(flat[0])
	case dtypes.Int32:
		flat, _ := Flat[int32](t)
		return float64(flat[0])
	default:
		return 0
	}
}
