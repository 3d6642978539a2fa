// Copyright 2024-2026 The GoTron Authors. SPDX-License-Identifier: Apache-2.0

package statedict

import (
	"bytes"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestDictOrdering(t *testing.T) {
	d := New()
	d.Set("zulu", int64(1)).
		Set("alpha", 2.5).
		Set("mike", "three")
	assert.Equal(t, []string{"zulu", "alpha", "mike"}, d.Keys())

	// Overwriting keeps the original position.
	d.Set("zulu", int64(10))
	assert.Equal(t, []string{"zulu", "alpha", "mike"}, d.Keys())
	v, found := d.Get("zulu")
	require.True(t, found)
	assert.Equal(t, int64(10), v)

	// Plain ints are normalized to int64.
	d.Set("count", 7)
	v, found = d.Get("count")
	require.True(t, found)
	assert.Equal(t, int64(7), v)

	require.Panics(t, func() { d.Set("bad", struct{}{}) })
}

func TestTensorFlatRoundTrip(t *testing.T) {
	tensor := FromFlat([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, dtypes.Float32, tensor.DType())
	assert.Equal(t, []int{2, 3}, tensor.Dimensions())
	assert.Equal(t, 6, tensor.Size())
	assert.Equal(t, 24, tensor.Memory())

	flat, err := Flat[float32](tensor)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, flat)

	_, err = Flat[float64](tensor)
	require.Error(t, err, "dtype mismatch must be reported")
}

func TestTensorFloat16(t *testing.T) {
	half := float16.Fromfloat32(1.5)
	tensor := FromFlat([]float16.Float16{half, half}, 2)
	assert.Equal(t, dtypes.Float16, tensor.DType())
	assert.Equal(t, 4, tensor.Memory())
	assert.InDelta(t, 1.5, tensor.ScalarValue(), 1e-6)
}

func TestDictEqual(t *testing.T) {
	build := func() *Dict {
		inner := New().Set("momentum", FromFlat([]float64{0.1, 0.2}, 2))
		return New().
			Set("step", int64(42)).
			Set("state", inner).
			Set("betas", List{0.9, 0.999})
	}
	a, b := build(), build()
	assert.True(t, a.Equal(b))

	// Device tags don't affect equality.
	b.GetDict("state").GetTensor("momentum").ToDevice(CUDA)
	assert.True(t, a.Equal(b))

	b.Set("step", int64(43))
	assert.False(t, a.Equal(b))

	// Same content, different key order.
	c := New().Set("state", New().Set("momentum", FromFlat([]float64{0.1, 0.2}, 2))).
		Set("step", int64(42)).
		Set("betas", List{0.9, 0.999})
	assert.False(t, a.Equal(c))
}

func TestCodecRoundTrip(t *testing.T) {
	moments := New().
		Set("exp_avg", FromFlat([]float32{0.5, -0.5, 1.25}, 3)).
		Set("exp_avg_sq", FromFlat([]float64{0.25, 0.25, 0.0625}, 3))
	d := New().
		Set("step", int64(1000)).
		Set("lr", 3e-4).
		Set("amsgrad", false).
		Set("name", "adamw").
		Set("state", moments).
		Set("betas", List{0.9, 0.999}).
		Set("shards", List{New().Set("offset", int64(0)), New().Set("offset", int64(128))})

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, d))

	got, err := Read(&buf, CPU)
	require.NoError(t, err)
	assert.True(t, d.Equal(got), "decoded dict must equal the encoded one, got %s", got)

	// Key order survives the round trip.
	assert.Equal(t, d.Keys(), got.Keys())
	assert.Equal(t, CPU, got.GetDict("state").GetTensor("exp_avg").Device())
}

func TestCodecDevicePlacement(t *testing.T) {
	d := New().Set("w", FromFlat([]float32{1}, 1))
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, d))
	got, err := Read(&buf, CUDA)
	require.NoError(t, err)
	assert.Equal(t, CUDA, got.GetTensor("w").Device())
}

func TestCodecRejectsGarbage(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("definitely not a state dict")), CPU)
	require.Error(t, err)

	_, err = Read(bytes.NewReader(nil), CPU)
	require.Error(t, err)

	// Truncated stream: valid header, cut payload.
	d := New().Set("w", FromFlat([]float32{1, 2, 3, 4}, 4))
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, d))
	truncated := buf.Bytes()[:buf.Len()/2]
	_, err = Read(bytes.NewReader(truncated), CPU)
	require.Error(t, err)
}
