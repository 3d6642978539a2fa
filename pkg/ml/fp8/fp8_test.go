// Copyright 2024-2026 The GoTron Authors. SPDX-License-Identifier: Apache-2.0

package fp8

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotron-ml/gotron/pkg/core/statedict"
)

func TestMetaScaling(t *testing.T) {
	m, err := NewMeta(E4M3, 3)
	require.NoError(t, err)
	assert.Equal(t, 1.0, m.Scale())

	m.Observe(2)
	assert.InDelta(t, 448.0/2, m.Scale(), 1e-12)

	// The window keeps the peak until it slides out.
	m.Observe(0.5)
	m.Observe(0.5)
	assert.InDelta(t, 448.0/2, m.Scale(), 1e-12)
	m.Observe(0.5)
	assert.InDelta(t, 448.0/0.5, m.Scale(), 1e-12)
	assert.Len(t, m.AmaxHistory(), 3)
}

func TestMetaRoundTrip(t *testing.T) {
	m, err := NewMeta(E5M2, 4)
	require.NoError(t, err)
	m.Observe(3)
	m.Observe(7)

	d, err := m.StateDict()
	require.NoError(t, err)

	// Through the codec, as checkpointing would carry it.
	var buf bytes.Buffer
	require.NoError(t, statedict.Write(&buf, d))
	decoded, err := statedict.Read(&buf, statedict.CPU)
	require.NoError(t, err)

	restored, err := NewMeta(E4M3, 4)
	require.NoError(t, err)
	require.NoError(t, restored.LoadStateDict(decoded))
	assert.Equal(t, E5M2, restored.DType())
	assert.Equal(t, m.Scale(), restored.Scale())
	assert.Equal(t, m.AmaxHistory(), restored.AmaxHistory())
}

func TestMetaLoadTruncatesHistory(t *testing.T) {
	long, err := NewMeta(E4M3, 8)
	require.NoError(t, err)
	for ii := 1; ii <= 8; ii++ {
		long.Observe(float64(ii))
	}
	d, err := long.StateDict()
	require.NoError(t, err)

	short, err := NewMeta(E4M3, 2)
	require.NoError(t, err)
	require.NoError(t, short.LoadStateDict(d))
	assert.Equal(t, []float64{7, 8}, short.AmaxHistory())
}

func TestGradMetaRoundTrip(t *testing.T) {
	g, err := NewGradMeta(4)
	require.NoError(t, err)
	g.Input.Observe(1)
	g.Weight.Observe(2)
	g.Output.Observe(4)

	d, err := g.StateDict()
	require.NoError(t, err)

	restored, err := NewGradMeta(4)
	require.NoError(t, err)
	require.NoError(t, restored.LoadStateDict(d))
	assert.Equal(t, E4M3, restored.Input.DType())
	assert.Equal(t, E5M2, restored.Output.DType())
	assert.Equal(t, g.Input.Scale(), restored.Input.Scale())
	assert.Equal(t, g.Weight.Scale(), restored.Weight.Scale())
	assert.Equal(t, g.Output.Scale(), restored.Output.Scale())
}

func TestLoadStateDictRejectsMalformed(t *testing.T) {
	m, err := NewMeta(E4M3, 2)
	require.NoError(t, err)
	require.Error(t, m.LoadStateDict(statedict.New()))
	broken := statedict.New().
		Set(keyDType, "e3m4").
		Set(keyScale, 1.0).
		Set(keyAmaxHistory, statedict.List{})
	require.Error(t, m.LoadStateDict(broken))
}
