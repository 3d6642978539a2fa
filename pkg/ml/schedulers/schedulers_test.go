// Copyright 2024-2026 The GoTron Authors. SPDX-License-Identifier: Apache-2.0

package schedulers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotron-ml/gotron/pkg/core/parallel"
	"github.com/gotron-ml/gotron/pkg/core/statedict"
	"github.com/gotron-ml/gotron/pkg/serialize"
)

func TestLinearWarmupCosineValues(t *testing.T) {
	s, err := NewLinearWarmupCosine(1e-3, 1e-5, 100, 1100)
	require.NoError(t, err)

	// Warmup is linear from 0 to base.
	assert.Equal(t, 0.0, s.At(0))
	assert.InDelta(t, 5e-4, s.At(50), 1e-12)
	assert.InDelta(t, 1e-3, s.At(100), 1e-12)

	// Cosine midpoint lands halfway between base and min.
	assert.InDelta(t, (1e-3+1e-5)/2, s.At(600), 1e-12)

	// End of the schedule and beyond stay at min.
	assert.InDelta(t, 1e-5, s.At(1100), 1e-12)
	assert.InDelta(t, 1e-5, s.At(5000), 1e-12)

	// The curve decays monotonically after warmup.
	for step := int64(100); step < 1100; step += 50 {
		assert.Greater(t, s.At(step), s.At(step+50), "step %d", step)
	}
}

func TestLinearWarmupCosineStep(t *testing.T) {
	s, err := NewLinearWarmupCosine(1e-3, 0, 10, 20)
	require.NoError(t, err)
	for ii := 0; ii < 10; ii++ {
		s.Step()
	}
	assert.Equal(t, int64(10), s.LastStep())
	assert.InDelta(t, 1e-3, s.LearningRate(), 1e-12)
}

func TestNewLinearWarmupCosineValidation(t *testing.T) {
	_, err := NewLinearWarmupCosine(0, 0, 10, 20)
	require.Error(t, err)
	_, err = NewLinearWarmupCosine(1e-3, 1e-2, 10, 20)
	require.Error(t, err)
	_, err = NewLinearWarmupCosine(1e-3, 0, 20, 20)
	require.Error(t, err)
}

func TestLinearWarmupCosinePersistence(t *testing.T) {
	// Resume restores the step counter and hence the learning rate.
	root := t.TempDir()
	topo, err := parallel.NewTopology(2, 1, 1)
	require.NoError(t, err)
	rank0, err := topo.Coordinate(0, 0, 0)
	require.NoError(t, err)

	s, err := NewLinearWarmupCosine(6e-4, 6e-5, 500, 10000)
	require.NoError(t, err)
	for ii := 0; ii < 750; ii++ {
		s.Step()
	}
	require.NoError(t, serialize.SaveLRScheduler(s, rank0, root))

	restored, err := NewLinearWarmupCosine(1, 0, 1, 2)
	require.NoError(t, err)
	require.NoError(t, serialize.LoadLRScheduler(restored, root))
	assert.Equal(t, s.LastStep(), restored.LastStep())
	assert.InDelta(t, s.LearningRate(), restored.LearningRate(), 1e-15)
}

func TestLoadStateDictRejectsMalformed(t *testing.T) {
	s, err := NewLinearWarmupCosine(1e-3, 0, 10, 20)
	require.NoError(t, err)
	require.Error(t, s.LoadStateDict(statedict.New()), "empty state dict")
	broken, err := s.StateDict()
	require.NoError(t, err)
	broken.Set(keyBaseLR, "not a number")
	require.Error(t, s.LoadStateDict(broken))
}
