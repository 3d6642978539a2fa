// Copyright 2024-2026 The GoTron Authors. SPDX-License-Identifier: Apache-2.0

package parallel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTopology(t *testing.T) {
	topo, err := NewTopology(2, 4, 8)
	require.NoError(t, err)
	assert.Equal(t, 2, topo.WorldSize(Data))
	assert.Equal(t, 4, topo.WorldSize(Tensor))
	assert.Equal(t, 8, topo.WorldSize(Pipeline))
	assert.Equal(t, 64, topo.WorldSize(Global))
	assert.Equal(t, 64, topo.NumProcesses())

	_, err = NewTopology(0, 1, 1)
	require.Error(t, err)
	_, err = NewTopology(1, -1, 1)
	require.Error(t, err)
}

func TestCoordinateRanks(t *testing.T) {
	topo, err := NewTopology(2, 3, 4)
	require.NoError(t, err)

	coord, err := topo.Coordinate(1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, coord.Rank(Data))
	assert.Equal(t, 2, coord.Rank(Tensor))
	assert.Equal(t, 3, coord.Rank(Pipeline))
	assert.Equal(t, topo.NumProcesses()-1, coord.Rank(Global))

	_, err = topo.Coordinate(2, 0, 0)
	require.Error(t, err)
	_, err = topo.Coordinate(0, 3, 0)
	require.Error(t, err)
	_, err = topo.Coordinate(0, 0, -1)
	require.Error(t, err)
}

func TestUnknownAxisPanics(t *testing.T) {
	topo, err := NewTopology(1, 1, 1)
	require.NoError(t, err)
	coord, err := topo.Coordinate(0, 0, 0)
	require.NoError(t, err)
	require.Panics(t, func() { _ = topo.WorldSize(Axis(100)) })
	require.Panics(t, func() { _ = coord.Rank(Axis(100)) })
}

func TestGlobalRankOrdering(t *testing.T) {
	// Coordinates() must enumerate in global-rank order, covering every
	// process exactly once.
	topo, err := NewTopology(2, 3, 2)
	require.NoError(t, err)
	next := 0
	for coord := range topo.Coordinates() {
		assert.Equal(t, next, coord.GlobalRank(), "coordinate %s", coord)
		next++
	}
	assert.Equal(t, topo.NumProcesses(), next)
}

func TestParseTopology(t *testing.T) {
	topo, err := ParseTopology([]byte("parallelism:\n  dp: 4\n  tp: 2\n  pp: 8\n"))
	require.NoError(t, err)
	assert.Equal(t, Topology{Data: 4, Tensor: 2, Pipeline: 8}, topo)

	// Missing axes default to 1.
	topo, err = ParseTopology([]byte("parallelism:\n  dp: 4\n"))
	require.NoError(t, err)
	assert.Equal(t, Topology{Data: 4, Tensor: 1, Pipeline: 1}, topo)

	_, err = ParseTopology([]byte(":not yaml:["))
	require.Error(t, err)
}

func TestAxisString(t *testing.T) {
	assert.Equal(t, "data", Data.String())
	assert.Equal(t, "tensor", Tensor.String())
	assert.Equal(t, "pipeline", Pipeline.String())
	assert.Equal(t, "global", Global.String())
}
