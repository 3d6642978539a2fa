// Copyright 2024-2026 The GoTron Authors. SPDX-License-Identifier: Apache-2.0

package serialize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotron-ml/gotron/pkg/core/parallel"
	"github.com/gotron-ml/gotron/pkg/core/statedict"
)

func schedulerState() *statedict.Dict {
	return statedict.New().
		Set("last_step", int64(4000)).
		Set("base_lr", 3e-4).
		Set("warmup_steps", int64(500))
}

func TestSchedulerSingletonWriter(t *testing.T) {
	// Scenario: 4 processes; only global rank 0 writes, every rank's load
	// resolves to the same file and returns identical content.
	root := t.TempDir()
	topo, err := parallel.NewTopology(4, 1, 1)
	require.NoError(t, err)

	// Rank 2 of 4 saves: no file must appear.
	rank2, err := topo.Coordinate(2, 0, 0)
	require.NoError(t, err)
	require.NoError(t, SaveLRScheduler(&fakeOptimizer{state: schedulerState()}, rank2, root))
	_, err = os.Stat(filepath.Join(root, LRSchedulerDirName))
	require.True(t, os.IsNotExist(err), "non-zero rank must not create the scheduler directory")

	// Rank 0 saves: the file appears.
	rank0, err := topo.Coordinate(0, 0, 0)
	require.NoError(t, err)
	require.NoError(t, SaveLRScheduler(&fakeOptimizer{state: schedulerState()}, rank0, root))
	_, err = os.Stat(filepath.Join(root, LRSchedulerDirName, LRSchedulerFileName()))
	require.NoError(t, err)

	// Every rank loads the same content; loading takes no coordinate at all.
	for range topo.Coordinates() {
		sched := &fakeOptimizer{}
		require.NoError(t, LoadLRScheduler(sched, root))
		assert.True(t, schedulerState().Equal(sched.loaded))
	}
}

func TestLoadLRSchedulerMissing(t *testing.T) {
	err := LoadLRScheduler(&fakeOptimizer{}, t.TempDir())
	require.ErrorIs(t, err, ErrShardNotFound)
}
