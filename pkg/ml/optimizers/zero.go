// Copyright 2024-2026 The GoTron Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"github.com/pkg/errors"

	"github.com/gotron-ml/gotron/pkg/core/statedict"
	"github.com/gotron-ml/gotron/pkg/serialize"
)

// ZeroSharded partitions a full optimizer state across the data-parallel
// axis, ZeRO style: each data-parallel rank keeps the moment tensors for a
// contiguous, balanced slice of the parameter list and persists only that
// slice. Its replication mode is Sharded, so every rank owns a checkpoint
// write.
type ZeroSharded struct {
	inner          *Moments
	dpRank, dpSize int
}

var _ Stateful = (*ZeroSharded)(nil)

// NewZeroSharded takes the full parameter state and keeps only the slice
// owned by dpRank out of dpSize.
func NewZeroSharded(full *Moments, dpRank, dpSize int) (*ZeroSharded, error) {
	if dpSize < 1 || dpRank < 0 || dpRank >= dpSize {
		return nil, errors.Errorf("invalid data-parallel slot: rank %d of %d", dpRank, dpSize)
	}
	names := full.ParamNames()
	start, end := shardRange(len(names), dpRank, dpSize)
	inner := NewMoments()
	inner.SetStep(full.Step())
	for _, name := range names[start:end] {
		expAvg, expAvgSq := full.Moments(name)
		inner.SetParam(name, expAvg, expAvgSq)
		if extra, found := full.extras[name]; found {
			inner.SetParamExtra(name, extra)
		}
	}
	return &ZeroSharded{inner: inner, dpRank: dpRank, dpSize: dpSize}, nil
}

// shardRange returns the [start, end) slice of n items owned by rank out of
// size, balanced to within one item.
func shardRange(n, rank, size int) (start, end int) {
	start = rank * n / size
	end = (rank + 1) * n / size
	return
}

// Shard returns the rank-local slice of the state.
func (z *ZeroSharded) Shard() *Moments { return z.inner }

// ReplicationMode implements Stateful.
func (z *ZeroSharded) ReplicationMode() serialize.ReplicationMode {
	return serialize.Sharded
}

// StateDict implements Stateful: the rank-local slice plus the
// data-parallel slot it belongs to.
func (z *ZeroSharded) StateDict() (*statedict.Dict, error) {
	d, err := z.inner.StateDict()
	if err != nil {
		return nil, err
	}
	d.Set(keyDPRank, int64(z.dpRank))
	d.Set(keyDPSize, int64(z.dpSize))
	return d, nil
}

// LoadStateDict implements Stateful. It refuses a slice saved by a
// different data-parallel slot: that means the topology changed between
// save and load, which is not supported.
func (z *ZeroSharded) LoadStateDict(d *statedict.Dict) error {
	rank, _ := d.Get(keyDPRank)
	size, _ := d.Get(keyDPSize)
	rankValue, rankOk := rank.(int64)
	sizeValue, sizeOk := size.(int64)
	if !rankOk || !sizeOk {
		return errors.Errorf("sharded optimizer state dict has no data-parallel slot recorded")
	}
	if int(rankValue) != z.dpRank || int(sizeValue) != z.dpSize {
		return errors.Errorf("sharded optimizer state belongs to rank %d of %d, this process is rank %d of %d",
			rankValue, sizeValue, z.dpRank, z.dpSize)
	}
	return z.inner.LoadStateDict(d)
}
