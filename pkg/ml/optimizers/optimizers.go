// Copyright 2024-2026 The GoTron Authors. SPDX-License-Identifier: Apache-2.0

// Package optimizers holds the optimizer-side state containers consumed by
// the persistence layer (pkg/serialize). The numeric update rule lives with
// the training runtime; here an optimizer is the bookkeeping of its state:
// per-parameter moment tensors, the step counter, and how that state relates
// to the data-parallel axis (fully replicated, or ZeRO-style sharded).
package optimizers

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/gotron-ml/gotron/pkg/core/statedict"
	"github.com/gotron-ml/gotron/pkg/serialize"
)

// Stateful is an optimizer whose state can be checkpointed. It extends the
// persistence layer's StateHolder with the replication mode the persistence
// engine needs to pick shard ownership and naming.
type Stateful interface {
	serialize.StateHolder

	// ReplicationMode reports how this optimizer's state relates to the
	// data-parallel axis. Fixed at construction.
	ReplicationMode() serialize.ReplicationMode
}

// State dict keys written by Moments and ZeroSharded.
const (
	keyStep    = "step"
	keyState   = "state"
	keyExpAvg  = "exp_avg"
	keyExpAvg2 = "exp_avg_sq"
	keyDPRank  = "dp_rank"
	keyDPSize  = "dp_size"
)

// moments is one parameter's slot pair.
type moments struct {
	expAvg, expAvgSq *statedict.Tensor
}

// Moments is an Adam-family optimizer state container: first and second
// moment tensors per trainable parameter, plus the step counter. Every
// data-parallel replica holds an identical full copy, so its replication
// mode is Replicated.
type Moments struct {
	step   int64
	names  []string
	slots  map[string]moments
	extras map[string]*statedict.Dict
}

var _ Stateful = (*Moments)(nil)

// NewMoments creates an empty replicated optimizer state container.
func NewMoments() *Moments {
	return &Moments{
		slots:  make(map[string]moments),
		extras: make(map[string]*statedict.Dict),
	}
}

// SetParam registers (or replaces) the moment tensors for a parameter.
// Registration order is preserved in the state dict.
func (m *Moments) SetParam(name string, expAvg, expAvgSq *statedict.Tensor) {
	if _, found := m.slots[name]; !found {
		m.names = append(m.names, name)
	}
	m.slots[name] = moments{expAvg: expAvg, expAvgSq: expAvgSq}
}

// SetParamExtra attaches an opaque sub-dict to a parameter's state, e.g.
// FP8 scaling metadata. It is persisted and restored verbatim.
func (m *Moments) SetParamExtra(name string, extra *statedict.Dict) {
	m.extras[name] = extra
}

// ParamNames returns the registered parameter names in registration order.
func (m *Moments) ParamNames() []string {
	return slices.Clone(m.names)
}

// Moments returns the moment tensors registered for a parameter, or nils.
func (m *Moments) Moments(name string) (expAvg, expAvgSq *statedict.Tensor) {
	slot := m.slots[name]
	return slot.expAvg, slot.expAvgSq
}

// Step returns the current step counter.
func (m *Moments) Step() int64 { return m.step }

// SetStep sets the step counter.
func (m *Moments) SetStep(step int64) { m.step = step }

// ReplicationMode implements Stateful.
func (m *Moments) ReplicationMode() serialize.ReplicationMode {
	return serialize.Replicated
}

// StateDict implements Stateful.
func (m *Moments) StateDict() (*statedict.Dict, error) {
	state := statedict.New()
	for _, name := range m.names {
		slot := m.slots[name]
		entry := statedict.New().
			Set(keyExpAvg, slot.expAvg).
			Set(keyExpAvg2, slot.expAvgSq)
		if extra, found := m.extras[name]; found {
			entry.Set("extra", extra)
		}
		state.Set(name, entry)
	}
	return statedict.New().
		Set(keyStep, m.step).
		Set(keyState, state), nil
}

// LoadStateDict implements Stateful. The previous contents are discarded.
func (m *Moments) LoadStateDict(d *statedict.Dict) error {
	step, found := d.Get(keyStep)
	if !found {
		return errors.Errorf("optimizer state dict has no %q entry", keyStep)
	}
	stepValue, ok := step.(int64)
	if !ok {
		return errors.Errorf("optimizer state %q entry is a %T, expected int64", keyStep, step)
	}
	state := d.GetDict(keyState)
	if state == nil {
		return errors.Errorf("optimizer state dict has no %q entry", keyState)
	}

	loaded := NewMoments()
	loaded.step = stepValue
	for _, name := range state.Keys() {
		entry := state.GetDict(name)
		if entry == nil {
			return errors.Errorf("optimizer state for parameter %q is not a dict", name)
		}
		expAvg := entry.GetTensor(keyExpAvg)
		expAvgSq := entry.GetTensor(keyExpAvg2)
		if expAvg == nil || expAvgSq == nil {
			return errors.Errorf("optimizer state for parameter %q is missing moment tensors", name)
		}
		loaded.SetParam(name, expAvg, expAvgSq)
		if extra := entry.GetDict("extra"); extra != nil {
			loaded.SetParamExtra(name, extra)
		}
	}
	*m = *loaded
	return nil
}
