// Copyright 2024-2026 The GoTron Authors. SPDX-License-Identifier: Apache-2.0

// Package schedulers implements learning-rate schedules and their
// checkpointable state. A schedule is pure bookkeeping: it maps a step
// counter to a learning rate, and persists through pkg/serialize as a
// single file written by global rank 0 only.
package schedulers

import (
	"math"

	"github.com/pkg/errors"

	"github.com/gotron-ml/gotron/pkg/core/statedict"
)

// State dict keys written by LinearWarmupCosine.
const (
	keyLastStep    = "last_step"
	keyBaseLR      = "base_lr"
	keyMinLR       = "min_lr"
	keyWarmupSteps = "warmup_steps"
	keyTotalSteps  = "total_steps"
)

// LinearWarmupCosine ramps the learning rate linearly from 0 to baseLR over
// the warmup steps, then decays it along a half cosine from baseLR to minLR
// over the remaining steps. Past totalSteps it stays at minLR.
type LinearWarmupCosine struct {
	lastStep                int64
	baseLR, minLR           float64
	warmupSteps, totalSteps int64
}

// NewLinearWarmupCosine creates the schedule at step 0.
func NewLinearWarmupCosine(baseLR, minLR float64, warmupSteps, totalSteps int64) (*LinearWarmupCosine, error) {
	if baseLR <= 0 || minLR < 0 || minLR > baseLR {
		return nil, errors.Errorf("invalid learning rates: base=%g, min=%g", baseLR, minLR)
	}
	if warmupSteps < 0 || totalSteps <= warmupSteps {
		return nil, errors.Errorf("invalid schedule lengths: warmup=%d, total=%d", warmupSteps, totalSteps)
	}
	return &LinearWarmupCosine{
		baseLR:      baseLR,
		minLR:       minLR,
		warmupSteps: warmupSteps,
		totalSteps:  totalSteps,
	}, nil
}

// Step advances the schedule one step and returns the new learning rate.
func (s *LinearWarmupCosine) Step() float64 {
	s.lastStep++
	return s.LearningRate()
}

// LastStep returns the number of steps taken so far.
func (s *LinearWarmupCosine) LastStep() int64 { return s.lastStep }

// LearningRate returns the learning rate at the current step.
func (s *LinearWarmupCosine) LearningRate() float64 {
	return s.At(s.lastStep)
}

// At returns the learning rate the schedule yields at an arbitrary step.
func (s *LinearWarmupCosine) At(step int64) float64 {
	if s.warmupSteps > 0 && step < s.warmupSteps {
		return s.baseLR * float64(step) / float64(s.warmupSteps)
	}
	if step >= s.totalSteps {
		return s.minLR
	}
	progress := float64(step-s.warmupSteps) / float64(s.totalSteps-s.warmupSteps)
	return s.minLR + 0.5*(s.baseLR-s.minLR)*(1+math.Cos(math.Pi*progress))
}

// StateDict implements serialize.StateHolder.
func (s *LinearWarmupCosine) StateDict() (*statedict.Dict, error) {
	return statedict.New().
		Set(keyLastStep, s.lastStep).
		Set(keyBaseLR, s.baseLR).
		Set(keyMinLR, s.minLR).
		Set(keyWarmupSteps, s.warmupSteps).
		Set(keyTotalSteps, s.totalSteps), nil
}

// LoadStateDict implements serialize.StateHolder. The previous contents are
// discarded.
func (s *LinearWarmupCosine) LoadStateDict(d *statedict.Dict) error {
	var loaded LinearWarmupCosine
	for _, field := range []struct {
		key    string
		intDst *int64
		fltDst *float64
	}{
		{key: keyLastStep, intDst: &loaded.lastStep},
		{key: keyBaseLR, fltDst: &loaded.baseLR},
		{key: keyMinLR, fltDst: &loaded.minLR},
		{key: keyWarmupSteps, intDst: &loaded.warmupSteps},
		{key: keyTotalSteps, intDst: &loaded.totalSteps},
	} {
		value, found := d.Get(field.key)
		if !found {
			return errors.Errorf("scheduler state dict has no %q entry", field.key)
		}
		switch {
		case field.intDst != nil:
			intValue, ok := value.(int64)
			if !ok {
				return errors.Errorf("scheduler state %q entry is a %T, expected int64", field.key, value)
			}
			*field.intDst = intValue
		default:
			fltValue, ok := value.(float64)
			if !ok {
				return errors.Errorf("scheduler state %q entry is a %T, expected float64", field.key, value)
			}
			*field.fltDst = fltValue
		}
	}
	*s = loaded
	return nil
}
