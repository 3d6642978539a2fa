// Copyright 2024-2026 The GoTron Authors. SPDX-License-Identifier: Apache-2.0

// Package fp8 tracks the dynamic-scaling metadata that 8-bit floating point
// training needs: a per-tensor scale factor and a rolling window of absolute
// maxima used to recompute it. The metadata rides inside the optimizer state
// dict (as a parameter's extra sub-dict) so it survives checkpoints.
package fp8

import (
	"math"

	"github.com/pkg/errors"

	"github.com/gotron-ml/gotron/pkg/core/statedict"
	"github.com/gotron-ml/gotron/pkg/support/xslices"
)

// DType selects one of the two FP8 encodings.
type DType int

const (
	// E4M3 has 4 exponent and 3 mantissa bits; preferred for forward
	// activations and weights.
	E4M3 DType = iota
	// E5M2 has 5 exponent and 2 mantissa bits; preferred for gradients,
	// which need the extra range.
	E5M2
)

// String implements fmt.Stringer.
func (d DType) String() string {
	switch d {
	case E4M3:
		return "e4m3"
	case E5M2:
		return "e5m2"
	}
	return "invalid"
}

// MaxValue returns the largest finite magnitude the encoding can represent.
func (d DType) MaxValue() float64 {
	switch d {
	case E4M3:
		return 448
	case E5M2:
		return 57344
	}
	return 0
}

// State dict keys written by Meta and GradMeta.
const (
	keyDType       = "dtype"
	keyScale       = "scale"
	keyAmaxHistory = "amax_history"
	keyInput       = "input"
	keyWeight      = "weight"
	keyOutput      = "output"
)

// Meta is the dynamic-scaling state for one FP8 tensor: the current scale
// and a rolling history of observed absolute maxima.
type Meta struct {
	dtype   DType
	scale   float64
	history []float64
	window  int
}

// NewMeta creates the metadata with unit scale and an empty history holding
// at most window entries.
func NewMeta(dtype DType, window int) (*Meta, error) {
	if window < 1 {
		return nil, errors.Errorf("amax history window must be at least 1, got %d", window)
	}
	return &Meta{dtype: dtype, scale: 1, window: window}, nil
}

// DType returns the encoding this metadata scales for.
func (m *Meta) DType() DType { return m.dtype }

// Scale returns the current scale factor.
func (m *Meta) Scale() float64 { return m.scale }

// AmaxHistory returns the recorded absolute maxima, most recent last.
func (m *Meta) AmaxHistory() []float64 { return m.history }

// Observe records one step's absolute maximum and recomputes the scale so
// the largest value seen in the window maps to the encoding's maximum.
func (m *Meta) Observe(amax float64) {
	m.history = append(m.history, amax)
	if len(m.history) > m.window {
		m.history = m.history[len(m.history)-m.window:]
	}
	peak := 0.0
	for _, a := range m.history {
		peak = math.Max(peak, a)
	}
	if peak > 0 {
		m.scale = m.dtype.MaxValue() / peak
	}
}

// StateDict implements serialize.StateHolder.
func (m *Meta) StateDict() (*statedict.Dict, error) {
	history := statedict.List(xslices.Map(m.history, func(a float64) any { return a }))
	return statedict.New().
		Set(keyDType, m.dtype.String()).
		Set(keyScale, m.scale).
		Set(keyAmaxHistory, history), nil
}

// LoadStateDict implements serialize.StateHolder. The window size is kept;
// a longer saved history is truncated to the most recent entries.
func (m *Meta) LoadStateDict(d *statedict.Dict) error {
	dtype, found := d.Get(keyDType)
	if !found {
		return errors.Errorf("fp8 metadata has no %q entry", keyDType)
	}
	dtypeName, ok := dtype.(string)
	if !ok || (dtypeName != E4M3.String() && dtypeName != E5M2.String()) {
		return errors.Errorf("fp8 metadata has invalid dtype %v", dtype)
	}
	scale, found := d.Get(keyScale)
	if !found {
		return errors.Errorf("fp8 metadata has no %q entry", keyScale)
	}
	scaleValue, ok := scale.(float64)
	if !ok {
		return errors.Errorf("fp8 metadata %q entry is a %T, expected float64", keyScale, scale)
	}
	historyAny, found := d.Get(keyAmaxHistory)
	if !found {
		return errors.Errorf("fp8 metadata has no %q entry", keyAmaxHistory)
	}
	historyList, ok := historyAny.(statedict.List)
	if !ok {
		return errors.Errorf("fp8 metadata %q entry is a %T, expected a list", keyAmaxHistory, historyAny)
	}

	history := make([]float64, 0, len(historyList))
	for _, entry := range historyList {
		a, ok := entry.(float64)
		if !ok {
			return errors.Errorf("fp8 amax history holds a %T, expected float64", entry)
		}
		history = append(history, a)
	}
	if len(history) > m.window {
		history = history[len(history)-m.window:]
	}
	if dtypeName == E5M2.String() {
		m.dtype = E5M2
	} else {
		m.dtype = E4M3
	}
	m.scale = scaleValue
	m.history = history
	return nil
}

// GradMeta bundles the three scaling states a linear layer needs under FP8:
// its input activations, its weight, and its output gradient.
type GradMeta struct {
	Input, Weight, Output *Meta
}

// NewGradMeta creates the bundle with the conventional encodings: E4M3 for
// input and weight, E5M2 for the output gradient.
func NewGradMeta(window int) (*GradMeta, error) {
	input, err := NewMeta(E4M3, window)
	if err != nil {
		return nil, err
	}
	weight, err := NewMeta(E4M3, window)
	if err != nil {
		return nil, err
	}
	output, err := NewMeta(E5M2, window)
	if err != nil {
		return nil, err
	}
	return &GradMeta{Input: input, Weight: weight, Output: output}, nil
}

// StateDict implements serialize.StateHolder.
func (g *GradMeta) StateDict() (*statedict.Dict, error) {
	d := statedict.New()
	for _, part := range []struct {
		key  string
		meta *Meta
	}{
		{keyInput, g.Input}, {keyWeight, g.Weight}, {keyOutput, g.Output},
	} {
		sub, err := part.meta.StateDict()
		if err != nil {
			return nil, err
		}
		d.Set(part.key, sub)
	}
	return d, nil
}

// LoadStateDict implements serialize.StateHolder.
func (g *GradMeta) LoadStateDict(d *statedict.Dict) error {
	for _, part := range []struct {
		key  string
		meta *Meta
	}{
		{keyInput, g.Input}, {keyWeight, g.Weight}, {keyOutput, g.Output},
	} {
		sub := d.GetDict(part.key)
		if sub == nil {
			return errors.Errorf("fp8 gradient metadata has no %q entry", part.key)
		}
		if err := part.meta.LoadStateDict(sub); err != nil {
			return errors.WithMessagef(err, "loading fp8 %q metadata", part.key)
		}
	}
	return nil
}
