// Copyright 2024-2026 The GoTron Authors. SPDX-License-Identifier: Apache-2.0

package doremi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotron-ml/gotron/pkg/support/sets"
)

func testContext(t *testing.T) *Context {
	t.Helper()
	context, err := NewContext(
		Weights{0.5, 0.3, 0.2},
		[]string{"web", "books", "code"},
		false)
	require.NoError(t, err)
	return context
}

func TestWeightsValidate(t *testing.T) {
	require.NoError(t, Weights{0.6, 0.4}.Validate())
	require.Error(t, Weights{0.6, 0.6}.Validate())
	require.Error(t, Weights{1.2, -0.2}.Validate())
}

func TestNewContextValidation(t *testing.T) {
	_, err := NewContext(Weights{1.0}, []string{"a", "b"}, false)
	require.Error(t, err)
	_, err = NewContext(Weights{}, nil, false)
	require.Error(t, err)
}

// collectGlobalBatches reruns the sampler once per rank and reassembles the
// global batches from the per-rank micro-batches.
func collectGlobalBatches(t *testing.T, context *Context, domainSizes []int, microBatchSize, numMicroBatches, dpSize int, seed uint64) [][]int {
	t.Helper()
	var perRank [][][]int
	for rank := 0; rank < dpSize; rank++ {
		sampler, err := NewSampler(context, domainSizes, microBatchSize, numMicroBatches, rank, dpSize, seed)
		require.NoError(t, err)
		var micros [][]int
		for micro := range sampler.MicroBatches() {
			assert.Len(t, micro, microBatchSize)
			micros = append(micros, micro)
		}
		perRank = append(perRank, micros)
	}

	// Every rank yields the same number of micro-batches.
	for rank := 1; rank < dpSize; rank++ {
		require.Len(t, perRank[rank], len(perRank[0]))
	}

	var globals [][]int
	for batch := 0; batch*numMicroBatches < len(perRank[0]); batch++ {
		var global []int
		for micro := 0; micro < numMicroBatches; micro++ {
			for rank := 0; rank < dpSize; rank++ {
				global = append(global, perRank[rank][batch*numMicroBatches+micro]...)
			}
		}
		globals = append(globals, global)
	}
	return globals
}

func TestSamplerDomainProportions(t *testing.T) {
	context := testContext(t)
	domainSizes := []int{500, 300, 200}
	const (
		microBatchSize  = 8
		numMicroBatches = 2
		dpSize          = 4
	)
	globals := collectGlobalBatches(t, context, domainSizes, microBatchSize, numMicroBatches, dpSize, 42)
	require.NotEmpty(t, globals)

	globalBatchSize := microBatchSize * numMicroBatches * dpSize
	for _, global := range globals {
		require.Len(t, global, globalBatchSize)
		// Count samples per domain from the contiguous index ranges.
		counts := make([]int, len(domainSizes))
		for _, index := range global {
			switch {
			case index < 500:
				counts[0]++
			case index < 800:
				counts[1]++
			default:
				counts[2]++
			}
		}
		for ii, weight := range context.Weights {
			assert.InDelta(t, weight*float64(globalBatchSize), float64(counts[ii]), 1.0,
				"domain %q share in a global batch", context.Keys[ii])
		}
	}
}

func TestSamplerNoRepeats(t *testing.T) {
	context := testContext(t)
	globals := collectGlobalBatches(t, context, []int{500, 300, 200}, 8, 2, 4, 7)

	seen := sets.Make[int]()
	for _, global := range globals {
		for _, index := range global {
			require.False(t, seen.Has(index), "index %d yielded twice", index)
			seen.Insert(index)
		}
	}
}

func TestSamplerStopsBeforePartialBatch(t *testing.T) {
	context := testContext(t)
	domainSizes := []int{500, 300, 200}
	sampler, err := NewSampler(context, domainSizes, 8, 2, 0, 4, 1)
	require.NoError(t, err)

	// Quotas per global batch of 64: 32/19/13. The books domain runs out
	// first: 300/19 = 15 full batches.
	assert.Equal(t, 64, sampler.GlobalBatchSize())
	assert.Equal(t, 15, sampler.NumGlobalBatches())

	count := 0
	for range sampler.MicroBatches() {
		count++
	}
	assert.Equal(t, 15*2, count)
}

func TestSamplerRanksAgree(t *testing.T) {
	// Two samplers built with the same rank and seed yield identical
	// batches, so ranks never need to communicate.
	context := testContext(t)
	domainSizes := []int{100, 60, 40}
	a, err := NewSampler(context, domainSizes, 4, 1, 0, 2, 99)
	require.NoError(t, err)
	b, err := NewSampler(context, domainSizes, 4, 1, 0, 2, 99)
	require.NoError(t, err)

	var fromA, fromB [][]int
	for micro := range a.MicroBatches() {
		fromA = append(fromA, micro)
	}
	for micro := range b.MicroBatches() {
		fromB = append(fromB, micro)
	}
	assert.Equal(t, fromA, fromB)
}
