// Copyright 2024-2026 The GoTron Authors. SPDX-License-Identifier: Apache-2.0

// Package doremi implements domain-weighted batch sampling for multi-domain
// training corpora, DoReMi style: a fixed weight per domain decides how many
// samples of each global batch come from it, and the sampler deals every
// global batch out evenly across the data-parallel ranks.
//
// The dataset is the concatenation of the domains, each occupying a
// contiguous index range; the sampler yields dataset-global indices.
package doremi

import (
	"iter"
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/gotron-ml/gotron/pkg/support/xslices"
)

// Weights holds one weight per domain, aligned with the domain keys. A
// valid set of weights is non-negative and sums to 1 (within tolerance).
type Weights []float64

// weightSumTolerance bounds the rounding drift accepted in a weight vector.
const weightSumTolerance = 1e-3

// Validate checks the weights are non-negative and sum to 1.
func (w Weights) Validate() error {
	sum := 0.0
	for ii, weight := range w {
		if weight < 0 {
			return errors.Errorf("domain weight #%d is negative: %g", ii, weight)
		}
		sum += weight
	}
	if math.Abs(sum-1) > weightSumTolerance {
		return errors.Errorf("domain weights sum to %g, expected 1", sum)
	}
	return nil
}

// Context carries the domain-weighting configuration shared by the sampler
// and the (external) reference-loss machinery.
type Context struct {
	// Weights holds the sampling weight of each domain.
	Weights Weights

	// Keys names the domains, aligned with Weights.
	Keys []string

	// IsProxy marks the run that trains the small proxy model whose losses
	// feed the weight updates, as opposed to the final reference run.
	IsProxy bool
}

// NewContext validates the weights/keys pairing.
func NewContext(weights Weights, keys []string, isProxy bool) (*Context, error) {
	if len(weights) != len(keys) {
		return nil, errors.Errorf("got %d weights for %d domain keys", len(weights), len(keys))
	}
	if len(weights) == 0 {
		return nil, errors.Errorf("at least one domain is required")
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	return &Context{Weights: weights, Keys: keys, IsProxy: isProxy}, nil
}

// Sampler deals weighted global batches out to the data-parallel ranks.
// Create one per rank with the same configuration and seed; the ranks then
// agree on every global batch and each takes a disjoint share of it.
type Sampler struct {
	context         *Context
	domainSizes     []int
	microBatchSize  int
	numMicroBatches int
	dpRank, dpSize  int
	seed            uint64

	quotas  []int // samples per domain per global batch
	offsets []int // start of each domain's contiguous index range
}

// NewSampler configures a sampler for one data-parallel rank.
//
// Each global batch holds numMicroBatches*dpSize micro-batches of
// microBatchSize samples; this rank receives numMicroBatches of them per
// global batch.
func NewSampler(context *Context, domainSizes []int, microBatchSize, numMicroBatches, dpRank, dpSize int, seed uint64) (*Sampler, error) {
	if len(domainSizes) != len(context.Weights) {
		return nil, errors.Errorf("got %d domain sizes for %d weights", len(domainSizes), len(context.Weights))
	}
	if microBatchSize < 1 || numMicroBatches < 1 {
		return nil, errors.Errorf("invalid batch shape: micro-batch size %d, %d micro-batches", microBatchSize, numMicroBatches)
	}
	if dpSize < 1 || dpRank < 0 || dpRank >= dpSize {
		return nil, errors.Errorf("invalid data-parallel slot: rank %d of %d", dpRank, dpSize)
	}

	globalBatchSize := microBatchSize * numMicroBatches * dpSize
	quotas := make([]int, len(context.Weights))
	total := 0
	for ii, weight := range context.Weights {
		quotas[ii] = int(math.Round(weight * float64(globalBatchSize)))
		total += quotas[ii]
	}
	// Rounding drift goes to the heaviest domain so every global batch is
	// exactly full.
	quotas[xslices.ArgMax(context.Weights)] += globalBatchSize - total

	offsets := make([]int, len(domainSizes))
	for ii := 1; ii < len(domainSizes); ii++ {
		offsets[ii] = offsets[ii-1] + domainSizes[ii-1]
	}
	return &Sampler{
		context:         context,
		domainSizes:     domainSizes,
		microBatchSize:  microBatchSize,
		numMicroBatches: numMicroBatches,
		dpRank:          dpRank,
		dpSize:          dpSize,
		seed:            seed,
		quotas:          quotas,
		offsets:         offsets,
	}, nil
}

// GlobalBatchSize returns the number of samples one global batch holds
// across all ranks.
func (s *Sampler) GlobalBatchSize() int {
	return s.microBatchSize * s.numMicroBatches * s.dpSize
}

// NumGlobalBatches returns how many full global batches the domains can
// fill: the sampler stops at the first batch some domain cannot fill.
func (s *Sampler) NumGlobalBatches() int {
	batches := math.MaxInt
	for ii, quota := range s.quotas {
		if quota == 0 {
			continue
		}
		if n := s.domainSizes[ii] / quota; n < batches {
			batches = n
		}
	}
	return batches
}

// MicroBatches yields this rank's micro-batches of dataset-global indices,
// in order. All ranks draw the same seeded per-domain shuffles, so the
// union over ranks of one global batch is exactly the weighted mix, with no
// index repeated across the whole run.
func (s *Sampler) MicroBatches() iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		// One shuffled index stream per domain, shared by construction
		// across ranks.
		streams := make([][]int, len(s.domainSizes))
		for ii, size := range s.domainSizes {
			rng := rand.New(rand.NewPCG(s.seed, uint64(ii)))
			stream := xslices.Iota(s.offsets[ii], size)
			rng.Shuffle(size, func(a, b int) { stream[a], stream[b] = stream[b], stream[a] })
			streams[ii] = stream
		}

		batchRNG := rand.New(rand.NewPCG(s.seed, uint64(len(s.domainSizes))))
		numBatches := s.NumGlobalBatches()
		global := make([]int, 0, s.GlobalBatchSize())
		for batch := 0; batch < numBatches; batch++ {
			global = global[:0]
			for ii, quota := range s.quotas {
				taken := streams[ii][:quota]
				streams[ii] = streams[ii][quota:]
				global = append(global, taken...)
			}
			// Mix domains within the batch; every rank draws the same
			// permutation.
			batchRNG.Shuffle(len(global), func(a, b int) { global[a], global[b] = global[b], global[a] })

			// The batch is dealt out as numMicroBatches blocks of dpSize
			// micro-batches; this rank takes its slice of each block.
			blockSize := s.microBatchSize * s.dpSize
			for block := 0; block < s.numMicroBatches; block++ {
				start := block*blockSize + s.dpRank*s.microBatchSize
				micro := make([]int, s.microBatchSize)
				copy(micro, global[start:start+s.microBatchSize])
				if !yield(micro) {
					return
				}
			}
		}
	}
}
