// Copyright 2024-2026 The GoTron Authors. SPDX-License-Identifier: Apache-2.0

package serialize

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/pkg/errors"

	"github.com/gotron-ml/gotron/pkg/core/parallel"
)

const (
	// ShardSuffix is the extension of shard payload files.
	ShardSuffix = ".pt"

	// OptimizerDirName is the sub-directory of the checkpoint root holding
	// optimizer shards and the optimizer manifest.
	OptimizerDirName = "optimizer"

	// LRSchedulerDirName is the sub-directory of the checkpoint root holding
	// the scheduler state file.
	LRSchedulerDirName = "lr_scheduler"
)

// OptimizerShardName returns the file name of the optimizer shard owned by
// the process at the given coordinate, under the given replication mode.
//
// Any process can recompute the name of any shard from coordinates alone,
// with no communication. For a fixed mode the mapping is injective across
// ownership classes: two processes compute equal names iff they hold the
// same shard.
//
//   - Sharded: every (pipeline, data, tensor) triple is a distinct shard:
//     "optimizer_pp-{i}-of-{N}_dp-{j}-of-{M}_tp-{k}-of-{T}.pt"
//   - Replicated: one shard per (pipeline, data) pair, written by the
//     data-parallel rank-0 representative:
//     "optimizer_pp-{i}-of-{N}_tp-{j}-of-{M}.pt"
//
// In the Replicated form the "tp" label actually carries the data-parallel
// rank and world size. That mislabeling is historical; it is kept verbatim
// so names stay compatible with checkpoints already on disk. Renaming it
// would be a file-format break.
func OptimizerShardName(coord parallel.Coordinate, mode ReplicationMode) string {
	if mode == Sharded {
		return fmt.Sprintf("%s_pp-%d-of-%d_dp-%d-of-%d_tp-%d-of-%d%s",
			ObjectOptimizer,
			coord.PipelineRank, coord.Pipeline,
			coord.DataRank, coord.Data,
			coord.TensorRank, coord.Tensor,
			ShardSuffix)
	}
	return fmt.Sprintf("%s_pp-%d-of-%d_tp-%d-of-%d%s",
		ObjectOptimizer,
		coord.PipelineRank, coord.Pipeline,
		coord.DataRank, coord.Data,
		ShardSuffix)
}

// LRSchedulerFileName returns the single well-known scheduler state file
// name. It carries no coordinates: scheduler state is bit-identical on
// every process.
func LRSchedulerFileName() string {
	return ObjectLRScheduler.String() + ShardSuffix
}

// ShardInfo is the result of parsing a shard file name back into its
// coordinates: the inverse of OptimizerShardName / LRSchedulerFileName.
//
// For a Replicated optimizer shard, DataRank/DataSize hold the values parsed
// from the file's "tp" label (see OptimizerShardName), and
// TensorRank/TensorSize are zero.
type ShardInfo struct {
	Kind ObjectType
	Mode ReplicationMode

	PipelineRank, PipelineSize int
	DataRank, DataSize         int
	TensorRank, TensorSize     int
}

var (
	shardedNameRegex    = regexp.MustCompile(`^optimizer_pp-(\d+)-of-(\d+)_dp-(\d+)-of-(\d+)_tp-(\d+)-of-(\d+)\.pt$`)
	replicatedNameRegex = regexp.MustCompile(`^optimizer_pp-(\d+)-of-(\d+)_tp-(\d+)-of-(\d+)\.pt$`)
)

// ParseShardName parses a shard file name (not a path) produced by
// OptimizerShardName or LRSchedulerFileName.
func ParseShardName(name string) (ShardInfo, error) {
	if name == LRSchedulerFileName() {
		return ShardInfo{Kind: ObjectLRScheduler, Mode: Replicated}, nil
	}
	if matches := shardedNameRegex.FindStringSubmatch(name); matches != nil {
		fields := mustAtoi(matches[1:])
		return ShardInfo{
			Kind:         ObjectOptimizer,
			Mode:         Sharded,
			PipelineRank: fields[0], PipelineSize: fields[1],
			DataRank: fields[2], DataSize: fields[3],
			TensorRank: fields[4], TensorSize: fields[5],
		}, nil
	}
	if matches := replicatedNameRegex.FindStringSubmatch(name); matches != nil {
		fields := mustAtoi(matches[1:])
		return ShardInfo{
			Kind:         ObjectOptimizer,
			Mode:         Replicated,
			PipelineRank: fields[0], PipelineSize: fields[1],
			DataRank: fields[2], DataSize: fields[3],
		}, nil
	}
	return ShardInfo{}, errors.Errorf("%q is not a recognized shard file name", name)
}

// mustAtoi converts regexp \d+ submatches, which cannot fail to parse.
func mustAtoi(matches []string) []int {
	fields := make([]int, len(matches))
	for ii, match := range matches {
		fields[ii], _ = strconv.Atoi(match)
	}
	return fields
}
