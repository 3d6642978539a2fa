// Copyright 2024-2026 The GoTron Authors. SPDX-License-Identifier: Apache-2.0

// Package serialize persists optimizer and learning-rate scheduler state for
// 3D-parallel training jobs: it decides, per process, whether that process
// owns a write for the current shard, maps parallel coordinates to unique
// shard file names, and moves the opaque state dicts to and from disk.
//
// Ownership rules:
//
//   - Optimizer state in Sharded mode (state partitioned across the
//     data-parallel axis): every process owns its own shard.
//   - Optimizer state in Replicated mode (every data-parallel replica holds
//     an identical full copy): only data-parallel rank 0 of each
//     (pipeline, tensor) group writes.
//   - Scheduler state is identical everywhere: only global rank 0 writes,
//     and every process reads the same single file.
//
// Concurrent writers never collide because the naming scheme gives every
// ownership class a distinct path; that disjointness is the only
// synchronization this package relies on. Callers that need all shards
// present before loading must coordinate externally (e.g., a barrier):
// save and load are plain synchronous filesystem calls and never perform
// collective communication.
//
// There are no retries and no partial-failure recovery: a failed save
// leaves the checkpoint root partially written, and it is the caller's
// responsibility to detect that (see Metadata).
package serialize

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/gotron-ml/gotron/pkg/core/statedict"
)

// DirPermMode is the default directory creation permission (before umask) used.
var DirPermMode = os.FileMode(0770)

// ErrShardNotFound is returned by the load functions when the expected shard
// file is absent: either it was never written (e.g., loading a Sharded
// checkpoint from a non-owner's coordinates) or the topology differs from
// the one that saved it. Reloading under a different world size is not
// supported and surfaces as this error rather than a silent misload.
var ErrShardNotFound = errors.New("checkpoint shard not found")

// ObjectType enumerates the kinds of artifacts this package persists.
type ObjectType int

const (
	// ObjectOptimizer is per-shard optimizer state.
	ObjectOptimizer ObjectType = iota

	// ObjectLRScheduler is the singleton learning-rate scheduler state.
	ObjectLRScheduler
)

// String implements the fmt.Stringer interface. The value is embedded in
// file names, so it must stay stable across releases.
func (o ObjectType) String() string {
	switch o {
	case ObjectOptimizer:
		return "optimizer"
	case ObjectLRScheduler:
		return "lr_scheduler"
	default:
		return fmt.Sprintf("ObjectType(%d)", int(o))
	}
}

// ReplicationMode describes how optimizer state relates to the data-parallel
// axis. It is set once at optimizer construction and carried explicitly,
// instead of being recovered by inspecting the optimizer's type.
type ReplicationMode int

const (
	// Replicated: every data-parallel replica holds an identical full copy
	// of the optimizer state, so one representative per replica group
	// persists it.
	Replicated ReplicationMode = iota

	// Sharded: the data-parallel axis partitions the optimizer state
	// (ZeRO-style), so every data-parallel rank persists its own slice.
	Sharded
)

// String implements the fmt.Stringer interface.
func (m ReplicationMode) String() string {
	switch m {
	case Replicated:
		return "replicated"
	case Sharded:
		return "sharded"
	default:
		return fmt.Sprintf("ReplicationMode(%d)", int(m))
	}
}

// StateHolder is the consumer-side view of anything whose state this package
// persists: optimizers and schedulers expose their state as a
// statedict.Dict and accept one back verbatim on load.
type StateHolder interface {
	// StateDict materializes the component's current state.
	StateDict() (*statedict.Dict, error)

	// LoadStateDict replaces the component's state with the given one.
	// The component is responsible for validating the dict's structure.
	LoadStateDict(d *statedict.Dict) error
}
