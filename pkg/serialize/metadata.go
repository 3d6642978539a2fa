// Copyright 2024-2026 The GoTron Authors. SPDX-License-Identifier: Apache-2.0

package serialize

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/gotron-ml/gotron/pkg/core/parallel"
)

// MetadataFileName is the checkpoint-level descriptor at the checkpoint root.
const MetadataFileName = "checkpoint_metadata.json"

// MetadataVersion is the current layout version written into new checkpoints.
const MetadataVersion = "1.0"

// Metadata describes a whole checkpoint: which topology wrote it and when.
// Inspection tooling uses it to tell whether a checkpoint is complete
// (every shard the topology implies is present). The load functions do not
// consult it.
type Metadata struct {
	Version   string    `json:"version"`
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Parallelism struct {
		DP int `json:"dp"`
		TP int `json:"tp"`
		PP int `json:"pp"`
	} `json:"parallelism"`
}

// Topology returns the topology recorded in the metadata.
func (m *Metadata) Topology() (parallel.Topology, error) {
	return parallel.NewTopology(m.Parallelism.DP, m.Parallelism.TP, m.Parallelism.PP)
}

// WriteMetadata writes the checkpoint descriptor at rootFolder. Like the
// scheduler state, it is a singleton: only global rank 0 writes, other ranks
// return nil.
func WriteMetadata(coord parallel.Coordinate, rootFolder string) error {
	if coord.GlobalRank() > 0 {
		return nil
	}
	if err := os.MkdirAll(rootFolder, DirPermMode); err != nil {
		return errors.Wrapf(err, "failed to create checkpoint directory %q", rootFolder)
	}
	metadata := &Metadata{
		Version:   MetadataVersion,
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}
	metadata.Parallelism.DP = coord.Data
	metadata.Parallelism.TP = coord.Tensor
	metadata.Parallelism.PP = coord.Pipeline

	contents, err := json.MarshalIndent(metadata, "", "\t")
	if err != nil {
		return errors.Wrap(err, "failed to encode checkpoint metadata")
	}
	path := filepath.Join(rootFolder, MetadataFileName)
	if err = os.WriteFile(path, contents, 0666); err != nil {
		return errors.Wrapf(err, "failed to write checkpoint metadata %q", path)
	}
	return nil
}

// ReadMetadata reads the checkpoint descriptor from rootFolder.
func ReadMetadata(rootFolder string) (*Metadata, error) {
	path := filepath.Join(rootFolder, MetadataFileName)
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read checkpoint metadata %q", path)
	}
	metadata := &Metadata{}
	if err = json.Unmarshal(contents, metadata); err != nil {
		return nil, errors.Wrapf(err, "failed to parse checkpoint metadata %q", path)
	}
	return metadata, nil
}

// ExpectedShardNames returns the full set of shard file names (relative to
// the checkpoint root) a complete checkpoint must hold for the given
// topology and optimizer replication mode. Inspection tooling diffs this
// against the directory contents.
func ExpectedShardNames(topo parallel.Topology, mode ReplicationMode) []string {
	var names []string
	seen := map[string]bool{}
	for coord := range topo.Coordinates() {
		if mode == Replicated && coord.DataRank > 0 {
			continue
		}
		name := filepath.Join(OptimizerDirName, OptimizerShardName(coord, mode))
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	names = append(names, filepath.Join(LRSchedulerDirName, LRSchedulerFileName()))
	return names
}
