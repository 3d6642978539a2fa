// Copyright 2024-2026 The GoTron Authors. SPDX-License-Identifier: Apache-2.0

package serialize

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gotron-ml/gotron/pkg/core/parallel"
	"github.com/gotron-ml/gotron/pkg/core/statedict"
)

// OptimizerManifestName is the small JSON file recording the logical type of
// the optimizer that produced the shards, next to them under
// OptimizerDirName. It is a forward-compatibility hint: load does not
// validate against it yet (see LoadOptimizer).
const OptimizerManifestName = "optimizer_config.json"

type loadOptions struct {
	device statedict.Device
}

// LoadOption configures LoadOptimizer.
type LoadOption func(*loadOptions)

// WithMapLocation sets the device placement tensors are materialized onto
// when loading. The default is statedict.CPU.
//
// Replicated-mode loads ignore this and always stage on the CPU first: a
// fully replicated optimizer state can be large, and staging avoids holding
// two device copies during the handoff into the optimizer.
func WithMapLocation(device statedict.Device) LoadOption {
	return func(o *loadOptions) {
		o.device = device
	}
}

// SaveOptimizer persists the optimizer state owned by the process at coord
// under rootFolder.
//
//   - Replicated mode: state is identical across data-parallel replicas, so
//     only data-parallel rank 0 writes; other ranks return nil without
//     touching the disk (expected, not a failure).
//   - Sharded mode: every data-parallel rank holds a distinct slice and
//     writes its own shard.
//
// Global rank 0 additionally writes the optimizer type manifest. An existing
// shard file at the target path is overwritten.
func SaveOptimizer(opt StateHolder, coord parallel.Coordinate, mode ReplicationMode, rootFolder string) error {
	dir := filepath.Join(rootFolder, OptimizerDirName)
	if err := os.MkdirAll(dir, DirPermMode); err != nil {
		return errors.Wrapf(err, "failed to create optimizer checkpoint directory %q", dir)
	}

	if coord.GlobalRank() == 0 {
		if err := writeOptimizerManifest(dir, opt); err != nil {
			return err
		}
	}

	if mode == Replicated && coord.DataRank > 0 {
		if klog.V(2).Enabled() {
			klog.Infof("optimizer state is replicated, %s skips the write", coord)
		}
		return nil
	}

	state, err := opt.StateDict()
	if err != nil {
		return errors.WithMessagef(err, "failed to materialize optimizer state at %s", coord)
	}
	shardPath := filepath.Join(dir, OptimizerShardName(coord, mode))
	if err = writeStateFile(shardPath, state); err != nil {
		return err
	}
	if klog.V(1).Enabled() {
		klog.Infof("saved optimizer shard %q (%s mode)", shardPath, mode)
	}
	return nil
}

// LoadOptimizer reads back the optimizer shard matching coord and mode from
// rootFolder and hands it to opt.LoadStateDict verbatim.
//
// A process always reads the shard it would have saved itself; it never
// loads another rank's shard. If the expected file is absent the error wraps
// ErrShardNotFound.
//
// The manifest written by SaveOptimizer is not checked against opt here.
// TODO: validate the optimizer type from the manifest, otherwise a caller
// can load a shard produced by a completely different optimizer.
func LoadOptimizer(opt StateHolder, coord parallel.Coordinate, mode ReplicationMode, rootFolder string, opts ...LoadOption) error {
	options := loadOptions{device: statedict.CPU}
	for _, option := range opts {
		option(&options)
	}
	device := options.device
	if mode == Replicated {
		// Full replicated copies can be large; stage on the host so the
		// handoff into the optimizer never duplicates them on-device.
		device = statedict.CPU
	}

	shardPath := filepath.Join(rootFolder, OptimizerDirName, OptimizerShardName(coord, mode))
	state, err := readStateFile(shardPath, device)
	if err != nil {
		return errors.WithMessagef(err, "failed to load optimizer shard for %s (%s mode)", coord, mode)
	}
	if klog.V(1).Enabled() {
		klog.Infof("loaded optimizer shard %q onto %q", shardPath, device)
	}
	return opt.LoadStateDict(state)
}

// ReadOptimizerManifest returns the optimizer type name recorded at save
// time, for inspection tooling.
func ReadOptimizerManifest(rootFolder string) (string, error) {
	manifestPath := filepath.Join(rootFolder, OptimizerDirName, OptimizerManifestName)
	contents, err := os.ReadFile(manifestPath)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read optimizer manifest %q", manifestPath)
	}
	var manifest struct {
		Type string `json:"type"`
	}
	if err = json.Unmarshal(contents, &manifest); err != nil {
		return "", errors.Wrapf(err, "failed to parse optimizer manifest %q", manifestPath)
	}
	return manifest.Type, nil
}

func writeOptimizerManifest(dir string, opt StateHolder) error {
	manifestPath := filepath.Join(dir, OptimizerManifestName)
	contents, err := json.Marshal(map[string]string{"type": typeName(opt)})
	if err != nil {
		return errors.Wrap(err, "failed to encode optimizer manifest")
	}
	if err = os.WriteFile(manifestPath, contents, 0666); err != nil {
		return errors.Wrapf(err, "failed to write optimizer manifest %q", manifestPath)
	}
	return nil
}

// typeName returns the logical type name of the component, e.g.
// "optimizers.ZeroSharded".
func typeName(v any) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", v), "*")
}

// writeStateFile serializes state to path, overwriting any previous file.
func writeStateFile(path string, state *statedict.Dict) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create state file %q", path)
	}
	if err = statedict.Write(f, state); err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "failed to serialize state to %q", path)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close state file %q", path)
	}
	return nil
}

// readStateFile deserializes the state stored at path onto the given device.
// A missing file wraps ErrShardNotFound.
func readStateFile(path string, device statedict.Device) (*statedict.Dict, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrShardNotFound, "no shard file at %q", path)
		}
		return nil, errors.Wrapf(err, "failed to open state file %q", path)
	}
	defer func() { _ = f.Close() }()
	state, err := statedict.Read(f, device)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to deserialize state from %q", path)
	}
	return state, nil
}
