// Copyright 2024-2026 The GoTron Authors. SPDX-License-Identifier: Apache-2.0

package serialize

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gotron-ml/gotron/pkg/core/parallel"
	"github.com/gotron-ml/gotron/pkg/core/statedict"
)

// SaveLRScheduler persists the learning-rate scheduler state under
// rootFolder. Scheduler state is scalar-sized and identical on every
// process, so only global rank 0 writes; every other rank returns nil
// without touching the disk. Restricting the writer avoids redundant I/O
// without any sharding complexity.
func SaveLRScheduler(sched StateHolder, coord parallel.Coordinate, rootFolder string) error {
	if coord.GlobalRank() > 0 {
		if klog.V(2).Enabled() {
			klog.Infof("lr scheduler state is saved by global rank 0 only, %s skips the write", coord)
		}
		return nil
	}

	dir := filepath.Join(rootFolder, LRSchedulerDirName)
	if err := os.MkdirAll(dir, DirPermMode); err != nil {
		return errors.Wrapf(err, "failed to create lr scheduler checkpoint directory %q", dir)
	}
	state, err := sched.StateDict()
	if err != nil {
		return errors.WithMessage(err, "failed to materialize lr scheduler state")
	}
	path := filepath.Join(dir, LRSchedulerFileName())
	if err = writeStateFile(path, state); err != nil {
		return err
	}
	if klog.V(1).Enabled() {
		klog.Infof("saved lr scheduler state %q", path)
	}
	return nil
}

// LoadLRScheduler reads the scheduler state from rootFolder and hands it to
// sched.LoadStateDict. Any process may call it; all of them resolve the same
// well-known file. If the file is absent the error wraps ErrShardNotFound.
func LoadLRScheduler(sched StateHolder, rootFolder string) error {
	path := filepath.Join(rootFolder, LRSchedulerDirName, LRSchedulerFileName())
	state, err := readStateFile(path, statedict.CPU)
	if err != nil {
		return errors.WithMessage(err, "failed to load lr scheduler state")
	}
	return sched.LoadStateDict(state)
}
