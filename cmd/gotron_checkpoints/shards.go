// Copyright 2024-2026 The GoTron Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/gotron-ml/gotron/pkg/core/parallel"
	"github.com/gotron-ml/gotron/pkg/core/statedict"
	"github.com/gotron-ml/gotron/pkg/serialize"
	"github.com/gotron-ml/gotron/pkg/support/sets"
)

// shardFile is one shard payload found on disk.
type shardFile struct {
	// relPath is the path relative to the checkpoint root, e.g.
	// "optimizer/optimizer_pp-0-of-2_tp-0-of-2.pt".
	relPath string
	size    int64
	info    serialize.ShardInfo
	parseOK bool
}

// listShards scans the optimizer and scheduler sub-directories for shard
// payload files. Unparseable .pt names are reported, not skipped.
func listShards(checkpointPath string) ([]shardFile, error) {
	var shards []shardFile
	for _, dir := range []string{serialize.OptimizerDirName, serialize.LRSchedulerDirName} {
		entries, err := os.ReadDir(filepath.Join(checkpointPath, dir))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "failed to list checkpoint sub-directory %q", dir)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), serialize.ShardSuffix) {
				continue
			}
			fileInfo, err := entry.Info()
			if err != nil {
				return nil, errors.Wrapf(err, "failed to stat %q", entry.Name())
			}
			shard := shardFile{
				relPath: filepath.Join(dir, entry.Name()),
				size:    fileInfo.Size(),
			}
			if shard.info, err = serialize.ParseShardName(entry.Name()); err == nil {
				shard.parseOK = true
			}
			shards = append(shards, shard)
		}
	}
	slices.SortFunc(shards, func(a, b shardFile) int {
		return strings.Compare(a.relPath, b.relPath)
	})
	return shards, nil
}

func printShards(shards []shardFile) {
	fmt.Println(titleStyle.Render("Shards"))
	if len(shards) == 0 {
		fmt.Println("No shard files found.")
		return
	}
	table := newPlainTable(true)
	table.Row("File", "Kind", "Mode", "PP", "DP", "TP", "Size")
	for _, shard := range shards {
		if !shard.parseOK {
			table.Row(shard.relPath, "(unrecognized name)", "", "", "", "", humanize.Bytes(uint64(shard.size)))
			continue
		}
		info := shard.info
		pp, dp, tp := "-", "-", "-"
		if info.Kind == serialize.ObjectOptimizer {
			pp = fmt.Sprintf("%d/%d", info.PipelineRank, info.PipelineSize)
			dp = fmt.Sprintf("%d/%d", info.DataRank, info.DataSize)
			if info.Mode == serialize.Sharded {
				tp = fmt.Sprintf("%d/%d", info.TensorRank, info.TensorSize)
			}
		}
		table.Row(shard.relPath, info.Kind.String(), info.Mode.String(),
			pp, dp, tp, humanize.Bytes(uint64(shard.size)))
	}
	fmt.Println(table.Render())
}

// verifyShards decodes every shard payload, reporting the ones that fail.
func verifyShards(checkpointPath string, shards []shardFile) {
	fmt.Println(titleStyle.Render("Verify"))
	bar := progressbar.Default(int64(len(shards)), "decoding shards")
	broken := 0
	for _, shard := range shards {
		if err := decodeShard(filepath.Join(checkpointPath, shard.relPath)); err != nil {
			broken++
			klog.Errorf("Shard %q failed to decode: %v", shard.relPath, err)
		}
		must.M(bar.Add(1))
	}
	must.M(bar.Finish())
	if broken > 0 {
		fmt.Printf("%d of %d shards failed to decode.\n", broken, len(shards))
		os.Exit(1)
	}
	fmt.Printf("All %d shards decoded cleanly.\n", len(shards))
}

func decodeShard(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()
	_, err = statedict.Read(file, statedict.CPU)
	return err
}

// printMissing diffs the on-disk shard files against the full set the
// topology implies. The optimizer replication mode is inferred from the
// file names present; with no optimizer shards at all, both modes are
// reported.
func printMissing(checkpointPath string, topo parallel.Topology) {
	present := sets.Make[string]()
	shards := must.M1(listShards(checkpointPath))
	modes := sets.Make[serialize.ReplicationMode]()
	for _, shard := range shards {
		present.Insert(shard.relPath)
		if shard.parseOK && shard.info.Kind == serialize.ObjectOptimizer {
			modes.Insert(shard.info.Mode)
		}
	}
	if len(modes) == 0 {
		modes = sets.MakeWith(serialize.Replicated, serialize.Sharded)
	}

	fmt.Println(titleStyle.Render("Completeness"))
	table := newPlainTable(true)
	table.Row("Mode", "Expected", "Present", "Missing")
	missingAny := false
	for mode := range modes {
		expected := sets.MakeWith(serialize.ExpectedShardNames(topo, mode)...)
		missing := sets.SortedStrings(expected.Sub(present))
		missingAny = missingAny || len(missing) > 0
		table.Row(mode.String(),
			humanize.Comma(int64(len(expected))),
			humanize.Comma(int64(len(expected)-len(missing))),
			strings.Join(missing, "\n"))
	}
	fmt.Println(table.Render())
	if missingAny {
		os.Exit(1)
	}
}
