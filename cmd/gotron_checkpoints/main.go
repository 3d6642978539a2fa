// Copyright 2024-2026 The GoTron Authors. SPDX-License-Identifier: Apache-2.0

// gotron_checkpoints inspects a training checkpoint directory: the shard
// files present, the topology they were written under, and whether the set
// is complete and decodable.
//
// Usage:
//
//	gotron_checkpoints -shards [-verify] [-topology 2,1,4] <checkpoint-dir>
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/gotron-ml/gotron/pkg/core/parallel"
	"github.com/gotron-ml/gotron/pkg/serialize"
	"github.com/gotron-ml/gotron/pkg/support/fsutil"
)

var (
	flagShards   = flag.Bool("shards", false, "Lists the optimizer and scheduler shard files with their parsed coordinates.")
	flagVerify   = flag.Bool("verify", false, "Decodes every shard file to check it is readable. Implies -shards.")
	flagTopology = flag.String("topology", "", "Expected topology as dp,tp,pp (e.g. 2,1,4). "+
		"When given, reports shards that are missing for that topology. "+
		"Defaults to the topology recorded in the checkpoint metadata, if any.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing checkpoint directory to read from. See 'gotron_checkpoints -help'.")
		os.Exit(1)
	}
	if len(args) > 1 {
		klog.Errorf("Too many arguments. See 'gotron_checkpoints -help'.")
		os.Exit(1)
	}
	checkpointPath := fsutil.MustReplaceTildeInDir(args[0])
	if exists := must.M1(fsutil.FileExists(checkpointPath)); !exists {
		klog.Exitf("Checkpoint directory %q does not exist.", checkpointPath)
	}
	report(checkpointPath)
}

func report(checkpointPath string) {
	printMetadata(checkpointPath)
	if *flagShards || *flagVerify {
		shards := must.M1(listShards(checkpointPath))
		printShards(shards)
		if *flagVerify {
			verifyShards(checkpointPath, shards)
		}
	}
	if topo, found := expectedTopology(checkpointPath); found {
		printMissing(checkpointPath, topo)
	}
}

// printMetadata renders the checkpoint metadata, if present.
func printMetadata(checkpointPath string) {
	fmt.Println(titleStyle.Render("Checkpoint"))
	table := newPlainTable(false)
	table.Row("directory", checkpointPath)
	metadata, err := serialize.ReadMetadata(checkpointPath)
	if err != nil {
		table.Row("metadata", "(none)")
		fmt.Println(table.Render())
		return
	}
	table.Row("version", metadata.Version)
	table.Row("id", metadata.ID)
	table.Row("created", metadata.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	table.Row("topology", fmt.Sprintf("dp=%d tp=%d pp=%d",
		metadata.Parallelism.DP, metadata.Parallelism.TP, metadata.Parallelism.PP))
	fmt.Println(table.Render())
}

// expectedTopology resolves the topology to check completeness against:
// the -topology flag wins, otherwise the metadata file.
func expectedTopology(checkpointPath string) (parallel.Topology, bool) {
	if *flagTopology != "" {
		parts := strings.Split(*flagTopology, ",")
		if len(parts) != 3 {
			klog.Exitf("-topology must be dp,tp,pp, got %q", *flagTopology)
		}
		dims := make([]int, 3)
		for ii, part := range parts {
			dims[ii] = must.M1(strconv.Atoi(strings.TrimSpace(part)))
		}
		return must.M1(parallel.NewTopology(dims[0], dims[1], dims[2])), true
	}
	metadata, err := serialize.ReadMetadata(checkpointPath)
	if err != nil {
		return parallel.Topology{}, false
	}
	topo, err := metadata.Topology()
	if err != nil {
		klog.Exitf("Checkpoint metadata holds an invalid topology: %v", err)
	}
	return topo, true
}
