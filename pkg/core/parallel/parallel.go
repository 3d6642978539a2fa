// Copyright 2024-2026 The GoTron Authors. SPDX-License-Identifier: Apache-2.0

// Package parallel defines the logical topology of a 3D-parallel training job
// (data-, tensor- and pipeline-parallelism) and the coordinate each process
// occupies in it.
//
// A Topology is built once, at process-group initialization, from the
// world sizes along each axis. A Coordinate is an immutable value carrying
// one process's rank along every axis; it is passed explicitly into every
// persistence call, so the serialization code never queries ambient global
// state and can be tested without real process groups.
//
// All lookups are local: ranks and world sizes are plain struct fields cached
// at group formation, there is no collective communication here.
package parallel

import (
	"fmt"
	"iter"

	. "github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Axis enumerates the parallelism axes of a training job.
type Axis int

const (
	// Data axis: replicas training on different data shards with synchronized gradients.
	Data Axis = iota

	// Tensor axis: a single layer's computation split across processes.
	Tensor

	// Pipeline axis: model layers split across processes in stages.
	Pipeline

	// Global axis: the flat process group containing every process.
	Global
)

// String implements the fmt.Stringer interface.
func (a Axis) String() string {
	switch a {
	case Data:
		return "data"
	case Tensor:
		return "tensor"
	case Pipeline:
		return "pipeline"
	case Global:
		return "global"
	default:
		return fmt.Sprintf("Axis(%d)", int(a))
	}
}

// Topology holds the world size along each parallelism axis.
// The total number of processes is the product of the three sizes.
type Topology struct {
	Data, Tensor, Pipeline int
}

// NewTopology creates a Topology with the given world sizes per axis.
// All sizes must be at least 1.
func NewTopology(dataSize, tensorSize, pipelineSize int) (Topology, error) {
	if dataSize < 1 || tensorSize < 1 || pipelineSize < 1 {
		return Topology{}, errors.Errorf(
			"topology world sizes must all be >= 1, got data=%d, tensor=%d, pipeline=%d",
			dataSize, tensorSize, pipelineSize)
	}
	return Topology{Data: dataSize, Tensor: tensorSize, Pipeline: pipelineSize}, nil
}

// WorldSize returns the number of processes along the given axis.
// The Global axis returns the total number of processes.
//
// It panics on an unknown axis: that is a programming error, not a runtime condition.
func (t Topology) WorldSize(axis Axis) int {
	switch axis {
	case Data:
		return t.Data
	case Tensor:
		return t.Tensor
	case Pipeline:
		return t.Pipeline
	case Global:
		return t.NumProcesses()
	default:
		Panicf("parallel.Topology.WorldSize: unknown axis %d", int(axis))
		return 0
	}
}

// NumProcesses returns the total number of processes in the topology.
func (t Topology) NumProcesses() int {
	return t.Data * t.Tensor * t.Pipeline
}

// Coordinate returns the coordinate of the process with the given per-axis ranks.
func (t Topology) Coordinate(dataRank, tensorRank, pipelineRank int) (Coordinate, error) {
	if dataRank < 0 || dataRank >= t.Data {
		return Coordinate{}, errors.Errorf("data rank %d out of range [0, %d)", dataRank, t.Data)
	}
	if tensorRank < 0 || tensorRank >= t.Tensor {
		return Coordinate{}, errors.Errorf("tensor rank %d out of range [0, %d)", tensorRank, t.Tensor)
	}
	if pipelineRank < 0 || pipelineRank >= t.Pipeline {
		return Coordinate{}, errors.Errorf("pipeline rank %d out of range [0, %d)", pipelineRank, t.Pipeline)
	}
	return Coordinate{
		Topology:     t,
		DataRank:     dataRank,
		TensorRank:   tensorRank,
		PipelineRank: pipelineRank,
	}, nil
}

// Coordinates iterates over the coordinates of every process in the topology,
// in global-rank order.
func (t Topology) Coordinates() iter.Seq[Coordinate] {
	return func(yield func(Coordinate) bool) {
		for pp := 0; pp < t.Pipeline; pp++ {
			for dp := 0; dp < t.Data; dp++ {
				for tp := 0; tp < t.Tensor; tp++ {
					coord := Coordinate{
						Topology:     t,
						DataRank:     dp,
						TensorRank:   tp,
						PipelineRank: pp,
					}
					if !yield(coord) {
						return
					}
				}
			}
		}
	}
}

// Coordinate is the immutable per-process position in a Topology: the rank
// this process holds along each of the three parallelism axes.
//
// It is derived once from process-group membership and never mutated.
type Coordinate struct {
	Topology

	DataRank, TensorRank, PipelineRank int
}

// Rank returns this process's rank along the given axis.
// The Global axis returns GlobalRank().
//
// It panics on an unknown axis: that is a programming error, not a runtime condition.
func (c Coordinate) Rank(axis Axis) int {
	switch axis {
	case Data:
		return c.DataRank
	case Tensor:
		return c.TensorRank
	case Pipeline:
		return c.PipelineRank
	case Global:
		return c.GlobalRank()
	default:
		Panicf("parallel.Coordinate.Rank: unknown axis %d", int(axis))
		return 0
	}
}

// GlobalRank flattens the coordinate into the global process rank:
// pipeline-major, then data, then tensor. The ordering matches Topology.Coordinates.
func (c Coordinate) GlobalRank() int {
	return (c.PipelineRank*c.Data+c.DataRank)*c.Tensor + c.TensorRank
}

// String implements the fmt.Stringer interface.
func (c Coordinate) String() string {
	return fmt.Sprintf("Coordinate(pp=%d/%d, dp=%d/%d, tp=%d/%d)",
		c.PipelineRank, c.Pipeline, c.DataRank, c.Data, c.TensorRank, c.Tensor)
}
