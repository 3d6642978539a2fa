// Copyright 2024-2026 The GoTron Authors. SPDX-License-Identifier: Apache-2.0

package parallel

import (
	"os"

	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
)

// topologyConfig is the YAML layout of the `parallelism` section of a
// training config file.
type topologyConfig struct {
	Parallelism struct {
		DP int `yaml:"dp"`
		TP int `yaml:"tp"`
		PP int `yaml:"pp"`
	} `yaml:"parallelism"`
}

// LoadTopology reads the topology from the `parallelism` section of a YAML
// training config file:
//
//	parallelism:
//	  dp: 2
//	  tp: 1
//	  pp: 2
//
// Missing axes default to 1.
func LoadTopology(path string) (Topology, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return Topology{}, errors.Wrapf(err, "failed to read topology config %q", path)
	}
	return ParseTopology(contents)
}

// ParseTopology parses the `parallelism` section of YAML config contents.
// See LoadTopology.
func ParseTopology(contents []byte) (Topology, error) {
	var cfg topologyConfig
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return Topology{}, errors.Wrap(err, "failed to parse topology config")
	}
	p := cfg.Parallelism
	if p.DP == 0 {
		p.DP = 1
	}
	if p.TP == 0 {
		p.TP = 1
	}
	if p.PP == 0 {
		p.PP = 1
	}
	return NewTopology(p.DP, p.TP, p.PP)
}
