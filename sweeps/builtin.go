// Copyright 2019 Bull S.A.S. Atos Technologies - Bull, Rue Jean Jaures, B.P.68, 78340, Les Clayes-sous-Bois, France.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sweeps

import (
	"strings"

	"github.com/pkg/errors"
)

const builtinCatalog = `
sweeps:
  - name: simulation_simple
    description: Simple N-body simulation, one run per seed
    job:
      time: "48:00:00"
      nodes: 1
      ntasks: 1
      cpus_per_task: 8
      gpus: 1
      output: logs/%x_%A_%a.out
      error: logs/%x_%A_%a.err
    environment: &egno
      setup:
        - module load anaconda3
      manager: conda
      name: egno
    trainer:
      entry_point: main_simulation_simple_no.py
      config_flag: --config_by_file
    seeds: 1-5
    config_template: "configs/simulation/simple_seed{{.Seed}}.json"

  - name: md17_naphthalene
    description: MD17 naphthalene molecular dynamics
    job: &gpujob
      time: "48:00:00"
      nodes: 1
      ntasks: 1
      cpus_per_task: 8
      gpus: 1
      output: logs/%x_%A_%a.out
      error: logs/%x_%A_%a.err
    environment: *egno
    trainer:
      entry_point: main_md17_no.py
      config_flag: --config_by_file
    config_dir: configs/md17
    configs:
      - md17_naphthalene_seed1.json
      - md17_naphthalene_seed2.json
      - md17_naphthalene_seed3.json
      - md17_naphthalene_seed4.json
      - md17_naphthalene_seed5.json

  - name: md17_aspirin
    description: MD17 aspirin molecular dynamics
    job: *gpujob
    environment: *egno
    trainer:
      entry_point: main_md17_no.py
      config_flag: --config_by_file
    config_dir: configs/md17
    configs:
      - md17_aspirin_seed1.json
      - md17_aspirin_seed2.json
      - md17_aspirin_seed3.json
      - md17_aspirin_seed4.json
      - md17_aspirin_seed5.json

  - name: mocap_walk
    description: CMU motion capture, walking subject
    job: *gpujob
    environment: *egno
    trainer:
      entry_point: main_mocap_no.py
      config_flag: --config
    config_dir: configs/mocap
    configs:
      - mocap_walk_seed1.json
      - mocap_walk_seed2.json
      - mocap_walk_seed3.json
      - mocap_walk_seed4.json
      - mocap_walk_seed5.json

  - name: mocap_run
    description: CMU motion capture, running subject
    job: *gpujob
    environment: *egno
    trainer:
      entry_point: main_mocap_no.py
      config_flag: --config
    config_dir: configs/mocap
    configs:
      - mocap_run_seed1.json
      - mocap_run_seed2.json
      - mocap_run_seed3.json
      - mocap_run_seed4.json
      - mocap_run_seed5.json
`

// Builtin returns the catalog of sweeps shipped with slurmsweep
//
// A new catalog is decoded at each call so callers are free to modify it.
func Builtin() *Catalog {
	c, err := Load(strings.NewReader(builtinCatalog))
	if err != nil {
		panic(errors.Wrap(err, "invalid builtin sweeps catalog"))
	}
	return c
}
