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

// Package slurm renders sweep batch scripts and drives the Slurm client commands
// (sbatch, scontrol, sacct, scancel) locally or through SSH.
package slurm

import (
	"github.com/ystia/slurmsweep/config"
)

// Commands holds the Slurm client programs used to drive the scheduler
type Commands struct {
	Sbatch   string
	Scontrol string
	Scancel  string
	Sacct    string
}

// DefaultCommands returns commands expected to be found in the PATH
func DefaultCommands() Commands {
	return Commands{
		Sbatch:   "sbatch",
		Scontrol: "scontrol",
		Scancel:  "scancel",
		Sacct:    "sacct",
	}
}

// CommandsFromConfig reads the *_path keys of the slurm configuration section
func CommandsFromConfig(slurmCfg config.DynamicMap) Commands {
	d := DefaultCommands()
	return Commands{
		Sbatch:   slurmCfg.GetStringOrDefault("sbatch_path", d.Sbatch),
		Scontrol: slurmCfg.GetStringOrDefault("scontrol_path", d.Scontrol),
		Scancel:  slurmCfg.GetStringOrDefault("scancel_path", d.Scancel),
		Sacct:    slurmCfg.GetStringOrDefault("sacct_path", d.Sacct),
	}
}
