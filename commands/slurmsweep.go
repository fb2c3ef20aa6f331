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

// Package commands implements the slurmsweep command line interface.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ystia/slurmsweep/helper/metricsutil"
	"github.com/ystia/slurmsweep/log"
)

func init() {
	// Assigned here rather than in the RootCmd literal to avoid an initialization cycle
	// (getConfig reads RootCmd's persistent flags).
	RootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, err := metricsutil.SetupTelemetry(cfg); err != nil {
			return err
		}
		log.Debugf("Configuration: working directory %q, store %q, remote %t", cfg.WorkingDirectory, cfg.Store, cfg.IsRemote())
		return nil
	}
	setConfig()
	cobra.OnInitialize(initConfig)
}

var cfgFile string

var noColor bool

// RootCmd is the slurmsweep root command
var RootCmd = &cobra.Command{
	Use:   "slurmsweep",
	Short: "Slurm array jobs for training sweeps",
	Long: `slurmsweep renders, submits and follows Slurm array jobs running a training script
once per seed or configuration file of a sweep.

Inside a running array task, "slurmsweep exec" resolves the task index to its seed or
configuration and runs the trainer.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	Run: func(cmd *cobra.Command, args []string) {
		err := cmd.Help()
		if err != nil {
			fmt.Print(err)
		}
	},
}
