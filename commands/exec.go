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

package commands

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ystia/slurmsweep/launcher"
	"github.com/ystia/slurmsweep/log"
)

var exit = os.Exit

func init() {
	var dryRun bool
	var gracePeriod time.Duration
	var execCmd = &cobra.Command{
		Use:   "exec <sweep> [index]",
		Short: "Run the trainer of an array task",
		Long: `Resolve the array task index to its seed or configuration and run the sweep trainer with it.
This is meant to be called from a batch script, the index then defaults to SLURM_ARRAY_TASK_ID.
The trainer exit code is returned and SIGTERM sent by Slurm is forwarded to the trainer process group.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			s, err := a.catalog.Get(args[0])
			if err != nil {
				return err
			}
			index, err := indexFromArgs(args)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			err = launcher.Run(ctx, s, index, launcher.Options{
				Stdout:      cmd.OutOrStdout(),
				Stderr:      cmd.OutOrStderr(),
				DryRun:      dryRun,
				GracePeriod: gracePeriod,
			})
			if code, ok := launcher.IsExitError(err); ok {
				log.Printf("Trainer of sweep %q task %d exited with code %d", s.Name, index, code)
				exit(code)
			}
			return err
		},
	}
	execCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the trainer command and environment instead of running it")
	execCmd.Flags().DurationVar(&gracePeriod, "grace-period", 0, "Delay given to the trainer to exit after SIGTERM before it is killed (default 30s)")
	RootCmd.AddCommand(execCmd)
}
