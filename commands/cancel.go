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
	"context"
	"fmt"

	"github.com/armon/go-metrics"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ystia/slurmsweep/helper/metricsutil"
	"github.com/ystia/slurmsweep/slurm"
	"github.com/ystia/slurmsweep/sweeps"
)

// StateCancelled is the state of cancelled tasks
const StateCancelled = "CANCELLED"

func init() {
	var indicesExpr string
	var yes bool
	var cancelCmd = &cobra.Command{
		Use:   "cancel <submission-id>",
		Short: "Cancel a submission or some of its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return a.cancel(ctx, args[0], indicesExpr, yes)
		},
	}
	cancelCmd.Flags().StringVarP(&indicesExpr, "indices", "i", "", `Array indices to cancel (ie "1-3,5"), the whole job by default`)
	cancelCmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	RootCmd.AddCommand(cancelCmd)
}

func (a *app) cancel(ctx context.Context, id, indicesExpr string, yes bool) error {
	records, err := a.getRecords()
	if err != nil {
		return err
	}
	sub, err := records.Load(id)
	if err != nil {
		return err
	}

	var indices []int
	if indicesExpr != "" {
		var max int
		for _, i := range sub.Indices {
			if i > max {
				max = i
			}
		}
		indices, _, err = sweeps.ParseArray(indicesExpr, max)
		if err != nil {
			return errors.Wrapf(err, "invalid indices for submission %s", sub.ShortID())
		}
		for _, i := range indices {
			if !hasIndex(sub, i) {
				return errors.Errorf("submission %s has no array task %d (array %s)", sub.ShortID(), i, sub.ArraySpec)
			}
		}
	}

	target := fmt.Sprintf("job %s", sub.JobID)
	if len(indices) > 0 {
		target = fmt.Sprintf("tasks %s of job %s", joinInts(indices), sub.JobID)
	}
	if !yes {
		ok, err := a.confirm(fmt.Sprintf("Cancel %s (sweep %s)?", target, sub.Sweep))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(a.out, "Cancellation aborted")
			return nil
		}
	}

	client, err := a.getClient()
	if err != nil {
		return err
	}
	if err = slurm.Cancel(client, a.cmds, sub.JobID, indices); err != nil {
		return err
	}
	metrics.IncrCounter(metricsutil.SweepKey(sub.Sweep, []string{"cancellations"}), 1)

	cancelled := indices
	if len(cancelled) == 0 {
		cancelled = sub.Indices
	}
	var states []slurm.TaskState
	for _, i := range cancelled {
		if s, ok := sub.TaskStates[i]; !ok || slurm.Classify(s) == slurm.StatusActive {
			states = append(states, slurm.TaskState{Index: i, State: StateCancelled})
		}
	}
	applyTaskStates(sub, states)
	if err = records.Save(ctx, sub); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Cancelled %s\n", target)
	return nil
}
