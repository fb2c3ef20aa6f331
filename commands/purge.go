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
)

func init() {
	var force, yes bool
	var purgeCmd = &cobra.Command{
		Use:   "purge <submission-id>",
		Short: "Purge a submission record",
		Long: `Purge the record of a submission <submission-id>. All its tasks should be ended,
its state is refreshed from the scheduler before checking it.

A purge may be run in force mode. In this mode the record is removed whatever the state of its tasks,
tasks still running are not cancelled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return a.purge(ctx, args[0], force, yes)
		},
	}
	purgeCmd.Flags().BoolVarP(&force, "force", "f", false, "Purge the submission even if some of its tasks are still pending or running")
	purgeCmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	RootCmd.AddCommand(purgeCmd)
}

func (a *app) purge(ctx context.Context, id string, force, yes bool) error {
	records, err := a.getRecords()
	if err != nil {
		return err
	}
	sub, err := records.Load(id)
	if err != nil {
		return err
	}
	if !force && !isTerminal(sub) {
		if _, err = a.refresh(ctx, sub); err != nil {
			return errors.Wrapf(err, "failed to refresh submission %s, use --force to purge it anyway", sub.ShortID())
		}
		if !isTerminal(sub) {
			return errors.Errorf("submission %s is still %s, cancel it or use --force", sub.ShortID(), sub.LastState)
		}
	}

	if !yes {
		ok, err := a.confirm(fmt.Sprintf("Purge submission %s (sweep %s, job %s)?", sub.ShortID(), sub.Sweep, sub.JobID))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(a.out, "Purge aborted")
			return nil
		}
	}
	if err = records.Remove(ctx, sub.ID); err != nil {
		return err
	}
	metrics.IncrCounter(metricsutil.SweepKey(sub.Sweep, []string{"purges"}), 1)
	fmt.Fprintf(a.out, "Purged submission %s\n", sub.ShortID())
	return nil
}
