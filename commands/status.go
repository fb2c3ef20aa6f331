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
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ystia/slurmsweep/helper/tabutil"
	"github.com/ystia/slurmsweep/log"
	"github.com/ystia/slurmsweep/slurm"
	"github.com/ystia/slurmsweep/storage"
)

// StateUnknown is the state of submissions the scheduler does not know anymore
const StateUnknown = "UNKNOWN"

func init() {
	var refresh bool
	var statusCmd = &cobra.Command{
		Use:   "status [submission-id]",
		Short: "Show submissions or the tasks of a submission",
		Long: `Without argument, list recorded submissions. Given a submission id (or a unique prefix of it), show the state of each of its tasks.
Non terminal states are refreshed from the scheduler.`,
		Aliases: []string{"st"},
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			if len(args) == 0 {
				return a.listSubmissions(ctx, refresh)
			}
			return a.showSubmission(ctx, args[0], refresh)
		},
	}
	statusCmd.Flags().BoolVar(&refresh, "refresh", true, "Refresh states from the scheduler")
	RootCmd.AddCommand(statusCmd)

	var noLogs bool
	var watchCmd = &cobra.Command{
		Use:   "watch <submission-id>",
		Short: "Follow a submission until all its tasks end",
		Long:  `Print task state changes and new output lines of a submission until every task is terminal.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			records, err := a.getRecords()
			if err != nil {
				return err
			}
			sub, err := records.Load(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return a.watchAll(ctx, []*storage.Submission{sub}, !noLogs)
		},
	}
	watchCmd.Flags().BoolVar(&noLogs, "no-logs", false, "Only print state changes")
	RootCmd.AddCommand(watchCmd)
}

// overallState summarizes the states of the tasks of a submission
func overallState(taskStates map[int]string) string {
	if len(taskStates) == 0 {
		return ""
	}
	counts := make(map[slurm.Status]int)
	states := make(map[string]int)
	for _, s := range taskStates {
		counts[slurm.Classify(s)]++
		states[s]++
	}
	if len(states) == 1 {
		for s := range states {
			return s
		}
	}
	switch {
	case states["RUNNING"] > 0:
		return "RUNNING"
	case counts[slurm.StatusActive] > 0:
		return "PENDING"
	case counts[slurm.StatusFailed] > 0:
		return "FAILED"
	}
	return "COMPLETED"
}

// applyTaskStates updates a submission with task states, it returns the indices whose state changed
func applyTaskStates(sub *storage.Submission, states []slurm.TaskState) []int {
	if sub.TaskStates == nil {
		sub.TaskStates = make(map[int]string)
	}
	var changed []int
	for _, ts := range states {
		if ts.Index == 0 {
			continue
		}
		if sub.TaskStates[ts.Index] != ts.State {
			changed = append(changed, ts.Index)
			sub.TaskStates[ts.Index] = ts.State
		}
	}
	sub.LastState = overallState(sub.TaskStates)
	sub.UpdatedAt = time.Now().UTC()
	return changed
}

func isTerminal(sub *storage.Submission) bool {
	if sub.LastState == StateUnknown {
		return true
	}
	for _, s := range sub.TaskStates {
		if slurm.Classify(s) == slurm.StatusActive {
			return false
		}
	}
	return len(sub.TaskStates) > 0
}

// queryTaskStates queries the scheduler for the tasks of a submission and updates the record in memory
func (a *app) queryTaskStates(sub *storage.Submission) ([]slurm.TaskState, error) {
	client, err := a.getClient()
	if err != nil {
		return nil, err
	}
	infos, err := slurm.GetJobInfo(client, a.cmds, sub.JobID)
	if err != nil {
		if !slurm.IsNoJobFoundError(err) {
			return nil, err
		}
		log.Debugf("Job %q of submission %q is not known anymore by the scheduler", sub.JobID, sub.ID)
		sub.LastState = StateUnknown
		sub.UpdatedAt = time.Now().UTC()
		return nil, nil
	}
	states, err := slurm.TaskStates(infos)
	if err != nil {
		return nil, err
	}
	applyTaskStates(sub, states)
	return states, nil
}

// refresh queries the scheduler for the tasks of a submission and saves the updated record
func (a *app) refresh(ctx context.Context, sub *storage.Submission) ([]slurm.TaskState, error) {
	records, err := a.getRecords()
	if err != nil {
		return nil, err
	}
	states, err := a.queryTaskStates(sub)
	if err != nil {
		return nil, err
	}
	return states, records.Save(ctx, sub)
}

func (a *app) listSubmissions(ctx context.Context, refresh bool) error {
	records, err := a.getRecords()
	if err != nil {
		return err
	}
	subs, err := records.List()
	if err != nil {
		return err
	}
	if refresh {
		var g errgroup.Group
		var mu sync.Mutex
		var refreshed []*storage.Submission
		for _, sub := range subs {
			sub := sub
			if isTerminal(sub) {
				continue
			}
			g.Go(func() error {
				if _, err := a.queryTaskStates(sub); err != nil {
					return errors.Wrapf(err, "failed to refresh submission %q", sub.ShortID())
				}
				mu.Lock()
				refreshed = append(refreshed, sub)
				mu.Unlock()
				return nil
			})
		}
		if err = g.Wait(); err != nil {
			return err
		}
		if err = records.SaveAll(ctx, refreshed...); err != nil {
			return err
		}
	}

	table := tabutil.NewTable()
	table.AddHeaders("ID", "Sweep", "Job ID", "Array", "State", "Submitted", "Host")
	for _, sub := range subs {
		table.AddRow(sub.ShortID(), sub.Sweep, sub.JobID, sub.ArraySpec, a.coloredState(sub.LastState), humanize.Time(sub.SubmittedAt), sub.Host)
	}
	if table.Len() == 0 {
		fmt.Fprintln(a.out, "No submissions")
		return nil
	}
	fmt.Fprintln(a.out, "Submissions:")
	fmt.Fprintln(a.out, table.Render())
	return nil
}

func (a *app) showSubmission(ctx context.Context, id string, refresh bool) error {
	records, err := a.getRecords()
	if err != nil {
		return err
	}
	sub, err := records.Load(id)
	if err != nil {
		return err
	}
	var states []slurm.TaskState
	if refresh && !isTerminal(sub) {
		states, err = a.refresh(ctx, sub)
		if err != nil {
			return err
		}
	}
	current := make(map[int]slurm.TaskState, len(states))
	for _, ts := range states {
		current[ts.Index] = ts
	}

	fmt.Fprintf(a.out, "Submission: %s\n", sub.ID)
	fmt.Fprintf(a.out, "Sweep: %s\n", sub.Sweep)
	fmt.Fprintf(a.out, "Job: %s on %s\n", sub.JobID, sub.Host)
	fmt.Fprintf(a.out, "State: %s\n", a.coloredState(sub.LastState))
	fmt.Fprintf(a.out, "Submitted: %s\n", humanize.Time(sub.SubmittedAt))
	fmt.Fprintf(a.out, "Script: %s\n", sub.ScriptPath)

	var selections map[int]string
	if s, err := a.catalog.Get(sub.Sweep); err == nil {
		if sels, err := s.ResolveAll(); err == nil {
			selections = make(map[int]string, len(sels))
			for _, sel := range sels {
				selections[sel.Index] = sel.Path
			}
		}
	}

	indices := make([]int, 0, len(sub.TaskStates))
	for i := range sub.TaskStates {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	table := tabutil.NewTable()
	table.AddHeaders("Index", "Config", "State", "Reason", "Run time", "Output")
	for _, i := range indices {
		ts, ok := current[i]
		if !ok {
			ts = slurm.TaskState{Index: i, State: sub.TaskStates[i]}
		}
		out := taskPath(sub, ts.OutputPath(sub.OutputPattern, sub.JobName, sub.JobID))
		table.AddRow(i, selections[i], a.coloredState(ts.State), ts.Reason, ts.RunTime, out)
	}
	fmt.Fprintln(a.out, table.Render())
	return nil
}

// watchAll follows submissions concurrently until they are all terminal
func (a *app) watchAll(ctx context.Context, subs []*storage.Submission, withLogs bool) error {
	var mu sync.Mutex
	var g errgroup.Group
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			return a.watch(ctx, sub, withLogs, &mu)
		})
	}
	return g.Wait()
}

// watch monitors a submission, printing state changes and new output lines
func (a *app) watch(ctx context.Context, sub *storage.Submission, withLogs bool, mu *sync.Mutex) error {
	client, err := a.getClient()
	if err != nil {
		return err
	}
	records, err := a.getRecords()
	if err != nil {
		return err
	}
	if sub.LogOffsets == nil {
		sub.LogOffsets = make(map[string]int)
	}
	prefix := sub.ShortID() + " "
	if a.colorize {
		prefix = color.New(color.Bold).SprintFunc()(sub.ShortID()) + " "
	}
	fmt.Fprintf(a.out, "%sWatching job %s of sweep %s\n", prefix, sub.JobID, sub.Sweep)

	handler := func(states []slurm.TaskState) error {
		previous := make(map[int]string, len(sub.TaskStates))
		for i, s := range sub.TaskStates {
			previous[i] = s
		}
		changed := applyTaskStates(sub, states)

		var sb strings.Builder
		for _, i := range changed {
			fmt.Fprintf(&sb, "%s%s %s -> %s\n", prefix, a.taskLabel(i), previous[i], a.coloredState(sub.TaskStates[i]))
		}
		if withLogs {
			for _, ts := range states {
				if ts.Index == 0 || ts.State == "PENDING" {
					continue
				}
				p := taskPath(sub, ts.OutputPath(sub.OutputPattern, sub.JobName, sub.JobID))
				lines, offset, err := slurm.TailLog(client, p, sub.LogOffsets[p])
				if err != nil {
					log.Printf("Failed to read output of task %d: %v", ts.Index, err)
					continue
				}
				sub.LogOffsets[p] = offset
				for _, line := range strings.SplitAfter(lines, "\n") {
					if line != "" {
						fmt.Fprintf(&sb, "%s%s %s", prefix, a.taskLabel(ts.Index), line)
					}
				}
			}
		}
		mu.Lock()
		fmt.Fprint(a.out, sb.String())
		mu.Unlock()
		return records.Save(ctx, sub)
	}

	err = slurm.Monitor(ctx, client, a.cmds, sub.JobID, a.monitoringInterval(), handler)
	if slurm.IsNoJobFoundError(err) {
		sub.LastState = StateUnknown
		sub.UpdatedAt = time.Now().UTC()
		if saveErr := records.Save(context.Background(), sub); saveErr != nil {
			log.Printf("Failed to save submission %q: %v", sub.ID, saveErr)
		}
		return errors.Errorf("job %s of submission %s is not known by the scheduler", sub.JobID, sub.ShortID())
	}
	if _, ok := err.(*slurm.TasksFailedError); err != nil && !ok {
		return err
	}
	mu.Lock()
	fmt.Fprintf(a.out, "%sJob %s ended: %s\n", prefix, sub.JobID, a.coloredState(sub.LastState))
	mu.Unlock()
	return err
}
