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
	"os"
	"path"
	"strings"
	"time"

	"github.com/armon/go-metrics"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ystia/slurmsweep/config"
	"github.com/ystia/slurmsweep/helper/metricsutil"
	"github.com/ystia/slurmsweep/helper/tabutil"
	"github.com/ystia/slurmsweep/log"
	"github.com/ystia/slurmsweep/slurm"
	"github.com/ystia/slurmsweep/storage"
	"github.com/ystia/slurmsweep/sweeps"
)

type submitOptions struct {
	indices     string
	dryRun      bool
	yes         bool
	watch       bool
	useLauncher bool
	sbatchArgs  []string
}

func init() {
	var opts submitOptions
	var submitCmd = &cobra.Command{
		Use:   "submit <sweep>...",
		Short: "Submit sweeps as Slurm array jobs",
		Long: `Render the batch script of each given sweep, stage it on the submission host and submit it with sbatch.
Sweeps are submitted concurrently and each submission is recorded to be followed with the status, watch, logs and cancel commands.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			subs, err := a.submit(ctx, args, opts)
			if err != nil || !opts.watch || len(subs) == 0 {
				return err
			}
			return a.watchAll(ctx, subs, true)
		},
	}
	submitCmd.Flags().StringVarP(&opts.indices, "indices", "i", "", `Array indices to run (ie "1-3,5" or "1-5%2"), all by default. Only allowed with a single sweep`)
	submitCmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Print the batch scripts without submitting them")
	submitCmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Do not ask for confirmation")
	submitCmd.Flags().BoolVar(&opts.watch, "watch", false, "Watch submitted jobs until they end")
	submitCmd.Flags().BoolVar(&opts.useLauncher, "launcher", false, `Submit scripts delegating the selection to "slurmsweep exec"`)
	submitCmd.Flags().StringSliceVar(&opts.sbatchArgs, "sbatch-arg", nil, "Additional sbatch option, may be repeated (ie --sbatch-arg=--qos=debug)")
	RootCmd.AddCommand(submitCmd)
}

// submission is the planned submission of a sweep
type submission struct {
	sweep  *sweeps.Sweep
	opts   slurm.RenderOptions
	script string
	array  string
}

func (a *app) planSubmissions(names []string, opts submitOptions) ([]*submission, error) {
	if opts.indices != "" && len(names) > 1 {
		return nil, errors.New("indices can only be given when submitting a single sweep")
	}
	var errs *multierror.Error
	var plans []*submission
	for _, name := range names {
		s, err := a.catalog.Get(name)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		ro, err := a.renderOptions(s, opts.indices)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		array, err := slurm.ArraySpec(s, ro)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		plans = append(plans, &submission{sweep: s, opts: ro, array: array})
	}
	return plans, errs.ErrorOrNil()
}

func (a *app) submit(ctx context.Context, names []string, opts submitOptions) ([]*storage.Submission, error) {
	plans, err := a.planSubmissions(names, opts)
	if err != nil {
		return nil, err
	}

	if opts.dryRun {
		for _, p := range plans {
			script, err := a.renderScript(p, opts.useLauncher)
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(a.out, "# Sweep %s (array %s)\n%s\n", p.sweep.Name, p.array, script)
		}
		return nil, nil
	}

	if !opts.yes {
		table := tabutil.NewTable()
		table.AddHeaders("Sweep", "Array", "Partition", "Time", "GPUs")
		for _, p := range plans {
			table.AddRow(p.sweep.Name, p.array, p.sweep.Job.Partition, p.sweep.Job.Time, p.sweep.Job.GPUs)
		}
		fmt.Fprintf(a.out, "Submitting on %s:\n%s\n", a.host(), table.Render())
		ok, err := a.confirm(fmt.Sprintf("Submit %d sweep(s)?", len(plans)))
		if err != nil {
			return nil, err
		}
		if !ok {
			fmt.Fprintln(a.out, "Submission aborted")
			return nil, nil
		}
	}

	subs := make([]*storage.Submission, len(plans))
	failures := make([]error, len(plans))
	var g errgroup.Group
	for i, p := range plans {
		i, p := i, p
		g.Go(func() error {
			sub, err := a.submitSweep(ctx, p, opts)
			if err != nil {
				metrics.IncrCounter(metricsutil.SweepKey(p.sweep.Name, []string{"submission_failures"}), 1)
				failures[i] = errors.Wrapf(err, "sweep %q", p.sweep.Name)
				return nil
			}
			metrics.IncrCounter(metricsutil.SweepKey(p.sweep.Name, []string{"submissions"}), 1)
			subs[i] = sub
			return nil
		})
	}
	g.Wait()

	var errs *multierror.Error
	var submitted []*storage.Submission
	table := tabutil.NewTable()
	table.AddHeaders("ID", "Sweep", "Job ID", "Array", "Script")
	for i := range plans {
		if failures[i] != nil {
			errs = multierror.Append(errs, failures[i])
			continue
		}
		sub := subs[i]
		submitted = append(submitted, sub)
		table.AddRow(sub.ShortID(), sub.Sweep, sub.JobID, sub.ArraySpec, sub.ScriptPath)
	}
	if len(submitted) > 0 {
		fmt.Fprintln(a.out, "Submitted:")
		fmt.Fprintln(a.out, table.Render())
	}
	return submitted, errs.ErrorOrNil()
}

func (a *app) renderScript(p *submission, useLauncher bool) (string, error) {
	if useLauncher {
		return slurm.RenderLauncher(p.sweep, p.opts)
	}
	return slurm.Render(p.sweep, p.opts)
}

// submitSweep stages and submits the script of a planned submission then records it
func (a *app) submitSweep(ctx context.Context, p *submission, opts submitOptions) (*storage.Submission, error) {
	client, err := a.getClient()
	if err != nil {
		return nil, err
	}
	records, err := a.getRecords()
	if err != nil {
		return nil, err
	}
	baseDir, err := a.remoteDir()
	if err != nil {
		return nil, err
	}
	dir := path.Join(baseDir, slurm.StagingDirName(p.sweep.Name))
	workDir, err := a.projectDir()
	if err != nil {
		return nil, err
	}
	if workDir == "" {
		if p.sweep.Trainer.WorkDir == "" && !path.IsAbs(p.sweep.Trainer.EntryPoint) {
			return nil, errors.Errorf("entry point %q is relative to the project directory, set slurm.project_dir or the trainer work_dir", p.sweep.Trainer.EntryPoint)
		}
		workDir = dir
	}

	if opts.useLauncher && a.cfg.SweepsFile != "" {
		// the launcher reads sweeps definitions on the execution node
		f, err := os.Open(a.cfg.SweepsFile)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open sweeps file %q", a.cfg.SweepsFile)
		}
		stagedFile := path.Join(dir, "sweeps.yaml")
		err = client.CopyFile(f, stagedFile, "0640")
		f.Close()
		if err != nil {
			return nil, err
		}
		p.opts.SweepsFile = stagedFile
	}
	script, err := a.renderScript(p, opts.useLauncher)
	if err != nil {
		return nil, err
	}
	scriptPath, err := slurm.Stage(client, dir, workDir, p.sweep.Job, script)
	if err != nil {
		return nil, err
	}

	retries := a.cfg.Slurm.GetIntOrDefault("submit_retries", config.DefaultSubmitRetries)
	if retries == 0 {
		retries = -1
	}
	jobID, err := slurm.Submit(ctx, client, scriptPath, slurm.SubmitOptions{
		Commands: a.cmds,
		Options:  a.sbatchOptions(opts.sbatchArgs),
		Retries:  retries,
		WorkDir:  workDir,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Sweep %q submitted as job %s", p.sweep.Name, jobID)

	sub := storage.NewSubmission(p.sweep.Name)
	sub.JobName = p.sweep.JobName()
	sub.JobID = jobID
	sub.ArraySpec = p.array
	sub.Indices = p.opts.Indices
	if len(sub.Indices) == 0 {
		for i := 1; i <= p.sweep.Len(); i++ {
			sub.Indices = append(sub.Indices, i)
		}
	}
	sub.ScriptPath = scriptPath
	sub.RemoteDir = dir
	sub.WorkDir = workDir
	sub.Host = a.host()
	sub.OutputPattern = p.sweep.Job.Output
	sub.ErrorPattern = p.sweep.Job.Error
	sub.LastState = "PENDING"
	sub.UpdatedAt = time.Now().UTC()
	for _, i := range sub.Indices {
		sub.TaskStates[i] = "PENDING"
	}
	if err = records.Save(ctx, sub); err != nil {
		return nil, errors.Wrapf(err, "job %s submitted but its record could not be saved", jobID)
	}
	return sub, nil
}

// sbatchOptions returns the sbatch options of the configuration followed by the given ones
func (a *app) sbatchOptions(extra []string) []string {
	var opts []string
	for _, o := range a.cfg.Slurm.GetStringSlice("sbatch_options") {
		if o = strings.TrimSpace(o); o != "" {
			opts = append(opts, o)
		}
	}
	return append(opts, extra...)
}

func joinInts(ints []int) string {
	s := make([]string, len(ints))
	for i, v := range ints {
		s[i] = fmt.Sprint(v)
	}
	return strings.Join(s, ",")
}
