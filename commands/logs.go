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
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ystia/slurmsweep/log"
	"github.com/ystia/slurmsweep/slurm"
	"github.com/ystia/slurmsweep/storage"
)

func init() {
	var follow, stderr bool
	var logsCmd = &cobra.Command{
		Use:     "logs <submission-id> <index>",
		Aliases: []string{"log"},
		Short:   "Print the output of an array task",
		Long: `Print the output file of an array task of a submission.
With --follow, new lines are printed until the task ends. Local files are followed using file system notifications, remote ones are polled.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return errors.Errorf("invalid array index %q", args[1])
			}
			a, err := newApp(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return a.logs(ctx, args[0], index, stderr, follow)
		},
	}
	logsCmd.Flags().BoolVarP(&follow, "follow", "F", false, "Print new lines until the task ends")
	logsCmd.Flags().BoolVarP(&stderr, "stderr", "e", false, "Print the error file instead of the output file")
	RootCmd.AddCommand(logsCmd)
}

// taskLogPath returns the output, or error, file of a task of a submission
func taskLogPath(sub *storage.Submission, index int, stderr bool) string {
	ts := slurm.TaskState{Index: index}
	if stderr {
		return taskPath(sub, ts.ErrorPath(sub.ErrorPattern, sub.OutputPattern, sub.JobName, sub.JobID))
	}
	return taskPath(sub, ts.OutputPath(sub.OutputPattern, sub.JobName, sub.JobID))
}

func hasIndex(sub *storage.Submission, index int) bool {
	for _, i := range sub.Indices {
		if i == index {
			return true
		}
	}
	return false
}

func (a *app) logs(ctx context.Context, id string, index int, stderr, follow bool) error {
	records, err := a.getRecords()
	if err != nil {
		return err
	}
	sub, err := records.Load(id)
	if err != nil {
		return err
	}
	if !hasIndex(sub, index) {
		return errors.Errorf("submission %s has no array task %d (array %s)", sub.ShortID(), index, sub.ArraySpec)
	}
	p := taskLogPath(sub, index, stderr)
	log.Debugf("Reading log file %q of submission %q", p, sub.ID)
	if follow && !a.cfg.IsRemote() {
		return a.followLocalLog(ctx, sub, index, p)
	}
	return a.pollLog(ctx, sub, index, p, follow)
}

// taskEnded checks with the scheduler whether a task of a submission is terminal
func (a *app) taskEnded(sub *storage.Submission, index int) (bool, error) {
	client, err := a.getClient()
	if err != nil {
		return false, err
	}
	infos, err := slurm.GetJobInfo(client, a.cmds, sub.JobID)
	if slurm.IsNoJobFoundError(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	states, err := slurm.TaskStates(infos)
	if err != nil {
		return false, err
	}
	for _, ts := range states {
		if ts.Index == index {
			return ts.Status() != slurm.StatusActive, nil
		}
	}
	// tasks missing from accounting are not started yet
	return false, nil
}

// pollLog prints a log file read through the client, then its new lines every monitoring interval if follow is set
func (a *app) pollLog(ctx context.Context, sub *storage.Submission, index int, p string, follow bool) error {
	client, err := a.getClient()
	if err != nil {
		return err
	}
	var offset int
	for {
		var ended bool
		if follow {
			// checked before reading for the last lines to be printed
			ended, err = a.taskEnded(sub, index)
			if err != nil {
				return err
			}
		}
		var lines string
		lines, offset, err = slurm.TailLog(client, p, offset)
		if err != nil {
			return err
		}
		fmt.Fprint(a.out, lines)
		if !follow || ended {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(a.monitoringInterval()):
		}
	}
}

// followLocalLog prints a local log file then its new content as it is written, until the task ends
func (a *app) followLocalLog(ctx context.Context, sub *storage.Submission, index int, p string) error {
	p, err := homedir.Expand(p)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to watch log file")
	}
	defer watcher.Close()
	// the file may not exist yet
	if err = watcher.Add(filepath.Dir(p)); err != nil {
		return errors.Wrapf(err, "failed to watch directory of log file %q", p)
	}

	var f *os.File
	defer func() {
		if f != nil {
			f.Close()
		}
	}()
	readNew := func() error {
		if f == nil {
			file, err := os.Open(p)
			if os.IsNotExist(err) {
				return nil
			}
			if err != nil {
				return errors.Wrapf(err, "failed to open log file %q", p)
			}
			f = file
		}
		_, err := io.Copy(a.out, f)
		return err
	}
	if err = readNew(); err != nil {
		return err
	}

	ticker := time.NewTicker(a.monitoringInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(p) || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err = readNew(); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("Error watching log file %q: %v", p, err)
		case <-ticker.C:
			ended, err := a.taskEnded(sub, index)
			if err != nil {
				return err
			}
			if ended {
				return readNew()
			}
		}
	}
}
