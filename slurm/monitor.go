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

package slurm

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/armon/go-metrics"
	"github.com/pkg/errors"

	"github.com/ystia/slurmsweep/helper/sshutil"
	"github.com/ystia/slurmsweep/log"
	"github.com/ystia/slurmsweep/sweeps"
)

const bashLogger = `
if [ -f %s ]; then
    tail -n +%d %s
fi

`

// Status is the coarse classification of a Slurm job state
type Status int

const (
	// StatusActive means the task is pending or running
	StatusActive Status = iota
	// StatusDone means the task completed successfully
	StatusDone
	// StatusFailed covers every other terminal state (FAILED, CANCELLED, TIMEOUT, OUT_OF_MEMORY, ...)
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusDone:
		return "done"
	default:
		return "failed"
	}
}

// Classify returns the status of a Slurm job state
func Classify(state string) Status {
	switch normalizeState(state) {
	case "COMPLETED":
		return StatusDone
	case "RUNNING", "PENDING", "COMPLETING", "CONFIGURING", "SIGNALING", "RESIZING", "REQUEUED":
		return StatusActive
	default:
		return StatusFailed
	}
}

func normalizeState(state string) string {
	fields := strings.Fields(state)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(strings.TrimRight(fields[0], "+"))
}

// TaskState is the state of one array task
type TaskState struct {
	// Index is the array task index, 0 for a job that is not an array
	Index   int    `json:"index"`
	JobID   string `json:"job_id"`
	State   string `json:"state"`
	Reason  string `json:"reason,omitempty"`
	RunTime string `json:"run_time,omitempty"`
	StdOut  string `json:"stdout,omitempty"`
	StdErr  string `json:"stderr,omitempty"`
}

// Status returns the classification of the task state
func (ts TaskState) Status() Status {
	return Classify(ts.State)
}

// DefaultArrayOutputPattern is the output file of array tasks when none is specified
const DefaultArrayOutputPattern = "slurm-%A_%a.out"

// OutputPath returns the task output file, as reported by the scheduler when known,
// expanded from the given pattern otherwise
func (ts TaskState) OutputPath(pattern, jobName, arrayJobID string) string {
	if ts.StdOut != "" {
		return ts.StdOut
	}
	if pattern == "" {
		pattern = DefaultArrayOutputPattern
	}
	jobID := ts.JobID
	if jobID == "" || jobID == arrayJobID {
		jobID = fmt.Sprintf("%s_%d", arrayJobID, ts.Index)
	}
	return expandFilenamePattern(pattern, jobName, arrayJobID, jobID, ts.Index)
}

// ErrorPath returns the task error file, stderr goes to the output file when no error pattern is given
func (ts TaskState) ErrorPath(errPattern, outPattern, jobName, arrayJobID string) string {
	if ts.StdErr != "" {
		return ts.StdErr
	}
	if errPattern == "" {
		return ts.OutputPath(outPattern, jobName, arrayJobID)
	}
	return TaskState{Index: ts.Index, JobID: ts.JobID}.OutputPath(errPattern, jobName, arrayJobID)
}

// TaskStates expands job infos into one state per array task, sorted by index.
//
// Pending tasks are reported by Slurm as a single record covering an index range.
func TaskStates(infos []JobInfo) ([]TaskState, error) {
	var states []TaskState
	for _, info := range infos {
		ts := TaskState{
			JobID:   info["JobId"],
			State:   normalizeState(info["JobState"]),
			RunTime: info["RunTime"],
			StdOut:  info["StdOut"],
			StdErr:  info["StdErr"],
		}
		if r := info["Reason"]; r != "None" {
			ts.Reason = r
		}
		taskID, ok := info["ArrayTaskId"]
		if !ok || taskID == "" {
			states = append(states, ts)
			continue
		}
		indices, _, err := sweeps.ParseArray(taskID, math.MaxInt32)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid array task id %q for job %q", taskID, ts.JobID)
		}
		for _, i := range indices {
			t := ts
			t.Index = i
			if len(indices) > 1 {
				// output paths of grouped records are not expanded for each task
				t.JobID = fmt.Sprintf("%s_%d", info["ArrayJobId"], i)
				t.StdOut, t.StdErr = "", ""
			}
			states = append(states, t)
		}
	}
	sort.SliceStable(states, func(i, j int) bool { return states[i].Index < states[j].Index })
	return states, nil
}

// TasksFailedError is returned by Monitor when some tasks did not complete successfully
type TasksFailedError struct {
	JobID  string
	Failed []TaskState
}

func (e *TasksFailedError) Error() string {
	parts := make([]string, len(e.Failed))
	for i, ts := range e.Failed {
		parts[i] = fmt.Sprintf("%d:%s", ts.Index, ts.State)
	}
	return fmt.Sprintf("job with ID:%q finished unsuccessfully, failed tasks: %s", e.JobID, strings.Join(parts, ", "))
}

// MonitorHandler is called with the task states after each poll, returning an error stops monitoring
type MonitorHandler func(states []TaskState) error

// Monitor polls the job every interval until each of its tasks is terminal or the context is done.
//
// A TasksFailedError is returned if some tasks failed.
func Monitor(ctx context.Context, client sshutil.Client, cmds Commands, jobID string, interval time.Duration, handler MonitorHandler) error {
	gaugeKey := []string{"slurm", "tasks", "active"}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		infos, err := GetJobInfo(client, cmds, jobID)
		if err != nil {
			return errors.Wrapf(err, "failed to get job info with jobID:%q", jobID)
		}
		states, err := TaskStates(infos)
		if err != nil {
			return err
		}
		if handler != nil {
			if err = handler(states); err != nil {
				return err
			}
		}
		var active int
		var failed []TaskState
		for _, ts := range states {
			switch ts.Status() {
			case StatusActive:
				active++
			case StatusFailed:
				failed = append(failed, ts)
			}
		}
		metrics.SetGauge(gaugeKey, float32(active))
		if active == 0 {
			if len(failed) > 0 {
				return &TasksFailedError{JobID: jobID, Failed: failed}
			}
			return nil
		}
		log.Debugf("job %q has %d active tasks", jobID, active)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// TailLog returns the lines of a file following the first fromLine ones, and the new line count.
//
// A missing file is not an error, nothing is returned until it is created.
func TailLog(client sshutil.Client, filePath string, fromLine int) (string, int, error) {
	if fromLine < 0 {
		fromLine = 0
	}
	p := quotePath(filePath)
	cmd := fmt.Sprintf(bashLogger, p, fromLine+1, p)
	output, err := client.RunCommand(cmd)
	if err != nil {
		return "", fromLine, errors.Wrapf(err, "failed to read log file %q", filePath)
	}
	// a partially written line is read again next time
	if idx := strings.LastIndex(output, "\n"); idx < len(output)-1 {
		output = output[:idx+1]
	}
	return output, fromLine + strings.Count(output, "\n"), nil
}

var filenamePatternRegexp = regexp.MustCompile(`%(\d*)([xAaj%])`)

// ExpandFilenamePattern replaces the Slurm filename pattern placeholders of an output path.
//
// %x is the job name, %A the array master job id and %a the task index. The task job id (%j) is not
// known before the task starts so it is rendered as <array job id>_<task index>, which is how scontrol
// and scancel accept it. Unknown placeholders are left untouched.
func ExpandFilenamePattern(pattern, jobName, arrayJobID string, taskIndex int) string {
	return expandFilenamePattern(pattern, jobName, arrayJobID, fmt.Sprintf("%s_%d", arrayJobID, taskIndex), taskIndex)
}

func expandFilenamePattern(pattern, jobName, arrayJobID, taskJobID string, taskIndex int) string {
	return filenamePatternRegexp.ReplaceAllStringFunc(pattern, func(m string) string {
		sub := filenamePatternRegexp.FindStringSubmatch(m)
		width, _ := strconv.Atoi(sub[1])
		pad := func(s string) string {
			if len(s) < width {
				return strings.Repeat("0", width-len(s)) + s
			}
			return s
		}
		switch sub[2] {
		case "x":
			return jobName
		case "A":
			return pad(arrayJobID)
		case "a":
			return pad(strconv.Itoa(taskIndex))
		case "j":
			return pad(taskJobID)
		case "%":
			return "%"
		default:
			return m
		}
	})
}
