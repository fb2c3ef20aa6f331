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
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ystia/slurmsweep/helper/sshutil"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state string
		want  Status
	}{
		{"COMPLETED", StatusDone},
		{"RUNNING", StatusActive},
		{"PENDING", StatusActive},
		{"COMPLETING", StatusActive},
		{"CONFIGURING", StatusActive},
		{"SIGNALING", StatusActive},
		{"RESIZING", StatusActive},
		{"REQUEUED", StatusActive},
		{"FAILED", StatusFailed},
		{"CANCELLED", StatusFailed},
		{"CANCELLED by 1000", StatusFailed},
		{"CANCELLED+", StatusFailed},
		{"TIMEOUT", StatusFailed},
		{"OUT_OF_MEMORY", StatusFailed},
		{"NODE_FAIL", StatusFailed},
		{"SUSPENDED", StatusFailed},
		{"", StatusFailed},
		{"running", StatusActive},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.state), "state %q", tt.state)
	}
	assert.Equal(t, "active", StatusActive.String())
	assert.Equal(t, "done", StatusDone.String())
	assert.Equal(t, "failed", StatusFailed.String())
}

func TestTaskStates(t *testing.T) {
	t.Parallel()
	states, err := TaskStates(parseJobInfo(readTestData(t, "scontrol_array.txt")))
	require.NoError(t, err)
	require.Len(t, states, 5)
	for i, ts := range states {
		assert.Equal(t, i+1, ts.Index)
	}
	assert.Equal(t, "COMPLETED", states[0].State)
	assert.Equal(t, "6261", states[0].JobID)
	assert.Equal(t, "", states[0].Reason)
	assert.Equal(t, "/home/user/runs/logs/md17_naphthalene_6260_1.out", states[0].StdOut)
	assert.Equal(t, "RUNNING", states[1].State)
	assert.Equal(t, "00:05:41", states[1].RunTime)
	for _, ts := range states[2:] {
		assert.Equal(t, "PENDING", ts.State)
		assert.Equal(t, "JobArrayTaskLimit", ts.Reason)
		assert.Equal(t, fmt.Sprintf("6260_%d", ts.Index), ts.JobID)
		assert.Equal(t, "", ts.StdOut)
	}

	_, err = TaskStates([]JobInfo{{"JobId": "1", "ArrayTaskId": "x"}})
	require.Error(t, err)

	states, err = TaskStates([]JobInfo{{"JobId": "7", "JobState": "RUNNING"}})
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, 0, states[0].Index)
}

func TestTaskStatePaths(t *testing.T) {
	t.Parallel()
	ts := TaskState{Index: 3, JobID: "6260_3"}
	assert.Equal(t, "logs/md17_6260_3.out", ts.OutputPath("logs/%x_%A_%a.out", "md17", "6260"))
	assert.Equal(t, "slurm-6260_3.out", ts.OutputPath("", "md17", "6260"))
	assert.Equal(t, "logs/6260_3.err", ts.ErrorPath("logs/%j.err", "logs/%x.out", "md17", "6260"))
	assert.Equal(t, "logs/md17.out", ts.ErrorPath("", "logs/%x.out", "md17", "6260"))

	ts.StdOut = "/abs/out"
	ts.StdErr = "/abs/err"
	assert.Equal(t, "/abs/out", ts.OutputPath("logs/%x.out", "md17", "6260"))
	assert.Equal(t, "/abs/err", ts.ErrorPath("logs/%x.err", "logs/%x.out", "md17", "6260"))
}

func TestExpandFilenamePattern(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "logs/md17_naphthalene_6260_2.out", ExpandFilenamePattern("logs/%x_%A_%a.out", "md17_naphthalene", "6260", 2))
	assert.Equal(t, "out-6260_2.txt", ExpandFilenamePattern("out-%j.txt", "n", "6260", 2))
	assert.Equal(t, "task-002-%N-%x.log", ExpandFilenamePattern("task-%3a-%N-%%x.log", "n", "6260", 2))
}

func TestTailLog(t *testing.T) {
	t.Parallel()
	client := &sshutil.MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			return "epoch 1\nepoch 2\nepoch 3 (partial", nil
		},
	}
	out, next, err := TailLog(client, "~/runs/logs/a b.out", 10)
	require.NoError(t, err)
	assert.Equal(t, "epoch 1\nepoch 2\n", out)
	assert.Equal(t, 12, next)
	assert.Contains(t, client.Commands()[0], "if [ -f ~/'runs/logs/a b.out' ]; then")
	assert.Contains(t, client.Commands()[0], "tail -n +11 ~/'runs/logs/a b.out'")

	client = &sshutil.MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			return "", errors.New("connection lost")
		},
	}
	_, next, err = TailLog(client, "/x", 4)
	require.Error(t, err)
	assert.Equal(t, 4, next)
}

func scontrolRecord(taskID, state string) string {
	return fmt.Sprintf("JobId=10%s ArrayJobId=100 ArrayTaskId=%s JobName=j JobState=%s Reason=None RunTime=00:00:01\n", taskID, taskID, state)
}

func TestMonitor(t *testing.T) {
	t.Parallel()
	var polls int32
	client := &sshutil.MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			switch atomic.AddInt32(&polls, 1) {
			case 1:
				return scontrolRecord("1", "RUNNING") + scontrolRecord("2", "PENDING"), nil
			case 2:
				return scontrolRecord("1", "COMPLETED") + scontrolRecord("2", "RUNNING"), nil
			default:
				return scontrolRecord("1", "COMPLETED") + scontrolRecord("2", "COMPLETED"), nil
			}
		},
	}
	var seen [][]TaskState
	err := Monitor(context.Background(), client, DefaultCommands(), "100", time.Millisecond, func(states []TaskState) error {
		seen = append(seen, states)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 3)
	assert.Equal(t, "PENDING", seen[0][1].State)
	assert.Equal(t, "COMPLETED", seen[2][1].State)
}

func TestMonitorFailedTasks(t *testing.T) {
	t.Parallel()
	client := &sshutil.MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			return scontrolRecord("1", "COMPLETED") + scontrolRecord("2", "TIMEOUT") + scontrolRecord("3", "FAILED"), nil
		},
	}
	err := Monitor(context.Background(), client, DefaultCommands(), "100", time.Millisecond, nil)
	require.Error(t, err)
	failedErr, ok := err.(*TasksFailedError)
	require.True(t, ok, "unexpected error type %T", err)
	require.Len(t, failedErr.Failed, 2)
	assert.Contains(t, err.Error(), "2:TIMEOUT, 3:FAILED")
}

func TestMonitorStops(t *testing.T) {
	t.Parallel()
	client := &sshutil.MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			return scontrolRecord("1", "RUNNING"), nil
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := Monitor(ctx, client, DefaultCommands(), "100", 5*time.Millisecond, nil)
	require.Equal(t, context.DeadlineExceeded, err)

	handlerErr := errors.New("stop")
	err = Monitor(context.Background(), client, DefaultCommands(), "100", time.Millisecond, func([]TaskState) error { return handlerErr })
	require.Equal(t, handlerErr, err)

	client = &sshutil.MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			if strings.HasPrefix(cmd, "scontrol") {
				return "slurm_load_jobs error: Invalid job id specified", errors.New("exit status 1")
			}
			return "", nil
		},
	}
	err = Monitor(context.Background(), client, DefaultCommands(), "100", time.Millisecond, nil)
	require.Error(t, err)
	assert.True(t, IsNoJobFoundError(err))
}
