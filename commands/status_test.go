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
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ystia/slurmsweep/slurm"
	"github.com/ystia/slurmsweep/storage"
)

func scontrolRecord(taskID, state string) string {
	return fmt.Sprintf("JobId=10%s ArrayJobId=100 ArrayTaskId=%s JobName=j JobState=%s Reason=None RunTime=00:00:01\n", taskID, taskID, state)
}

func saveTestSubmission(t *testing.T, a *testApp, indices ...int) *storage.Submission {
	sub := storage.NewSubmission("md17_naphthalene")
	sub.JobName = "j"
	sub.JobID = "100"
	sub.ArraySpec = "1-2"
	sub.Indices = indices
	sub.RemoteDir = "~/runs/md17_naphthalene-1"
	sub.Host = "localhost"
	sub.OutputPattern = "logs/%x_%A_%a.out"
	for _, i := range indices {
		sub.TaskStates[i] = "PENDING"
	}
	sub.LastState = "PENDING"
	require.NoError(t, a.records.Save(context.Background(), sub))
	return sub
}

func TestOverallState(t *testing.T) {
	t.Parallel()
	tests := []struct {
		states map[int]string
		want   string
	}{
		{nil, ""},
		{map[int]string{1: "PENDING", 2: "PENDING"}, "PENDING"},
		{map[int]string{1: "RUNNING", 2: "PENDING"}, "RUNNING"},
		{map[int]string{1: "COMPLETED", 2: "PENDING"}, "PENDING"},
		{map[int]string{1: "COMPLETED", 2: "FAILED"}, "FAILED"},
		{map[int]string{1: "COMPLETED", 2: "CANCELLED"}, "FAILED"},
		{map[int]string{1: "COMPLETED", 2: "COMPLETED"}, "COMPLETED"},
		{map[int]string{1: "TIMEOUT"}, "TIMEOUT"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, overallState(tt.states), "states %v", tt.states)
	}
}

func TestApplyTaskStates(t *testing.T) {
	t.Parallel()
	sub := storage.NewSubmission("s")
	sub.TaskStates[1] = "PENDING"
	sub.TaskStates[2] = "PENDING"
	changed := applyTaskStates(sub, []slurm.TaskState{
		{Index: 1, State: "RUNNING"},
		{Index: 2, State: "PENDING"},
		{Index: 0, State: "COMPLETED"},
	})
	assert.Equal(t, []int{1}, changed)
	assert.Equal(t, "RUNNING", sub.LastState)
	assert.False(t, isTerminal(sub))

	applyTaskStates(sub, []slurm.TaskState{{Index: 1, State: "COMPLETED"}, {Index: 2, State: "COMPLETED"}})
	assert.True(t, isTerminal(sub))
}

func TestStatus(t *testing.T) {
	t.Parallel()
	a, cleanup := newTestApp(t, func(cmd string) (string, error) {
		if strings.Contains(cmd, "scontrol") {
			return scontrolRecord("1", "COMPLETED") + scontrolRecord("2", "RUNNING"), nil
		}
		return "", nil
	})
	defer cleanup()
	sub := saveTestSubmission(t, a, 1, 2)

	require.NoError(t, a.showSubmission(context.Background(), sub.ShortID(), true))
	out := a.buf.String()
	assert.Contains(t, out, "Submission: "+sub.ID)
	assert.Contains(t, out, "State: RUNNING")
	assert.Contains(t, out, "configs/md17/md17_naphthalene_seed2.json")
	assert.Contains(t, out, "~/runs/md17_naphthalene-1/logs/j_100_2.out")

	saved, err := a.records.Load(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "COMPLETED", 2: "RUNNING"}, saved.TaskStates)
	assert.Equal(t, "RUNNING", saved.LastState)

	a.buf.Reset()
	require.NoError(t, a.listSubmissions(context.Background(), true))
	out = a.buf.String()
	assert.Contains(t, out, sub.ShortID())
	assert.Contains(t, out, "RUNNING")
}

func TestListSubmissions(t *testing.T) {
	t.Parallel()
	a, cleanup := newTestApp(t, func(cmd string) (string, error) {
		if strings.Contains(cmd, "scontrol") {
			return scontrolRecord("1", "RUNNING") + scontrolRecord("2", "RUNNING"), nil
		}
		return "", nil
	})
	defer cleanup()
	ctx := context.Background()
	require.NoError(t, a.listSubmissions(ctx, true))
	assert.Equal(t, "No submissions\n", a.buf.String())

	first := saveTestSubmission(t, a, 1, 2)
	second := saveTestSubmission(t, a, 1, 2)
	a.buf.Reset()
	require.NoError(t, a.listSubmissions(ctx, true))
	for _, sub := range []*storage.Submission{first, second} {
		saved, err := a.records.Load(sub.ID)
		require.NoError(t, err)
		assert.Equal(t, "RUNNING", saved.LastState)
		assert.Equal(t, map[int]string{1: "RUNNING", 2: "RUNNING"}, saved.TaskStates)
		assert.Contains(t, a.buf.String(), sub.ShortID())
	}
}

func TestStatusJobNotFound(t *testing.T) {
	t.Parallel()
	a, cleanup := newTestApp(t, func(cmd string) (string, error) {
		if strings.Contains(cmd, "scontrol") {
			return "slurm_load_jobs error: Invalid job id specified\n", fmt.Errorf("exit status 1")
		}
		// sacct does not know the job either
		return "", nil
	})
	defer cleanup()
	sub := saveTestSubmission(t, a, 1, 2)

	require.NoError(t, a.listSubmissions(context.Background(), true))
	saved, err := a.records.Load(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, StateUnknown, saved.LastState)
	assert.True(t, isTerminal(saved))

	// terminal submissions are not refreshed anymore
	commands := len(a.client.Commands())
	require.NoError(t, a.listSubmissions(context.Background(), true))
	assert.Len(t, a.client.Commands(), commands)
}

func TestWatch(t *testing.T) {
	t.Parallel()
	var polls int32
	a, cleanup := newTestApp(t, func(cmd string) (string, error) {
		switch {
		case strings.Contains(cmd, "scontrol"):
			if atomic.AddInt32(&polls, 1) == 1 {
				return scontrolRecord("1", "RUNNING") + scontrolRecord("2", "PENDING"), nil
			}
			return scontrolRecord("1", "COMPLETED") + scontrolRecord("2", "COMPLETED"), nil
		case strings.Contains(cmd, "tail -n +1 "):
			return "epoch 1\n", nil
		}
		return "", nil
	})
	defer cleanup()
	sub := saveTestSubmission(t, a, 1, 2)

	require.NoError(t, a.watchAll(context.Background(), []*storage.Submission{sub}, true))
	out := a.buf.String()
	id := sub.ShortID()
	assert.Contains(t, out, id+" [1] PENDING -> RUNNING\n")
	assert.Contains(t, out, id+" [1] epoch 1\n")
	assert.Contains(t, out, id+" [1] RUNNING -> COMPLETED\n")
	assert.Contains(t, out, id+" [2] PENDING -> COMPLETED\n")
	assert.Contains(t, out, id+" Job 100 ended: COMPLETED\n")

	saved, err := a.records.Load(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", saved.LastState)
	assert.Equal(t, 1, saved.LogOffsets["~/runs/md17_naphthalene-1/logs/j_100_1.out"])
}

func TestWatchFailedTasks(t *testing.T) {
	t.Parallel()
	a, cleanup := newTestApp(t, func(cmd string) (string, error) {
		if strings.Contains(cmd, "scontrol") {
			return scontrolRecord("1", "COMPLETED") + scontrolRecord("2", "OUT_OF_MEMORY"), nil
		}
		return "", nil
	})
	defer cleanup()
	sub := saveTestSubmission(t, a, 1, 2)

	err := a.watchAll(context.Background(), []*storage.Submission{sub}, false)
	require.Error(t, err)
	_, ok := err.(*slurm.TasksFailedError)
	assert.True(t, ok, "unexpected error %v", err)
	assert.Contains(t, a.buf.String(), "Job 100 ended: FAILED")
}

func TestCancel(t *testing.T) {
	t.Parallel()
	a, cleanup := newTestApp(t, nil)
	defer cleanup()
	sub := saveTestSubmission(t, a, 1, 2)

	require.NoError(t, a.cancel(context.Background(), sub.ShortID(), "2", true))
	assert.Equal(t, []string{"scancel 100_2"}, a.client.Commands())
	saved, err := a.records.Load(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "PENDING", 2: StateCancelled}, saved.TaskStates)

	require.Error(t, a.cancel(context.Background(), sub.ShortID(), "3", true))

	a.confirm = func(string) (bool, error) { return false, nil }
	require.NoError(t, a.cancel(context.Background(), sub.ShortID(), "", false))
	assert.Len(t, a.client.Commands(), 1)

	a.confirm = func(string) (bool, error) { return true, nil }
	require.NoError(t, a.cancel(context.Background(), sub.ShortID(), "", false))
	assert.Equal(t, "scancel 100", a.client.Commands()[1])
	saved, err = a.records.Load(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, saved.TaskStates[1])
	assert.Equal(t, StateCancelled, saved.LastState)
}

func TestLogs(t *testing.T) {
	t.Parallel()
	a, cleanup := newTestApp(t, func(cmd string) (string, error) {
		if strings.Contains(cmd, "tail -n +1 ~/runs/md17_naphthalene-1/logs/j_100_2.out") {
			return "loading configs/md17/md17_naphthalene_seed2.json\nepoch 1\n", nil
		}
		return "", nil
	})
	defer cleanup()
	sub := saveTestSubmission(t, a, 1, 2)

	require.NoError(t, a.logs(context.Background(), sub.ShortID(), 2, false, false))
	assert.Equal(t, "loading configs/md17/md17_naphthalene_seed2.json\nepoch 1\n", a.buf.String())

	require.Error(t, a.logs(context.Background(), sub.ShortID(), 7, false, false))
}

func TestFollowLocalLog(t *testing.T) {
	t.Parallel()
	var written int32
	a, cleanup := newTestApp(t, func(cmd string) (string, error) {
		if atomic.LoadInt32(&written) == 0 {
			return scontrolRecord("1", "RUNNING"), nil
		}
		return scontrolRecord("1", "COMPLETED"), nil
	})
	defer cleanup()
	sub := saveTestSubmission(t, a, 1)
	sub.RemoteDir = a.dir
	sub.OutputPattern = "task_%a.out"
	require.NoError(t, a.records.Save(context.Background(), sub))

	logFile := filepath.Join(a.dir, "task_1.out")
	require.NoError(t, ioutil.WriteFile(logFile, []byte("epoch 1\n"), 0640))
	go func() {
		time.Sleep(50 * time.Millisecond)
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_WRONLY, 0640)
		if err == nil {
			f.WriteString("epoch 2\n")
			f.Close()
		}
		atomic.StoreInt32(&written, 1)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.logs(ctx, sub.ID, 1, false, true))
	assert.Equal(t, "epoch 1\nepoch 2\n", a.buf.String())
}
