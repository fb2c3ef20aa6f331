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
	"testing"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ystia/slurmsweep/helper/sshutil"
)

func TestParseJobIDFromBatchOutput(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		output  string
		want    string
		wantErr bool
	}{
		{"Standard", "Submitted batch job 6260\n", "6260", false},
		{"WithWarnings", "sbatch: warning: can't honor --ntasks-per-node\nSubmitted batch job 42\n", "42", false},
		{"Empty", "", "", true},
		{"Malformed", "Submitted batch job\n", "", true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseJobIDFromBatchOutput(tt.output)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubmit(t *testing.T) {
	t.Parallel()
	client := &sshutil.MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			return "Submitted batch job 6260\n", nil
		},
	}
	jobID, err := Submit(context.Background(), client, "~/slurmsweep/md17_naphthalene-1/job.sbatch", SubmitOptions{
		Commands: Commands{Sbatch: "/opt/slurm/bin/sbatch"},
		Options:  []string{"--partition=debug", "--comment=two words"},
	})
	require.NoError(t, err)
	assert.Equal(t, "6260", jobID)
	require.Len(t, client.Commands(), 1)
	assert.Equal(t, "cd ~/slurmsweep/md17_naphthalene-1;/opt/slurm/bin/sbatch --partition=debug '--comment=two words' job.sbatch", client.Commands()[0])
}

func TestSubmitFromWorkDir(t *testing.T) {
	t.Parallel()
	client := &sshutil.MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			return "Submitted batch job 6261\n", nil
		},
	}
	_, err := Submit(context.Background(), client, "~/slurmsweep/md17_naphthalene-1/job.sbatch", SubmitOptions{WorkDir: "~/egno"})
	require.NoError(t, err)
	_, err = Submit(context.Background(), client, "/work/run 1/job.sbatch", SubmitOptions{WorkDir: "/work/run 1/"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"cd ~/egno;sbatch ~/slurmsweep/md17_naphthalene-1/job.sbatch",
		"cd '/work/run 1';sbatch job.sbatch",
	}, client.Commands())
}

func TestSubmitRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	var calls int
	client := &sshutil.MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			calls++
			if calls < 3 {
				return "sbatch: error: Batch job submission failed: Socket timed out on send/recv operation", errors.New("Process exited with status 1")
			}
			return "Submitted batch job 12", nil
		},
	}
	jobID, err := Submit(context.Background(), client, "/work/job.sbatch", SubmitOptions{
		BackOff: backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 5),
	})
	require.NoError(t, err)
	assert.Equal(t, "12", jobID)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "cd /work;sbatch job.sbatch", client.Commands()[0])
}

func TestSubmitGivesUpAfterRetries(t *testing.T) {
	t.Parallel()
	client := &sshutil.MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			return "Resource temporarily unavailable", errors.New("exit status 1")
		},
	}
	_, err := Submit(context.Background(), client, "/work/job.sbatch", SubmitOptions{
		BackOff: backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2),
	})
	require.Error(t, err)
	assert.Len(t, client.Commands(), 3)
}

func TestSubmitDoesNotRetryPermanentFailures(t *testing.T) {
	t.Parallel()
	client := &sshutil.MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			return "sbatch: error: invalid partition specified: nope", errors.New("exit status 1")
		},
	}
	_, err := Submit(context.Background(), client, "/work/job.sbatch", SubmitOptions{
		BackOff: backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 5),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid partition")
	assert.Len(t, client.Commands(), 1)

	client = &sshutil.MockSSHClient{
		MockRunCommand: func(cmd string) (string, error) {
			return "something unexpected", nil
		},
	}
	_, err = Submit(context.Background(), client, "/work/job.sbatch", SubmitOptions{Retries: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse job id")
}
