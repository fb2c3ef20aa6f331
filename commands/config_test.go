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
	"bytes"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ystia/slurmsweep/config"
)

func TestGetSlurmConfig(t *testing.T) {
	t.Parallel()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("slurm_host", "", "")
	flags.String("slurm_user_name", "", "")
	flags.Int("slurm_port", 0, "")
	require.NoError(t, flags.Parse([]string{"--slurm_host=login2.cluster", "--slurm_port=2222"}))

	env := map[string]string{
		"SLURMSWEEP_SLURM_USER_NAME":      "alice",
		"SLURMSWEEP_SLURM_SUBMIT_RETRIES": "5",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	fileSection := map[string]interface{}{
		"host":                         "login1.cluster",
		"user_name":                    "bob",
		"Job_Monitoring_Time_Interval": "1m",
		"sbatch_path":                  "/opt/slurm/bin/sbatch",
	}

	slurm := getSlurmConfig(fileSection, flags, lookup)
	assert.Equal(t, "login2.cluster", slurm.GetString("host"))
	assert.Equal(t, 2222, slurm.GetInt("port"))
	assert.Equal(t, "alice", slurm.GetString("user_name"))
	assert.Equal(t, 5, slurm.GetIntOrDefault("submit_retries", config.DefaultSubmitRetries))
	assert.Equal(t, "/opt/slurm/bin/sbatch", slurm.GetString("sbatch_path"))

	cfg := config.Configuration{Slurm: slurm}
	assert.Equal(t, time.Minute, cfg.JobMonitoringTimeInterval())
	assert.True(t, cfg.IsRemote())
}

func TestGetSlurmConfigEmpty(t *testing.T) {
	t.Parallel()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	slurm := getSlurmConfig(nil, flags, func(string) (string, bool) { return "", false })
	assert.Empty(t, slurm)
	assert.False(t, config.Configuration{Slurm: slurm}.IsRemote())
}

func TestVersionCommand(t *testing.T) {
	buf := &bytes.Buffer{}
	RootCmd.SetOutput(buf)
	defer RootCmd.SetOutput(nil)
	RootCmd.SetArgs([]string{"version"})
	defer RootCmd.SetArgs(nil)
	require.NoError(t, RootCmd.Execute())
	assert.Equal(t, "slurmsweep version unknown\n", buf.String())
}
