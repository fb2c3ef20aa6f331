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
	"io/ioutil"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ystia/slurmsweep/config"
	"github.com/ystia/slurmsweep/helper/sshutil"
	"github.com/ystia/slurmsweep/slurm"
	"github.com/ystia/slurmsweep/storage"
	"github.com/ystia/slurmsweep/sweeps"
)

type testApp struct {
	*app
	client *sshutil.MockSSHClient
	buf    *bytes.Buffer
	dir    string
}

func newTestApp(t *testing.T, runCommand func(string) (string, error)) (*testApp, func()) {
	dir, err := ioutil.TempDir("", "slurmsweep-commands")
	require.NoError(t, err)
	cfg := config.Configuration{
		WorkingDirectory: dir,
		Store:            config.DefaultStore,
		Slurm: config.DynamicMap{
			"remote_dir":                   "~/runs",
			"project_dir":                  "~/project",
			"job_monitoring_time_interval": "10ms",
		},
	}
	s, err := storage.NewStore(cfg)
	require.NoError(t, err)
	client := &sshutil.MockSSHClient{MockRunCommand: runCommand}
	buf := &bytes.Buffer{}
	a := &app{
		cfg:     cfg,
		catalog: sweeps.Builtin(),
		cmds:    slurm.DefaultCommands(),
		out:     buf,
		confirm: func(string) (bool, error) {
			return true, nil
		},
		client:  client,
		records: storage.NewRecords(s),
	}
	return &testApp{app: a, client: client, buf: buf, dir: dir}, func() { os.RemoveAll(dir) }
}

func TestList(t *testing.T) {
	t.Parallel()
	a, cleanup := newTestApp(t, nil)
	defer cleanup()
	a.list()
	out := a.buf.String()
	for _, name := range []string{"simulation_simple", "md17_naphthalene", "md17_aspirin", "mocap_walk", "mocap_run"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "main_md17_no.py")
}

func TestShow(t *testing.T) {
	t.Parallel()
	a, cleanup := newTestApp(t, nil)
	defer cleanup()
	require.NoError(t, a.show("md17_naphthalene"))
	out := a.buf.String()
	assert.Contains(t, out, "Array: 1-5")
	assert.Contains(t, out, "configs/md17/md17_naphthalene_seed2.json")
	assert.Contains(t, out, "--gres=gpu:1")

	err := a.show("unknown")
	require.Error(t, err)
	assert.True(t, sweeps.IsSweepNotFoundError(err))
}

func TestResolve(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		sweep   string
		index   int
		seed    bool
		command bool
		want    string
		wantErr bool
	}{
		{"SeedOfSimulation", "simulation_simple", 3, true, false, "3\n", false},
		{"PathOfSimulation", "simulation_simple", 3, false, false, "configs/simulation/simple_seed3.json\n", false},
		{"PathOfMD17", "md17_naphthalene", 2, false, false, "configs/md17/md17_naphthalene_seed2.json\n", false},
		{"CommandOfMocap", "mocap_walk", 1, false, true, "python main_mocap_no.py --config configs/mocap/mocap_walk_seed1.json\n", false},
		{"SeedOfConfigSweep", "md17_naphthalene", 2, true, false, "", true},
		{"OutOfRange", "md17_aspirin", 6, false, false, "", true},
		{"ZeroIndex", "md17_aspirin", 0, false, false, "", true},
		{"UnknownSweep", "md18", 1, false, false, "", true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, cleanup := newTestApp(t, nil)
			defer cleanup()
			err := a.resolve(tt.sweep, tt.index, tt.seed, tt.command)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.buf.String())
		})
	}
}

func TestIndexFromArgs(t *testing.T) {
	index, err := indexFromArgs([]string{"md17_naphthalene", "4"})
	require.NoError(t, err)
	assert.Equal(t, 4, index)

	_, err = indexFromArgs([]string{"md17_naphthalene", "four"})
	require.Error(t, err)

	old, wasSet := os.LookupEnv("SLURM_ARRAY_TASK_ID")
	defer func() {
		if wasSet {
			os.Setenv("SLURM_ARRAY_TASK_ID", old)
		} else {
			os.Unsetenv("SLURM_ARRAY_TASK_ID")
		}
	}()
	os.Setenv("SLURM_ARRAY_TASK_ID", "2")
	index, err = indexFromArgs([]string{"md17_naphthalene"})
	require.NoError(t, err)
	assert.Equal(t, 2, index)

	os.Unsetenv("SLURM_ARRAY_TASK_ID")
	_, err = indexFromArgs([]string{"md17_naphthalene"})
	require.Error(t, err)
}

func TestRender(t *testing.T) {
	t.Parallel()
	a, cleanup := newTestApp(t, nil)
	defer cleanup()
	script, err := a.render("simulation_simple", "2-3", false)
	require.NoError(t, err)
	assert.Contains(t, script, "#SBATCH --array=2-3\n")
	assert.Contains(t, script, "main_simulation_simple_no.py")

	a.cfg.Slurm["launcher_path"] = "/opt/bin/slurmsweep"
	script, err = a.render("mocap_run", "", true)
	require.NoError(t, err)
	assert.Contains(t, script, "#SBATCH --array=1-5\n")
	assert.True(t, strings.HasSuffix(script, "exec /opt/bin/slurmsweep exec mocap_run\n"), script)

	_, err = a.render("simulation_simple", "4-9", false)
	require.Error(t, err)
}

func TestTaskPath(t *testing.T) {
	t.Parallel()
	sub := &storage.Submission{RemoteDir: "~/runs/md17-1"}
	assert.Equal(t, "~/runs/md17-1/logs/a.out", taskPath(sub, "logs/a.out"))
	assert.Equal(t, "/scratch/a.out", taskPath(sub, "/scratch/a.out"))
	assert.Equal(t, "~/a.out", taskPath(sub, "~/a.out"))

	sub.WorkDir = "/home/u/egno"
	assert.Equal(t, "/home/u/egno/logs/a.out", taskPath(sub, "logs/a.out"))
}

func TestColoredState(t *testing.T) {
	t.Parallel()
	a, cleanup := newTestApp(t, nil)
	defer cleanup()
	assert.Equal(t, "RUNNING", a.coloredState("RUNNING"))
	assert.Equal(t, "[3]", a.taskLabel(3))
}
