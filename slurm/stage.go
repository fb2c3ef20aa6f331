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
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/ystia/slurmsweep/helper/collections"
	"github.com/ystia/slurmsweep/helper/sshutil"
	"github.com/ystia/slurmsweep/helper/stringutil"
	"github.com/ystia/slurmsweep/sweeps"
)

// ScriptName is the file name of staged batch scripts
const ScriptName = "job.sbatch"

// StagingDirName returns a unique directory name for a new submission of the given sweep
func StagingDirName(sweep string) string {
	return stringutil.UniqueTimestampedName(stringutil.SanitizeFileName(sweep)+"-", "")
}

// Stage copies the batch script into dir and creates the directories of the job log files.
//
// Slurm does not create them and silently drops the output of tasks whose log directory is missing.
// Relative log paths are resolved from workDir, the directory sbatch is run from, which defaults to dir.
func Stage(client sshutil.FileClient, dir, workDir string, job sweeps.JobSpec, script string) (string, error) {
	if workDir == "" {
		workDir = dir
	}
	scriptPath := path.Join(dir, ScriptName)
	if err := client.CopyFile(strings.NewReader(script), scriptPath, "0750"); err != nil {
		return "", errors.Wrapf(err, "failed to stage batch script %q", scriptPath)
	}

	var dirs []string
	for _, p := range []string{job.Output, job.Error} {
		d := path.Dir(p)
		if p == "" || d == "." {
			continue
		}
		if !path.IsAbs(d) && !strings.HasPrefix(d, "~/") {
			d = path.Join(workDir, d)
		}
		dirs = append(dirs, quotePath(d))
	}
	dirs = collections.RemoveDuplicates(dirs)
	if len(dirs) == 0 {
		return scriptPath, nil
	}
	output, err := client.RunCommand("mkdir -p " + strings.Join(dirs, " "))
	if err != nil {
		return "", errors.Wrapf(err, "failed to create log directories: %s", strings.TrimSpace(output))
	}
	return scriptPath, nil
}
