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
	"fmt"
	"strings"
	"time"

	"github.com/armon/go-metrics"
	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"

	"github.com/ystia/slurmsweep/helper/sshutil"
	"github.com/ystia/slurmsweep/log"
)

// JobInfo holds the key/value description of a job, or of an array task, as reported by scontrol
type JobInfo map[string]string

type noJobFound struct {
	msg string
}

func (jid *noJobFound) Error() string {
	return jid.msg
}

// IsNoJobFoundError checks if an error means the scheduler does not know the job anymore
func IsNoJobFoundError(err error) bool {
	_, ok := errors.Cause(err).(*noJobFound)
	return ok
}

// sacct fields mapped to their scontrol key
var sacctFields = []struct{ field, key string }{
	{"JobID", "JobId"},
	{"JobName", "JobName"},
	{"State", "JobState"},
	{"Elapsed", "RunTime"},
	{"ExitCode", "ExitCode"},
	{"NodeList", "NodeList"},
}

// GetJobInfo returns the description of every array task of a job.
//
// scontrol is tried first, the accounting database is queried with sacct when the
// controller does not know the job anymore.
func GetJobInfo(client sshutil.Client, cmds Commands, jobID string) ([]JobInfo, error) {
	infos, err := getJobInfoFromController(client, cmds, jobID)
	if err == nil || !IsNoJobFoundError(err) {
		return infos, err
	}
	log.Debugf("job %q not found by the controller, querying accounting", jobID)
	return getJobInfoFromAccounting(client, cmds, jobID)
}

func getJobInfoFromController(client sshutil.Client, cmds Commands, jobID string) ([]JobInfo, error) {
	defer metrics.MeasureSince([]string{"slurm", "scontrol"}, time.Now())
	scontrol := cmds.Scontrol
	if scontrol == "" {
		scontrol = DefaultCommands().Scontrol
	}
	cmd := fmt.Sprintf("%s show job -o %s", scontrol, shellquote.Join(jobID))
	output, err := client.RunCommand(cmd)
	if strings.Contains(output, "Invalid job id") {
		return nil, &noJobFound{msg: fmt.Sprintf("no information found for job with id:%q", jobID)}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get info for job %q: %s", jobID, strings.TrimSpace(output))
	}
	infos := parseJobInfo(output)
	if len(infos) == 0 {
		return nil, &noJobFound{msg: fmt.Sprintf("no information found for job with id:%q", jobID)}
	}
	return infos, nil
}

// parseJobInfo parses 'scontrol show job -o' output: one record per line, space separated key=value pairs.
// Tokens without '=' belong to the previous value.
func parseJobInfo(output string) []JobInfo {
	var infos []JobInfo
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, "=") {
			continue
		}
		info := make(JobInfo)
		var lastKey string
		for _, token := range strings.Fields(line) {
			kv := strings.SplitN(token, "=", 2)
			if len(kv) != 2 || kv[0] == "" {
				if lastKey != "" {
					info[lastKey] += " " + token
				}
				continue
			}
			lastKey = kv[0]
			info[lastKey] = kv[1]
		}
		infos = append(infos, info)
	}
	return infos
}

func getJobInfoFromAccounting(client sshutil.Client, cmds Commands, jobID string) ([]JobInfo, error) {
	defer metrics.MeasureSince([]string{"slurm", "sacct"}, time.Now())
	sacct := cmds.Sacct
	if sacct == "" {
		sacct = DefaultCommands().Sacct
	}
	fields := make([]string, len(sacctFields))
	for i, f := range sacctFields {
		fields[i] = f.field
	}
	cmd := fmt.Sprintf("%s -j %s -X -n -P -o %s", sacct, shellquote.Join(jobID), strings.Join(fields, ","))
	output, err := client.RunCommand(cmd)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get accounting info for job %q: %s", jobID, strings.TrimSpace(output))
	}
	infos, err := parseAccountingInfo(jobID, output)
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, &noJobFound{msg: fmt.Sprintf("no information found for job with id:%q", jobID)}
	}
	return infos, nil
}

// parseAccountingInfo parses 'sacct -P' rows and converts them into scontrol-like records
func parseAccountingInfo(jobID, output string) ([]JobInfo, error) {
	var infos []JobInfo
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		values := strings.Split(line, "|")
		if len(values) != len(sacctFields) {
			return nil, errors.Errorf("unexpected sacct output for job %q: %q", jobID, line)
		}
		info := make(JobInfo, len(values)+2)
		for i, f := range sacctFields {
			info[f.key] = values[i]
		}
		// "CANCELLED by 1000"
		if fields := strings.Fields(info["JobState"]); len(fields) > 0 {
			info["JobState"] = fields[0]
		}
		// array tasks are reported as <array job id>_<task id>, pending ones as <array job id>_[<range>]
		if idx := strings.Index(info["JobId"], "_"); idx >= 0 {
			info["ArrayJobId"] = info["JobId"][:idx]
			info["ArrayTaskId"] = strings.Trim(info["JobId"][idx+1:], "[]")
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Cancel cancels a job, or only the given array tasks of it
func Cancel(client sshutil.Client, cmds Commands, jobID string, indices []int) error {
	scancel := cmds.Scancel
	if scancel == "" {
		scancel = DefaultCommands().Scancel
	}
	targets := []string{jobID}
	if len(indices) > 0 {
		targets = make([]string, len(indices))
		for i, idx := range indices {
			targets[i] = fmt.Sprintf("%s_%d", jobID, idx)
		}
	}
	cmd := fmt.Sprintf("%s %s", scancel, shellquote.Join(targets...))
	log.Debugf("Run the command: %q", cmd)
	output, err := client.RunCommand(cmd)
	if err != nil {
		return errors.Wrapf(err, "failed to cancel job %q: %s", jobID, strings.TrimSpace(output))
	}
	metrics.IncrCounter([]string{"slurm", "cancellations"}, float32(len(targets)))
	return nil
}
