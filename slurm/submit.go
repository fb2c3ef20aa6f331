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
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/armon/go-metrics"
	"github.com/cenkalti/backoff"
	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"

	"github.com/ystia/slurmsweep/helper/sshutil"
	"github.com/ystia/slurmsweep/log"
)

// DefaultSubmitRetries is the number of sbatch retries on transient failures
const DefaultSubmitRetries = 3

var batchJobIDRegexp = regexp.MustCompile(`Submitted batch job (\d+)`)

// transient failures reported by the Slurm controller or the connection to the login node
var transientErrors = []string{
	"socket timed out",
	"try again",
	"resource temporarily unavailable",
	"unable to contact slurm controller",
	"slurm_receive_msg",
	"connection reset by peer",
}

// SubmitOptions allows to customize a submission
type SubmitOptions struct {
	Commands Commands
	// Options are sbatch flags overriding the script directives
	Options []string
	// Retries is the maximum number of retries on transient failures, a negative value disables retries
	Retries int
	// BackOff replaces the default exponential backoff policy when set
	BackOff backoff.BackOff
	// WorkDir is the directory sbatch is run from and the working directory of the job.
	// It defaults to the script directory.
	WorkDir string
}

func (o SubmitOptions) backOff(ctx context.Context) backoff.BackOff {
	b := o.BackOff
	if b == nil {
		retries := o.Retries
		if retries == 0 {
			retries = DefaultSubmitRetries
		}
		if retries < 0 {
			b = &backoff.StopBackOff{}
		} else {
			b = backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(retries))
		}
	}
	return backoff.WithContext(b, ctx)
}

func isTransientFailure(output string, err error) bool {
	msg := strings.ToLower(output + " " + err.Error())
	for _, t := range transientErrors {
		if strings.Contains(msg, t) {
			return true
		}
	}
	return false
}

func parseJobIDFromBatchOutput(output string) (string, error) {
	m := batchJobIDRegexp.FindStringSubmatch(output)
	if len(m) != 2 {
		return "", errors.Errorf("failed to parse job id from sbatch output %q", strings.TrimSpace(output))
	}
	return m[1], nil
}

// quotePath quotes a path for the shell preserving a leading '~/'
func quotePath(p string) string {
	if strings.HasPrefix(p, "~/") {
		return "~/" + shellquote.Join(p[2:])
	}
	return shellquote.Join(p)
}

// Submit runs sbatch on the given script from the options working directory and returns the job id.
//
// The script path must be absolute or relative to the home directory when a working directory is given.
//
// Transient failures are retried following the options backoff policy.
func Submit(ctx context.Context, client sshutil.Client, scriptPath string, opts SubmitOptions) (string, error) {
	defer metrics.MeasureSince([]string{"slurm", "sbatch"}, time.Now())
	sbatch := opts.Commands.Sbatch
	if sbatch == "" {
		sbatch = DefaultCommands().Sbatch
	}
	workDir, script := path.Dir(scriptPath), shellquote.Join(path.Base(scriptPath))
	if opts.WorkDir != "" && path.Clean(opts.WorkDir) != workDir {
		workDir, script = opts.WorkDir, quotePath(scriptPath)
	}
	cmd := fmt.Sprintf("cd %s;%s", quotePath(workDir), sbatch)
	if len(opts.Options) > 0 {
		cmd += " " + shellquote.Join(opts.Options...)
	}
	cmd += " " + script

	var jobID string
	var permanentErr error
	operation := func() error {
		log.Debugf("Run the command: %q", cmd)
		output, err := client.RunCommand(cmd)
		if err != nil {
			if isTransientFailure(output, err) {
				return errors.Wrap(err, strings.TrimSpace(output))
			}
			log.Debugf("stderr:%q", output)
			permanentErr = errors.Wrap(err, strings.TrimSpace(output))
			return nil
		}
		jobID, permanentErr = parseJobIDFromBatchOutput(output)
		return nil
	}
	notify := func(err error, d time.Duration) {
		metrics.IncrCounter([]string{"slurm", "sbatch", "retries"}, 1)
		log.Printf("sbatch failed with a transient error, retrying in %s: %v", d, err)
	}
	if err := backoff.RetryNotify(operation, opts.backOff(ctx), notify); err != nil {
		return "", errors.Wrapf(err, "failed to submit %q", scriptPath)
	}
	if permanentErr != nil {
		return "", errors.Wrapf(permanentErr, "failed to submit %q", scriptPath)
	}
	log.Debugf("JobID:%q", jobID)
	return jobID, nil
}
