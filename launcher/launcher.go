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

// Package launcher runs the trainer of a sweep from inside a Slurm array task
package launcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/armon/go-metrics"
	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"

	"github.com/ystia/slurmsweep/helper/executil"
	"github.com/ystia/slurmsweep/helper/metricsutil"
	"github.com/ystia/slurmsweep/log"
	"github.com/ystia/slurmsweep/sweeps"
)

// ArrayTaskIDEnvVar is the environment variable set by Slurm to the array task index
const ArrayTaskIDEnvVar = "SLURM_ARRAY_TASK_ID"

// Options allows to customize a trainer run
type Options struct {
	// Env is the base environment of the trainer, os.Environ() when nil
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
	// DryRun prints the command and its environment instead of running it
	DryRun bool
	// GracePeriod is the delay given to the trainer between SIGTERM and SIGKILL on cancellation
	GracePeriod time.Duration
}

// ExitError is returned when the trainer exits with a non-zero status
type ExitError struct {
	Code int
	err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("trainer exited with status %d: %v", e.Code, e.err)
}

// IsExitError checks if an error is an ExitError and returns its exit code
func IsExitError(err error) (int, bool) {
	e, ok := errors.Cause(err).(*ExitError)
	if !ok {
		return 0, false
	}
	return e.Code, true
}

// IndexFromEnv reads the array task index from the given environment ("KEY=value" strings)
func IndexFromEnv(env []string) (int, error) {
	var value string
	var found bool
	for _, e := range env {
		if strings.HasPrefix(e, ArrayTaskIDEnvVar+"=") {
			value = strings.TrimPrefix(e, ArrayTaskIDEnvVar+"=")
			found = true
		}
	}
	if !found || value == "" {
		return 0, errors.Errorf("%s is not set, is this running inside a Slurm array job?", ArrayTaskIDEnvVar)
	}
	index, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s %q", ArrayTaskIDEnvVar, value)
	}
	return index, nil
}

// Run resolves the selection of the given array index and runs the trainer with it.
//
// The selection is exported to the trainer environment. Cancelling the context terminates the trainer.
func Run(ctx context.Context, s *sweeps.Sweep, index int, opts Options) error {
	sel, err := s.Resolve(index)
	if err != nil {
		return err
	}
	argv := s.Command(sel)
	env := opts.Env
	if env == nil {
		env = os.Environ()
	}
	env = append(append([]string{}, env...), s.Env(sel)...)

	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	if opts.DryRun {
		for _, e := range s.Env(sel) {
			fmt.Fprintf(stdout, "export %s\n", shellquote.Join(e))
		}
		if s.Trainer.WorkDir != "" {
			fmt.Fprintf(stdout, "cd %s\n", shellquote.Join(s.Trainer.WorkDir))
		}
		fmt.Fprintln(stdout, shellquote.Join(argv...))
		return nil
	}

	log.Printf("Running sweep %q task %d: %s", s.Name, index, shellquote.Join(argv...))
	cmd := executil.Command(ctx, argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Dir = s.Trainer.WorkDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if opts.GracePeriod > 0 {
		cmd.GracePeriod = opts.GracePeriod
	}

	start := time.Now()
	err = cmd.Run()
	metrics.MeasureSince(metricsutil.SweepKey(s.Name, []string{"launcher"}, "duration"), start)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return errors.Wrapf(ctx.Err(), "trainer of sweep %q task %d interrupted", s.Name, index)
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		code := 1
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			code = status.ExitStatus()
			if status.Signaled() {
				code = 128 + int(status.Signal())
			}
		}
		metrics.IncrCounter(metricsutil.SweepKey(s.Name, []string{"launcher"}, "failures"), 1)
		return &ExitError{Code: code, err: err}
	}
	return errors.Wrapf(err, "failed to run trainer of sweep %q", s.Name)
}
