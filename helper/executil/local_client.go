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

package executil

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"

	"github.com/ystia/slurmsweep/log"
)

// DefaultGracePeriod is the default delay given to a process tree between SIGTERM and SIGKILL
const DefaultGracePeriod = 30 * time.Second

// DefaultShell is the shell used by LocalClient to interpret commands
const DefaultShell = "/bin/bash"

// LocalClient runs commands on the local host through a shell.
//
// It is used when the Slurm client commands (sbatch, squeue...) are available where slurmsweep runs.
type LocalClient struct {
	Shell string
	// Timeout bounds each command, 0 means no limit
	Timeout time.Duration
}

// RunCommand runs the given command line and returns its combined stdout and stderr
func (c *LocalClient) RunCommand(cmd string) (string, error) {
	ctx := context.Background()
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	shell := c.Shell
	if shell == "" {
		shell = DefaultShell
	}
	log.Debugf("[LocalClient] %q", cmd)
	command := Command(ctx, shell, "-c", cmd)
	var b bytes.Buffer
	command.Stdout = &b
	command.Stderr = &b
	err := command.Run()
	return b.String(), err
}

// CopyFile writes the source content to the given local path, creating parent directories
func (c *LocalClient) CopyFile(source io.Reader, path, permissions string) error {
	mode, err := strconv.ParseUint(permissions, 8, 32)
	if err != nil {
		return errors.Wrapf(err, "invalid file permissions %q", permissions)
	}
	path, err = homedir.Expand(path)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %q", path)
	}
	content, err := ioutil.ReadAll(source)
	if err != nil {
		return err
	}
	if err = ioutil.WriteFile(path, content, os.FileMode(mode)); err != nil {
		return errors.Wrapf(err, "failed to write file %q", path)
	}
	// WriteFile does not change permissions of an existing file
	return os.Chmod(path, os.FileMode(mode))
}
