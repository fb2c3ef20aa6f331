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

// +build !windows

package executil

import (
	"context"
	"os/exec"
	"syscall"
	"time"

	"github.com/ystia/slurmsweep/log"
)

// Cmd represents an external command being prepared or run.
//
// It's an extension of exec.Cmd that signals the whole process tree instead of just the parent process.
// When its context is done the tree first receives a SIGTERM, then a SIGKILL once GracePeriod is elapsed.
type Cmd struct {
	*exec.Cmd
	// GracePeriod is the delay between SIGTERM and SIGKILL on cancellation
	GracePeriod time.Duration

	ctx      context.Context
	waitDone chan struct{}
}

// Command returns the Cmd struct to execute the named program with
// the given arguments.
//
// The provided context is used to terminate the process tree if the context becomes done before the command
// completes on its own.
func Command(ctx context.Context, name string, arg ...string) *Cmd {
	log.Debugf("The 'kill group' command '%s %q' will be executed...", name, arg)
	if ctx == nil {
		panic("nil Context")
	}
	innerCmd := exec.Command(name, arg...)
	cmd := &Cmd{ctx: ctx, Cmd: innerCmd, waitDone: make(chan struct{}), GracePeriod: DefaultGracePeriod}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// Run starts the specified command and waits for it to complete.
//
// If the command fails to run or doesn't complete successfully, the
// error is of type *exec.ExitError. Other error types may be
// returned for I/O problems.
func (c *Cmd) Run() error {
	if err := c.Start(); err != nil {
		return err
	}
	return c.Wait()
}

// Start starts the specified command but does not wait for it to complete.
func (c *Cmd) Start() error {
	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
	}

	if err := c.Cmd.Start(); err != nil {
		return err
	}
	go func() {
		select {
		case <-c.ctx.Done():
			c.signalGroup(syscall.SIGTERM)
			select {
			case <-c.waitDone:
			case <-time.After(c.GracePeriod):
				c.signalGroup(syscall.SIGKILL)
			}
		case <-c.waitDone:
		}
	}()
	return nil
}

// Wait waits for the command to exit.
// It must have been started by Start.
func (c *Cmd) Wait() error {
	defer close(c.waitDone)
	return c.Cmd.Wait()
}

func (c *Cmd) signalGroup(sig syscall.Signal) {
	if c.Process == nil {
		return
	}
	log.Debugf("Sending %v to process group %d", sig, c.Process.Pid)
	if err := syscall.Kill(-c.Process.Pid, sig); err != nil && err != syscall.ESRCH {
		log.Print("[Error] " + err.Error())
	}
}
