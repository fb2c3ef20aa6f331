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
	"io"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	survey "gopkg.in/AlecAivazis/survey.v1"

	"github.com/ystia/slurmsweep/config"
	"github.com/ystia/slurmsweep/helper/executil"
	"github.com/ystia/slurmsweep/helper/sshutil"
	"github.com/ystia/slurmsweep/log"
	"github.com/ystia/slurmsweep/slurm"
	"github.com/ystia/slurmsweep/storage"
	"github.com/ystia/slurmsweep/sweeps"
)

// DefaultRemoteDir is the directory of the login node where scripts are staged when slurm.remote_dir is not set
const DefaultRemoteDir = "~/slurmsweep"

// app gathers what commands need to run, built from the configuration
type app struct {
	cfg      config.Configuration
	catalog  *sweeps.Catalog
	cmds     slurm.Commands
	out      io.Writer
	colorize bool
	// confirm asks the user a yes/no question
	confirm func(message string) (bool, error)

	mu      sync.Mutex
	client  sshutil.FileClient
	records *storage.Records
}

func newApp(out io.Writer) (*app, error) {
	cfg := getConfig()
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:      cfg,
		catalog:  catalog,
		cmds:     slurm.CommandsFromConfig(cfg.Slurm),
		out:      out,
		colorize: !noColor,
		confirm:  surveyConfirm,
	}, nil
}

// loadCatalog returns the built-in sweeps merged with the ones of the configured sweeps file
func loadCatalog(cfg config.Configuration) (*sweeps.Catalog, error) {
	catalog := sweeps.Builtin()
	if cfg.SweepsFile == "" {
		return catalog, nil
	}
	userCatalog, err := sweeps.LoadFile(cfg.SweepsFile)
	if err != nil {
		return nil, err
	}
	return catalog.Merge(userCatalog), nil
}

func surveyConfirm(message string) (bool, error) {
	var ok bool
	prompt := &survey.Confirm{Message: message}
	err := survey.AskOne(prompt, &ok, nil)
	return ok, err
}

// getClient returns the client running Slurm commands, through SSH on the login node if one is configured
func (a *app) getClient() (sshutil.FileClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return a.client, nil
	}
	if a.cfg.IsRemote() {
		client, err := sshutil.NewSSHClient(a.cfg)
		if err != nil {
			return nil, err
		}
		a.client = client
	} else {
		a.client = &executil.LocalClient{}
	}
	return a.client, nil
}

func (a *app) getRecords() (*storage.Records, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.records != nil {
		return a.records, nil
	}
	s, err := storage.NewStore(a.cfg)
	if err != nil {
		return nil, err
	}
	a.records = storage.NewRecords(s)
	return a.records, nil
}

// remoteDir returns the base directory of staged batch scripts
func (a *app) remoteDir() (string, error) {
	if dir := a.cfg.Slurm.GetString("remote_dir"); dir != "" {
		return dir, nil
	}
	if a.cfg.IsRemote() {
		return DefaultRemoteDir, nil
	}
	return filepath.Abs(filepath.Join(a.cfg.WorkingDirectory, "runs"))
}

// projectDir returns the directory jobs are submitted and run from
func (a *app) projectDir() (string, error) {
	if dir := a.cfg.Slurm.GetString("project_dir"); dir != "" {
		return dir, nil
	}
	if a.cfg.IsRemote() {
		return "", nil
	}
	return os.Getwd()
}

func (a *app) host() string {
	if h := a.cfg.Slurm.GetString("host"); h != "" {
		return h
	}
	return "localhost"
}

// taskPath resolves a task log path from the directory the job was submitted from
func taskPath(sub *storage.Submission, p string) string {
	if p == "" || path.IsAbs(p) || strings.HasPrefix(p, "~/") {
		return p
	}
	if sub.WorkDir != "" {
		return path.Join(sub.WorkDir, p)
	}
	return path.Join(sub.RemoteDir, p)
}

func (a *app) coloredState(state string) string {
	if !a.colorize || state == "" {
		return state
	}
	switch slurm.Classify(state) {
	case slurm.StatusFailed:
		return color.New(color.FgHiRed, color.Bold).SprintFunc()(state)
	case slurm.StatusDone:
		return color.New(color.FgHiGreen, color.Bold).SprintFunc()(state)
	default:
		if state == "PENDING" {
			return color.New(color.FgHiYellow, color.Bold).SprintFunc()(state)
		}
		return color.New(color.FgHiCyan, color.Bold).SprintFunc()(state)
	}
}

func (a *app) taskLabel(index int) string {
	if a.colorize {
		return color.CyanString("[%d]", index)
	}
	return fmt.Sprintf("[%d]", index)
}

func (a *app) monitoringInterval() time.Duration {
	return a.cfg.JobMonitoringTimeInterval()
}

// signalContext returns a context cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			log.Debugf("Received signal %v, cancelling...", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigs)
	}()
	return ctx, cancel
}
