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

// Package sweeps defines training sweeps: a set of trainer runs submitted as one
// Slurm array job, each array element selecting one seed or configuration file.
package sweeps

import (
	"bytes"
	"regexp"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/ystia/slurmsweep/helper/sizeutil"
)

// Environment managers supported to activate the trainer environment
const (
	ManagerNone  = "none"
	ManagerConda = "conda"
	ManagerMamba = "mamba"
	ManagerVenv  = "venv"
)

// DefaultInterpreter is the program used to run the trainer entry point
const DefaultInterpreter = "python"

// DefaultConfigFlag is the trainer flag receiving the selected configuration file
const DefaultConfigFlag = "--config_by_file"

// A Sweep describes a set of trainer runs submitted as a single Slurm array job
type Sweep struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Job         JobSpec     `yaml:"job" json:"job"`
	Environment EnvSpec     `yaml:"environment" json:"environment"`
	Trainer     TrainerSpec `yaml:"trainer" json:"trainer"`
	// Seeds enumerates trainer seeds, the configuration path is then built from ConfigTemplate
	Seeds SeedList `yaml:"seeds,omitempty" json:"seeds,omitempty"`
	// ConfigTemplate is a Go template using .Seed, .Index and .Name
	ConfigTemplate string `yaml:"config_template,omitempty" json:"config_template,omitempty"`
	// Configs enumerates configuration files, relative to ConfigDir if set
	Configs   []string `yaml:"configs,omitempty" json:"configs,omitempty"`
	ConfigDir string   `yaml:"config_dir,omitempty" json:"config_dir,omitempty"`
	// Throttle limits the number of simultaneously running array tasks, 0 means no limit
	Throttle int `yaml:"throttle,omitempty" json:"throttle,omitempty"`

	tmpl *template.Template
}

// JobSpec holds the batch directives of a sweep
type JobSpec struct {
	Name         string   `yaml:"name,omitempty" json:"name,omitempty"`
	Time         string   `yaml:"time,omitempty" json:"time,omitempty"`
	Partition    string   `yaml:"partition,omitempty" json:"partition,omitempty"`
	Account      string   `yaml:"account,omitempty" json:"account,omitempty"`
	QOS          string   `yaml:"qos,omitempty" json:"qos,omitempty"`
	Nodes        int      `yaml:"nodes,omitempty" json:"nodes,omitempty"`
	NTasks       int      `yaml:"ntasks,omitempty" json:"ntasks,omitempty"`
	CPUsPerTask  int      `yaml:"cpus_per_task,omitempty" json:"cpus_per_task,omitempty"`
	GPUs         int      `yaml:"gpus,omitempty" json:"gpus,omitempty"`
	Mem          string   `yaml:"mem,omitempty" json:"mem,omitempty"`
	Output       string   `yaml:"output,omitempty" json:"output,omitempty"`
	Error        string   `yaml:"error,omitempty" json:"error,omitempty"`
	ExtraOptions []string `yaml:"extra_options,omitempty" json:"extra_options,omitempty"`
}

// EnvSpec describes how the trainer environment is activated
type EnvSpec struct {
	// Setup lines are run first (ie "module load anaconda3")
	Setup   []string `yaml:"setup,omitempty" json:"setup,omitempty"`
	Manager string   `yaml:"manager,omitempty" json:"manager,omitempty"`
	// Name is the conda environment name or the virtualenv path
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
}

// TrainerSpec describes the external trainer invocation
type TrainerSpec struct {
	Interpreter string   `yaml:"interpreter,omitempty" json:"interpreter,omitempty"`
	EntryPoint  string   `yaml:"entry_point" json:"entry_point"`
	ConfigFlag  string   `yaml:"config_flag,omitempty" json:"config_flag,omitempty"`
	Args        []string `yaml:"args,omitempty" json:"args,omitempty"`
	WorkDir     string   `yaml:"work_dir,omitempty" json:"work_dir,omitempty"`
}

// UsesSeeds returns true if the sweep enumerates seeds rather than configuration files
func (s *Sweep) UsesSeeds() bool {
	return len(s.Seeds) > 0
}

// Len returns the number of array elements of the sweep
func (s *Sweep) Len() int {
	if s.UsesSeeds() {
		return len(s.Seeds)
	}
	return len(s.Configs)
}

// JobName returns the Slurm job name, defaulting to the sweep name
func (s *Sweep) JobName() string {
	if s.Job.Name != "" {
		return s.Job.Name
	}
	return s.Name
}

// ArraySpec returns the sbatch --array expression covering every element of the sweep
func (s *Sweep) ArraySpec() string {
	indices := make([]int, s.Len())
	for i := range indices {
		indices[i] = i + 1
	}
	return FormatArray(indices, s.Throttle)
}

func (s *Sweep) applyDefaults() {
	if s.Trainer.Interpreter == "" {
		s.Trainer.Interpreter = DefaultInterpreter
	}
	if s.Trainer.ConfigFlag == "" {
		s.Trainer.ConfigFlag = DefaultConfigFlag
	}
	if s.Environment.Manager == "" {
		if s.Environment.Name != "" {
			s.Environment.Manager = ManagerConda
		} else {
			s.Environment.Manager = ManagerNone
		}
	}
}

var (
	slurmTimeRegexp = regexp.MustCompile(`^(?:(?:\d+-)?\d+(?::\d+){0,2}|(?i:unlimited|infinite))$`)
	jobNameRegexp   = regexp.MustCompile(`^[^\s%]+$`)
)

// Validate checks the sweep definition and returns every problem found
func (s *Sweep) Validate() error {
	var errs *multierror.Error
	add := func(format string, args ...interface{}) {
		errs = multierror.Append(errs, errors.Errorf(format, args...))
	}

	if s.Name == "" {
		add("sweep name is required")
	}
	if s.Trainer.EntryPoint == "" {
		add("trainer entry point is required")
	}
	switch {
	case len(s.Seeds) > 0 && len(s.Configs) > 0:
		add("seeds and configs are mutually exclusive")
	case len(s.Seeds) == 0 && len(s.Configs) == 0:
		add("either seeds or configs should be provided")
	}
	if len(s.Seeds) > 0 {
		if s.ConfigTemplate == "" {
			add("config_template is required when seeds are used")
		} else if _, err := s.configTemplate(); err != nil {
			errs = multierror.Append(errs, errors.Wrap(err, "invalid config_template"))
		}
		seen := make(map[int]bool, len(s.Seeds))
		for _, seed := range s.Seeds {
			if seen[seed] {
				add("duplicate seed %d", seed)
			}
			seen[seed] = true
		}
	}
	for i, c := range s.Configs {
		if c == "" {
			add("config #%d is empty", i+1)
		}
	}
	switch s.Environment.Manager {
	case "", ManagerNone:
	case ManagerConda, ManagerMamba, ManagerVenv:
		if s.Environment.Name == "" {
			add("environment name is required by the %q manager", s.Environment.Manager)
		}
	default:
		add("unsupported environment manager %q", s.Environment.Manager)
	}
	// the sweep name is the job name by default
	if name := s.JobName(); name != "" && !jobNameRegexp.MatchString(name) {
		add("invalid job name %q", name)
	}
	if s.Job.Time != "" && !slurmTimeRegexp.MatchString(s.Job.Time) {
		add("invalid time limit %q", s.Job.Time)
	}
	if _, err := sizeutil.ToSlurmMemory(s.Job.Mem); err != nil {
		add("invalid memory %q (expecting a number of megabytes, a K, M, G or T suffixed number or a size as \"16 GiB\")", s.Job.Mem)
	}
	for name, v := range map[string]int{"nodes": s.Job.Nodes, "ntasks": s.Job.NTasks, "cpus_per_task": s.Job.CPUsPerTask, "gpus": s.Job.GPUs, "throttle": s.Throttle} {
		if v < 0 {
			add("%s should not be negative", name)
		}
	}
	return errs.ErrorOrNil()
}

func (s *Sweep) configTemplate() (*template.Template, error) {
	if s.tmpl != nil {
		return s.tmpl, nil
	}
	tmpl, err := template.New(s.Name).Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(s.ConfigTemplate)
	if err != nil {
		return nil, err
	}
	s.tmpl = tmpl
	return tmpl, nil
}

func (s *Sweep) renderConfigPath(sel Selection) (string, error) {
	tmpl, err := s.configTemplate()
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse config template of sweep %q", s.Name)
	}
	var b bytes.Buffer
	err = tmpl.Execute(&b, struct {
		Seed  int
		Index int
		Name  string
	}{sel.Seed, sel.Index, s.Name})
	return b.String(), errors.Wrapf(err, "failed to render config template of sweep %q", s.Name)
}
