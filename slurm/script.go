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
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"

	"github.com/ystia/slurmsweep/helper/sizeutil"
	"github.com/ystia/slurmsweep/sweeps"
)

// DirectivePrefix starts every batch directive line of a script
const DirectivePrefix = "#SBATCH"

// DefaultLauncher is the program called by launcher scripts
const DefaultLauncher = "slurmsweep"

// RenderOptions allows to customize a rendered batch script
type RenderOptions struct {
	// Indices restricts the array to the given 1-based indices
	Indices []int
	// Throttle overrides the sweep throttle when positive
	Throttle int
	// Launcher is the slurmsweep executable called by launcher scripts
	Launcher string
	// SweepsFile is given to the launcher when sweeps are not built-in ones
	SweepsFile string
}

// ArraySpec returns the --array value for a sweep and the given options
func ArraySpec(s *sweeps.Sweep, opts RenderOptions) (string, error) {
	throttle := s.Throttle
	if opts.Throttle > 0 {
		throttle = opts.Throttle
	}
	if len(opts.Indices) == 0 {
		indices := make([]int, s.Len())
		for i := range indices {
			indices[i] = i + 1
		}
		return sweeps.FormatArray(indices, throttle), nil
	}
	for _, i := range opts.Indices {
		if i < 1 || i > s.Len() {
			return "", &sweeps.IndexOutOfRangeError{Sweep: s.Name, Index: i, Len: s.Len()}
		}
	}
	return sweeps.FormatArray(opts.Indices, throttle), nil
}

// BuildOptions returns sbatch flags for every non-empty field of the job, in directive order
func BuildOptions(job sweeps.JobSpec) []string {
	var opts []string
	add := func(format string, args ...interface{}) {
		opts = append(opts, fmt.Sprintf(format, args...))
	}
	if job.Name != "" {
		add("--job-name=%s", job.Name)
	}
	if job.Time != "" {
		add("--time=%s", job.Time)
	}
	if job.Partition != "" {
		add("--partition=%s", job.Partition)
	}
	if job.Account != "" {
		add("--account=%s", job.Account)
	}
	if job.QOS != "" {
		add("--qos=%s", job.QOS)
	}
	if job.Nodes > 0 {
		add("--nodes=%d", job.Nodes)
	}
	if job.NTasks > 0 {
		add("--ntasks=%d", job.NTasks)
	}
	if job.CPUsPerTask > 0 {
		add("--cpus-per-task=%d", job.CPUsPerTask)
	}
	if job.GPUs > 0 {
		add("--gres=gpu:%d", job.GPUs)
	}
	if job.Mem != "" {
		mem, err := sizeutil.ToSlurmMemory(job.Mem)
		if err != nil {
			mem = job.Mem
		}
		add("--mem=%s", mem)
	}
	if job.Output != "" {
		add("--output=%s", job.Output)
	}
	if job.Error != "" {
		add("--error=%s", job.Error)
	}
	for _, o := range job.ExtraOptions {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if !strings.HasPrefix(o, "-") {
			o = "--" + o
		}
		opts = append(opts, o)
	}
	return opts
}

const scriptHeaderTemplate = `#!/bin/bash
{{- range .Directives}}
{{$.Prefix}} {{.}}
{{- end}}
{{- with .Description}}

# {{.}}
{{- end}}
{{- if .Setup}}
{{range .Setup}}
{{.}}
{{- end}}
{{- end}}
{{- with .Activation}}
{{.}}
{{- end}}
{{- with .WorkDir}}
cd {{shpath .}}
{{- end}}
`

const scriptBodyTemplate = `
{{- if .Seeds}}
SEEDS=({{range .Seeds}} {{.}}{{end}} )
{{- end}}
{{- if .Configs}}
CONFIGS=({{range .Configs}} {{shquote .}}{{end}} )
{{- end}}
CONFIG_PATHS=({{range .Paths}} {{shquote .}}{{end}} )

TASK_INDEX=$((SLURM_ARRAY_TASK_ID - 1))
CONFIG_PATH="${CONFIG_PATHS[$TASK_INDEX]}"
{{- if .Seeds}}
SEED="${SEEDS[$TASK_INDEX]}"
CFG="${CONFIG_PATH}"
export SEED
{{- else}}
CFG="${CONFIGS[$TASK_INDEX]}"
{{- end}}
SWEEP_NAME={{shquote .Name}}
SWEEP_INDEX="${SLURM_ARRAY_TASK_ID}"
export CFG CONFIG_PATH SWEEP_NAME SWEEP_INDEX

{{shquote .Interpreter .EntryPoint .ConfigFlag}} "${CONFIG_PATH}"{{with .Args}} {{join " " (shquoteList .)}}{{end}}
`

const launcherBodyTemplate = `
exec {{shpath .Launcher}} exec{{with .SweepsFile}} --sweeps_file {{shpath .}}{{end}} {{shquote .Name}}
`

type scriptData struct {
	Prefix      string
	Directives  []string
	Description string
	Setup       []string
	Activation  string
	WorkDir     string
	Name        string
	Seeds       []int
	Configs     []string
	Paths       []string
	Interpreter string
	EntryPoint  string
	ConfigFlag  string
	Args        []string
	Launcher    string
	SweepsFile  string
}

var scriptTemplates = template.Must(template.New("header").Funcs(sprig.TxtFuncMap()).Funcs(template.FuncMap{
	"shquote":     func(args ...string) string { return shellquote.Join(args...) },
	"shquoteList": func(args []string) []string { return quoteEach(args) },
	"shpath":      quotePath,
}).Parse(scriptHeaderTemplate))

func init() {
	template.Must(scriptTemplates.New("body").Parse(scriptBodyTemplate))
	template.Must(scriptTemplates.New("launcher").Parse(launcherBodyTemplate))
}

func quoteEach(args []string) []string {
	res := make([]string, len(args))
	for i, a := range args {
		res[i] = shellquote.Join(a)
	}
	return res
}

// Activation returns the shell lines activating the trainer environment
func Activation(env sweeps.EnvSpec) string {
	switch env.Manager {
	case sweeps.ManagerConda:
		return fmt.Sprintf("eval \"$(conda shell.bash hook)\"\nconda activate %s", shellquote.Join(env.Name))
	case sweeps.ManagerMamba:
		return fmt.Sprintf("eval \"$(mamba shell hook --shell bash)\"\nmamba activate %s", shellquote.Join(env.Name))
	case sweeps.ManagerVenv:
		return fmt.Sprintf("source %s/bin/activate", shellquote.Join(env.Name))
	default:
		return ""
	}
}

func newScriptData(s *sweeps.Sweep, opts RenderOptions) (*scriptData, error) {
	array, err := ArraySpec(s, opts)
	if err != nil {
		return nil, err
	}
	job := s.Job
	job.Name = s.JobName()
	directives := append(BuildOptions(job), "--array="+array)

	data := &scriptData{
		Prefix:      DirectivePrefix,
		Directives:  directives,
		Description: strings.Replace(s.Description, "\n", " ", -1),
		Setup:       s.Environment.Setup,
		Activation:  Activation(s.Environment),
		WorkDir:     s.Trainer.WorkDir,
		Name:        s.Name,
		Interpreter: s.Trainer.Interpreter,
		EntryPoint:  s.Trainer.EntryPoint,
		ConfigFlag:  s.Trainer.ConfigFlag,
		Args:        s.Trainer.Args,
		Launcher:    opts.Launcher,
		SweepsFile:  opts.SweepsFile,
	}
	if data.Interpreter == "" {
		data.Interpreter = sweeps.DefaultInterpreter
	}
	if data.ConfigFlag == "" {
		data.ConfigFlag = sweeps.DefaultConfigFlag
	}
	if data.Launcher == "" {
		data.Launcher = DefaultLauncher
	}
	return data, nil
}

func execute(name string, data *scriptData) (string, error) {
	var b bytes.Buffer
	if err := scriptTemplates.ExecuteTemplate(&b, "header", data); err != nil {
		return "", errors.Wrap(err, "failed to render batch script header")
	}
	if err := scriptTemplates.ExecuteTemplate(&b, name, data); err != nil {
		return "", errors.Wrap(err, "failed to render batch script")
	}
	return b.String(), nil
}

// Render returns a self-contained batch script running the sweep trainer.
//
// Every array element selects its seed and configuration with SLURM_ARRAY_TASK_ID
// in bash arrays holding all the sweep elements.
func Render(s *sweeps.Sweep, opts RenderOptions) (string, error) {
	data, err := newScriptData(s, opts)
	if err != nil {
		return "", err
	}
	sels, err := s.ResolveAll()
	if err != nil {
		return "", err
	}
	for _, sel := range sels {
		data.Paths = append(data.Paths, sel.Path)
		if sel.HasSeed {
			data.Seeds = append(data.Seeds, sel.Seed)
		} else {
			data.Configs = append(data.Configs, sel.Config)
		}
	}
	return execute("body", data)
}

// RenderLauncher returns a batch script delegating the selection to 'slurmsweep exec'
func RenderLauncher(s *sweeps.Sweep, opts RenderOptions) (string, error) {
	data, err := newScriptData(s, opts)
	if err != nil {
		return "", err
	}
	return execute("launcher", data)
}
