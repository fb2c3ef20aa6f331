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

package sweeps

import (
	"fmt"
	"path"
	"strconv"

	"github.com/pkg/errors"
)

// Environment variables exported to the trainer process
const (
	SeedEnvVar       = "SEED"
	ConfigEnvVar     = "CFG"
	ConfigPathEnvVar = "CONFIG_PATH"
	IndexEnvVar      = "SWEEP_INDEX"
	NameEnvVar       = "SWEEP_NAME"
)

// A Selection is what an array task index resolves to
type Selection struct {
	Index int `json:"index"`
	// Seed is only meaningful when HasSeed is true
	Seed    int  `json:"seed,omitempty"`
	HasSeed bool `json:"has_seed"`
	// Config is the configuration file name as listed in the sweep, empty for seed sweeps
	Config string `json:"config,omitempty"`
	// Path is the configuration path given to the trainer
	Path string `json:"path"`
}

// IndexOutOfRangeError is returned when an array task index does not match any sweep element
type IndexOutOfRangeError struct {
	Sweep string
	Index int
	Len   int
}

func (e *IndexOutOfRangeError) Error() string {
	if e.Sweep == "" {
		return fmt.Sprintf("array index %d out of range [1, %d]", e.Index, e.Len)
	}
	return fmt.Sprintf("array index %d out of range [1, %d] for sweep %q", e.Index, e.Len, e.Sweep)
}

// IsIndexOutOfRangeError checks if an error is an IndexOutOfRangeError
func IsIndexOutOfRangeError(err error) bool {
	_, ok := errors.Cause(err).(*IndexOutOfRangeError)
	return ok
}

// Resolve returns the selection of the given 1-based array task index: the i-th seed or config of the sweep
func (s *Sweep) Resolve(index int) (Selection, error) {
	if index < 1 || index > s.Len() {
		return Selection{}, &IndexOutOfRangeError{Sweep: s.Name, Index: index, Len: s.Len()}
	}
	sel := Selection{Index: index}
	if s.UsesSeeds() {
		sel.Seed = s.Seeds[index-1]
		sel.HasSeed = true
		p, err := s.renderConfigPath(sel)
		if err != nil {
			return Selection{}, err
		}
		sel.Path = p
		return sel, nil
	}
	sel.Config = s.Configs[index-1]
	sel.Path = sel.Config
	if s.ConfigDir != "" {
		sel.Path = path.Join(s.ConfigDir, sel.Config)
	}
	return sel, nil
}

// ResolveAll returns the selections of every array element, in index order
func (s *Sweep) ResolveAll() ([]Selection, error) {
	sels := make([]Selection, 0, s.Len())
	for i := 1; i <= s.Len(); i++ {
		sel, err := s.Resolve(i)
		if err != nil {
			return nil, err
		}
		sels = append(sels, sel)
	}
	return sels, nil
}

// Command returns the trainer command line for the given selection
func (s *Sweep) Command(sel Selection) []string {
	interpreter := s.Trainer.Interpreter
	if interpreter == "" {
		interpreter = DefaultInterpreter
	}
	flag := s.Trainer.ConfigFlag
	if flag == "" {
		flag = DefaultConfigFlag
	}
	cmd := []string{interpreter, s.Trainer.EntryPoint, flag, sel.Path}
	return append(cmd, s.Trainer.Args...)
}

// Env returns the environment variables describing the selection, as "KEY=value" strings
func (s *Sweep) Env(sel Selection) []string {
	env := []string{
		NameEnvVar + "=" + s.Name,
		IndexEnvVar + "=" + strconv.Itoa(sel.Index),
		ConfigPathEnvVar + "=" + sel.Path,
	}
	if sel.Config != "" {
		env = append(env, ConfigEnvVar+"="+sel.Config)
	} else {
		env = append(env, ConfigEnvVar+"="+sel.Path)
	}
	if sel.HasSeed {
		env = append(env, SeedEnvVar+"="+strconv.Itoa(sel.Seed))
	}
	return env
}
