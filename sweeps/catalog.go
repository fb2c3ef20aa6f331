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
	"io"
	"io/ioutil"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// A Catalog is an ordered set of sweeps indexed by name
type Catalog struct {
	sweeps map[string]*Sweep
	order  []string
}

type catalogFile struct {
	Sweeps []*Sweep `yaml:"sweeps"`
}

// SweepNotFoundError is returned when looking for an unknown sweep
type SweepNotFoundError struct {
	Name  string
	Known []string
}

func (e *SweepNotFoundError) Error() string {
	return fmt.Sprintf("unknown sweep %q (known sweeps: %s)", e.Name, strings.Join(e.Known, ", "))
}

// IsSweepNotFoundError checks if an error is a SweepNotFoundError
func IsSweepNotFoundError(err error) bool {
	_, ok := errors.Cause(err).(*SweepNotFoundError)
	return ok
}

// NewCatalog creates a Catalog from the given sweeps.
//
// Defaults are applied and every sweep is validated, all problems are reported at once.
func NewCatalog(sweeps ...*Sweep) (*Catalog, error) {
	c := &Catalog{sweeps: make(map[string]*Sweep, len(sweeps))}
	var errs *multierror.Error
	for i, s := range sweeps {
		if s == nil {
			errs = multierror.Append(errs, errors.Errorf("sweep #%d is empty", i+1))
			continue
		}
		s.applyDefaults()
		if err := s.Validate(); err != nil {
			name := s.Name
			if name == "" {
				name = "#" + strconv.Itoa(i+1)
			}
			errs = multierror.Append(errs, errors.Wrapf(err, "sweep %s", name))
			continue
		}
		if _, exists := c.sweeps[s.Name]; exists {
			errs = multierror.Append(errs, errors.Errorf("sweep %q is defined more than once", s.Name))
			continue
		}
		c.sweeps[s.Name] = s
		c.order = append(c.order, s.Name)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load decodes a YAML sweeps catalog
func Load(r io.Reader) (*Catalog, error) {
	content, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read sweeps catalog")
	}
	var cf catalogFile
	if err = yaml.UnmarshalStrict(content, &cf); err != nil {
		return nil, errors.Wrap(err, "failed to decode sweeps catalog")
	}
	return NewCatalog(cf.Sweeps...)
}

// LoadFile decodes a YAML sweeps catalog file, '~' is expanded
func LoadFile(filePath string) (*Catalog, error) {
	p, err := homedir.Expand(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to expand sweeps file path %q", filePath)
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open sweeps file %q", p)
	}
	defer f.Close()
	c, err := Load(f)
	return c, errors.Wrapf(err, "sweeps file %q", p)
}

// Get returns the sweep with the given name
func (c *Catalog) Get(name string) (*Sweep, error) {
	s, ok := c.sweeps[name]
	if !ok {
		known := make([]string, len(c.order))
		copy(known, c.order)
		sort.Strings(known)
		return nil, &SweepNotFoundError{Name: name, Known: known}
	}
	return s, nil
}

// Names returns sweep names in definition order
func (c *Catalog) Names() []string {
	names := make([]string, len(c.order))
	copy(names, c.order)
	return names
}

// Sweeps returns sweeps in definition order
func (c *Catalog) Sweeps() []*Sweep {
	res := make([]*Sweep, 0, len(c.order))
	for _, n := range c.order {
		res = append(res, c.sweeps[n])
	}
	return res
}

// Len returns the number of sweeps of the catalog
func (c *Catalog) Len() int {
	return len(c.order)
}

// Merge returns a new catalog containing the sweeps of c overridden or completed by the ones of other.
//
// An overridden sweep keeps its position, new sweeps are appended.
func (c *Catalog) Merge(other *Catalog) *Catalog {
	res := &Catalog{sweeps: make(map[string]*Sweep, len(c.sweeps))}
	for _, n := range c.order {
		res.sweeps[n] = c.sweeps[n]
		res.order = append(res.order, n)
	}
	if other == nil {
		return res
	}
	for _, n := range other.order {
		if _, exists := res.sweeps[n]; !exists {
			res.order = append(res.order, n)
		}
		res.sweeps[n] = other.sweeps[n]
	}
	return res
}
