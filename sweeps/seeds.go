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
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// MaxSeeds is the maximum number of seeds of a seeds expression
const MaxSeeds = 100000

// SeedList is an ordered list of trainer seeds.
//
// In YAML it can be written as a list of integers (quoted or not) or as a
// range expression such as "1-5" or "1,3,10-12". Order is preserved.
type SeedList []int

// UnmarshalYAML implements yaml.Unmarshaler
func (sl *SeedList) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var expr string
	if err := unmarshal(&expr); err == nil {
		seeds, err := ParseSeeds(expr)
		if err != nil {
			return err
		}
		*sl = seeds
		return nil
	}

	var raw []interface{}
	if err := unmarshal(&raw); err != nil {
		return errors.Wrap(err, "seeds should be a list or a range expression")
	}
	seeds := make(SeedList, 0, len(raw))
	for i, r := range raw {
		seed, err := cast.ToIntE(r)
		if err != nil {
			return errors.Wrapf(err, "invalid seed #%d %v", i+1, r)
		}
		seeds = append(seeds, seed)
	}
	*sl = seeds
	return nil
}

// ParseSeeds parses a seeds expression ("1-5", "0,2,4", "10-20:5") keeping the written order
func ParseSeeds(expr string) (SeedList, error) {
	var seeds SeedList
	for _, item := range strings.Split(expr, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		start, end, step, err := parseRangeItem(item)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid seeds expression %q", expr)
		}
		// n+1 seeds, computed without overflowing near the int bounds
		n := (end - start) / step
		if n >= MaxSeeds-len(seeds) {
			return nil, errors.Errorf("seeds expression %q has more than %d seeds", expr, MaxSeeds)
		}
		for i := 0; i <= n; i++ {
			seeds = append(seeds, start+i*step)
		}
	}
	if len(seeds) == 0 {
		return nil, errors.Errorf("seeds expression %q is empty", expr)
	}
	return seeds, nil
}
