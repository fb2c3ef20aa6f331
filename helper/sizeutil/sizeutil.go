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

package sizeutil

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

var slurmMemRegexp = regexp.MustCompile(`^\d+[KMGT]?$`)

// ToSlurmMemory converts a memory size into a value accepted by the sbatch --mem option.
//
// Values already in the Slurm format ("4000", "32G") are kept, a human readable size as "1.5 GB" or "16GiB"
// is converted into mebibytes rounded up ("1431M", "16384M").
func ToSlurmMemory(size string) (string, error) {
	size = strings.TrimSpace(size)
	if size == "" {
		return "", nil
	}
	if upper := strings.ToUpper(size); slurmMemRegexp.MatchString(upper) {
		return upper, nil
	}
	b, err := humanize.ParseBytes(size)
	if err != nil {
		return "", errors.Errorf("invalid memory size %q: %v", size, err)
	}
	if b == 0 {
		return "", errors.Errorf("invalid memory size %q: should not be null", size)
	}
	return fmt.Sprintf("%dM", uint64(math.Ceil(float64(b)/humanize.MiByte))), nil
}
