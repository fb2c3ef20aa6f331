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
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseArray parses a sbatch --array expression such as "1-5", "1,3,5-7", "1-9:2" or "1-10%2".
//
// It returns the sorted, deduplicated array indices and the throttle (0 when not set).
// Every index should belong to [1, max].
func ParseArray(expr string, max int) ([]int, int, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, 0, errors.New("empty array expression")
	}
	var throttle int
	if idx := strings.Index(expr, "%"); idx >= 0 {
		var err error
		throttle, err = strconv.Atoi(expr[idx+1:])
		if err != nil || throttle < 1 {
			return nil, 0, errors.Errorf("invalid array throttle in %q", expr)
		}
		expr = expr[:idx]
	}

	set := make(map[int]bool)
	for _, item := range strings.Split(expr, ",") {
		start, end, step, err := parseRangeItem(strings.TrimSpace(item))
		if err != nil {
			return nil, 0, errors.Wrapf(err, "invalid array expression %q", expr)
		}
		for i := start; i <= end; i += step {
			if i < 1 || i > max {
				return nil, 0, &IndexOutOfRangeError{Index: i, Len: max}
			}
			set[i] = true
		}
	}
	indices := make([]int, 0, len(set))
	for i := range set {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	return indices, throttle, nil
}

// FormatArray returns the compact sbatch --array expression of the given indices
func FormatArray(indices []int, throttle int) string {
	sorted := make([]int, len(indices))
	copy(sorted, indices)
	sort.Ints(sorted)

	var parts []string
	for i := 0; i < len(sorted); {
		j := i
		for j+1 < len(sorted) && sorted[j+1] <= sorted[j]+1 {
			j++
		}
		if sorted[i] == sorted[j] {
			parts = append(parts, strconv.Itoa(sorted[i]))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", sorted[i], sorted[j]))
		}
		i = j + 1
	}
	res := strings.Join(parts, ",")
	if throttle > 0 && res != "" {
		res += "%" + strconv.Itoa(throttle)
	}
	return res
}

// parseRangeItem parses "N", "N-M" or "N-M:S"
func parseRangeItem(item string) (start, end, step int, err error) {
	if item == "" {
		return 0, 0, 0, errors.New("empty item")
	}
	step = 1
	if idx := strings.Index(item, ":"); idx >= 0 {
		step, err = strconv.Atoi(item[idx+1:])
		if err != nil || step < 1 {
			return 0, 0, 0, errors.Errorf("invalid step in %q", item)
		}
		item = item[:idx]
	}
	bounds := strings.SplitN(item, "-", 2)
	start, err = strconv.Atoi(bounds[0])
	if err != nil {
		return 0, 0, 0, errors.Errorf("invalid value %q", bounds[0])
	}
	end = start
	if len(bounds) == 2 {
		end, err = strconv.Atoi(bounds[1])
		if err != nil {
			return 0, 0, 0, errors.Errorf("invalid value %q", bounds[1])
		}
	}
	if end < start {
		return 0, 0, 0, errors.Errorf("range %q is decreasing", item)
	}
	return start, end, step, nil
}
