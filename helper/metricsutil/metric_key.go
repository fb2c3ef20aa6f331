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

package metricsutil

import (
	"strings"
)

var metricKeyReplacer = strings.NewReplacer("/", "-", ".", "-", "_", "-", "|", "-", ":", "-", " ", "-")

// CleanupMetricKey replaces any reserved characters in statsd/statsite by '-'.
//
// Sweep names such as "md17_naphthalene" are used as key parts and are rewritten "md17-naphthalene".
func CleanupMetricKey(key []string) []string {
	res := make([]string, len(key))
	for i, keyPart := range key {
		// . is the statsd separator, | and : are reserved separators for statsd
		res[i] = metricKeyReplacer.Replace(keyPart)
	}
	return res
}

// SweepKey builds a metric key scoped to a sweep: <prefix...>.<sweep>.<suffix...>
func SweepKey(sweep string, prefix []string, suffix ...string) []string {
	key := make([]string, 0, len(prefix)+len(suffix)+1)
	key = append(key, prefix...)
	key = append(key, sweep)
	key = append(key, suffix...)
	return CleanupMetricKey(key)
}
