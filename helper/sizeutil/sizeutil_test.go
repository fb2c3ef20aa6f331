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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToSlurmMemory(t *testing.T) {
	t.Parallel()
	var testData = []struct {
		test          string
		inputSize     string
		expectedSize  string
		expectedError bool
	}{
		{"empty", "", "", false},
		{"mb", "4000", "4000", false},
		{"slurmGB", "32G", "32G", false},
		{"slurmLowerCase", "64g", "64G", false},
		{"gib", "16 GiB", "16384M", false},
		{"gb", "1GB", "954M", false},
		{"decimal", "1.5 GB", "1431M", false},
		{"mib", "512MiB", "512M", false},
		{"zero", "0 GB", "", true},
		{"error", "1 deca", "", true},
	}
	for _, tt := range testData {
		s, err := ToSlurmMemory(tt.inputSize)
		if !tt.expectedError {
			assert.Nil(t, err, tt.test)
			assert.Equal(t, tt.expectedSize, s, tt.test)
		} else {
			assert.Error(t, err, "Expected an error for %s", tt.test)
		}
	}
}
