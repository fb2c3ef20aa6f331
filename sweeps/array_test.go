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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArray(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		expr         string
		max          int
		want         []int
		wantThrottle int
		wantErr      bool
	}{
		{"Range", "1-5", 5, []int{1, 2, 3, 4, 5}, 0, false},
		{"List", "1,3,5-7", 10, []int{1, 3, 5, 6, 7}, 0, false},
		{"Step", "1-9:2", 9, []int{1, 3, 5, 7, 9}, 0, false},
		{"Throttle", "2-4%2", 5, []int{2, 3, 4}, 2, false},
		{"Duplicates", "3,1-3,3", 5, []int{1, 2, 3}, 0, false},
		{"Spaces", " 1 , 2 ", 5, []int{1, 2}, 0, false},
		{"OutOfRange", "4-6", 5, nil, 0, true},
		{"Zero", "0-2", 5, nil, 0, true},
		{"Empty", "", 5, nil, 0, true},
		{"EmptyItem", "1,,2", 5, nil, 0, true},
		{"BadThrottle", "1-2%0", 5, nil, 0, true},
		{"BadStep", "1-5:0", 5, nil, 0, true},
		{"Reversed", "5-1", 5, nil, 0, true},
		{"NotANumber", "a-b", 5, nil, 0, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, throttle, err := ParseArray(tt.expr, tt.max)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantThrottle, throttle)
		})
	}
}

func TestParseArrayOutOfRangeError(t *testing.T) {
	t.Parallel()
	_, _, err := ParseArray("1,8", 5)
	require.Error(t, err)
	assert.True(t, IsIndexOutOfRangeError(err))
}

func TestFormatArray(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "1-5", FormatArray([]int{1, 2, 3, 4, 5}, 0))
	assert.Equal(t, "1-3,5%2", FormatArray([]int{5, 3, 2, 1}, 2))
	assert.Equal(t, "1,3,5", FormatArray([]int{1, 3, 5}, 0))
	assert.Equal(t, "2-3", FormatArray([]int{2, 2, 3}, 0))
	assert.Equal(t, "", FormatArray(nil, 4))
}

func TestFormatParseArrayConsistency(t *testing.T) {
	t.Parallel()
	for _, expr := range []string{"1-5", "1,3,5-7", "2-4%3", "1-2,4-5"} {
		indices, throttle, err := ParseArray(expr, 10)
		require.NoError(t, err)
		assert.Equal(t, expr, FormatArray(indices, throttle))
	}
}

func TestArraySpec(t *testing.T) {
	t.Parallel()
	s, err := Builtin().Get("md17_aspirin")
	require.NoError(t, err)
	assert.Equal(t, "1-5", s.ArraySpec())
	s.Throttle = 2
	assert.Equal(t, "1-5%2", s.ArraySpec())
}

func TestParseSeeds(t *testing.T) {
	t.Parallel()
	seeds, err := ParseSeeds("5,1-3,10-14:2")
	require.NoError(t, err)
	assert.Equal(t, SeedList{5, 1, 2, 3, 10, 12, 14}, seeds)

	_, err = ParseSeeds(" , ")
	require.Error(t, err)
	_, err = ParseSeeds("x")
	require.Error(t, err)
}

func TestParseSeedsBounds(t *testing.T) {
	t.Parallel()
	seeds, err := ParseSeeds("9223372036854775806-9223372036854775807")
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, 1, seeds[1]-seeds[0])

	seeds, err = ParseSeeds("0-99999")
	require.NoError(t, err)
	assert.Len(t, seeds, MaxSeeds)

	for _, expr := range []string{"0-9223372036854775807", "0-100000", "0-60000,0-60000", "1-9223372036854775807:1000"} {
		_, err = ParseSeeds(expr)
		require.Error(t, err, expr)
		assert.Contains(t, err.Error(), "more than", expr)
	}
}
