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

package commands

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ystia/slurmsweep/storage"
)

func TestPurge(t *testing.T) {
	t.Parallel()
	var state atomic.Value
	state.Store("RUNNING")
	a, cleanup := newTestApp(t, func(cmd string) (string, error) {
		if strings.Contains(cmd, "scontrol") {
			s := state.Load().(string)
			return scontrolRecord("1", s) + scontrolRecord("2", s), nil
		}
		return "", nil
	})
	defer cleanup()
	ctx := context.Background()
	sub := saveTestSubmission(t, a, 1, 2)

	err := a.purge(ctx, sub.ShortID(), false, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still RUNNING")

	state.Store("COMPLETED")
	a.confirm = func(string) (bool, error) { return false, nil }
	require.NoError(t, a.purge(ctx, sub.ShortID(), false, false))
	assert.Contains(t, a.buf.String(), "Purge aborted")
	_, err = a.records.Load(sub.ID)
	require.NoError(t, err)

	a.confirm = func(string) (bool, error) { return true, nil }
	require.NoError(t, a.purge(ctx, sub.ShortID(), false, false))
	assert.Contains(t, a.buf.String(), "Purged submission "+sub.ShortID())
	_, err = a.records.Load(sub.ID)
	assert.True(t, storage.IsSubmissionNotFoundError(err))

	err = a.purge(ctx, sub.ID, true, true)
	assert.True(t, storage.IsSubmissionNotFoundError(err))
}

func TestPurgeForce(t *testing.T) {
	t.Parallel()
	a, cleanup := newTestApp(t, nil)
	defer cleanup()
	sub := saveTestSubmission(t, a, 1, 2)

	require.NoError(t, a.purge(context.Background(), sub.ShortID(), true, true))
	assert.Empty(t, a.client.Commands())
	_, err := a.records.Load(sub.ID)
	assert.True(t, storage.IsSubmissionNotFoundError(err))
}
