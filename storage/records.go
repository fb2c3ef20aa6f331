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

package storage

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/satori/go.uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ystia/slurmsweep/storage/store"
)

const submissionsPrefix = "submissions"

// A Submission records a sweep submitted as a Slurm array job
type Submission struct {
	ID        string `json:"id"`
	Sweep     string `json:"sweep"`
	JobName   string `json:"job_name"`
	JobID     string `json:"job_id"`
	ArraySpec string `json:"array_spec"`
	Indices   []int  `json:"indices"`
	// ScriptPath is the batch script location on the submission host
	ScriptPath string `json:"script_path"`
	// RemoteDir is the staging directory of the batch script
	RemoteDir string `json:"remote_dir"`
	// WorkDir is the directory sbatch was run from, relative output paths are resolved from it
	WorkDir       string    `json:"work_dir,omitempty"`
	Host          string    `json:"host,omitempty"`
	OutputPattern string    `json:"output_pattern,omitempty"`
	ErrorPattern  string    `json:"error_pattern,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
	LastState     string    `json:"last_state,omitempty"`
	// TaskStates maps array task indices to their last known Slurm state
	TaskStates map[int]string `json:"task_states,omitempty"`
	// LogOffsets holds the number of lines already read for each followed log file
	LogOffsets map[string]int `json:"log_offsets,omitempty"`
}

// NewSubmission returns a submission record of the given sweep with a new unique ID
func NewSubmission(sweep string) *Submission {
	return &Submission{
		ID:          fmt.Sprint(uuid.NewV4()),
		Sweep:       sweep,
		SubmittedAt: time.Now().UTC(),
		TaskStates:  make(map[int]string),
		LogOffsets:  make(map[string]int),
	}
}

// ShortID returns the first block of the submission ID
func (s *Submission) ShortID() string {
	if i := strings.Index(s.ID, "-"); i > 0 {
		return s.ID[:i]
	}
	return s.ID
}

// SubmissionNotFoundError is returned when no submission matches an ID
type SubmissionNotFoundError struct {
	ID string
}

func (e *SubmissionNotFoundError) Error() string {
	return fmt.Sprintf("no submission found with ID %q", e.ID)
}

// IsSubmissionNotFoundError checks if an error is a SubmissionNotFoundError
func IsSubmissionNotFoundError(err error) bool {
	_, ok := errors.Cause(err).(*SubmissionNotFoundError)
	return ok
}

// Records manages submission records in a store
type Records struct {
	store store.Store
}

// NewRecords returns a Records using the given store
func NewRecords(s store.Store) *Records {
	return &Records{store: s}
}

func submissionKey(id string) string {
	return path.Join(submissionsPrefix, id)
}

// Save creates or updates a submission record
func (r *Records) Save(ctx context.Context, sub *Submission) error {
	if sub == nil || sub.ID == "" {
		return errors.New("a submission ID is required")
	}
	sub.UpdatedAt = time.Now().UTC()
	return errors.Wrapf(r.store.Set(ctx, submissionKey(sub.ID), sub), "failed to save submission %q", sub.ID)
}

// SaveAll creates or updates several submission records at once
func (r *Records) SaveAll(ctx context.Context, subs ...*Submission) error {
	if len(subs) == 0 {
		return nil
	}
	kvs := make([]store.KeyValueIn, 0, len(subs))
	now := time.Now().UTC()
	for _, sub := range subs {
		if sub == nil || sub.ID == "" {
			return errors.New("a submission ID is required")
		}
		sub.UpdatedAt = now
		kvs = append(kvs, store.KeyValueIn{Key: submissionKey(sub.ID), Value: sub})
	}
	return errors.Wrapf(r.store.SetCollection(ctx, kvs), "failed to save %d submissions", len(subs))
}

// Load returns the submission with the given ID.
//
// A unique ID prefix, as displayed by ShortID, is accepted.
func (r *Records) Load(id string) (*Submission, error) {
	if id == "" {
		return nil, errors.New("a submission ID is required")
	}
	sub := new(Submission)
	found, err := r.store.Get(submissionKey(id), sub)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load submission %q", id)
	}
	if found {
		return sub, nil
	}

	ids, err := r.ids()
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, candidate := range ids {
		if strings.HasPrefix(candidate, id) {
			matches = append(matches, candidate)
		}
	}
	switch len(matches) {
	case 0:
		return nil, &SubmissionNotFoundError{ID: id}
	case 1:
		return r.Load(matches[0])
	default:
		return nil, errors.Errorf("submission ID %q is ambiguous, it matches %s", id, strings.Join(matches, ", "))
	}
}

func (r *Records) ids() ([]string, error) {
	keys, err := r.store.Keys(submissionsPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list submissions")
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = path.Base(k)
	}
	return ids, nil
}

// List returns every submission, the most recent first
func (r *Records) List() ([]*Submission, error) {
	ids, err := r.ids()
	if err != nil {
		return nil, err
	}
	subs := make([]*Submission, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			sub := new(Submission)
			found, err := r.store.Get(submissionKey(id), sub)
			if err != nil {
				return errors.Wrapf(err, "failed to load submission %q", id)
			}
			if found {
				subs[i] = sub
			}
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}

	res := make([]*Submission, 0, len(subs))
	for _, s := range subs {
		if s != nil {
			res = append(res, s)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].SubmittedAt.After(res[j].SubmittedAt) })
	return res, nil
}

// Remove deletes a submission record, a SubmissionNotFoundError is returned if it does not exist
func (r *Records) Remove(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("a submission ID is required")
	}
	exist, err := r.store.Exist(submissionKey(id))
	if err != nil {
		return errors.Wrapf(err, "failed to check submission %q", id)
	}
	if !exist {
		return &SubmissionNotFoundError{ID: id}
	}
	return errors.Wrapf(r.store.Delete(ctx, submissionKey(id), false), "failed to remove submission %q", id)
}
