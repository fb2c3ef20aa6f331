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

package file

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/ystia/slurmsweep/helper/collections"
	"github.com/ystia/slurmsweep/log"
	"github.com/ystia/slurmsweep/storage/store"
)

const (
	cacheExpiration      = 10 * time.Minute
	cacheCleanupInterval = 30 * time.Minute
)

type fileStore struct {
	// For locking the locks map
	// (no two goroutines may create a lock for a filename that doesn't have a lock yet).
	locksLock *sync.Mutex
	// For locking file access.
	fileLocks         map[string]*sync.RWMutex
	filenameExtension string
	directory         string
	cache             *cache.Cache
}

// NewStore returns a new File store storing JSON files under rootDir
func NewStore(rootDir string) (store.Store, error) {
	if err := os.MkdirAll(rootDir, 0700); err != nil {
		return nil, errors.Wrapf(err, "failed to create file store directory %q", rootDir)
	}
	return &fileStore{
		filenameExtension: "json",
		directory:         rootDir,
		locksLock:         new(sync.Mutex),
		fileLocks:         make(map[string]*sync.RWMutex),
		cache:             cache.New(cacheExpiration, cacheCleanupInterval),
	}, nil
}

// prepareFileLock returns an existing file lock or creates a new one
func (s *fileStore) prepareFileLock(filePath string) *sync.RWMutex {
	s.locksLock.Lock()
	lock, found := s.fileLocks[filePath]
	if !found {
		lock = new(sync.RWMutex)
		s.fileLocks[filePath] = lock
	}
	s.locksLock.Unlock()
	return lock
}

func (s *fileStore) buildFilePath(k string, withExtension bool) string {
	filePath := k
	if withExtension && s.filenameExtension != "" {
		filePath += "." + s.filenameExtension
	}
	return filepath.Join(s.directory, filepath.FromSlash(filePath))
}

func (s *fileStore) Set(ctx context.Context, k string, v interface{}) error {
	if err := store.CheckKeyAndValue(k, v); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal value for key %q", k)
	}

	filePath := s.buildFilePath(k, true)
	lock := s.prepareFileLock(filePath)

	lock.Lock()
	defer lock.Unlock()

	err = os.MkdirAll(filepath.Dir(filePath), 0700)
	if err != nil {
		return err
	}

	// write to a temporary file first so readers never see a partial record
	tmpFile := filePath + ".tmp"
	if err = ioutil.WriteFile(tmpFile, data, 0600); err != nil {
		return err
	}
	if err = os.Rename(tmpFile, filePath); err != nil {
		return err
	}
	s.cache.SetDefault(k, data)
	return nil
}

func (s *fileStore) SetCollection(ctx context.Context, keyValues []store.KeyValueIn) error {
	if keyValues == nil {
		return nil
	}
	errGroup, ctx := errgroup.WithContext(ctx)
	for _, kv := range keyValues {
		kvItem := kv
		errGroup.Go(func() error {
			return s.Set(ctx, kvItem.Key, kvItem.Value)
		})
	}

	return errGroup.Wait()
}

func (s *fileStore) Get(k string, v interface{}) (bool, error) {
	if err := store.CheckKeyAndValue(k, v); err != nil {
		return false, err
	}

	// Check cache first
	if value, has := s.cache.Get(k); has {
		if data, ok := value.([]byte); ok {
			log.Debugf("Value has been retrieved from cache for key:%q", k)
			return true, json.Unmarshal(data, v)
		}
		log.Printf("[WARNING] Failed to cast retrieved value from cache to bytes array for key:%q. Data will be retrieved from store.", k)
	}

	filePath := s.buildFilePath(k, true)
	lock := s.prepareFileLock(filePath)

	lock.RLock()
	// Unmarshalling is done outside of the lock
	data, err := ioutil.ReadFile(filePath)
	lock.RUnlock()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	s.cache.SetDefault(k, data)
	return true, errors.Wrapf(json.Unmarshal(data, v), "failed to unmarshal data stored for key %q", k)
}

func (s *fileStore) Exist(k string) (bool, error) {
	if err := store.CheckKey(k); err != nil {
		return false, err
	}
	if _, has := s.cache.Get(k); has {
		return true, nil
	}
	_, err := os.Stat(s.buildFilePath(k, true))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *fileStore) Keys(k string) ([]string, error) {
	if err := store.CheckKey(k); err != nil {
		return nil, err
	}
	files, err := ioutil.ReadDir(s.buildFilePath(k, false))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	result := make([]string, 0, len(files))
	for _, file := range files {
		fileName := file.Name()
		if strings.HasSuffix(fileName, ".tmp") {
			continue
		}
		// return the whole key path without store specific extension
		result = append(result, path.Join(k, strings.TrimSuffix(fileName, "."+s.filenameExtension)))
	}
	return collections.RemoveDuplicates(result), nil
}

func (s *fileStore) Delete(ctx context.Context, k string, recursive bool) error {
	if err := store.CheckKey(k); err != nil {
		return err
	}

	s.clearCache(k, recursive)

	// Try to delete a single file in all cases
	filePath := s.buildFilePath(k, true)
	lock := s.prepareFileLock(filePath)

	lock.Lock()
	defer lock.Unlock()

	err := os.Remove(filePath)
	if recursive {
		// Remove the whole directory
		err = os.RemoveAll(s.buildFilePath(k, false))
	}
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *fileStore) clearCache(k string, recursive bool) {
	s.cache.Delete(k)
	if !recursive {
		return
	}
	prefix := k + "/"
	for key := range s.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Delete(key)
		}
	}
}
