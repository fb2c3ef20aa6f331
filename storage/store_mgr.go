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

// Package storage records sweep submissions in the configured key/value store
package storage

import (
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/ystia/slurmsweep/config"
	"github.com/ystia/slurmsweep/log"
	"github.com/ystia/slurmsweep/storage/internal/consul"
	"github.com/ystia/slurmsweep/storage/internal/file"
	"github.com/ystia/slurmsweep/storage/store"
)

// Store types
const (
	StoreTypeFile   = "file"
	StoreTypeConsul = "consul"
)

// NewStore returns the store selected by the configuration
func NewStore(cfg config.Configuration) (store.Store, error) {
	switch cfg.Store {
	case "", StoreTypeFile:
		dir := filepath.Join(cfg.WorkingDirectory, "store")
		log.Debugf("Using file store in %q", dir)
		return file.NewStore(dir)
	case StoreTypeConsul:
		client, err := cfg.GetConsulClient()
		if err != nil {
			return nil, errors.Wrap(err, "failed to create Consul client")
		}
		prefix := cfg.ConsulKeyPrefix
		if prefix == "" {
			prefix = config.DefaultConsulKeyPrefix
		}
		log.Debugf("Using Consul store with key prefix %q", prefix)
		return consul.NewStore(client, prefix), nil
	default:
		return nil, errors.Errorf("unsupported store type %q", cfg.Store)
	}
}
