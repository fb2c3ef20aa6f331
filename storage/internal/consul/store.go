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

package consul

import (
	"context"
	"encoding/json"
	"path"
	"strings"

	"github.com/hashicorp/consul/api"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/ystia/slurmsweep/helper/collections"
	"github.com/ystia/slurmsweep/storage/store"
)

// consulGenericErrMsg is the generic message used to wrap Consul errors
const consulGenericErrMsg = "Consul communication error"

type consulStore struct {
	kv     *api.KV
	prefix string
}

// NewStore returns a new Consul store, keys are stored under the given prefix
func NewStore(client *api.Client, prefix string) store.Store {
	return &consulStore{kv: client.KV(), prefix: strings.Trim(prefix, "/")}
}

func (c *consulStore) consulKey(k string) string {
	return path.Join(c.prefix, k)
}

func (c *consulStore) Set(ctx context.Context, k string, v interface{}) error {
	if err := store.CheckKeyAndValue(k, v); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal value %+v due to error:%+v", v, err)
	}

	_, err = c.kv.Put(&api.KVPair{Key: c.consulKey(k), Value: data}, (&api.WriteOptions{}).WithContext(ctx))
	return errors.Wrap(err, consulGenericErrMsg)
}

func (c *consulStore) SetCollection(ctx context.Context, keyValues []store.KeyValueIn) error {
	if len(keyValues) == 0 {
		return nil
	}
	errGroup, ctx := errgroup.WithContext(ctx)
	for _, kv := range keyValues {
		if err := store.CheckKeyAndValue(kv.Key, kv.Value); err != nil {
			return err
		}
		kvItem := kv
		errGroup.Go(func() error {
			return c.Set(ctx, kvItem.Key, kvItem.Value)
		})
	}
	return errGroup.Wait()
}

func (c *consulStore) Get(k string, v interface{}) (bool, error) {
	if err := store.CheckKeyAndValue(k, v); err != nil {
		return false, err
	}

	kvp, _, err := c.kv.Get(c.consulKey(k), nil)
	if err != nil {
		return false, errors.Wrap(err, consulGenericErrMsg)
	}
	if kvp == nil {
		return false, nil
	}
	return true, errors.Wrapf(json.Unmarshal(kvp.Value, v), "failed to unmarshal data:%q", string(kvp.Value))
}

func (c *consulStore) Exist(k string) (bool, error) {
	if err := store.CheckKey(k); err != nil {
		return false, err
	}
	kvp, _, err := c.kv.Get(c.consulKey(k), nil)
	if err != nil {
		return false, errors.Wrap(err, consulGenericErrMsg)
	}
	return kvp != nil, nil
}

func (c *consulStore) Keys(k string) ([]string, error) {
	if err := store.CheckKey(k); err != nil {
		return nil, err
	}
	keyPath := c.consulKey(k) + "/"
	keys, _, err := c.kv.Keys(keyPath, "/", nil)
	if err != nil {
		return nil, errors.Wrap(err, consulGenericErrMsg)
	}
	result := make([]string, 0, len(keys))
	for _, key := range keys {
		sub := strings.TrimSuffix(strings.TrimPrefix(key, keyPath), "/")
		if sub == "" {
			continue
		}
		result = append(result, path.Join(k, sub))
	}
	return collections.RemoveDuplicates(result), nil
}

func (c *consulStore) Delete(ctx context.Context, k string, recursive bool) error {
	if err := store.CheckKey(k); err != nil {
		return err
	}
	wo := (&api.WriteOptions{}).WithContext(ctx)
	_, err := c.kv.Delete(c.consulKey(k), wo)
	if err == nil && recursive {
		_, err = c.kv.DeleteTree(c.consulKey(k)+"/", wo)
	}
	return errors.Wrap(err, consulGenericErrMsg)
}
