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

package store

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Foo is just some struct for common tests.
type Foo struct {
	Bar        string
	privateBar string
}

// ComplexFoo is just a complex struct for common tests.
type ComplexFoo struct {
	FooData   Foo
	Value     string
	ValueInt  int
	ValueBool bool
	FooList   []Foo
	FooMap    map[string]Foo
}

// CommonStoreTest allows to test storage by storing, reading and deleting data.
// It is shared by every store implementation.
func CommonStoreTest(t *testing.T, store Store) {
	key := strconv.FormatInt(rand.Int63(), 10)
	ctx := context.Background()
	// Initially the key shouldn't exist
	found, err := store.Get(key, new(Foo))
	require.NoError(t, err)
	require.False(t, found, "A value was found, but no value was expected")

	// Deleting a non-existing key-value pair should NOT lead to an error
	require.NoError(t, store.Delete(ctx, key, false))

	// Invalid keys and values
	require.Error(t, store.Set(ctx, "", Foo{}))
	require.Error(t, store.Set(ctx, key, nil))
	_, err = store.Get("", new(Foo))
	require.Error(t, err)

	val := Foo{Bar: "baz", privateBar: "not stored"}
	require.NoError(t, store.Set(ctx, key, val))
	// Storing it again should not lead to an error but just overwrite it
	val.Bar = "qux"
	require.NoError(t, store.Set(ctx, key, val))

	actual := new(Foo)
	found, err = store.Get(key, actual)
	require.NoError(t, err)
	require.True(t, found, "No value was found, but should have been")
	assert.Equal(t, Foo{Bar: "qux"}, *actual)

	exist, err := store.Exist(key)
	require.NoError(t, err)
	assert.True(t, exist)

	require.NoError(t, store.Delete(ctx, key, false))
	found, err = store.Get(key, new(Foo))
	require.NoError(t, err)
	require.False(t, found, "A value was found, but no value was expected")

	// Tree handling
	root := "tree" + key
	kvs := []KeyValueIn{
		{Key: root + "/one", Value: val},
		{Key: root + "/two", Value: val},
		{Key: root + "/sub/three", Value: val},
	}
	require.NoError(t, store.SetCollection(ctx, kvs))
	keys, err := store.Keys(root)
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{root + "/one", root + "/sub", root + "/two"}, keys)

	keys, err = store.Keys("unknown" + key)
	require.NoError(t, err)
	assert.Len(t, keys, 0)

	require.NoError(t, store.Delete(ctx, root, true))
	for _, kv := range kvs {
		found, err = store.Get(kv.Key, new(Foo))
		require.NoError(t, err)
		assert.False(t, found, "key %q should have been deleted", kv.Key)
	}
}

// CommonStoreTestComplexValues checks that nested values survive a round trip
func CommonStoreTestComplexValues(t *testing.T, store Store) {
	ctx := context.Background()
	key := fmt.Sprintf("complex%d", rand.Int63())
	val := ComplexFoo{
		FooData:   Foo{Bar: "a"},
		Value:     "v",
		ValueInt:  42,
		ValueBool: true,
		FooList:   []Foo{{Bar: "b"}, {Bar: "c"}},
		FooMap:    map[string]Foo{"k": {Bar: "d"}},
	}
	require.NoError(t, store.Set(ctx, key, val))
	actual := new(ComplexFoo)
	found, err := store.Get(key, actual)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, val, *actual)
	require.NoError(t, store.Delete(ctx, key, false))
}
