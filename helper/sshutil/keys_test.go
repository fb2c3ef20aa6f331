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

package sshutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ystia/slurmsweep/config"
)

func generatePrivateKey(t *testing.T) string {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	bArray := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY",
		Headers: nil,
		Bytes:   x509.MarshalPKCS1PrivateKey(priv)})
	return string(bArray)
}

func TestReadPrivateKeyFromContent(t *testing.T) {
	t.Parallel()
	auth, err := ReadPrivateKey(generatePrivateKey(t))
	require.NoError(t, err)
	require.NotNil(t, auth)
}

func TestReadPrivateKeyFromFile(t *testing.T) {
	t.Parallel()
	dir, err := ioutil.TempDir("", "slurmsweep-keys")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	keyPath := filepath.Join(dir, "id_rsa")
	require.NoError(t, ioutil.WriteFile(keyPath, []byte(generatePrivateKey(t)), 0600))
	auth, err := ReadPrivateKey(keyPath)
	require.NoError(t, err)
	require.NotNil(t, auth)
}

func TestReadPrivateKeyErrors(t *testing.T) {
	t.Parallel()
	_, err := ReadPrivateKey("not a key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no key found")
	assert.Contains(t, err.Error(), "redacted")

	encrypted := string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY",
		Headers: map[string]string{"Proc-Type": "4,ENCRYPTED"},
		Bytes:   []byte("garbage")}))
	_, err = ReadPrivateKey(encrypted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password protected")
}

func TestNewSSHClient(t *testing.T) {
	t.Parallel()
	_, err := NewSSHClient(config.Configuration{Slurm: config.DynamicMap{}})
	require.Error(t, err, "user name is mandatory")

	_, err = NewSSHClient(config.Configuration{Slurm: config.NewDynamicMapWithPayload(map[string]interface{}{
		"user_name": "jdoe",
		"host":      "login01",
	})})
	require.Error(t, err, "an authentication method is mandatory")

	client, err := NewSSHClient(config.Configuration{Slurm: config.NewDynamicMapWithPayload(map[string]interface{}{
		"user_name": "jdoe",
		"host":      "login01",
		"port":      2222,
		"password":  "secret",
	})})
	require.NoError(t, err)
	assert.Equal(t, "login01", client.Host)
	assert.Equal(t, 2222, client.Port)
	assert.Equal(t, "jdoe", client.Config.User)
	assert.Len(t, client.Config.Auth, 1)
	assert.Equal(t, "login01:2222", client.addr())
}
