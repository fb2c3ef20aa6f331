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
	"encoding/pem"
	"io/ioutil"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

// ReadPrivateKey returns an authentication method relying on private/public key pairs
// The argument is :
// - either a path to the private key file,
// - or the content or this private key file
func ReadPrivateKey(pk string) (ssh.AuthMethod, error) {
	raw, err := ToPrivateKeyContent(pk)
	if err != nil {
		return nil, err
	}

	// We parse the private key on our own first so that we can
	// show a nicer error if the private key has a password.
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.Errorf("Failed to read key %q: no key found", redact(pk))
	}
	if block.Headers["Proc-Type"] == "4,ENCRYPTED" {
		return nil, errors.Errorf(
			"Failed to read key %q: password protected keys are\n"+
				"not supported. Please decrypt the key prior to use.", redact(pk))
	}

	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "Failed to parse key file %q", redact(pk))
	}
	return ssh.PublicKeys(signer), nil
}

// ToPrivateKeyContent allows to convert private key content or file to byte array
func ToPrivateKeyContent(pk string) ([]byte, error) {
	keyPath, err := homedir.Expand(pk)
	if err != nil {
		return nil, errors.Wrap(err, "failed to expand key path")
	}
	if _, err := os.Stat(keyPath); err == nil {
		p, err := ioutil.ReadFile(keyPath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read key file %q", keyPath)
		}
		return p, nil
	}
	return []byte(pk), nil
}

func redact(pk string) string {
	if _, err := os.Stat(pk); err == nil {
		return pk
	}
	if expanded, err := homedir.Expand(pk); err == nil {
		if _, err := os.Stat(expanded); err == nil {
			return pk
		}
	}
	return "<private key content redacted>"
}
