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
	"io"
	"io/ioutil"
	"sync"
)

// MockSSHClient allows to mock an SSH Client
//
// Every command run and every file copied is recorded so tests can check what
// would have been sent to the Slurm login node.
type MockSSHClient struct {
	MockRunCommand func(string) (string, error)
	MockCopyFile   func(source io.Reader, remotePath string, permissions string) error

	mu       sync.Mutex
	commands []string
	files    map[string]string
}

// RunCommand to mock a command ran via SSH
func (s *MockSSHClient) RunCommand(cmd string) (string, error) {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()
	if s.MockRunCommand != nil {
		return s.MockRunCommand(cmd)
	}
	return "", nil
}

// CopyFile to mock a file copy via SSH
func (s *MockSSHClient) CopyFile(source io.Reader, remotePath string, permissions string) error {
	if s.MockCopyFile != nil {
		return s.MockCopyFile(source, remotePath, permissions)
	}
	var content []byte
	if source != nil {
		var err error
		content, err = ioutil.ReadAll(source)
		if err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files == nil {
		s.files = make(map[string]string)
	}
	s.files[remotePath] = string(content)
	return nil
}

// Commands returns the commands run so far
func (s *MockSSHClient) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]string, len(s.commands))
	copy(res, s.commands)
	return res
}

// File returns the content of a file copied by CopyFile when no MockCopyFile is defined
func (s *MockSSHClient) File(remotePath string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.files[remotePath]
	return c, ok
}
