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
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/ystia/slurmsweep/config"
	"github.com/ystia/slurmsweep/log"
)

// Client is interface allowing running command
type Client interface {
	RunCommand(string) (string, error)
}

// FileClient is a Client also able to store files where commands are run
type FileClient interface {
	Client
	CopyFile(source io.Reader, remotePath, permissions string) error
}

// SSHClient is a client SSH
type SSHClient struct {
	Config *ssh.ClientConfig
	Host   string
	Port   int
}

var sessions = &pool{Timeout: 30 * time.Second}

// NewSSHClient returns a SSHClient for the Slurm login node defined in the configuration
//
// Authentication relies on the configured private key if any and falls back to the password.
func NewSSHClient(cfg config.Configuration) (*SSHClient, error) {
	user := cfg.Slurm.GetString("user_name")
	if user == "" {
		return nil, errors.New("slurm.user_name is required to connect to the Slurm login node")
	}
	host := cfg.Slurm.GetString("host")
	if host == "" {
		return nil, errors.New("slurm.host is required to connect to the Slurm login node")
	}

	var auths []ssh.AuthMethod
	if pk := cfg.Slurm.GetString("private_key"); pk != "" {
		keyAuth, err := ReadPrivateKey(pk)
		if err != nil {
			return nil, err
		}
		auths = append(auths, keyAuth)
	}
	if password := cfg.Slurm.GetString("password"); password != "" {
		auths = append(auths, ssh.Password(password))
	}
	if len(auths) == 0 {
		return nil, errors.New("either slurm.private_key or slurm.password should be provided")
	}

	return &SSHClient{
		Config: &ssh.ClientConfig{
			User: user,
			Auth: auths,
			// Login nodes of HPC sites are commonly behind load balancers with rotating host keys
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		},
		Host: host,
		Port: cfg.Slurm.GetIntOrDefault("port", config.DefaultSSHPort),
	}, nil
}

// RunCommand allows to run a specified command
func (client *SSHClient) RunCommand(cmd string) (string, error) {
	session, err := sessions.openSession(client)
	if err != nil {
		return "", errors.Wrap(err, "Unable to open SSH session")
	}
	defer session.Close()
	var b bytes.Buffer
	session.Stderr = &b
	session.Stdout = &b

	log.Debugf("[SSHSession] %q", cmd)
	err = session.Run(cmd)
	return b.String(), err
}

// CopyFile allows to copy a reader over SSH with defined remote path and specific permissions
//
// permissions are given in octal notation as for chmod (ie "0755")
func (client *SSHClient) CopyFile(source io.Reader, remotePath, permissions string) error {
	mode, err := strconv.ParseUint(permissions, 8, 32)
	if err != nil {
		return errors.Wrapf(err, "invalid file permissions %q", permissions)
	}
	sshC, err := sessions.sshClient(client)
	if err != nil {
		return errors.Wrapf(err, "Couldn't establish a connection to the remote host:%q", client.addr())
	}
	sftpClient, err := sftp.NewClient(sshC)
	if err != nil {
		return errors.Wrapf(err, "Couldn't start a SFTP session on remote host:%q", client.addr())
	}
	defer sftpClient.Close()

	// SFTP resolves relative paths from the login directory
	remotePath = strings.TrimPrefix(remotePath, "~/")
	remoteDir := path.Dir(remotePath)
	if err = sftpClient.MkdirAll(remoteDir); err != nil {
		return errors.Wrapf(err, "Couldn't create the remote directory:%q", remoteDir)
	}

	log.Debugf("Copy source over SSH to remote path:%s", remotePath)
	f, err := sftpClient.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return errors.Wrapf(err, "Couldn't create the remote file:%q", remotePath)
	}
	defer f.Close()
	if _, err = io.Copy(f, source); err != nil {
		return errors.Wrapf(err, "Couldn't write the remote file:%q", remotePath)
	}
	return errors.Wrapf(f.Chmod(os.FileMode(mode)), "Couldn't set permissions on remote file:%q", remotePath)
}

func (client *SSHClient) addr() string {
	return fmt.Sprintf("%s:%d", client.Host, client.Port)
}
