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
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// pool keeps one SSH connection per user and login node so that job polling
// does not pay a handshake on every scheduler command.
type pool struct {
	// Timeout for dialing and opening sessions
	Timeout time.Duration

	tab map[string]*conn
	mu  sync.Mutex
}

type conn struct {
	netC net.Conn
	c    *ssh.Client
	ok   chan bool
	err  error
}

// openSession starts a new SSH session on the given server, reusing
// an existing connection if possible. A broken connection is dropped and dialed again once.
func (p *pool) openSession(client *SSHClient) (*ssh.Session, error) {
	var deadline, sessionDeadline time.Time
	if p.Timeout > 0 {
		now := time.Now()
		deadline = now.Add(p.Timeout)
		// leave time for a second dial if the pooled connection is dead
		sessionDeadline = now.Add(p.Timeout / 2)
	}

	k := getUserKey(client.addr(), client.Config)
	for {
		c := p.getConn(k, client.addr(), client.Config, deadline)
		if c.err != nil {
			p.removeConn(k, c)
			return nil, c.err
		}
		s, err := c.newSession(sessionDeadline)
		if err == nil {
			return s, nil
		}
		sessionDeadline = deadline
		p.removeConn(k, c)
		c.c.Close()
		if p.Timeout > 0 && time.Now().After(deadline) {
			return nil, err
		}
	}
}

// sshClient returns the pooled connection for the given client
func (p *pool) sshClient(client *SSHClient) (*ssh.Client, error) {
	var deadline time.Time
	if p.Timeout > 0 {
		deadline = time.Now().Add(p.Timeout)
	}
	k := getUserKey(client.addr(), client.Config)
	c := p.getConn(k, client.addr(), client.Config, deadline)
	if c.err != nil {
		p.removeConn(k, c)
		return nil, c.err
	}
	return c.c, nil
}

func (c *conn) newSession(deadline time.Time) (*ssh.Session, error) {
	if !deadline.IsZero() {
		c.netC.SetDeadline(deadline)
		defer c.netC.SetDeadline(time.Time{})
	}
	return c.c.NewSession()
}

// getConn gets an ssh connection from the pool for key.
// If none is available, it dials anew.
func (p *pool) getConn(k, addr string, config *ssh.ClientConfig, deadline time.Time) *conn {
	p.mu.Lock()
	if p.tab == nil {
		p.tab = make(map[string]*conn)
	}
	c, ok := p.tab[k]
	if ok {
		p.mu.Unlock()
		<-c.ok
		return c
	}
	c = &conn{ok: make(chan bool)}
	p.tab[k] = c
	p.mu.Unlock()
	c.netC, c.c, c.err = p.dial("tcp", addr, config, deadline)
	close(c.ok)
	return c
}

// removeConn removes c1 from the pool if present.
func (p *pool) removeConn(k string, c1 *conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.tab[k]
	if ok && c == c1 {
		delete(p.tab, k)
	}
}

func (p *pool) dial(network, addr string, config *ssh.ClientConfig, deadline time.Time) (net.Conn, *ssh.Client, error) {
	dialer := net.Dialer{Deadline: deadline}
	netC, err := dialer.Dial(network, addr)
	if err != nil {
		return nil, nil, err
	}
	conn, chans, reqs, err := ssh.NewClientConn(netC, addr, config)
	if err != nil {
		netC.Close()
		return nil, nil, err
	}
	return netC, ssh.NewClient(conn, chans, reqs), nil
}

func getUserKey(addr string, config *ssh.ClientConfig) string {
	return strconv.Quote(addr) + "-" + strconv.Quote(config.User)
}
