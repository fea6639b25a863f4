// internal/models/config.go

package models

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// AuthMethod selects how a connection authenticates.
type AuthMethod string

const (
	AuthPassword AuthMethod = "password"
	AuthKey      AuthMethod = "key"
	AuthAgent    AuthMethod = "agent"
)

// ConnectionConfig describes one remote host. It is read from the
// connection store at session creation and treated as immutable once a
// session has been established.
type ConnectionConfig struct {
	ID          string     `json:"id,omitempty"`
	Name        string     `json:"name"`
	Host        string     `json:"host"`
	Port        int        `json:"port"`
	Username    string     `json:"username"`
	AuthMethod  AuthMethod `json:"auth_method"`
	Password    string     `json:"password,omitempty"`
	KeyPath     string     `json:"key_path,omitempty"`
	Passphrase  string     `json:"passphrase,omitempty"`
	Group       string     `json:"group,omitempty"`
	Description string     `json:"description,omitempty"`

	// Jump tunnels the connection through an intermediate host. Jump
	// configs nest, so multi-hop chains are expressed recursively.
	Jump *ConnectionConfig `json:"jump,omitempty"`

	// KnownHostsPath enables host key verification against the given
	// file. Empty disables verification.
	KnownHostsPath string `json:"known_hosts_path,omitempty"`

	DialTimeoutSec int `json:"dial_timeout_sec,omitempty"`
}

// Addr returns the host:port dial address.
func (c *ConnectionConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// IdentityKey is the connection identity: two configs with the same key
// address the same account on the same endpoint.
func (c *ConnectionConfig) IdentityKey() string {
	return fmt.Sprintf("%s@%s:%d", c.Username, c.Host, c.Port)
}

// DialTimeout returns the configured dial timeout, defaulting to 10s.
func (c *ConnectionConfig) DialTimeout() time.Duration {
	if c.DialTimeoutSec > 0 {
		return time.Duration(c.DialTimeoutSec) * time.Second
	}
	return 10 * time.Second
}

// Clone deep-copies the config including its jump chain, so callers can
// rewrite secrets without touching the stored original.
func (c *ConnectionConfig) Clone() *ConnectionConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.Jump = c.Jump.Clone()
	return &out
}

// Validate checks the fields needed before any dial attempt.
func (c *ConnectionConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	switch c.AuthMethod {
	case AuthPassword, AuthKey, AuthAgent:
	case "":
		return fmt.Errorf("auth method is required")
	default:
		return fmt.Errorf("unknown auth method %q", c.AuthMethod)
	}
	if c.AuthMethod == AuthKey && c.KeyPath == "" {
		return fmt.Errorf("key auth requires key_path")
	}
	if c.Jump != nil {
		if err := c.Jump.Validate(); err != nil {
			return fmt.Errorf("jump host: %v", err)
		}
	}
	return nil
}
