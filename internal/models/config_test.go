// internal/models/config_test.go

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() ConnectionConfig {
	return ConnectionConfig{
		Name:       "web-1",
		Host:       "web1.internal",
		Port:       22,
		Username:   "deploy",
		AuthMethod: AuthPassword,
		Password:   "pw",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ConnectionConfig)
		ok     bool
	}{
		{name: "valid password auth", mutate: func(*ConnectionConfig) {}, ok: true},
		{name: "missing host", mutate: func(c *ConnectionConfig) { c.Host = "" }, ok: false},
		{name: "missing user", mutate: func(c *ConnectionConfig) { c.Username = "" }, ok: false},
		{name: "unknown auth", mutate: func(c *ConnectionConfig) { c.AuthMethod = "kerberos" }, ok: false},
		{name: "key auth without path", mutate: func(c *ConnectionConfig) {
			c.AuthMethod = AuthKey
			c.KeyPath = ""
		}, ok: false},
		{name: "key auth with path", mutate: func(c *ConnectionConfig) {
			c.AuthMethod = AuthKey
			c.KeyPath = "/home/deploy/.ssh/id_ed25519"
		}, ok: true},
		{name: "agent auth", mutate: func(c *ConnectionConfig) {
			c.AuthMethod = AuthAgent
			c.Password = ""
		}, ok: true},
		{name: "invalid jump", mutate: func(c *ConnectionConfig) {
			c.Jump = &ConnectionConfig{Host: "bastion"}
		}, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	cfg := validConfig()
	cfg.Jump = &ConnectionConfig{
		Name:       "bastion",
		Host:       "bastion.internal",
		Port:       22,
		Username:   "jump",
		AuthMethod: AuthAgent,
		Jump: &ConnectionConfig{
			Name:       "outer",
			Host:       "outer.example.com",
			Port:       2222,
			Username:   "edge",
			AuthMethod: AuthPassword,
			Password:   "outer-pw",
		},
	}

	clone := cfg.Clone()
	clone.Password = "changed"
	clone.Jump.Host = "elsewhere"
	clone.Jump.Jump.Password = "tampered"

	assert.Equal(t, "pw", cfg.Password)
	assert.Equal(t, "bastion.internal", cfg.Jump.Host)
	assert.Equal(t, "outer-pw", cfg.Jump.Jump.Password)
}

func TestAddrAndTimeouts(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "web1.internal:22", cfg.Addr())
	assert.Equal(t, 10*time.Second, cfg.DialTimeout())

	cfg.DialTimeoutSec = 3
	assert.Equal(t, 3*time.Second, cfg.DialTimeout())

	cfg.Port = 0
	require.Contains(t, cfg.Addr(), "web1.internal")
}

func TestIdentityKey(t *testing.T) {
	cfg := &ConnectionConfig{Host: "db.internal", Port: 2022, Username: "deploy"}
	assert.Equal(t, "deploy@db.internal:2022", cfg.IdentityKey())
}
