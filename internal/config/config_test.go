// internal/config/config_test.go

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sshbridge/internal/crypto"
	"sshbridge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedConn() models.ConnectionConfig {
	return models.ConnectionConfig{
		Name:       "db-1",
		Host:       "db1.internal",
		Port:       22,
		Username:   "admin",
		AuthMethod: models.AuthPassword,
		Password:   "hunter2",
	}
}

func TestLoadCreatesEmptyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.json")
	m := NewManager(path, nil)
	require.NoError(t, m.Load())

	assert.Empty(t, m.List())
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(DefaultFilePerms), info.Mode().Perm())
}

func TestAddGetRemoveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.json")
	m := NewManager(path, nil)
	require.NoError(t, m.Load())

	require.NoError(t, m.Add(storedConn()))
	assert.Error(t, m.Add(storedConn()), "duplicate name rejected")

	got, err := m.Get("db-1")
	require.NoError(t, err)
	assert.Equal(t, "db1.internal", got.Host)
	assert.Equal(t, "hunter2", got.Password)

	// A fresh manager reads the same store back.
	m2 := NewManager(path, nil)
	require.NoError(t, m2.Load())
	require.Len(t, m2.List(), 1)

	require.NoError(t, m2.Remove("db-1"))
	_, err = m2.Get("db-1")
	assert.Error(t, err)
}

func TestSecretsEncryptedAtRest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.json")
	cipher := crypto.NewCipher("vault-key")
	m := NewManager(path, cipher)
	require.NoError(t, m.Load())

	cfg := storedConn()
	cfg.Jump = &models.ConnectionConfig{
		Name:       "bastion",
		Host:       "bastion.internal",
		Port:       22,
		Username:   "jump",
		AuthMethod: models.AuthPassword,
		Password:   "jump-secret",
	}
	require.NoError(t, m.Add(cfg))

	// Raw file must not contain either plaintext secret.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hunter2")
	assert.NotContains(t, string(raw), "jump-secret")
	require.True(t, json.Valid(raw))

	// Get hands back decrypted copies, jump chain included.
	got, err := m.Get("db-1")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got.Password)
	require.NotNil(t, got.Jump)
	assert.Equal(t, "jump-secret", got.Jump.Password)

	// The decrypted copy is detached from the store.
	got.Password = "mutated"
	again, err := m.Get("db-1")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", again.Password)
}

func TestGetByID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.json")
	m := NewManager(path, nil)
	require.NoError(t, m.Load())

	cfg := storedConn()
	cfg.ID = "c-42"
	require.NoError(t, m.Add(cfg))

	got, err := m.Get("c-42")
	require.NoError(t, err)
	assert.Equal(t, "db-1", got.Name)
}

func TestEngineDefaults(t *testing.T) {
	eng := DefaultEngine()
	assert.Equal(t, 3, eng.TransferConcurrency)
	assert.Equal(t, 10, eng.ChannelCeiling)
	assert.Equal(t, 15*time.Second, eng.KeepaliveInterval)
	assert.Equal(t, 3, eng.ServerAliveCountMax)
	assert.False(t, eng.AutoReconnect)
}

func TestEngineFromEnvOverrides(t *testing.T) {
	t.Setenv("SSHBRIDGE_TRANSFER_CONCURRENCY", "7")
	t.Setenv("SSHBRIDGE_CHANNEL_CEILING", "4")
	t.Setenv("SSHBRIDGE_AUTO_RECONNECT", "true")
	t.Setenv("SSHBRIDGE_KEEPALIVE_INTERVAL", "5s")

	eng, err := EngineFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 7, eng.TransferConcurrency)
	assert.Equal(t, 4, eng.ChannelCeiling)
	assert.True(t, eng.AutoReconnect)
	assert.Equal(t, 5*time.Second, eng.KeepaliveInterval)
}
