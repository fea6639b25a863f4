// internal/config/config.go

// Package config supplies the two configuration inputs of the core: the
// persisted connection store (read at session creation, opaque to the
// rest of the system) and the engine tuning knobs.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"sshbridge/internal/crypto"
	"sshbridge/internal/models"
)

const (
	DefaultStoreFileName = "connections.json"
	DefaultConfigDir     = ".config/sshbridge"
	DefaultFilePerms     = 0600
)

// Store is the on-disk shape of the connection store.
type Store struct {
	Connections []models.ConnectionConfig `json:"connections"`
}

// Manager loads and saves the connection store. When a cipher is
// provided, passwords and passphrases are encrypted at rest; copies
// handed out by Get are always decrypted.
type Manager struct {
	path   string
	cipher *crypto.Cipher
	store  *Store
}

// GetDefaultStorePath returns ~/.config/sshbridge/connections.json.
func GetDefaultStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get home directory: %v", err)
	}
	return filepath.Join(home, DefaultConfigDir, DefaultStoreFileName), nil
}

// NewManager creates a manager for the given store path. An empty path
// falls back to the default location, then to the current directory.
func NewManager(path string, cipher *crypto.Cipher) *Manager {
	if path == "" {
		defaultPath, err := GetDefaultStorePath()
		if err == nil {
			path = defaultPath
		} else {
			path = DefaultStoreFileName
		}
	}
	return &Manager{
		path:   path,
		cipher: cipher,
		store:  &Store{},
	}
}

// Load reads the store from disk. A missing file yields an empty store
// that is written back immediately, so first runs start clean.
func (m *Manager) Load() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %v", err)
	}

	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.store = &Store{Connections: make([]models.ConnectionConfig, 0)}
			return m.Save()
		}
		return fmt.Errorf("failed to read config file: %v", err)
	}

	if err := json.Unmarshal(data, m.store); err != nil {
		return fmt.Errorf("failed to parse config file: %v", err)
	}
	return nil
}

// Save writes the store to disk with owner-only permissions.
func (m *Manager) Save() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %v", err)
	}

	data, err := json.MarshalIndent(m.store, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %v", err)
	}

	if err := os.WriteFile(m.path, data, DefaultFilePerms); err != nil {
		return fmt.Errorf("failed to write config file: %v", err)
	}
	return nil
}

// Get returns the connection matching name or id, with secrets decrypted.
func (m *Manager) Get(nameOrID string) (*models.ConnectionConfig, error) {
	for i := range m.store.Connections {
		c := &m.store.Connections[i]
		if c.Name == nameOrID || c.ID == nameOrID {
			out := c.Clone()
			if err := m.decryptSecrets(out); err != nil {
				return nil, err
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("connection %q not found", nameOrID)
}

// List returns the stored connections without decrypting secrets.
func (m *Manager) List() []models.ConnectionConfig {
	out := make([]models.ConnectionConfig, len(m.store.Connections))
	copy(out, m.store.Connections)
	return out
}

// Add validates cfg, encrypts its secrets and appends it to the store.
func (m *Manager) Add(cfg models.ConnectionConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid connection config: %v", err)
	}
	for i := range m.store.Connections {
		if m.store.Connections[i].Name == cfg.Name {
			return fmt.Errorf("connection %q already exists", cfg.Name)
		}
	}
	sealed := cfg.Clone()
	if err := m.encryptSecrets(sealed); err != nil {
		return err
	}
	m.store.Connections = append(m.store.Connections, *sealed)
	return m.Save()
}

// Remove deletes the connection matching name or id.
func (m *Manager) Remove(nameOrID string) error {
	for i := range m.store.Connections {
		c := &m.store.Connections[i]
		if c.Name == nameOrID || c.ID == nameOrID {
			m.store.Connections = append(m.store.Connections[:i], m.store.Connections[i+1:]...)
			return m.Save()
		}
	}
	return fmt.Errorf("connection %q not found", nameOrID)
}

func (m *Manager) encryptSecrets(cfg *models.ConnectionConfig) error {
	if m.cipher == nil {
		return nil
	}
	for c := cfg; c != nil; c = c.Jump {
		var err error
		if c.Password != "" {
			if c.Password, err = m.cipher.Encrypt(c.Password); err != nil {
				return fmt.Errorf("failed to encrypt password: %v", err)
			}
		}
		if c.Passphrase != "" {
			if c.Passphrase, err = m.cipher.Encrypt(c.Passphrase); err != nil {
				return fmt.Errorf("failed to encrypt passphrase: %v", err)
			}
		}
	}
	return nil
}

func (m *Manager) decryptSecrets(cfg *models.ConnectionConfig) error {
	if m.cipher == nil {
		return nil
	}
	for c := cfg; c != nil; c = c.Jump {
		var err error
		if c.Password != "" {
			if c.Password, err = m.cipher.Decrypt(c.Password); err != nil {
				return fmt.Errorf("failed to decrypt password: %v", err)
			}
		}
		if c.Passphrase != "" {
			if c.Passphrase, err = m.cipher.Decrypt(c.Passphrase); err != nil {
				return fmt.Errorf("failed to decrypt passphrase: %v", err)
			}
		}
	}
	return nil
}
