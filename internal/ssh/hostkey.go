// internal/ssh/hostkey.go

package ssh

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"sshbridge/internal/models"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// hostKeyPolicy picks the host key callback for a hop. With a known
// hosts file configured the key must verify against it; without one the
// key is accepted blindly, which is only appropriate for transfers to
// throwaway hosts.
func hostKeyPolicy(cfg *models.ConnectionConfig) (ssh.HostKeyCallback, error) {
	if cfg.KnownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(cfg.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts %s: %w", cfg.KnownHostsPath, err)
	}
	return cb, nil
}

// FetchHostKey connects just far enough to capture the server's host
// key, without authenticating. The returned fingerprint lets the caller
// show a trust prompt before AcceptHostKey pins the key.
func FetchHostKey(cfg *models.ConnectionConfig) (ssh.PublicKey, string, error) {
	keyChan := make(chan ssh.PublicKey, 1)
	probeCfg := &ssh.ClientConfig{
		User: cfg.Username,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			select {
			case keyChan <- key:
			default:
			}
			return nil
		},
		Timeout: cfg.DialTimeout(),
	}

	// Auth is expected to fail; the handshake runs far enough to hand
	// us the host key either way.
	if client, err := ssh.Dial("tcp", cfg.Addr(), probeCfg); err == nil {
		client.Close()
	}

	select {
	case key := <-keyChan:
		return key, ssh.FingerprintSHA256(key), nil
	default:
		return nil, "", fmt.Errorf("could not retrieve host key from %s", cfg.Addr())
	}
}

// AcceptHostKey appends key to the known hosts file, replacing any
// previous entry for the same endpoint.
func AcceptHostKey(path string, cfg *models.ConnectionConfig, key ssh.PublicKey) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create known hosts directory: %w", err)
	}

	entry := knownhosts.Line([]string{cfg.Addr()}, key)

	var kept []string
	if content, err := os.ReadFile(path); err == nil {
		addr := knownhosts.Normalize(cfg.Addr())
		for _, line := range strings.Split(string(content), "\n") {
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			if !strings.Contains(line, addr) {
				kept = append(kept, line)
			}
		}
	}
	kept = append(kept, entry)

	content := strings.Join(kept, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write known hosts file: %w", err)
	}
	return nil
}
