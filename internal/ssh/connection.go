// internal/ssh/connection.go

// Package ssh owns the transport side of a session: one authenticated
// connection per remote host, optionally tunneled through jump hosts,
// with the multiplexed channels that run on top of it. A Connection and
// its channels are exclusively owned by the session actor that created
// them; nothing else opens or closes channels on it directly.
package ssh

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"sshbridge/internal/config"
	"sshbridge/internal/errdefs"
	"sshbridge/internal/models"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// ConnState is the lifecycle state of a Connection.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateActive
	StateDegraded
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Connection is one authenticated transport session. It tracks every
// channel opened on it so a single transport fault invalidates them all
// at once, never leaving a channel that looks open after the transport
// has died.
type Connection struct {
	cfg *models.ConnectionConfig
	eng config.Engine
	log *slog.Logger

	client *ssh.Client
	chain  []*ssh.Client // jump hops first, target client last

	mu       sync.Mutex
	state    ConnState
	channels map[string]*Channel
	onFault  func(error)

	teardownOnce  sync.Once
	stopKeepalive chan struct{}

	// newBackend and probe are replaced in tests.
	newBackend func(typ ChannelType) (*backend, error)
	probe      func() error
}

func newConnection(cfg *models.ConnectionConfig, eng config.Engine, log *slog.Logger) *Connection {
	c := &Connection{
		cfg:           cfg,
		eng:           eng,
		log:           log,
		state:         StateConnecting,
		channels:      make(map[string]*Channel),
		stopKeepalive: make(chan struct{}),
	}
	c.newBackend = c.openBackend
	return c
}

// Dial establishes the connection described by cfg, including any jump
// host chain, and starts the keepalive probe loop.
func Dial(cfg *models.ConnectionConfig, eng config.Engine, log *slog.Logger) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errdefs.New(errdefs.ConnectFailed, "ssh.dial", cfg.Name, err)
	}

	c := newConnection(cfg, eng, log)

	chain, err := dialChain(cfg)
	if err != nil {
		return nil, errdefs.New(errdefs.ConnectFailed, "ssh.dial", cfg.Name, err)
	}
	c.chain = chain
	c.client = chain[len(chain)-1]
	c.probe = func() error {
		_, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil)
		return err
	}
	c.setState(StateActive)

	go c.keepaliveLoop()

	c.log.Debug("connection established",
		"host", cfg.Host, "port", cfg.Port, "user", cfg.Username, "hops", len(chain))
	return c, nil
}

// dialChain dials the jump chain innermost-first and finally the target
// host through the last hop.
func dialChain(cfg *models.ConnectionConfig) ([]*ssh.Client, error) {
	clientCfg, err := clientConfig(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Jump == nil {
		client, err := ssh.Dial("tcp", cfg.Addr(), clientCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", cfg.Addr(), err)
		}
		return []*ssh.Client{client}, nil
	}

	chain, err := dialChain(cfg.Jump)
	if err != nil {
		return nil, err
	}
	hop := chain[len(chain)-1]

	conn, err := hop.Dial("tcp", cfg.Addr())
	if err != nil {
		closeChain(chain)
		return nil, fmt.Errorf("failed to dial %s through %s: %w", cfg.Addr(), cfg.Jump.Addr(), err)
	}
	cc, chans, reqs, err := ssh.NewClientConn(conn, cfg.Addr(), clientCfg)
	if err != nil {
		conn.Close()
		closeChain(chain)
		return nil, fmt.Errorf("handshake with %s failed: %w", cfg.Addr(), err)
	}
	return append(chain, ssh.NewClient(cc, chans, reqs)), nil
}

func closeChain(chain []*ssh.Client) {
	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].Close()
	}
}

// clientConfig builds the ssh.ClientConfig for one hop: auth method and
// host key policy.
func clientConfig(cfg *models.ConnectionConfig) (*ssh.ClientConfig, error) {
	var auth ssh.AuthMethod
	switch cfg.AuthMethod {
	case models.AuthPassword:
		auth = ssh.Password(cfg.Password)

	case models.AuthKey:
		key, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read key %s: %w", cfg.KeyPath, err)
		}
		var signer ssh.Signer
		if cfg.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(cfg.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse key %s: %w", cfg.KeyPath, err)
		}
		auth = ssh.PublicKeys(signer)

	case models.AuthAgent:
		sock := os.Getenv("SSH_AUTH_SOCK")
		if sock == "" {
			return nil, fmt.Errorf("agent auth requested but SSH_AUTH_SOCK is not set")
		}
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return nil, fmt.Errorf("failed to reach ssh agent: %w", err)
		}
		auth = ssh.PublicKeysCallback(agent.NewClient(conn).Signers)

	default:
		return nil, fmt.Errorf("unknown auth method %q", cfg.AuthMethod)
	}

	hostKeyCallback, err := hostKeyPolicy(cfg)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.DialTimeout(),
	}, nil
}

// State returns the current connection state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Alive reports whether channels can still be opened.
func (c *Connection) Alive() bool {
	s := c.State()
	return s == StateActive || s == StateDegraded
}

func (c *Connection) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// OnFault registers the callback invoked once when the transport dies
// unexpectedly. The session actor uses it to fail in-flight operations
// and mark the session disconnected.
func (c *Connection) OnFault(fn func(error)) {
	c.mu.Lock()
	c.onFault = fn
	c.mu.Unlock()
}

// Config returns the immutable connection config this connection was
// dialed with. Reconnection reuses it.
func (c *Connection) Config() *models.ConnectionConfig {
	return c.cfg
}

// Client exposes the underlying transport client for collaborators that
// speak the protocol directly (scp fallback, port forwards).
func (c *Connection) Client() *ssh.Client {
	return c.client
}

// Close tears the connection down deliberately. Channels are invalidated
// first so none of them appears open after the transport is gone.
func (c *Connection) Close() error {
	c.teardown(nil)
	return nil
}

// fault tears the connection down because of a transport error and
// notifies the owner.
func (c *Connection) fault(err error) {
	c.teardown(err)
}

func (c *Connection) teardown(cause error) {
	c.teardownOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		chans := make([]*Channel, 0, len(c.channels))
		for _, ch := range c.channels {
			chans = append(chans, ch)
		}
		c.channels = make(map[string]*Channel)
		cb := c.onFault
		c.mu.Unlock()

		close(c.stopKeepalive)

		// Every channel is invalidated on a single transport fault,
		// including ones whose own reads have not surfaced an error yet.
		for _, ch := range chans {
			ch.invalidate()
		}
		closeChain(c.chain)

		if cause != nil {
			c.log.Warn("connection lost", "host", c.cfg.Host, "err", cause)
			if cb != nil {
				cb(cause)
			}
		} else {
			c.log.Debug("connection closed", "host", c.cfg.Host)
		}
	})
}
