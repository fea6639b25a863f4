// internal/ssh/channel.go

package ssh

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"sshbridge/internal/errdefs"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// ErrSftpUnavailable marks a server that refused to start the sftp
// subsystem on an otherwise healthy connection.
var ErrSftpUnavailable = errors.New("sftp subsystem unavailable")

// ChannelType classifies what a channel is used for.
type ChannelType int

const (
	ChannelShell ChannelType = iota
	ChannelExec
	ChannelSftp
	ChannelPortForward
)

func (t ChannelType) String() string {
	switch t {
	case ChannelShell:
		return "shell"
	case ChannelExec:
		return "exec"
	case ChannelSftp:
		return "sftp"
	case ChannelPortForward:
		return "port-forward"
	}
	return "unknown"
}

// Interactive reports whether a channel type is user-facing. Interactive
// opens fail hard on the channel ceiling; the transfer engine queues
// instead.
func (t ChannelType) Interactive() bool {
	return t == ChannelShell || t == ChannelExec
}

// ChannelState is the lifecycle state of a channel.
type ChannelState int

const (
	ChannelOpening ChannelState = iota
	ChannelOpen
	ChannelEofSent
	ChannelEofReceived
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelOpening:
		return "opening"
	case ChannelOpen:
		return "open"
	case ChannelEofSent:
		return "eof-sent"
	case ChannelEofReceived:
		return "eof-received"
	case ChannelClosed:
		return "closed"
	}
	return "unknown"
}

// backend is the transport object behind a channel. Exactly one field is
// set, matching the channel type.
type backend struct {
	sess *sshSessionBackend
	sftp *sftp.Client
	fwd  *Forward
}

// sshSessionBackend wraps an *ssh.Session for shell and exec channels.
type sshSessionBackend struct {
	sess  *ssh.Session
	stdin io.WriteCloser
}

// Channel is one multiplexed logical stream on a Connection.
type Channel struct {
	id   string
	typ  ChannelType
	conn *Connection

	mu    sync.Mutex
	state ChannelState
	back  *backend

	// Wait is single-flight: the session exit status is consumed once
	// and replayed to every caller.
	waitOnce sync.Once
	waitErr  error
	waitDone chan struct{}
}

func (ch *Channel) ID() string        { return ch.id }
func (ch *Channel) Type() ChannelType { return ch.typ }

func (ch *Channel) State() ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *Channel) setState(s ChannelState) {
	ch.mu.Lock()
	ch.state = s
	ch.mu.Unlock()
}

// OpenChannel opens a new typed channel, enforcing the per-connection
// ceiling. The slot is reserved before any transport I/O so two
// concurrent opens cannot both squeeze past the limit.
func (c *Connection) OpenChannel(typ ChannelType) (*Channel, error) {
	ch := &Channel{
		id:       uuid.NewString(),
		typ:      typ,
		conn:     c,
		state:    ChannelOpening,
		waitDone: make(chan struct{}),
	}

	c.mu.Lock()
	if c.state != StateActive && c.state != StateDegraded {
		c.mu.Unlock()
		return nil, errdefs.Newf(errdefs.SessionLost, "ssh.open_channel", "",
			"connection is %s", c.state)
	}
	if len(c.channels) >= c.eng.ChannelCeiling {
		c.mu.Unlock()
		// Interactive callers surface this to the user; transfer
		// callers queue and retry, so don't alarm the log for them.
		if typ.Interactive() {
			c.log.Warn("channel ceiling reached", "type", typ.String(), "ceiling", c.eng.ChannelCeiling)
		} else {
			c.log.Debug("channel ceiling reached, caller will queue", "type", typ.String())
		}
		return nil, errdefs.Newf(errdefs.ChannelLimitExceeded, "ssh.open_channel", "",
			"%d channels already open (ceiling %d)", c.eng.ChannelCeiling, c.eng.ChannelCeiling)
	}
	c.channels[ch.id] = ch
	c.mu.Unlock()

	back, err := c.newBackend(typ)
	if err != nil {
		c.removeChannel(ch.id)
		return nil, errdefs.New(errdefs.ChannelProtocolError, "ssh.open_channel", "", err)
	}

	ch.mu.Lock()
	ch.back = back
	ch.state = ChannelOpen
	ch.mu.Unlock()

	c.log.Debug("channel opened", "type", typ.String(), "channel", ch.id)
	return ch, nil
}

// openBackend creates the real transport object for a channel type.
func (c *Connection) openBackend(typ ChannelType) (*backend, error) {
	switch typ {
	case ChannelShell, ChannelExec:
		sess, err := c.client.NewSession()
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		return &backend{sess: &sshSessionBackend{sess: sess}}, nil

	case ChannelSftp:
		client, err := sftp.NewClient(c.client)
		if err != nil {
			// The connection itself is fine, the server just won't
			// start the subsystem, so callers can fall back to scp.
			return nil, fmt.Errorf("%w on %s: %v", ErrSftpUnavailable, c.cfg.Addr(), err)
		}
		return &backend{sftp: client}, nil

	case ChannelPortForward:
		return &backend{fwd: &Forward{conn: c}}, nil
	}
	return nil, fmt.Errorf("unknown channel type %d", typ)
}

func (c *Connection) removeChannel(id string) {
	c.mu.Lock()
	delete(c.channels, id)
	c.mu.Unlock()
}

// ChannelCount returns how many channels are currently tracked.
func (c *Connection) ChannelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels)
}

// SFTP returns the sftp client behind an sftp channel.
func (ch *Channel) SFTP() *sftp.Client {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.back == nil {
		return nil
	}
	return ch.back.sftp
}

// Session returns the raw session behind a shell or exec channel.
func (ch *Channel) Session() *ssh.Session {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.back == nil || ch.back.sess == nil {
		return nil
	}
	return ch.back.sess.sess
}

// Forwarder returns the forward behind a port-forward channel.
func (ch *Channel) Forwarder() *Forward {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.back == nil {
		return nil
	}
	return ch.back.fwd
}

// MarkEofSent records that our side signalled end-of-stream.
func (ch *Channel) MarkEofSent() {
	ch.mu.Lock()
	if ch.state == ChannelOpen {
		ch.state = ChannelEofSent
	}
	ch.mu.Unlock()
}

// MarkEofReceived records that the peer signalled end-of-stream.
func (ch *Channel) MarkEofReceived() {
	ch.mu.Lock()
	if ch.state == ChannelOpen || ch.state == ChannelEofSent {
		ch.state = ChannelEofReceived
	}
	ch.mu.Unlock()
}

// Close tears the channel down: EOF toward the peer where the transport
// supports it, then the hard close, then deregistration. Close is safe
// to call from any state and returns the first transport error.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	if ch.state == ChannelClosed {
		ch.mu.Unlock()
		return nil
	}
	back := ch.back
	ch.state = ChannelClosed
	ch.mu.Unlock()

	ch.conn.removeChannel(ch.id)
	return closeBackend(back)
}

// CloseGraceful sends EOF, waits up to the configured timeout for the
// peer side to finish via wait, then closes. wait is typically the
// session Wait; it may be nil.
func (ch *Channel) CloseGraceful(wait func() error) error {
	ch.MarkEofSent()
	if back := ch.backend(); back != nil && back.sess != nil && back.sess.stdin != nil {
		back.sess.stdin.Close()
	}
	if wait != nil {
		done := make(chan struct{})
		go func() {
			wait()
			close(done)
		}()
		select {
		case <-done:
			ch.MarkEofReceived()
		case <-time.After(ch.conn.eng.ChannelCloseTimeout):
		}
	}
	return ch.Close()
}

func (ch *Channel) backend() *backend {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.back
}

// invalidate is the broadcast path: the connection died, so the channel
// is closed immediately regardless of its own I/O state. Transport
// errors here are logged, never propagated.
func (ch *Channel) invalidate() {
	ch.mu.Lock()
	if ch.state == ChannelClosed {
		ch.mu.Unlock()
		return
	}
	back := ch.back
	ch.state = ChannelClosed
	ch.mu.Unlock()

	if err := closeBackend(back); err != nil {
		ch.conn.log.Debug("channel close during invalidation", "channel", ch.id, "err", err)
	}
}

func closeBackend(back *backend) error {
	if back == nil {
		return nil
	}
	switch {
	case back.sess != nil:
		if back.sess.stdin != nil {
			back.sess.stdin.Close()
		}
		return back.sess.sess.Close()
	case back.sftp != nil:
		return back.sftp.Close()
	case back.fwd != nil:
		return back.fwd.Close()
	}
	return nil
}
