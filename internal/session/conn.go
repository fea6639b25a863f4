// internal/session/conn.go

// Package session hosts the per-session actor that owns one connection
// and its channels, and the process-wide registry that routes external
// calls to the right actor.
package session

import (
	"io"
	"log/slog"

	"sshbridge/internal/cmdexec"
	"sshbridge/internal/config"
	"sshbridge/internal/models"
	sshpkg "sshbridge/internal/ssh"

	"github.com/pkg/sftp"
	cryptossh "golang.org/x/crypto/ssh"
)

// Shell is the surface of an interactive shell channel.
type Shell interface {
	StartShell(termType string, cols, rows int, out, errOut io.Writer) error
	Write(p []byte) (int, error)
	Resize(cols, rows int) error
	Wait() error
	Close() error
}

// SftpChannel is an open sftp channel plus its teardown.
type SftpChannel interface {
	Client() *sftp.Client
	Close() error
}

// Tunnel is a running local port forward.
type Tunnel interface {
	LocalAddr() string
	Close() error
}

// Conn is the transport surface the actor drives. It is satisfied by
// the adapter around *ssh.Connection; tests substitute fakes.
type Conn interface {
	OpenShell() (Shell, error)
	OpenExec() (cmdexec.Channel, error)
	OpenSftp() (SftpChannel, error)
	OpenForward(localAddr, remoteAddr string) (Tunnel, error)
	Client() *cryptossh.Client
	Alive() bool
	OnFault(fn func(error))
	Close() error
}

// Dialer establishes a connection for a config. The default wraps
// ssh.Dial.
type Dialer func(cfg *models.ConnectionConfig, eng config.Engine, log *slog.Logger) (Conn, error)

// DefaultDialer dials a real transport connection.
func DefaultDialer(cfg *models.ConnectionConfig, eng config.Engine, log *slog.Logger) (Conn, error) {
	c, err := sshpkg.Dial(cfg, eng, log)
	if err != nil {
		return nil, err
	}
	return &sshConn{c: c}, nil
}

// sshConn adapts *ssh.Connection to the Conn interface.
type sshConn struct {
	c *sshpkg.Connection
}

func (s *sshConn) OpenShell() (Shell, error) {
	ch, err := s.c.OpenChannel(sshpkg.ChannelShell)
	if err != nil {
		return nil, err
	}
	return shellChannel{ch}, nil
}

// shellChannel routes Close through the graceful path: stdin EOF, a
// bounded wait for the remote shell to exit, then teardown.
type shellChannel struct {
	*sshpkg.Channel
}

func (s shellChannel) Close() error {
	return s.Channel.CloseGraceful(s.Channel.Wait)
}

func (s *sshConn) OpenExec() (cmdexec.Channel, error) {
	ch, err := s.c.OpenChannel(sshpkg.ChannelExec)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (s *sshConn) OpenSftp() (SftpChannel, error) {
	ch, err := s.c.OpenChannel(sshpkg.ChannelSftp)
	if err != nil {
		return nil, err
	}
	return &sftpChannel{ch: ch}, nil
}

func (s *sshConn) OpenForward(localAddr, remoteAddr string) (Tunnel, error) {
	ch, err := s.c.OpenChannel(sshpkg.ChannelPortForward)
	if err != nil {
		return nil, err
	}
	fwd := ch.Forwarder()
	if err := fwd.Start(localAddr, remoteAddr); err != nil {
		ch.Close()
		return nil, err
	}
	return &tunnel{ch: ch, fwd: fwd}, nil
}

func (s *sshConn) Client() *cryptossh.Client { return s.c.Client() }
func (s *sshConn) Alive() bool               { return s.c.Alive() }
func (s *sshConn) OnFault(fn func(error))    { s.c.OnFault(fn) }
func (s *sshConn) Close() error              { return s.c.Close() }

type sftpChannel struct {
	ch *sshpkg.Channel
}

func (s *sftpChannel) Client() *sftp.Client { return s.ch.SFTP() }
func (s *sftpChannel) Close() error         { return s.ch.Close() }

// tunnel ties a running forward to its channel so closing it frees the
// channel slot.
type tunnel struct {
	ch  *sshpkg.Channel
	fwd *sshpkg.Forward
}

func (t *tunnel) LocalAddr() string { return t.fwd.LocalAddr() }
func (t *tunnel) Close() error      { return t.ch.Close() }
