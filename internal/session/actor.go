// internal/session/actor.go

package session

import (
	"log/slog"
	"time"

	"sshbridge/internal/cmdexec"
	"sshbridge/internal/config"
	"sshbridge/internal/errdefs"
	"sshbridge/internal/events"
	"sshbridge/internal/models"
	sshpkg "sshbridge/internal/ssh"
)

const mailboxSize = 32

// Manager is the actor owning a single session. All connection state
// is mutated only by the actor goroutine; callers submit operations
// through the mailbox and block on a reply. Long-running work (exec,
// transfer I/O) never runs inside the loop.
type Manager struct {
	id   string
	cfg  *models.ConnectionConfig
	eng  config.Engine
	sink events.Sink
	exec *cmdexec.Executor
	dial Dialer
	log  *slog.Logger

	mailbox chan func()
	execq   chan execReq
	closed  chan struct{}

	// owned by the actor goroutine
	conn    Conn
	shell   Shell
	status  models.SessionStatus
	started time.Time
}

func newManager(id string, cfg *models.ConnectionConfig, eng config.Engine, sink events.Sink, exec *cmdexec.Executor, dial Dialer, log *slog.Logger) *Manager {
	m := &Manager{
		id:      id,
		cfg:     cfg,
		eng:     eng,
		sink:    sink,
		exec:    exec,
		dial:    dial,
		log:     log.With("session", id, "target", cfg.IdentityKey()),
		mailbox: make(chan func(), mailboxSize),
		execq:   make(chan execReq, mailboxSize),
		closed:  make(chan struct{}),
		status:  models.SessionDisconnected,
	}
	go m.loop()
	go m.execLoop()
	return m
}

func (m *Manager) loop() {
	for {
		select {
		case op := <-m.mailbox:
			op()
		case <-m.closed:
			return
		}
	}
}

// call runs op on the actor goroutine and waits for its result.
// Operations submitted from one goroutine execute in submission order.
func (m *Manager) call(op func() error) error {
	errc := make(chan error, 1)
	wrapped := func() { errc <- op() }
	select {
	case m.mailbox <- wrapped:
	case <-m.closed:
		return errdefs.New(errdefs.SessionLost, "session.call", m.id, nil)
	}
	select {
	case err := <-errc:
		return err
	case <-m.closed:
		return errdefs.New(errdefs.SessionLost, "session.call", m.id, nil)
	}
}

// cast submits op without waiting. Used from connection callbacks that
// must not block.
func (m *Manager) cast(op func()) {
	select {
	case m.mailbox <- op:
	case <-m.closed:
	default:
		// Mailbox full; run a drainer so the fault is not lost.
		go func() {
			select {
			case m.mailbox <- op:
			case <-m.closed:
			}
		}()
	}
}

func (m *Manager) setStatus(s models.SessionStatus) {
	if m.status == s {
		return
	}
	m.status = s
	m.sink.Publish(events.SessionStatusChanged{SessionID: m.id, Status: s})
}

// Connect dials the configured host. Idempotent while connected.
func (m *Manager) Connect() error {
	var already bool
	if err := m.call(func() error {
		if m.status == models.SessionConnected {
			already = true
			return nil
		}
		m.setStatus(models.SessionConnecting)
		return nil
	}); err != nil {
		return err
	}
	if already {
		return nil
	}

	conn, err := m.dial(m.cfg, m.eng, m.log)

	return m.call(func() error {
		if err != nil {
			m.setStatus(models.SessionDisconnected)
			return err
		}
		if m.status == models.SessionConnected {
			// A concurrent connect won the race.
			conn.Close()
			return nil
		}
		m.adopt(conn)
		return nil
	})
}

// adopt installs a live connection. Actor goroutine only.
func (m *Manager) adopt(conn Conn) {
	m.conn = conn
	m.started = time.Now()
	conn.OnFault(m.handleFault)
	m.setStatus(models.SessionConnected)
}

// handleFault runs on the connection's keepalive goroutine.
func (m *Manager) handleFault(cause error) {
	m.log.Warn("connection lost", "error", cause)
	m.cast(func() {
		m.conn = nil
		m.shell = nil
		m.setStatus(models.SessionDisconnected)
		if m.eng.AutoReconnect {
			go m.reconnect()
		}
	})
}

// Reconnect retries the dial with exponential backoff, preserving the
// session identity. Returns after success or exhaustion.
func (m *Manager) Reconnect() error { return m.reconnect() }

func (m *Manager) reconnect() error {
	for attempt := 1; attempt <= m.eng.ReconnectMaxAttempts; attempt++ {
		select {
		case <-time.After(sshpkg.ReconnectDelay(attempt, m.eng.ReconnectBaseDelay, m.eng.ReconnectMaxDelay)):
		case <-m.closed:
			return errdefs.New(errdefs.SessionLost, "session.reconnect", m.id, nil)
		}
		conn, err := m.dial(m.cfg, m.eng, m.log)
		if err != nil {
			m.log.Debug("reconnect attempt failed", "attempt", attempt, "error", err)
			m.sink.Publish(events.ReconnectAttemptFailed{SessionID: m.id, Attempt: attempt, Err: err})
			continue
		}
		return m.call(func() error {
			if m.status == models.SessionConnected {
				conn.Close()
				return nil
			}
			m.adopt(conn)
			return nil
		})
	}
	m.sink.Publish(events.ReconnectExhausted{SessionID: m.id})
	return errdefs.New(errdefs.ReconnectExhausted, "session.reconnect", m.id, nil)
}

// Disconnect tears down the connection. The actor stays addressable so
// the same session id can reconnect later.
func (m *Manager) Disconnect() error {
	return m.call(func() error {
		if m.shell != nil {
			m.shell.Close()
			m.shell = nil
		}
		if m.conn != nil {
			m.conn.Close()
			m.conn = nil
		}
		m.setStatus(models.SessionDisconnected)
		return nil
	})
}

// Shutdown disconnects and stops the actor goroutine.
func (m *Manager) Shutdown() {
	_ = m.Disconnect()
	close(m.closed)
}

// OpenShell starts an interactive shell whose output is published as
// ShellOutput events.
func (m *Manager) OpenShell(termType string, cols, rows int) error {
	return m.call(func() error {
		if m.conn == nil {
			return errdefs.New(errdefs.SessionLost, "session.shell", m.id, nil)
		}
		if m.shell != nil {
			return errdefs.Newf(errdefs.ChannelProtocolError, "session.shell", m.id, "shell already open")
		}
		sh, err := m.conn.OpenShell()
		if err != nil {
			return err
		}
		w := &shellWriter{sink: m.sink, sessionID: m.id}
		if err := sh.StartShell(termType, cols, rows, w, w); err != nil {
			sh.Close()
			return err
		}
		m.shell = sh
		go m.watchShell(sh)
		return nil
	})
}

// watchShell reaps the shell when the remote side ends it.
func (m *Manager) watchShell(sh Shell) {
	err := sh.Wait()
	m.cast(func() {
		if m.shell != sh {
			return
		}
		m.shell = nil
		sh.Close()
		if err != nil {
			m.log.Debug("shell ended", "error", err)
		}
		m.sink.Publish(events.ShellClosed{SessionID: m.id})
	})
}

// Write sends input to the interactive shell.
func (m *Manager) Write(p []byte) error {
	return m.call(func() error {
		if m.shell == nil {
			return errdefs.Newf(errdefs.ChannelProtocolError, "session.write", m.id, "no shell open")
		}
		_, err := m.shell.Write(p)
		return err
	})
}

// Resize propagates a terminal size change to the shell.
func (m *Manager) Resize(cols, rows int) error {
	return m.call(func() error {
		if m.shell == nil {
			return errdefs.Newf(errdefs.ChannelProtocolError, "session.resize", m.id, "no shell open")
		}
		return m.shell.Resize(cols, rows)
	})
}

// CloseShell closes the interactive shell, leaving the connection up.
func (m *Manager) CloseShell() error {
	return m.call(func() error {
		if m.shell == nil {
			return nil
		}
		err := m.shell.Close()
		m.shell = nil
		return err
	})
}

type execReq struct {
	conn      Conn
	commandID string
	command   string
	res       chan execRes
}

type execRes struct {
	result *cmdexec.Result
	err    error
}

// execLoop serializes command execution per session, so commands
// submitted to one session run and complete in submission order. It is
// a separate goroutine from the actor loop, which stays free to serve
// shell and status requests while a command runs.
func (m *Manager) execLoop() {
	for {
		select {
		case req := <-m.execq:
			result, err := m.exec.Execute(req.conn, m.id, req.commandID, req.command)
			req.res <- execRes{result: result, err: err}
		case <-m.closed:
			return
		}
	}
}

// Exec runs a command on the session. The mailbox is used only to
// snapshot the connection; execution is queued on the session's exec
// lane and the caller blocks for the result.
func (m *Manager) Exec(commandID, command string) (*cmdexec.Result, error) {
	var conn Conn
	if err := m.call(func() error {
		if m.conn == nil {
			return errdefs.New(errdefs.SessionLost, "session.exec", commandID, nil)
		}
		conn = m.conn
		return nil
	}); err != nil {
		return nil, err
	}

	req := execReq{conn: conn, commandID: commandID, command: command, res: make(chan execRes, 1)}
	select {
	case m.execq <- req:
	case <-m.closed:
		return nil, errdefs.New(errdefs.SessionLost, "session.exec", commandID, nil)
	}
	select {
	case r := <-req.res:
		return r.result, r.err
	case <-m.closed:
		return nil, errdefs.New(errdefs.SessionLost, "session.exec", commandID, nil)
	}
}

// OpenSftp opens an sftp channel on the session's connection. Channel
// setup I/O happens outside the mailbox.
func (m *Manager) OpenSftp() (SftpChannel, error) {
	conn, err := m.connection()
	if err != nil {
		return nil, err
	}
	return conn.OpenSftp()
}

// OpenForward starts a local port forward on the session's connection.
func (m *Manager) OpenForward(localAddr, remoteAddr string) (Tunnel, error) {
	conn, err := m.connection()
	if err != nil {
		return nil, err
	}
	return conn.OpenForward(localAddr, remoteAddr)
}

// connection snapshots the live connection or fails with SessionLost.
func (m *Manager) connection() (Conn, error) {
	var conn Conn
	err := m.call(func() error {
		if m.conn == nil || m.status != models.SessionConnected {
			return errdefs.New(errdefs.SessionLost, "session.conn", m.id, nil)
		}
		conn = m.conn
		return nil
	})
	return conn, err
}

// Status reports the current lifecycle state.
func (m *Manager) Status() models.SessionStatus {
	var s models.SessionStatus
	if err := m.call(func() error {
		s = m.status
		return nil
	}); err != nil {
		return models.SessionDisconnected
	}
	return s
}

// Info returns a snapshot for listings.
func (m *Manager) Info() models.SessionInfo {
	var info models.SessionInfo
	_ = m.call(func() error {
		info = models.SessionInfo{
			ID:          m.id,
			Name:        m.cfg.Name,
			Host:        m.cfg.Host,
			Username:    m.cfg.Username,
			Status:      m.status,
			ConnectedAt: m.started,
		}
		return nil
	})
	return info
}

// shellWriter publishes shell output as events.
type shellWriter struct {
	sink      events.Sink
	sessionID string
}

func (w *shellWriter) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	w.sink.Publish(events.ShellOutput{SessionID: w.sessionID, Chunk: buf})
	return len(p), nil
}
