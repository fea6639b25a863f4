// internal/session/registry.go

package session

import (
	"log/slog"
	"sort"
	"sync"

	"sshbridge/internal/cmdexec"
	"sshbridge/internal/config"
	"sshbridge/internal/errdefs"
	"sshbridge/internal/events"
	"sshbridge/internal/models"
	"sshbridge/internal/transfer"

	"github.com/google/uuid"
	cryptossh "golang.org/x/crypto/ssh"
)

// Registry maps session ids to their actors and routes every external
// call. It also hands per-session channels to the transfer engine,
// satisfying transfer.Provider.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Manager

	eng  config.Engine
	sink events.Sink
	exec *cmdexec.Executor
	dial Dialer
	log  *slog.Logger
}

func NewRegistry(eng config.Engine, sink events.Sink, log *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Manager),
		eng:      eng,
		sink:     sink,
		exec:     cmdexec.New(cmdexec.NewRegistry(), sink, eng, log),
		dial:     DefaultDialer,
		log:      log,
	}
}

// Connect establishes a session for the config and returns its id. A
// failed dial leaves no session behind.
func (r *Registry) Connect(cfg *models.ConnectionConfig) (string, error) {
	return r.ConnectWithID(cfg, uuid.New().String())
}

// ConnectWithID dials with a caller-chosen session id, for callers that
// key external state by id and need it stable across a full
// re-establish. Fails if the id already names a live session.
func (r *Registry) ConnectWithID(cfg *models.ConnectionConfig, id string) (string, error) {
	r.mu.RLock()
	_, taken := r.sessions[id]
	r.mu.RUnlock()
	if taken {
		return "", errdefs.Newf(errdefs.ConnectFailed, "session.connect", id, "session id already in use")
	}

	mgr := newManager(id, cfg.Clone(), r.eng, r.sink, r.exec, r.dial, r.log)
	if err := mgr.Connect(); err != nil {
		mgr.Shutdown()
		return "", err
	}

	r.mu.Lock()
	if _, taken := r.sessions[id]; taken {
		r.mu.Unlock()
		mgr.Shutdown()
		return "", errdefs.Newf(errdefs.ConnectFailed, "session.connect", id, "session id already in use")
	}
	r.sessions[id] = mgr
	r.mu.Unlock()
	return id, nil
}

func (r *Registry) get(id string) (*Manager, error) {
	r.mu.RLock()
	mgr, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errdefs.Newf(errdefs.SessionLost, "session.lookup", id, "unknown session")
	}
	return mgr, nil
}

// Disconnect tears the connection down but keeps the session
// addressable for a later Reconnect.
func (r *Registry) Disconnect(id string) error {
	mgr, err := r.get(id)
	if err != nil {
		return err
	}
	return mgr.Disconnect()
}

// Reconnect re-dials a disconnected session, preserving its id.
func (r *Registry) Reconnect(id string) error {
	mgr, err := r.get(id)
	if err != nil {
		return err
	}
	return mgr.Reconnect()
}

// Remove disconnects the session and forgets it.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	mgr, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return errdefs.Newf(errdefs.SessionLost, "session.remove", id, "unknown session")
	}
	mgr.Shutdown()
	return nil
}

// OpenShell starts the session's interactive shell.
func (r *Registry) OpenShell(id, termType string, cols, rows int) error {
	mgr, err := r.get(id)
	if err != nil {
		return err
	}
	return mgr.OpenShell(termType, cols, rows)
}

// Write feeds input to the session's shell.
func (r *Registry) Write(id string, p []byte) error {
	mgr, err := r.get(id)
	if err != nil {
		return err
	}
	return mgr.Write(p)
}

// Resize propagates a terminal size change.
func (r *Registry) Resize(id string, cols, rows int) error {
	mgr, err := r.get(id)
	if err != nil {
		return err
	}
	return mgr.Resize(cols, rows)
}

// CloseShell ends the interactive shell without dropping the session.
func (r *Registry) CloseShell(id string) error {
	mgr, err := r.get(id)
	if err != nil {
		return err
	}
	return mgr.CloseShell()
}

// Exec runs a command on the session and blocks until it finishes or
// is cancelled. An empty commandID gets a generated one.
func (r *Registry) Exec(id, commandID, command string) (*cmdexec.Result, error) {
	if commandID == "" {
		commandID = uuid.New().String()
	}
	mgr, err := r.get(id)
	if err != nil {
		return nil, err
	}
	return mgr.Exec(commandID, command)
}

// CancelExec requests cooperative cancellation of a running command.
// Command ids are process-global, so no session id is needed.
func (r *Registry) CancelExec(commandID string) error {
	return r.exec.Registry().Cancel(commandID)
}

// Status reports a session's lifecycle state.
func (r *Registry) Status(id string) (models.SessionStatus, error) {
	mgr, err := r.get(id)
	if err != nil {
		return "", err
	}
	return mgr.Status(), nil
}

// Sessions lists snapshots of every known session, ordered by id for
// stable output.
func (r *Registry) Sessions() []models.SessionInfo {
	r.mu.RLock()
	mgrs := make([]*Manager, 0, len(r.sessions))
	for _, mgr := range r.sessions {
		mgrs = append(mgrs, mgr)
	}
	r.mu.RUnlock()

	infos := make([]models.SessionInfo, 0, len(mgrs))
	for _, mgr := range mgrs {
		infos = append(infos, mgr.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Close shuts down every session.
func (r *Registry) Close() {
	r.mu.Lock()
	mgrs := make([]*Manager, 0, len(r.sessions))
	for id, mgr := range r.sessions {
		mgrs = append(mgrs, mgr)
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	for _, mgr := range mgrs {
		mgr.Shutdown()
	}
}

// Forward starts a local port forward bridged through the session.
func (r *Registry) Forward(sessionID, localAddr, remoteAddr string) (Tunnel, error) {
	mgr, err := r.get(sessionID)
	if err != nil {
		return nil, err
	}
	return mgr.OpenForward(localAddr, remoteAddr)
}

// Remote opens an sftp channel on the session and wraps it as a
// transfer filesystem. The release func closes the channel, freeing
// its slot under the ceiling.
func (r *Registry) Remote(sessionID string) (transfer.FS, func(), error) {
	mgr, err := r.get(sessionID)
	if err != nil {
		return nil, nil, err
	}
	sc, err := mgr.OpenSftp()
	if err != nil {
		return nil, nil, err
	}
	return transfer.NewSftpFS(sc.Client()), func() { sc.Close() }, nil
}

// SCP exposes the raw client for the fallback upload path.
func (r *Registry) SCP(sessionID string) (*cryptossh.Client, func(), error) {
	mgr, err := r.get(sessionID)
	if err != nil {
		return nil, nil, err
	}
	conn, err := mgr.connection()
	if err != nil {
		return nil, nil, err
	}
	client := conn.Client()
	if client == nil {
		return nil, nil, errdefs.Newf(errdefs.SessionLost, "session.scp", sessionID, "no client")
	}
	return client, func() {}, nil
}
