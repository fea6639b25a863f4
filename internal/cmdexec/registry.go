// internal/cmdexec/registry.go

// Package cmdexec runs one-off remote commands on dedicated exec
// channels with streamed output and per-command cooperative
// cancellation.
package cmdexec

import (
	"sync"
	"sync/atomic"

	"sshbridge/internal/errdefs"
)

// Flag is a cooperative cancellation flag polled by the running command
// at its I/O suspension points.
type Flag struct {
	cancelled atomic.Bool
}

func (f *Flag) Cancel()         { f.cancelled.Store(true) }
func (f *Flag) Cancelled() bool { return f.cancelled.Load() }

// Registry maps command ids to their cancellation flags. It is shared
// process-wide; the mutex guards only map mutation and is never held
// across I/O.
type Registry struct {
	mu    sync.Mutex
	flags map[string]*Flag
}

func NewRegistry() *Registry {
	return &Registry{flags: make(map[string]*Flag)}
}

// Register creates the flag for commandID. The returned release func
// removes it again and must be called on every exit path; entries exist
// only while the command runs.
func (r *Registry) Register(commandID string) (*Flag, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.flags[commandID]; exists {
		return nil, nil, errdefs.New(errdefs.DuplicateCommandID, "exec.register", commandID, nil)
	}
	flag := &Flag{}
	r.flags[commandID] = flag

	release := func() {
		r.mu.Lock()
		delete(r.flags, commandID)
		r.mu.Unlock()
	}
	return flag, release, nil
}

// Cancel sets the flag for commandID. An unknown id is an error, never a
// silent no-op, so callers can tell "already finished" from "cancel
// lost".
func (r *Registry) Cancel(commandID string) error {
	r.mu.Lock()
	flag, ok := r.flags[commandID]
	r.mu.Unlock()

	if !ok {
		return errdefs.New(errdefs.CommandNotFound, "exec.cancel", commandID, nil)
	}
	flag.Cancel()
	return nil
}

// Active returns how many commands currently hold flags.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flags)
}
