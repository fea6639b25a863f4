// internal/cmdexec/executor.go

package cmdexec

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"sshbridge/internal/config"
	"sshbridge/internal/errdefs"
	"sshbridge/internal/events"

	cryptossh "golang.org/x/crypto/ssh"
)

// Channel is the slice of an exec channel the executor drives.
type Channel interface {
	Start(command string) error
	StdoutPipe() (io.Reader, error)
	StderrPipe() (io.Reader, error)
	Wait() error
	Close() error
	MarkEofReceived()
}

// Target opens exec channels on one connection and reports whether the
// transport is still alive, which decides between SessionLost and a
// plain protocol error when a command dies.
type Target interface {
	OpenExec() (Channel, error)
	Alive() bool
}

// Result is the outcome of a completed command.
type Result struct {
	CommandID  string
	Output     []byte
	ExitStatus int
}

// Executor runs commands with streamed output and per-command
// cancellation. One Executor serves all sessions; each Execute call is
// independent.
type Executor struct {
	reg  *Registry
	sink events.Sink
	poll time.Duration
	log  *slog.Logger
}

func New(reg *Registry, sink events.Sink, eng config.Engine, log *slog.Logger) *Executor {
	poll := eng.ExecPollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &Executor{reg: reg, sink: sink, poll: poll, log: log}
}

// Registry exposes the shared cancellation registry so the public API
// can route cancel requests by command id alone.
func (e *Executor) Registry() *Registry {
	return e.reg
}

// Execute runs command on a dedicated exec channel of target. Output
// chunks are published as they arrive; the accumulated output and exit
// status come back in the Result. The cancellation flag is polled at
// every wait point, bounding cancellation latency to one poll interval,
// and is released on every exit path.
func (e *Executor) Execute(target Target, sessionID, commandID, command string) (*Result, error) {
	flag, release, err := e.reg.Register(commandID)
	if err != nil {
		return nil, err
	}
	defer release()

	ch, err := target.OpenExec()
	if err != nil {
		return nil, err
	}
	closed := false
	defer func() {
		if !closed {
			if cerr := ch.Close(); cerr != nil {
				e.log.Debug("exec channel close", "command", commandID, "err", cerr)
			}
		}
	}()

	stdout, err := ch.StdoutPipe()
	if err != nil {
		return nil, errdefs.New(errdefs.ChannelProtocolError, "exec", commandID, err)
	}
	stderr, err := ch.StderrPipe()
	if err != nil {
		return nil, errdefs.New(errdefs.ChannelProtocolError, "exec", commandID, err)
	}
	if err := ch.Start(command); err != nil {
		return nil, errdefs.New(errdefs.ChannelProtocolError, "exec", commandID, err)
	}

	chunks := make(chan []byte, 16)
	// Closed on every exit path so the readers never block on a full
	// chunk channel after the consumer is gone.
	done := make(chan struct{})
	defer close(done)
	var readers sync.WaitGroup
	readers.Add(2)
	go e.readLoop(stdout, chunks, done, &readers)
	go e.readLoop(stderr, chunks, done, &readers)
	go func() {
		readers.Wait()
		close(chunks)
	}()

	var output bytes.Buffer
	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()

	for chunks != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				break
			}
			output.Write(chunk)
			e.sink.Publish(events.CommandOutput{CommandID: commandID, Chunk: chunk})
		case <-ticker.C:
			if flag.Cancelled() {
				return nil, e.cancelled(ch, commandID, &closed)
			}
		}
	}
	ch.MarkEofReceived()

	// Streams are drained; wait for the exit status, still honoring the
	// cancellation flag.
	waitErr, err := e.waitForExit(ch, flag, commandID, &closed)
	if err != nil {
		return nil, err
	}

	result := &Result{CommandID: commandID, Output: output.Bytes()}
	if waitErr != nil {
		var exitErr *cryptossh.ExitError
		switch {
		case errors.As(waitErr, &exitErr):
			result.ExitStatus = exitErr.ExitStatus()
		case !target.Alive():
			err := errdefs.New(errdefs.SessionLost, "exec", commandID, waitErr)
			e.sink.Publish(events.CommandFinished{CommandID: commandID, Err: err})
			return nil, err
		default:
			err := errdefs.New(errdefs.ChannelProtocolError, "exec", commandID, waitErr)
			e.sink.Publish(events.CommandFinished{CommandID: commandID, Err: err})
			return nil, err
		}
	}

	e.sink.Publish(events.CommandFinished{CommandID: commandID, ExitStatus: result.ExitStatus})
	return result, nil
}

func (e *Executor) readLoop(r io.Reader, chunks chan<- []byte, done <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case chunks <- chunk:
			case <-done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// waitForExit waits for the remote exit status while polling the
// cancellation flag.
func (e *Executor) waitForExit(ch Channel, flag *Flag, commandID string, closed *bool) (waitErr error, execErr error) {
	done := make(chan error, 1)
	go func() {
		done <- ch.Wait()
	}()

	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			return err, nil
		case <-ticker.C:
			if flag.Cancelled() {
				return nil, e.cancelled(ch, commandID, closed)
			}
		}
	}
}

// cancelled closes the channel best-effort and builds the Cancelled
// error. Close failures are logged, never treated as a failure of the
// cancel itself.
func (e *Executor) cancelled(ch Channel, commandID string, closed *bool) error {
	if err := ch.Close(); err != nil {
		e.log.Debug("channel close on cancel", "command", commandID, "err", err)
	}
	*closed = true
	err := errdefs.New(errdefs.Cancelled, "exec", commandID, nil)
	e.sink.Publish(events.CommandFinished{CommandID: commandID, Err: err})
	return err
}
