// internal/ssh/forward.go

package ssh

import (
	"fmt"
	"io"
	"net"
	"sync"
)

// Forward bridges a local listener to a remote address through the
// connection. It backs a port-forward channel; closing the channel
// closes the listener and every bridged pair.
type Forward struct {
	conn *Connection

	mu         sync.Mutex
	ln         net.Listener
	localAddr  string
	remoteAddr string
	active     map[net.Conn]struct{}
	closed     bool
}

// Start listens on localAddr and bridges every accepted connection to
// remoteAddr on the far side.
func (f *Forward) Start(localAddr, remoteAddr string) error {
	ln, err := net.Listen("tcp", localAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", localAddr, err)
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		ln.Close()
		return fmt.Errorf("forward already closed")
	}
	f.ln = ln
	f.localAddr = ln.Addr().String()
	f.remoteAddr = remoteAddr
	f.active = make(map[net.Conn]struct{})
	f.mu.Unlock()

	go f.acceptLoop()
	f.conn.log.Debug("port forward started", "local", f.localAddr, "remote", remoteAddr)
	return nil
}

// LocalAddr returns the bound local address, useful when localAddr was
// requested with port 0.
func (f *Forward) LocalAddr() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.localAddr
}

func (f *Forward) acceptLoop() {
	for {
		local, err := f.ln.Accept()
		if err != nil {
			return
		}
		remote, err := f.conn.client.Dial("tcp", f.remoteAddr)
		if err != nil {
			f.conn.log.Debug("forward dial failed", "remote", f.remoteAddr, "err", err)
			local.Close()
			continue
		}

		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			local.Close()
			remote.Close()
			return
		}
		f.active[local] = struct{}{}
		f.active[remote] = struct{}{}
		f.mu.Unlock()

		go f.bridge(local, remote)
	}
}

func (f *Forward) bridge(local, remote net.Conn) {
	done := make(chan struct{}, 2)
	copy := func(dst, src net.Conn) {
		io.Copy(dst, src)
		done <- struct{}{}
	}
	go copy(remote, local)
	go copy(local, remote)
	<-done

	local.Close()
	remote.Close()
	f.mu.Lock()
	delete(f.active, local)
	delete(f.active, remote)
	f.mu.Unlock()
}

// Close stops accepting and severs every bridged pair.
func (f *Forward) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	ln := f.ln
	conns := make([]net.Conn, 0, len(f.active))
	for c := range f.active {
		conns = append(conns, c)
	}
	f.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}
	return err
}
