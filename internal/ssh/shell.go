// internal/ssh/shell.go

package ssh

import (
	"fmt"
	"io"

	"golang.org/x/crypto/ssh"
)

// terminalModes mirrors a plain interactive terminal with standard
// control characters.
var terminalModes = ssh.TerminalModes{
	ssh.ECHO:          1,
	ssh.TTY_OP_ISPEED: 14400,
	ssh.TTY_OP_OSPEED: 14400,
	ssh.VINTR:         3,  // Ctrl+C
	ssh.VQUIT:         28, // Ctrl+\
	ssh.VERASE:        127,
	ssh.VKILL:         21, // Ctrl+U
	ssh.VEOF:          4,  // Ctrl+D
	ssh.VWERASE:       23, // Ctrl+W
	ssh.VLNEXT:        22, // Ctrl+V
	ssh.VSUSP:         26, // Ctrl+Z
}

// StartShell requests a pty on a shell channel and starts the remote
// shell. Remote output is streamed to out and errOut; input is written
// through Write.
func (ch *Channel) StartShell(termType string, cols, rows int, out, errOut io.Writer) error {
	if ch.typ != ChannelShell {
		return fmt.Errorf("channel %s is %s, not shell", ch.id, ch.typ)
	}
	back := ch.backend()
	if back == nil || back.sess == nil {
		return fmt.Errorf("shell channel %s has no session", ch.id)
	}
	sess := back.sess.sess

	if termType == "" {
		termType = "xterm-256color"
	}
	if cols <= 0 || rows <= 0 {
		cols, rows = 80, 24
	}

	if err := sess.RequestPty(termType, rows, cols, terminalModes); err != nil {
		return fmt.Errorf("failed to request pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	back.sess.stdin = stdin
	sess.Stdout = out
	sess.Stderr = errOut

	if err := sess.Shell(); err != nil {
		stdin.Close()
		return fmt.Errorf("failed to start shell: %w", err)
	}
	return nil
}

// Write sends input bytes to the remote shell.
func (ch *Channel) Write(p []byte) (int, error) {
	back := ch.backend()
	if back == nil || back.sess == nil || back.sess.stdin == nil {
		return 0, fmt.Errorf("channel %s has no open input stream", ch.id)
	}
	return back.sess.stdin.Write(p)
}

// Resize propagates a terminal size change to the remote pty.
func (ch *Channel) Resize(cols, rows int) error {
	sess := ch.Session()
	if sess == nil {
		return fmt.Errorf("channel %s has no session", ch.id)
	}
	if err := sess.WindowChange(rows, cols); err != nil {
		return fmt.Errorf("failed to resize pty: %w", err)
	}
	return nil
}

// Wait blocks until the remote shell exits. Concurrent and repeated
// callers all observe the same exit error; the underlying session Wait
// runs exactly once.
func (ch *Channel) Wait() error {
	ch.waitOnce.Do(func() {
		defer close(ch.waitDone)
		sess := ch.Session()
		if sess == nil {
			ch.waitErr = fmt.Errorf("channel %s has no session", ch.id)
			return
		}
		ch.waitErr = sess.Wait()
	})
	<-ch.waitDone
	return ch.waitErr
}
