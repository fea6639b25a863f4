// internal/ssh/exec.go

package ssh

import (
	"fmt"
	"io"
)

// Start begins a remote command on an exec channel.
func (ch *Channel) Start(command string) error {
	if ch.typ != ChannelExec {
		return fmt.Errorf("channel %s is %s, not exec", ch.id, ch.typ)
	}
	sess := ch.Session()
	if sess == nil {
		return fmt.Errorf("exec channel %s has no session", ch.id)
	}
	if err := sess.Start(command); err != nil {
		return fmt.Errorf("failed to start command: %w", err)
	}
	return nil
}

// StdoutPipe returns the remote stdout stream of an exec channel.
func (ch *Channel) StdoutPipe() (io.Reader, error) {
	sess := ch.Session()
	if sess == nil {
		return nil, fmt.Errorf("channel %s has no session", ch.id)
	}
	return sess.StdoutPipe()
}

// StderrPipe returns the remote stderr stream of an exec channel.
func (ch *Channel) StderrPipe() (io.Reader, error) {
	sess := ch.Session()
	if sess == nil {
		return nil, fmt.Errorf("channel %s has no session", ch.id)
	}
	return sess.StderrPipe()
}
