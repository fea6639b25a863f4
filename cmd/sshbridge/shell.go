package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sshbridge/internal/events"
	"sshbridge/internal/models"

	"golang.org/x/term"
)

func runConnect(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: sshbridge connect <name>")
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.registry.Close()

	id, err := a.connect(args[0])
	if err != nil {
		return err
	}
	defer a.registry.Remove(id)

	return attachShell(a, id)
}

// attachShell bridges the local terminal and the remote shell: raw
// stdin is forwarded as input, shell output events are written to
// stdout, SIGWINCH propagates resizes.
func attachShell(a *app, id string) error {
	fd := int(os.Stdin.Fd())
	cols, rows := 80, 24
	if w, h, err := term.GetSize(fd); err == nil {
		cols, rows = w, h
	}

	termType := os.Getenv("TERM")
	if termType == "" {
		termType = "xterm-256color"
	}
	if err := a.registry.OpenShell(id, termType, cols, rows); err != nil {
		return err
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("could not enter raw mode: %v", err)
	}
	defer term.Restore(fd, oldState)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range a.bus.Events() {
			switch ev := ev.(type) {
			case events.ShellOutput:
				if ev.SessionID == id {
					os.Stdout.Write(ev.Chunk)
				}
			case events.ShellClosed:
				if ev.SessionID == id {
					return
				}
			case events.SessionStatusChanged:
				if ev.SessionID == id && ev.Status == models.SessionDisconnected {
					return
				}
			}
		}
	}()

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			if w, h, err := term.GetSize(fd); err == nil {
				a.registry.Resize(id, w, h)
			}
		}
	}()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if werr := a.registry.Write(id, buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				a.registry.CloseShell(id)
				return
			}
		}
	}()

	<-done
	return nil
}
