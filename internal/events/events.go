// internal/events/events.go

// Package events defines the notifications the core emits toward the
// presentation layer. Components publish through a Sink; the presentation
// layer drains a Bus.
package events

import "sshbridge/internal/models"

type SessionStatusChanged struct {
	SessionID string
	Status    models.SessionStatus
}

type ShellOutput struct {
	SessionID string
	Chunk     []byte
}

type ShellClosed struct {
	SessionID string
}

type CommandOutput struct {
	CommandID string
	Chunk     []byte
}

type CommandFinished struct {
	CommandID  string
	ExitStatus int
	Err        error
}

type TransferProgress struct {
	TransferID  string
	Transferred int64
	Total       int64
}

type TransferStatusChanged struct {
	TransferID string
	Status     models.TransferStatus
	Err        error
}

type ReconnectAttemptFailed struct {
	SessionID string
	Attempt   int
	Err       error
}

type ReconnectExhausted struct {
	SessionID string
}

// Sink receives events from the core. Publish must not block: slow
// consumers shed load instead of stalling I/O paths.
type Sink interface {
	Publish(ev any)
}
