// internal/models/session.go

package models

import "time"

// SessionStatus is the user-visible state of a session.
type SessionStatus string

const (
	SessionConnecting   SessionStatus = "connecting"
	SessionConnected    SessionStatus = "connected"
	SessionDisconnected SessionStatus = "disconnected"
)

// SessionInfo is the read-only snapshot handed to callers listing
// sessions.
type SessionInfo struct {
	ID          string        `json:"session_id"`
	Name        string        `json:"name"`
	Host        string        `json:"host"`
	Username    string        `json:"username"`
	Status      SessionStatus `json:"status"`
	ConnectedAt time.Time     `json:"connected_at,omitempty"`
}
