// internal/config/engine.go

package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Engine holds the process-wide tuning knobs. Defaults are suitable for
// interactive use; every field can be overridden through SSHBRIDGE_*
// environment variables.
type Engine struct {
	// TransferConcurrency bounds how many transfer items run at once.
	TransferConcurrency int `split_words:"true" default:"3"`

	// ChannelCeiling bounds simultaneous channels per connection.
	ChannelCeiling int `split_words:"true" default:"10"`

	// KeepaliveInterval is the gap between liveness probes.
	KeepaliveInterval time.Duration `split_words:"true" default:"15s"`

	// ServerAliveCountMax is how many consecutive unanswered probes
	// close the connection.
	ServerAliveCountMax int `split_words:"true" default:"3"`

	// Reconnect backoff: base delay doubles per attempt up to the max,
	// for at most ReconnectMaxAttempts tries.
	ReconnectBaseDelay   time.Duration `split_words:"true" default:"1s"`
	ReconnectMaxDelay    time.Duration `split_words:"true" default:"30s"`
	ReconnectMaxAttempts int           `split_words:"true" default:"5"`

	// AutoReconnect retries a dropped connection without user
	// confirmation. Off by default; the presentation layer decides.
	AutoReconnect bool `split_words:"true" default:"false"`

	// Progress event throttling: a sample is emitted when either the
	// interval has elapsed or the byte delta has been exceeded.
	ProgressInterval  time.Duration `split_words:"true" default:"200ms"`
	ProgressByteDelta int64         `split_words:"true" default:"262144"`

	// ExecPollInterval bounds cancellation latency for running commands.
	ExecPollInterval time.Duration `split_words:"true" default:"100ms"`

	// ChannelCloseTimeout bounds the graceful EOF wait during channel
	// teardown.
	ChannelCloseTimeout time.Duration `split_words:"true" default:"3s"`
}

// DefaultEngine returns the built-in defaults without consulting the
// environment.
func DefaultEngine() Engine {
	return Engine{
		TransferConcurrency:  3,
		ChannelCeiling:       10,
		KeepaliveInterval:    15 * time.Second,
		ServerAliveCountMax:  3,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		ReconnectMaxAttempts: 5,
		ProgressInterval:     200 * time.Millisecond,
		ProgressByteDelta:    256 * 1024,
		ExecPollInterval:     100 * time.Millisecond,
		ChannelCloseTimeout:  3 * time.Second,
	}
}

// EngineFromEnv builds the engine config from SSHBRIDGE_* environment
// variables, falling back to the defaults above.
func EngineFromEnv() (Engine, error) {
	var cfg Engine
	if err := envconfig.Process("sshbridge", &cfg); err != nil {
		return Engine{}, fmt.Errorf("failed to process engine config: %v", err)
	}
	return cfg, nil
}
