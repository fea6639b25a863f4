// internal/events/bus.go

package events

import "log/slog"

// Bus is a buffered fan-in of core events. Publish never blocks: when
// the consumer falls behind the buffer, events are dropped and counted,
// the same discipline the transfer progress path uses for its samples.
type Bus struct {
	ch  chan any
	log *slog.Logger
}

func NewBus(buffer int, log *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{
		ch:  make(chan any, buffer),
		log: log,
	}
}

func (b *Bus) Publish(ev any) {
	select {
	case b.ch <- ev:
	default:
		if b.log != nil {
			b.log.Debug("event bus full, dropping event", "type", typeName(ev))
		}
	}
}

// Events returns the consumer side of the bus.
func (b *Bus) Events() <-chan any {
	return b.ch
}

// Discard is a Sink that drops everything. Useful for callers that only
// want return values.
type Discard struct{}

func (Discard) Publish(any) {}

func typeName(ev any) string {
	switch ev.(type) {
	case SessionStatusChanged:
		return "SessionStatusChanged"
	case ShellOutput:
		return "ShellOutput"
	case ShellClosed:
		return "ShellClosed"
	case CommandOutput:
		return "CommandOutput"
	case CommandFinished:
		return "CommandFinished"
	case TransferProgress:
		return "TransferProgress"
	case TransferStatusChanged:
		return "TransferStatusChanged"
	case ReconnectAttemptFailed:
		return "ReconnectAttemptFailed"
	case ReconnectExhausted:
		return "ReconnectExhausted"
	}
	return "unknown"
}
