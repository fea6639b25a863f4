// internal/events/bus_test.go

package events

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"sshbridge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBusDeliversInOrder(t *testing.T) {
	b := NewBus(8, testLogger())
	b.Publish(SessionStatusChanged{SessionID: "s1", Status: models.SessionConnecting})
	b.Publish(SessionStatusChanged{SessionID: "s1", Status: models.SessionConnected})

	first := (<-b.Events()).(SessionStatusChanged)
	second := (<-b.Events()).(SessionStatusChanged)
	assert.Equal(t, models.SessionConnecting, first.Status)
	assert.Equal(t, models.SessionConnected, second.Status)
}

func TestBusShedsLoadWithoutBlocking(t *testing.T) {
	b := NewBus(2, testLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			b.Publish(CommandOutput{CommandID: "c", Chunk: []byte{byte(i)}})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full bus")
	}

	// The buffered events are still readable.
	require.Len(t, b.Events(), 2)
}

func TestDiscardSink(t *testing.T) {
	var s Sink = Discard{}
	s.Publish(TransferProgress{TransferID: "t1", Transferred: 1, Total: 2})
}
