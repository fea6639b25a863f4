// internal/errdefs/errdefs_test.go

package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindClassification(t *testing.T) {
	err := New(ChannelLimitExceeded, "open", "ch-1", nil)
	assert.True(t, IsKind(err, ChannelLimitExceeded))
	assert.False(t, IsKind(err, SessionLost))

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, ChannelLimitExceeded, kind)
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := New(Cancelled, "exec", "cmd-9", nil)
	wrapped := fmt.Errorf("running batch: %w", inner)

	assert.True(t, IsKind(wrapped, Cancelled))
	kind, ok := KindOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, Cancelled, kind)
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := New(SessionLost, "keepalive", "s-1", cause)
	assert.ErrorIs(t, err, cause)
}

func TestPlainErrorsCarryNoKind(t *testing.T) {
	_, ok := KindOf(errors.New("just a string"))
	assert.False(t, ok)
	assert.False(t, IsKind(nil, SessionLost))
}

func TestMessageComposition(t *testing.T) {
	err := Newf(TransferIOError, "transfer", "t-3", "disk full at %d%%", 100)
	msg := err.Error()
	assert.Contains(t, msg, "transfer")
	assert.Contains(t, msg, "t-3")
	assert.Contains(t, msg, "disk full at 100%")
}
