// internal/transfer/scp.go

package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"sshbridge/internal/events"
	"sshbridge/internal/models"

	scp "github.com/bramvdbogaerde/go-scp"
)

// errStopped aborts the scp copy when a control flag fires mid-stream.
var errStopped = errors.New("transfer stopped")

// scpUpload is the fallback path for hosts without an sftp subsystem.
// It cannot resume: every run restarts from byte zero, and verification
// is limited to what the remote protocol acknowledges.
func (e *Engine) scpUpload(it *item) error {
	client, release, err := e.provider.SCP(it.SessionID)
	if err != nil {
		e.fail(it, err)
		return err
	}
	defer release()

	f, err := os.Open(it.LocalPath)
	if err != nil {
		e.fail(it, fmt.Errorf("failed to open source: %w", err))
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		e.fail(it, fmt.Errorf("failed to stat source: %w", err))
		return err
	}

	scpClient, err := scp.NewClientBySSH(client)
	if err != nil {
		e.fail(it, fmt.Errorf("failed to create scp client: %w", err))
		return err
	}
	defer scpClient.Close()

	e.mu.Lock()
	it.Size = info.Size()
	it.Transferred = 0
	e.mu.Unlock()

	e.log.Debug("sftp subsystem unavailable, falling back to scp",
		"transfer", it.ID, "remote", it.RemotePath)

	reader := &ctrlReader{r: f, it: it, e: e}
	err = scpClient.Copy(context.Background(), reader, it.RemotePath, "0644", info.Size())
	if errors.Is(err, errStopped) {
		if it.ctrl.cancel.Load() {
			e.setStatus(it, models.TransferCancelled, nil)
		} else {
			it.ctrl.pause.Store(false)
			e.setStatus(it, models.TransferPaused, nil)
		}
		return nil
	}
	if err != nil {
		e.fail(it, fmt.Errorf("scp copy failed: %w", err))
		return err
	}

	e.sink.Publish(events.TransferProgress{TransferID: it.ID, Transferred: info.Size(), Total: info.Size()})
	e.setStatus(it, models.TransferCompleted, nil)
	return nil
}

// ctrlReader threads the cooperative control flags and progress
// accounting through an io.Reader so the scp path has the same
// cancellation latency as the sftp path.
type ctrlReader struct {
	r  io.Reader
	it *item
	e  *Engine
}

func (c *ctrlReader) Read(p []byte) (int, error) {
	if c.it.ctrl.cancel.Load() || c.it.ctrl.pause.Load() {
		return 0, errStopped
	}
	n, err := c.r.Read(p)
	if n > 0 {
		c.e.addProgress(c.it, int64(n))
	}
	return n, err
}
