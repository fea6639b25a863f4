// internal/transfer/directory.go

package transfer

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"sshbridge/internal/errdefs"
	"sshbridge/internal/events"
	"sshbridge/internal/models"
	"sshbridge/internal/utils"
)

// admitDirUpload decomposes a local directory into one aggregate item
// plus one child per file. The aggregate performs no I/O; everything it
// reports is derived from the children.
func (e *Engine) admitDirUpload(sessionID, localPath, remotePath string, opts Options) (string, error) {
	agg := e.newItem(sessionID, models.DirectionUpload, localPath, remotePath, 0, "", opts)
	agg.IsDir = true

	var children []*item
	err := filepath.WalkDir(localPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(localPath, p)
		if err != nil {
			return err
		}
		remoteChild := utils.JoinRemote(remotePath, rel)
		children = append(children, e.newItem(sessionID, models.DirectionUpload, p, remoteChild, info.Size(), agg.ID, opts))
		return nil
	})
	if err != nil {
		return "", errdefs.New(errdefs.TransferIOError, "transfer.enqueue_upload", agg.ID,
			fmt.Errorf("failed to scan %s: %w", localPath, err))
	}

	if len(children) == 0 {
		e.admit([]*item{agg})
		e.finishEmptyDir(agg, func() error {
			remote, release, err := e.provider.Remote(sessionID)
			if err != nil {
				return err
			}
			defer release()
			return remote.MkdirAll(remotePath)
		})
		return agg.ID, nil
	}

	e.admit(append([]*item{agg}, children...))
	return agg.ID, nil
}

// admitDirDownload walks the remote tree and enqueues one child per
// remote file.
func (e *Engine) admitDirDownload(sessionID, localPath, remotePath string, remote FS, opts Options) (string, error) {
	agg := e.newItem(sessionID, models.DirectionDownload, localPath, remotePath, 0, "", opts)
	agg.IsDir = true

	var children []*item
	var walk func(remoteDir, localDir string) error
	walk = func(remoteDir, localDir string) error {
		entries, err := remote.ReadDir(remoteDir)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", remoteDir, err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if name == "." || name == ".." {
				continue
			}
			remoteChild := remote.Join(remoteDir, name)
			localChild := filepath.Join(localDir, name)
			if entry.IsDir() {
				if err := walk(remoteChild, localChild); err != nil {
					return err
				}
				continue
			}
			children = append(children, e.newItem(sessionID, models.DirectionDownload, localChild, remoteChild, entry.Size(), agg.ID, opts))
		}
		return nil
	}
	if err := walk(remotePath, localPath); err != nil {
		return "", errdefs.New(errdefs.TransferIOError, "transfer.enqueue_download", agg.ID, err)
	}

	if len(children) == 0 {
		e.admit([]*item{agg})
		e.finishEmptyDir(agg, func() error { return LocalFS().MkdirAll(localPath) })
		return agg.ID, nil
	}

	e.admit(append([]*item{agg}, children...))
	return agg.ID, nil
}

// Aggregate returns the derived view over a directory item's children.
func (e *Engine) Aggregate(id string) (models.DirAggregate, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	it := e.items[id]
	if it == nil || !it.IsDir {
		return models.DirAggregate{}, false
	}
	return e.aggregateLocked(id), true
}

// aggregateLocked computes the aggregate from the children. Called with
// e.mu held. The transferred sum is exactly the running sum of child
// progress; the aggregate is never advanced independently.
func (e *Engine) aggregateLocked(dirID string) models.DirAggregate {
	var agg models.DirAggregate
	for _, id := range e.order {
		c := e.items[id]
		if c == nil || c.ParentID != dirID {
			continue
		}
		agg.TotalFiles++
		agg.TotalBytes += c.Size
		agg.TransferredBytes += c.Transferred
		if c.Status == models.TransferCompleted {
			agg.CompletedFiles++
		}
	}
	if parent := e.items[dirID]; parent != nil {
		agg.PausedChildIDs = append([]string(nil), parent.pausedChildIDs...)
	}
	return agg
}

// finishEmptyDir settles a childless aggregate at admission. Nothing
// ever reaches the scheduler for it, so it is complete as soon as the
// directory itself exists: zero of zero children are done.
func (e *Engine) finishEmptyDir(agg *item, mkdir func() error) {
	if err := mkdir(); err != nil {
		e.fail(agg, err)
		return
	}
	e.setStatus(agg, models.TransferCompleted, nil)
}

// deriveDirStatusLocked computes a directory's status from its children.
// Cancelled is sticky; Completed holds exactly when every child
// completed.
func (e *Engine) deriveDirStatusLocked(dir *item) models.TransferStatus {
	if dir.Status == models.TransferCancelled {
		return models.TransferCancelled
	}
	agg := e.aggregateLocked(dir.ID)
	if agg.TotalFiles > 0 && agg.CompletedFiles == agg.TotalFiles {
		return models.TransferCompleted
	}

	var hasRunning, hasPending, hasPaused, hasError bool
	for _, id := range e.order {
		c := e.items[id]
		if c == nil || c.ParentID != dir.ID {
			continue
		}
		switch c.Status {
		case models.TransferRunning:
			hasRunning = true
		case models.TransferPending:
			hasPending = true
		case models.TransferPaused:
			hasPaused = true
		case models.TransferError:
			hasError = true
		}
	}
	switch {
	case hasRunning:
		return models.TransferRunning
	case hasPending:
		return models.TransferPending
	case hasPaused:
		return models.TransferPaused
	case hasError:
		return models.TransferError
	}
	return dir.Status
}

// refreshParent recomputes the derived status of an item's parent
// aggregate and publishes it when it changed.
func (e *Engine) refreshParent(childID string) {
	e.mu.Lock()
	child := e.items[childID]
	if child == nil || child.ParentID == "" {
		e.mu.Unlock()
		return
	}
	parent := e.items[child.ParentID]
	if parent == nil {
		e.mu.Unlock()
		return
	}
	derived := e.deriveDirStatusLocked(parent)
	changed := parent.Status != derived
	parent.Status = derived
	parentID := parent.ID
	e.mu.Unlock()

	if changed {
		e.sink.Publish(events.TransferStatusChanged{TransferID: parentID, Status: derived})
	}
}

// pauseDir pauses exactly the currently running children, recording
// their ids so resumeDir can re-queue precisely that set.
func (e *Engine) pauseDir(id string) error {
	e.mu.Lock()
	dir := e.items[id]
	if dir == nil || !dir.IsDir {
		e.mu.Unlock()
		return fmt.Errorf("transfer %s is not a directory", id)
	}
	dir.pausedChildIDs = nil
	for _, cid := range e.order {
		c := e.items[cid]
		if c == nil || c.ParentID != id {
			continue
		}
		if c.Status == models.TransferRunning {
			c.ctrl.pause.Store(true)
			dir.pausedChildIDs = append(dir.pausedChildIDs, cid)
		}
	}
	e.mu.Unlock()
	return nil
}

// resumeDir re-queues the children recorded by the pause, plus any child
// that parked itself Paused since.
func (e *Engine) resumeDir(id string) error {
	e.mu.Lock()
	dir := e.items[id]
	if dir == nil || !dir.IsDir {
		e.mu.Unlock()
		return fmt.Errorf("transfer %s is not a directory", id)
	}
	var resumed []string
	for _, cid := range e.order {
		c := e.items[cid]
		if c == nil || c.ParentID != id {
			continue
		}
		if c.Status == models.TransferPaused {
			c.Status = models.TransferPending
			c.Error = ""
			resumed = append(resumed, cid)
		}
	}
	dir.pausedChildIDs = nil
	e.mu.Unlock()

	for _, cid := range resumed {
		e.sink.Publish(events.TransferStatusChanged{TransferID: cid, Status: models.TransferPending})
	}
	if len(resumed) > 0 {
		e.refreshParent(resumed[0])
		e.schedule()
	}
	return nil
}

// cancelDir cancels every child, running or queued, and marks the
// aggregate Cancelled.
func (e *Engine) cancelDir(id string) error {
	e.mu.Lock()
	dir := e.items[id]
	if dir == nil || !dir.IsDir {
		e.mu.Unlock()
		return fmt.Errorf("transfer %s is not a directory", id)
	}
	var cancelledNow []string
	for _, cid := range e.order {
		c := e.items[cid]
		if c == nil || c.ParentID != id {
			continue
		}
		switch c.Status {
		case models.TransferRunning:
			c.ctrl.cancel.Store(true)
		case models.TransferPending, models.TransferPaused, models.TransferError:
			c.Status = models.TransferCancelled
			cancelledNow = append(cancelledNow, cid)
		}
	}
	dir.Status = models.TransferCancelled
	dir.pausedChildIDs = nil
	e.mu.Unlock()

	for _, cid := range cancelledNow {
		e.sink.Publish(events.TransferStatusChanged{TransferID: cid, Status: models.TransferCancelled})
	}
	e.sink.Publish(events.TransferStatusChanged{TransferID: id, Status: models.TransferCancelled})
	return nil
}
