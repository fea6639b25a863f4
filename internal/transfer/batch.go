// internal/transfer/batch.go

package transfer

import "sshbridge/internal/models"

// BatchResult is the per-item outcome of a batch operation. One item's
// failure never aborts the batch.
type BatchResult struct {
	ID  string
	Err error
}

// batchTargets snapshots the top-level items (standalone files and
// directory aggregates) of one session that match the predicate.
// Children are reached through their directory.
func (e *Engine) batchTargets(sessionID string, match func(models.TransferStatus) bool) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ids []string
	for _, id := range e.order {
		it := e.items[id]
		if it == nil || it.SessionID != sessionID || it.ParentID != "" {
			continue
		}
		status := it.Status
		if it.IsDir {
			status = e.deriveDirStatusLocked(it)
		}
		if match(status) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (e *Engine) applyBatch(ids []string, op func(string) error) []BatchResult {
	results := make([]BatchResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, BatchResult{ID: id, Err: op(id)})
	}
	return results
}

// BatchPause pauses every running or queued transfer of a session.
func (e *Engine) BatchPause(sessionID string) []BatchResult {
	ids := e.batchTargets(sessionID, func(s models.TransferStatus) bool {
		return s == models.TransferRunning || s == models.TransferPending
	})
	return e.applyBatch(ids, e.Pause)
}

// BatchResume re-queues every paused or errored transfer of a session.
func (e *Engine) BatchResume(sessionID string) []BatchResult {
	ids := e.batchTargets(sessionID, func(s models.TransferStatus) bool {
		return s == models.TransferPaused || s == models.TransferError
	})
	return e.applyBatch(ids, e.Resume)
}

// BatchCancel cancels every non-terminal transfer of a session.
func (e *Engine) BatchCancel(sessionID string) []BatchResult {
	ids := e.batchTargets(sessionID, func(s models.TransferStatus) bool {
		return !s.Terminal()
	})
	return e.applyBatch(ids, e.Cancel)
}

// BatchDelete removes every transfer of a session that is not currently
// running.
func (e *Engine) BatchDelete(sessionID string) []BatchResult {
	ids := e.batchTargets(sessionID, func(s models.TransferStatus) bool {
		return s != models.TransferRunning
	})
	return e.applyBatch(ids, e.Remove)
}
