// internal/transfer/engine.go

package transfer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sshbridge/internal/config"
	"sshbridge/internal/errdefs"
	"sshbridge/internal/events"
	"sshbridge/internal/models"
	sshpkg "sshbridge/internal/ssh"
	"sshbridge/internal/utils"

	"github.com/google/uuid"
	cryptossh "golang.org/x/crypto/ssh"
)

// copyBufSize matches the chunk size used for sftp copies; each chunk
// boundary is a cancellation and progress point.
const copyBufSize = 128 * 1024

// requeueDelay is how long an item waits before retrying after the
// channel ceiling turned it away.
const requeueDelay = 200 * time.Millisecond

// Provider hands the engine per-session remote access. Remote is backed
// by a fresh sftp channel; release returns it. SCP exposes the raw
// client for the fallback upload path on hosts without an sftp
// subsystem.
type Provider interface {
	Remote(sessionID string) (FS, func(), error)
	SCP(sessionID string) (*cryptossh.Client, func(), error)
}

// Options tune one enqueued transfer.
type Options struct {
	// VerifyHash re-reads both sides after completion and compares
	// BLAKE3 digests. Catches mid-file corruption that the always-on
	// size check cannot, at the cost of a full re-read.
	VerifyHash bool
}

// ctrl carries the cooperative control flags a running task polls at
// each chunk boundary.
type ctrl struct {
	cancel atomic.Bool
	pause  atomic.Bool
}

type item struct {
	models.TransferItem
	ctrl           ctrl
	verifyHash     bool
	pausedChildIDs []string
	prog           *throttle
}

// errRequeue is the internal signal that an item should go back to
// Pending because no channel slot was available.
var errRequeue = errors.New("requeue")

// Engine is the transfer queue and scheduler. All state is guarded by
// one mutex held only for map/slice mutation, never across I/O.
type Engine struct {
	provider Provider
	sink     events.Sink
	eng      config.Engine
	log      *slog.Logger

	mu      sync.Mutex
	items   map[string]*item
	order   []string
	running int
}

func NewEngine(provider Provider, sink events.Sink, eng config.Engine, log *slog.Logger) *Engine {
	return &Engine{
		provider: provider,
		sink:     sink,
		eng:      eng,
		log:      log,
		items:    make(map[string]*item),
	}
}

// EnqueueUpload queues localPath for upload to remotePath on the given
// session. Directories are decomposed into an aggregate plus one child
// per file.
func (e *Engine) EnqueueUpload(sessionID, localPath, remotePath string, opts Options) (string, error) {
	localPath = utils.NormalizeLocal(localPath)
	remotePath = utils.NormalizeRemote(remotePath)
	info, err := LocalFS().Stat(localPath)
	if err != nil {
		return "", errdefs.New(errdefs.TransferIOError, "transfer.enqueue_upload", "",
			fmt.Errorf("failed to stat %s: %w", localPath, err))
	}
	if info.IsDir() {
		return e.admitDirUpload(sessionID, localPath, remotePath, opts)
	}
	it := e.newItem(sessionID, models.DirectionUpload, localPath, remotePath, info.Size(), "", opts)
	e.admit([]*item{it})
	return it.ID, nil
}

// EnqueueDownload queues remotePath for download to localPath on the
// given session.
func (e *Engine) EnqueueDownload(sessionID, localPath, remotePath string, opts Options) (string, error) {
	localPath = utils.NormalizeLocal(localPath)
	remotePath = utils.NormalizeRemote(remotePath)
	remote, release, err := e.provider.Remote(sessionID)
	if err != nil {
		return "", errdefs.New(errdefs.TransferIOError, "transfer.enqueue_download", "", err)
	}
	defer release()

	info, err := remote.Stat(remotePath)
	if err != nil {
		return "", errdefs.New(errdefs.TransferIOError, "transfer.enqueue_download", "",
			fmt.Errorf("failed to stat %s: %w", remotePath, err))
	}
	if info.IsDir() {
		return e.admitDirDownload(sessionID, localPath, remotePath, remote, opts)
	}
	it := e.newItem(sessionID, models.DirectionDownload, localPath, remotePath, info.Size(), "", opts)
	e.admit([]*item{it})
	return it.ID, nil
}

func (e *Engine) newItem(sessionID string, dir models.TransferDirection, localPath, remotePath string, size int64, parentID string, opts Options) *item {
	return &item{
		TransferItem: models.TransferItem{
			ID:         uuid.NewString(),
			SessionID:  sessionID,
			Direction:  dir,
			LocalPath:  localPath,
			RemotePath: remotePath,
			Size:       size,
			Status:     models.TransferPending,
			ParentID:   parentID,
		},
		verifyHash: opts.VerifyHash,
		prog:       newThrottle(e.eng.ProgressInterval, e.eng.ProgressByteDelta),
	}
}

func (e *Engine) admit(items []*item) {
	e.mu.Lock()
	for _, it := range items {
		e.items[it.ID] = it
		e.order = append(e.order, it.ID)
	}
	e.mu.Unlock()
	for _, it := range items {
		e.sink.Publish(events.TransferStatusChanged{TransferID: it.ID, Status: models.TransferPending})
	}
	e.schedule()
}

// schedule promotes the earliest Pending items while slots are free.
// Directory aggregates never run; they are derived views.
func (e *Engine) schedule() {
	e.mu.Lock()
	var promoted []string
	for e.running < e.eng.TransferConcurrency {
		id := ""
		for _, candidate := range e.order {
			it := e.items[candidate]
			if it != nil && !it.IsDir && it.Status == models.TransferPending {
				id = candidate
				break
			}
		}
		if id == "" {
			break
		}
		it := e.items[id]
		it.Status = models.TransferRunning
		it.ctrl.pause.Store(false)
		e.running++
		promoted = append(promoted, id)
	}
	e.mu.Unlock()

	for _, id := range promoted {
		e.sink.Publish(events.TransferStatusChanged{TransferID: id, Status: models.TransferRunning})
		e.refreshParent(id)
		go e.run(id)
	}
}

func (e *Engine) run(id string) {
	e.mu.Lock()
	it := e.items[id]
	e.mu.Unlock()

	var err error
	if it != nil {
		err = e.transferOne(it)
	}

	e.mu.Lock()
	e.running--
	if it != nil && errors.Is(err, errRequeue) {
		it.Status = models.TransferPending
	}
	e.mu.Unlock()

	if it != nil && errors.Is(err, errRequeue) {
		time.AfterFunc(requeueDelay, e.schedule)
		return
	}
	e.schedule()
}

// transferOne moves one file end to end. Returns errRequeue when the
// channel ceiling turned it away; every other failure is applied to the
// item before returning.
func (e *Engine) transferOne(it *item) error {
	remote, release, err := e.provider.Remote(it.SessionID)
	if err != nil {
		if errdefs.IsKind(err, errdefs.ChannelLimitExceeded) {
			return errRequeue
		}
		if it.Direction == models.DirectionUpload && errors.Is(err, sshpkg.ErrSftpUnavailable) {
			return e.scpUpload(it)
		}
		e.fail(it, err)
		return err
	}
	defer release()

	var src, dst FS
	var srcPath, dstPath string
	if it.Direction == models.DirectionUpload {
		src, srcPath = LocalFS(), it.LocalPath
		dst, dstPath = remote, it.RemotePath
	} else {
		src, srcPath = remote, it.RemotePath
		dst, dstPath = LocalFS(), it.LocalPath
	}

	size, err := statSize(src, srcPath)
	if err != nil {
		e.fail(it, err)
		return err
	}
	e.mu.Lock()
	it.Size = size
	resuming := it.Transferred > 0
	e.mu.Unlock()

	// On re-entry the destination's partial length decides the restart
	// offset; the transfer continues from there instead of truncating.
	var offset int64
	if resuming {
		if info, err := dst.Stat(dstPath); err == nil {
			offset = info.Size()
			if offset > size {
				offset = 0
			}
		}
	}

	if err := dst.MkdirAll(dst.Dir(dstPath)); err != nil {
		e.fail(it, fmt.Errorf("failed to create destination directory: %w", err))
		return err
	}
	reader, err := src.OpenRead(srcPath, offset)
	if err != nil {
		e.fail(it, fmt.Errorf("failed to open source: %w", err))
		return err
	}
	defer reader.Close()
	writer, err := dst.OpenWrite(dstPath, offset)
	if err != nil {
		e.fail(it, fmt.Errorf("failed to open destination: %w", err))
		return err
	}

	e.setTransferred(it, offset)

	buf := make([]byte, copyBufSize)
	for {
		if it.ctrl.cancel.Load() {
			writer.Close()
			e.setStatus(it, models.TransferCancelled, nil)
			return nil
		}
		if it.ctrl.pause.Load() {
			it.ctrl.pause.Store(false)
			writer.Close()
			e.setStatus(it, models.TransferPaused, nil)
			return nil
		}

		n, rerr := reader.Read(buf)
		if n > 0 {
			wn, werr := writer.Write(buf[:n])
			if werr != nil {
				writer.Close()
				e.fail(it, fmt.Errorf("write failed: %w", werr))
				return werr
			}
			if wn != n {
				writer.Close()
				err := fmt.Errorf("incomplete write: wrote %d of %d bytes", wn, n)
				e.fail(it, err)
				return err
			}
			e.addProgress(it, int64(n))
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			writer.Close()
			e.fail(it, fmt.Errorf("read failed: %w", rerr))
			return rerr
		}
	}

	if err := writer.Close(); err != nil {
		e.fail(it, fmt.Errorf("failed to finalize destination: %w", err))
		return err
	}

	if err := e.verify(it, src, srcPath, dst, dstPath, size); err != nil {
		return err
	}

	// Final sample bypasses the throttle so consumers always see 100%.
	e.sink.Publish(events.TransferProgress{TransferID: it.ID, Transferred: size, Total: size})
	e.setStatus(it, models.TransferCompleted, nil)
	return nil
}

// fail applies an error outcome to the item. Errors that already carry a
// taxonomy kind keep it; everything else becomes TransferIOError.
func (e *Engine) fail(it *item, cause error) {
	err := cause
	if _, ok := errdefs.KindOf(cause); !ok {
		err = errdefs.New(errdefs.TransferIOError, "transfer", it.ID, cause)
	}
	e.mu.Lock()
	it.Error = err.Error()
	e.mu.Unlock()
	e.setStatus(it, models.TransferError, err)
}

// setStatus applies a status transition, publishes it, and refreshes the
// parent aggregate when the item belongs to a directory.
func (e *Engine) setStatus(it *item, status models.TransferStatus, err error) {
	e.mu.Lock()
	it.Status = status
	e.mu.Unlock()
	e.sink.Publish(events.TransferStatusChanged{TransferID: it.ID, Status: status, Err: err})
	e.refreshParent(it.ID)
}

func (e *Engine) setTransferred(it *item, n int64) {
	e.mu.Lock()
	it.Transferred = n
	e.mu.Unlock()
}

// addProgress advances the item's byte count and emits throttled
// progress samples for the item and, when present, its parent
// aggregate. The aggregate sample is recomputed from the children, so
// it can never report more than their running sum.
func (e *Engine) addProgress(it *item, n int64) {
	now := time.Now()

	e.mu.Lock()
	it.Transferred += n
	transferred, total := it.Transferred, it.Size
	emit := it.prog.ready(transferred, now)

	var parentSample *events.TransferProgress
	if it.ParentID != "" {
		if parent := e.items[it.ParentID]; parent != nil {
			agg := e.aggregateLocked(parent.ID)
			if parent.prog.ready(agg.TransferredBytes, now) {
				parentSample = &events.TransferProgress{
					TransferID:  parent.ID,
					Transferred: agg.TransferredBytes,
					Total:       agg.TotalBytes,
				}
			}
		}
	}
	e.mu.Unlock()

	if emit {
		e.sink.Publish(events.TransferProgress{TransferID: it.ID, Transferred: transferred, Total: total})
	}
	if parentSample != nil {
		e.sink.Publish(*parentSample)
	}
}

// Pause suspends a transfer. Running items are flagged and park
// themselves at the next chunk boundary; Pending items pause
// immediately. Directory items pause their currently running children.
func (e *Engine) Pause(id string) error {
	e.mu.Lock()
	it := e.items[id]
	if it == nil {
		e.mu.Unlock()
		return fmt.Errorf("transfer %s not found", id)
	}
	if it.IsDir {
		e.mu.Unlock()
		return e.pauseDir(id)
	}
	switch it.Status {
	case models.TransferRunning:
		it.ctrl.pause.Store(true)
		e.mu.Unlock()
		return nil
	case models.TransferPending:
		it.Status = models.TransferPaused
		e.mu.Unlock()
		e.sink.Publish(events.TransferStatusChanged{TransferID: id, Status: models.TransferPaused})
		e.refreshParent(id)
		return nil
	default:
		status := it.Status
		e.mu.Unlock()
		return fmt.Errorf("cannot pause transfer %s in state %s", id, status)
	}
}

// Resume re-queues a Paused or Error item as Pending. The next run
// restarts from the destination's partial length, not from zero.
func (e *Engine) Resume(id string) error {
	e.mu.Lock()
	it := e.items[id]
	if it == nil {
		e.mu.Unlock()
		return fmt.Errorf("transfer %s not found", id)
	}
	if it.IsDir {
		e.mu.Unlock()
		return e.resumeDir(id)
	}
	if it.Status != models.TransferPaused && it.Status != models.TransferError {
		status := it.Status
		e.mu.Unlock()
		return fmt.Errorf("cannot resume transfer %s in state %s", id, status)
	}
	it.Status = models.TransferPending
	it.Error = ""
	e.mu.Unlock()

	e.sink.Publish(events.TransferStatusChanged{TransferID: id, Status: models.TransferPending})
	e.refreshParent(id)
	e.schedule()
	return nil
}

// Cancel stops a transfer for good. Running items are flagged and stop
// at the next chunk boundary; queued ones cancel immediately.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	it := e.items[id]
	if it == nil {
		e.mu.Unlock()
		return fmt.Errorf("transfer %s not found", id)
	}
	if it.IsDir {
		e.mu.Unlock()
		return e.cancelDir(id)
	}
	switch it.Status {
	case models.TransferRunning:
		it.ctrl.cancel.Store(true)
		e.mu.Unlock()
		return nil
	case models.TransferPending, models.TransferPaused, models.TransferError:
		it.Status = models.TransferCancelled
		e.mu.Unlock()
		e.sink.Publish(events.TransferStatusChanged{TransferID: id, Status: models.TransferCancelled})
		e.refreshParent(id)
		return nil
	default:
		e.mu.Unlock()
		return nil
	}
}

// Remove deletes a finished or queued item from the queue. Running items
// must be cancelled first. Removing a directory removes its children.
func (e *Engine) Remove(id string) error {
	e.mu.Lock()
	it := e.items[id]
	if it == nil {
		e.mu.Unlock()
		return fmt.Errorf("transfer %s not found", id)
	}
	if it.Status == models.TransferRunning {
		e.mu.Unlock()
		return fmt.Errorf("transfer %s is running; cancel it first", id)
	}
	doomed := []string{id}
	if it.IsDir {
		for _, cid := range e.order {
			child := e.items[cid]
			if child != nil && child.ParentID == id {
				if child.Status == models.TransferRunning {
					e.mu.Unlock()
					return fmt.Errorf("directory %s has a running child; cancel it first", id)
				}
				doomed = append(doomed, cid)
			}
		}
	}
	for _, did := range doomed {
		delete(e.items, did)
	}
	kept := e.order[:0]
	for _, oid := range e.order {
		if _, alive := e.items[oid]; alive {
			kept = append(kept, oid)
		}
	}
	e.order = kept
	e.mu.Unlock()
	return nil
}

// Item returns a snapshot of one transfer. Directory snapshots carry
// derived progress.
func (e *Engine) Item(id string) (models.TransferItem, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	it := e.items[id]
	if it == nil {
		return models.TransferItem{}, false
	}
	return e.snapshotLocked(it), true
}

// Items returns snapshots of every transfer for a session, in admission
// order. An empty sessionID returns everything.
func (e *Engine) Items(sessionID string) []models.TransferItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.TransferItem
	for _, id := range e.order {
		it := e.items[id]
		if it == nil || (sessionID != "" && it.SessionID != sessionID) {
			continue
		}
		out = append(out, e.snapshotLocked(it))
	}
	return out
}

func (e *Engine) snapshotLocked(it *item) models.TransferItem {
	snap := it.TransferItem
	if it.IsDir {
		agg := e.aggregateLocked(it.ID)
		snap.Size = agg.TotalBytes
		snap.Transferred = agg.TransferredBytes
		snap.Status = e.deriveDirStatusLocked(it)
	}
	return snap
}

// RunningCount reports how many items hold a transfer slot.
func (e *Engine) RunningCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

