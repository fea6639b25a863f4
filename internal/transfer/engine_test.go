// internal/transfer/engine_test.go

package transfer

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sshbridge/internal/config"
	"sshbridge/internal/errdefs"
	"sshbridge/internal/events"
	"sshbridge/internal/models"
	sshpkg "sshbridge/internal/ssh"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cryptossh "golang.org/x/crypto/ssh"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngineConfig() config.Engine {
	eng := config.DefaultEngine()
	eng.ProgressInterval = time.Millisecond
	eng.ProgressByteDelta = 1
	return eng
}

// fakeInfo is a minimal os.FileInfo for the in-memory filesystem.
type fakeInfo struct {
	name  string
	size  int64
	isDir bool
}

func (f fakeInfo) Name() string       { return f.name }
func (f fakeInfo) Size() int64        { return f.size }
func (f fakeInfo) Mode() os.FileMode  { return 0644 }
func (f fakeInfo) ModTime() time.Time { return time.Time{} }
func (f fakeInfo) IsDir() bool        { return f.isDir }
func (f fakeInfo) Sys() any           { return nil }

// memFS is the in-memory remote side. Write and read gates let tests
// hold transfers at a chunk boundary.
type memFS struct {
	mu    sync.Mutex
	files map[string][]byte

	// blockWrites makes every Write block until the channel is closed.
	blockWrites chan struct{}
	// firstWrite is signalled once when any Write lands.
	firstWrite chan struct{}
	firstOnce  sync.Once

	// readGate, when set, blocks the second and later Reads of a file
	// until closed. firstRead fires after the first Read completes.
	readGate  chan struct{}
	firstRead chan struct{}
	readOnce  sync.Once

	// corrupt flips the first byte of everything written, keeping the
	// length intact.
	corrupt bool

	openReadOffsets []int64
}

func newMemFS() *memFS {
	return &memFS{files: make(map[string][]byte)}
}

func (m *memFS) put(name string, data []byte) {
	m.mu.Lock()
	m.files[name] = data
	m.mu.Unlock()
}

func (m *memFS) get(name string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.files[name]...)
}

func (m *memFS) Stat(name string) (os.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return fakeInfo{name: path.Base(name), size: int64(len(data))}, nil
}

func (m *memFS) OpenRead(name string, offset int64) (io.ReadCloser, error) {
	m.mu.Lock()
	data, ok := m.files[name]
	m.openReadOffsets = append(m.openReadOffsets, offset)
	m.mu.Unlock()
	if !ok {
		return nil, os.ErrNotExist
	}
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	return &memReader{fs: m, data: data[offset:]}, nil
}

func (m *memFS) OpenWrite(name string, offset int64) (io.WriteCloser, error) {
	m.mu.Lock()
	existing := m.files[name]
	if offset > int64(len(existing)) {
		offset = int64(len(existing))
	}
	m.files[name] = existing[:offset]
	m.mu.Unlock()
	return &memWriter{fs: m, name: name}, nil
}

func (m *memFS) MkdirAll(string) error { return nil }

func (m *memFS) ReadDir(dir string) ([]os.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []os.FileInfo
	seen := make(map[string]bool)
	prefix := dir + "/"
	for name, data := range m.files {
		if !bytes.HasPrefix([]byte(name), []byte(prefix)) {
			continue
		}
		rest := name[len(prefix):]
		if i := indexByte(rest, '/'); i >= 0 {
			sub := rest[:i]
			if !seen[sub] {
				seen[sub] = true
				out = append(out, fakeInfo{name: sub, isDir: true})
			}
			continue
		}
		out = append(out, fakeInfo{name: rest, size: int64(len(data))})
	}
	return out, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func (m *memFS) Remove(name string) error {
	m.mu.Lock()
	delete(m.files, name)
	m.mu.Unlock()
	return nil
}

func (m *memFS) Join(elem ...string) string { return path.Join(elem...) }
func (m *memFS) Dir(name string) string     { return path.Dir(name) }

type memReader struct {
	fs    *memFS
	data  []byte
	off   int
	reads int
}

func (r *memReader) Read(p []byte) (int, error) {
	if r.fs.readGate != nil && r.reads >= 1 {
		<-r.fs.readGate
	}
	if r.off >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.off:])
	r.off += n
	r.reads++
	if r.fs.firstRead != nil {
		r.fs.readOnce.Do(func() { close(r.fs.firstRead) })
	}
	return n, nil
}

func (r *memReader) Close() error { return nil }

type memWriter struct {
	fs   *memFS
	name string
}

func (w *memWriter) Write(p []byte) (int, error) {
	if w.fs.firstWrite != nil {
		w.fs.firstOnce.Do(func() { close(w.fs.firstWrite) })
	}
	if w.fs.blockWrites != nil {
		<-w.fs.blockWrites
	}
	buf := append([]byte(nil), p...)
	if w.fs.corrupt && len(buf) > 0 {
		buf[0] ^= 0xff
	}
	w.fs.mu.Lock()
	w.fs.files[w.name] = append(w.fs.files[w.name], buf...)
	w.fs.mu.Unlock()
	return len(p), nil
}

func (w *memWriter) Close() error { return nil }

// fakeProvider serves the same memFS for every session and can reject
// the first N Remote calls with the channel ceiling error.
type fakeProvider struct {
	fs *memFS

	mu       sync.Mutex
	denials  int
	calls    int
	sftpErr  error
	scpCalls int
}

func (p *fakeProvider) Remote(sessionID string) (FS, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.denials > 0 {
		p.denials--
		return nil, nil, errdefs.Newf(errdefs.ChannelLimitExceeded, "test", sessionID, "ceiling")
	}
	if p.sftpErr != nil {
		return nil, nil, p.sftpErr
	}
	return p.fs, func() {}, nil
}

func (p *fakeProvider) SCP(string) (*cryptossh.Client, func(), error) {
	p.mu.Lock()
	p.scpCalls++
	p.mu.Unlock()
	return nil, nil, fmt.Errorf("no scp in tests")
}

func (p *fakeProvider) remoteCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func writeLocalFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, data, 0644))
	return p
}

func waitStatus(t *testing.T, e *Engine, id string, want models.TransferStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		it, ok := e.Item(id)
		return ok && it.Status == want
	}, 2*time.Second, 2*time.Millisecond, "transfer %s never reached %s", id, want)
}

func TestUploadCompletes(t *testing.T) {
	remote := newMemFS()
	e := NewEngine(&fakeProvider{fs: remote}, events.Discard{}, testEngineConfig(), testLogger())

	data := bytes.Repeat([]byte("payload "), 1024)
	local := writeLocalFile(t, t.TempDir(), "data.bin", data)

	id, err := e.EnqueueUpload("s1", local, "/up/data.bin", Options{})
	require.NoError(t, err)
	waitStatus(t, e, id, models.TransferCompleted)

	assert.Equal(t, data, remote.get("/up/data.bin"))
	it, ok := e.Item(id)
	require.True(t, ok)
	assert.Equal(t, int64(len(data)), it.Transferred)
	assert.Equal(t, int64(len(data)), it.Size)
}

func TestDownloadCompletes(t *testing.T) {
	remote := newMemFS()
	data := bytes.Repeat([]byte("remote bytes "), 512)
	remote.put("/srv/file.log", data)
	e := NewEngine(&fakeProvider{fs: remote}, events.Discard{}, testEngineConfig(), testLogger())

	local := filepath.Join(t.TempDir(), "file.log")
	id, err := e.EnqueueDownload("s1", local, "/srv/file.log", Options{})
	require.NoError(t, err)
	waitStatus(t, e, id, models.TransferCompleted)

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestConcurrencyCeiling(t *testing.T) {
	remote := newMemFS()
	remote.blockWrites = make(chan struct{})
	remote.firstWrite = make(chan struct{})
	eng := testEngineConfig()
	eng.TransferConcurrency = 3
	e := NewEngine(&fakeProvider{fs: remote}, events.Discard{}, eng, testLogger())

	dir := t.TempDir()
	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		local := writeLocalFile(t, dir, fmt.Sprintf("f%d", i), []byte("some content"))
		id, err := e.EnqueueUpload("s1", local, fmt.Sprintf("/up/f%d", i), Options{})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.Eventually(t, func() bool { return e.RunningCount() == 3 },
		time.Second, time.Millisecond)

	running, pending := 0, 0
	for _, it := range e.Items("s1") {
		switch it.Status {
		case models.TransferRunning:
			running++
		case models.TransferPending:
			pending++
		}
	}
	assert.Equal(t, 3, running)
	assert.Equal(t, 2, pending)

	close(remote.blockWrites)
	for _, id := range ids {
		waitStatus(t, e, id, models.TransferCompleted)
	}
	assert.Equal(t, 0, e.RunningCount())
}

func TestRequeueAfterChannelLimit(t *testing.T) {
	remote := newMemFS()
	provider := &fakeProvider{fs: remote, denials: 1}
	e := NewEngine(provider, events.Discard{}, testEngineConfig(), testLogger())

	local := writeLocalFile(t, t.TempDir(), "f", []byte("retry me"))
	id, err := e.EnqueueUpload("s1", local, "/up/f", Options{})
	require.NoError(t, err)

	waitStatus(t, e, id, models.TransferCompleted)
	assert.GreaterOrEqual(t, provider.remoteCalls(), 2)
	assert.Equal(t, []byte("retry me"), remote.get("/up/f"))
}

func TestPauseResumeFromPartial(t *testing.T) {
	remote := newMemFS()
	data := bytes.Repeat([]byte{0xAB}, 3*copyBufSize)
	remote.put("/srv/big.bin", data)
	remote.readGate = make(chan struct{})
	remote.firstRead = make(chan struct{})
	e := NewEngine(&fakeProvider{fs: remote}, events.Discard{}, testEngineConfig(), testLogger())

	local := filepath.Join(t.TempDir(), "big.bin")
	id, err := e.EnqueueDownload("s1", local, "/srv/big.bin", Options{})
	require.NoError(t, err)

	<-remote.firstRead
	require.NoError(t, e.Pause(id))
	close(remote.readGate)
	waitStatus(t, e, id, models.TransferPaused)

	it, ok := e.Item(id)
	require.True(t, ok)
	require.Greater(t, it.Transferred, int64(0))
	require.Less(t, it.Transferred, int64(len(data)))

	// The partial file on disk is exactly what was transferred.
	partial, err := os.ReadFile(local)
	require.NoError(t, err)
	require.Equal(t, it.Transferred, int64(len(partial)))

	remote.readGate = nil
	require.NoError(t, e.Resume(id))
	waitStatus(t, e, id, models.TransferCompleted)

	// The second open started at the partial length, not zero.
	remote.mu.Lock()
	offsets := append([]int64(nil), remote.openReadOffsets...)
	remote.mu.Unlock()
	require.Len(t, offsets, 2)
	assert.Equal(t, int64(0), offsets[0])
	assert.Equal(t, it.Transferred, offsets[1])

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestCancelQueuedTransfer(t *testing.T) {
	remote := newMemFS()
	remote.blockWrites = make(chan struct{})
	eng := testEngineConfig()
	eng.TransferConcurrency = 1
	e := NewEngine(&fakeProvider{fs: remote}, events.Discard{}, eng, testLogger())

	dir := t.TempDir()
	first, err := e.EnqueueUpload("s1", writeLocalFile(t, dir, "a", []byte("aa")), "/up/a", Options{})
	require.NoError(t, err)
	second, err := e.EnqueueUpload("s1", writeLocalFile(t, dir, "b", []byte("bb")), "/up/b", Options{})
	require.NoError(t, err)

	// The queued item cancels immediately without ever running.
	require.NoError(t, e.Cancel(second))
	it, ok := e.Item(second)
	require.True(t, ok)
	assert.Equal(t, models.TransferCancelled, it.Status)

	require.NoError(t, e.Cancel(first))
	close(remote.blockWrites)
	waitStatus(t, e, first, models.TransferCancelled)
	assert.Empty(t, remote.get("/up/b"))
}

func TestCancelledTransferCannotResume(t *testing.T) {
	remote := newMemFS()
	e := NewEngine(&fakeProvider{fs: remote}, events.Discard{}, testEngineConfig(), testLogger())

	local := writeLocalFile(t, t.TempDir(), "f", []byte("x"))
	id, err := e.EnqueueUpload("s1", local, "/up/f", Options{})
	require.NoError(t, err)
	waitStatus(t, e, id, models.TransferCompleted)

	assert.Error(t, e.Resume(id))
}

func TestVerifyHashDetectsCorruption(t *testing.T) {
	remote := newMemFS()
	remote.corrupt = true
	e := NewEngine(&fakeProvider{fs: remote}, events.Discard{}, testEngineConfig(), testLogger())

	local := writeLocalFile(t, t.TempDir(), "f", []byte("bytes that will be mangled"))
	id, err := e.EnqueueUpload("s1", local, "/up/f", Options{VerifyHash: true})
	require.NoError(t, err)

	waitStatus(t, e, id, models.TransferError)
	it, _ := e.Item(id)
	assert.Contains(t, it.Error, "integrity")
}

func TestFailedTransferCarriesError(t *testing.T) {
	remote := newMemFS()
	e := NewEngine(&fakeProvider{fs: remote}, events.Discard{}, testEngineConfig(), testLogger())

	local := filepath.Join(t.TempDir(), "missing.bin")
	_, err := e.EnqueueUpload("s1", local, "/up/missing", Options{})
	require.Error(t, err)
	assert.True(t, errdefs.IsKind(err, errdefs.TransferIOError))
}

func TestRemoveRunningTransferRefused(t *testing.T) {
	remote := newMemFS()
	remote.blockWrites = make(chan struct{})
	e := NewEngine(&fakeProvider{fs: remote}, events.Discard{}, testEngineConfig(), testLogger())

	local := writeLocalFile(t, t.TempDir(), "f", []byte("busy"))
	id, err := e.EnqueueUpload("s1", local, "/up/f", Options{})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return e.RunningCount() == 1 },
		time.Second, time.Millisecond)
	assert.Error(t, e.Remove(id))

	close(remote.blockWrites)
	waitStatus(t, e, id, models.TransferCompleted)
	require.NoError(t, e.Remove(id))
	_, ok := e.Item(id)
	assert.False(t, ok)
}

func TestScpFallbackTriggeredBySentinel(t *testing.T) {
	p := &fakeProvider{fs: newMemFS()}
	p.sftpErr = fmt.Errorf("open sftp: %w", sshpkg.ErrSftpUnavailable)
	e := NewEngine(p, events.Discard{}, testEngineConfig(), testLogger())

	local := writeLocalFile(t, t.TempDir(), "pkg.bin", []byte("payload"))
	id, err := e.EnqueueUpload("s1", local, "/srv/pkg.bin", Options{})
	require.NoError(t, err)

	// The fake provider has no scp either: the run must reach the scp
	// path and fail there, not on the sftp open.
	waitStatus(t, e, id, models.TransferError)
	p.mu.Lock()
	scpCalls := p.scpCalls
	p.mu.Unlock()
	assert.Equal(t, 1, scpCalls)

	it, ok := e.Item(id)
	require.True(t, ok)
	assert.Contains(t, it.Error, "no scp in tests")
}

func TestScpFallbackNotTakenForOtherErrors(t *testing.T) {
	p := &fakeProvider{fs: newMemFS()}
	p.sftpErr = fmt.Errorf("sftp channel torn down mid-subsystem handshake")
	e := NewEngine(p, events.Discard{}, testEngineConfig(), testLogger())

	local := writeLocalFile(t, t.TempDir(), "pkg.bin", []byte("payload"))
	id, err := e.EnqueueUpload("s1", local, "/srv/pkg.bin", Options{})
	require.NoError(t, err)

	// The error mentions "subsystem" but carries no sentinel; text
	// matching would have mis-routed it to scp.
	waitStatus(t, e, id, models.TransferError)
	p.mu.Lock()
	scpCalls := p.scpCalls
	p.mu.Unlock()
	assert.Equal(t, 0, scpCalls)
}
