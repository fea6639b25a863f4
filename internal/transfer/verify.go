// internal/transfer/verify.go

package transfer

import (
	"bytes"
	"fmt"
	"io"

	"sshbridge/internal/errdefs"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
)

// verify checks the destination against the source after a transfer
// reports completion. The size check always runs; the hash comparison is
// opt-in because it re-reads both sides in full. A mismatch fails the
// item with IntegrityError, never Completed.
func (e *Engine) verify(it *item, src FS, srcPath string, dst FS, dstPath string, size int64) error {
	dstSize, err := statSize(dst, dstPath)
	if err != nil {
		e.fail(it, err)
		return err
	}
	if dstSize != size {
		err := errdefs.Newf(errdefs.IntegrityError, "transfer.verify", it.ID,
			"size mismatch: destination has %d bytes, source %d", dstSize, size)
		e.fail(it, err)
		return err
	}

	if !it.verifyHash {
		return nil
	}

	srcSum, dstSum, err := hashBoth(src, srcPath, dst, dstPath)
	if err != nil {
		e.fail(it, fmt.Errorf("hash verification failed: %w", err))
		return err
	}
	if !bytes.Equal(srcSum, dstSum) {
		err := errdefs.Newf(errdefs.IntegrityError, "transfer.verify", it.ID,
			"content hash mismatch: %x != %x", dstSum, srcSum)
		e.fail(it, err)
		return err
	}
	return nil
}

// hashBoth streams BLAKE3 over both sides concurrently.
func hashBoth(src FS, srcPath string, dst FS, dstPath string) (srcSum, dstSum []byte, err error) {
	var g errgroup.Group
	g.Go(func() error {
		var err error
		srcSum, err = hashFile(src, srcPath)
		return err
	})
	g.Go(func() error {
		var err error
		dstSum, err = hashFile(dst, dstPath)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return srcSum, dstSum, nil
}

func hashFile(fsys FS, name string) ([]byte, error) {
	r, err := fsys.OpenRead(name, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer r.Close()

	h := blake3.New()
	if _, err := io.Copy(h, r); err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", name, err)
	}
	return h.Sum(nil), nil
}
