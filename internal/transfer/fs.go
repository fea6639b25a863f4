// internal/transfer/fs.go

// Package transfer schedules upload and download tasks over sftp
// channels: bounded concurrency, pause/resume/cancel, directory
// aggregation and resumable transfer with integrity verification.
package transfer

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
)

// FS is the narrow filesystem surface a transfer endpoint needs. The
// local side is the OS; the remote side is an sftp channel; tests use an
// in-memory fake.
type FS interface {
	Stat(name string) (os.FileInfo, error)
	// OpenRead opens name for reading starting at offset.
	OpenRead(name string, offset int64) (io.ReadCloser, error)
	// OpenWrite opens name for writing at offset, truncating anything
	// beyond it. Offset zero starts a fresh file.
	OpenWrite(name string, offset int64) (io.WriteCloser, error)
	MkdirAll(dir string) error
	ReadDir(dir string) ([]os.FileInfo, error)
	Remove(name string) error
	Join(elem ...string) string
	Dir(name string) string
}

// localFS adapts the operating system filesystem.
type localFS struct{}

func (localFS) Stat(name string) (os.FileInfo, error) {
	return os.Stat(name)
}

func (localFS) OpenRead(name string, offset int64) (io.ReadCloser, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func (localFS) OpenWrite(name string, offset int64) (io.WriteCloser, error) {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(offset); err != nil {
		f.Close()
		return nil, err
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func (localFS) MkdirAll(dir string) error                  { return os.MkdirAll(dir, 0755) }
func (localFS) Remove(name string) error                   { return os.Remove(name) }
func (localFS) Join(elem ...string) string                 { return filepath.Join(elem...) }
func (localFS) Dir(name string) string                     { return filepath.Dir(name) }
func (localFS) ReadDir(dir string) ([]os.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// sftpFS adapts an sftp client. Remote paths always use forward
// slashes regardless of the local platform.
type sftpFS struct {
	client *sftp.Client
}

// NewSftpFS wraps an sftp client as a transfer endpoint.
func NewSftpFS(client *sftp.Client) FS {
	return sftpFS{client: client}
}

func (s sftpFS) Stat(name string) (os.FileInfo, error) {
	return s.client.Stat(name)
}

func (s sftpFS) OpenRead(name string, offset int64) (io.ReadCloser, error) {
	f, err := s.client.Open(name)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func (s sftpFS) OpenWrite(name string, offset int64) (io.WriteCloser, error) {
	f, err := s.client.OpenFile(name, os.O_WRONLY|os.O_CREATE)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(offset); err != nil {
		f.Close()
		return nil, err
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

func (s sftpFS) MkdirAll(dir string) error { return s.client.MkdirAll(dir) }

func (s sftpFS) ReadDir(dir string) ([]os.FileInfo, error) {
	return s.client.ReadDir(dir)
}

func (s sftpFS) Remove(name string) error {
	return s.client.Remove(name)
}

func (sftpFS) Join(elem ...string) string { return path.Join(elem...) }
func (sftpFS) Dir(name string) string     { return path.Dir(name) }

// LocalFS returns the OS-backed endpoint.
func LocalFS() FS { return localFS{} }

// statSize returns the size of name, or an error mentioning the path.
func statSize(fsys FS, name string) (int64, error) {
	info, err := fsys.Stat(name)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", name, err)
	}
	return info.Size(), nil
}
