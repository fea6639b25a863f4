// internal/session/sftpops.go

package session

import (
	"os"
)

// Remote file operations outside the transfer engine: each opens a
// short-lived sftp channel on the session, runs the operation and
// releases the channel slot straight away.

func (r *Registry) ReadDir(sessionID, dir string) ([]os.FileInfo, error) {
	mgr, err := r.get(sessionID)
	if err != nil {
		return nil, err
	}
	sc, err := mgr.OpenSftp()
	if err != nil {
		return nil, err
	}
	defer sc.Close()
	return sc.Client().ReadDir(dir)
}

func (r *Registry) StatRemote(sessionID, name string) (os.FileInfo, error) {
	mgr, err := r.get(sessionID)
	if err != nil {
		return nil, err
	}
	sc, err := mgr.OpenSftp()
	if err != nil {
		return nil, err
	}
	defer sc.Close()
	return sc.Client().Stat(name)
}

func (r *Registry) Mkdir(sessionID, dir string) error {
	mgr, err := r.get(sessionID)
	if err != nil {
		return err
	}
	sc, err := mgr.OpenSftp()
	if err != nil {
		return err
	}
	defer sc.Close()
	return sc.Client().MkdirAll(dir)
}

func (r *Registry) RemoveRemote(sessionID, name string) error {
	mgr, err := r.get(sessionID)
	if err != nil {
		return err
	}
	sc, err := mgr.OpenSftp()
	if err != nil {
		return err
	}
	defer sc.Close()
	return sc.Client().Remove(name)
}

func (r *Registry) RenameRemote(sessionID, oldName, newName string) error {
	mgr, err := r.get(sessionID)
	if err != nil {
		return err
	}
	sc, err := mgr.OpenSftp()
	if err != nil {
		return err
	}
	defer sc.Close()
	return sc.Client().Rename(oldName, newName)
}
