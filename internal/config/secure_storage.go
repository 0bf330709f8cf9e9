// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"os"
	"path/filepath"

	"grimm.is/pernet/internal/errors"
)

// SecureWriteFile replaces filename with data, readable by the owner only.
// The file is written to a temporary sibling and renamed into place, so a
// crash never leaves a truncated config behind. The admin token lives in
// this file, hence the permissions.
func SecureWriteFile(filename string, data []byte) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to create config directory")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(filename)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to create temporary file")
	}
	name := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(name)
	}

	if err := tmp.Chmod(0o600); err != nil {
		cleanup()
		return errors.Wrap(err, errors.KindInternal, "failed to set permissions")
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return errors.Wrap(err, errors.KindInternal, "failed to write temporary file")
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return errors.Wrap(err, errors.KindInternal, "failed to sync temporary file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return errors.Wrap(err, errors.KindInternal, "failed to close temporary file")
	}
	if err := os.Rename(name, filename); err != nil {
		os.Remove(name)
		return errors.Wrap(err, errors.KindInternal, "failed to rename file")
	}
	return nil
}
