package registry

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// readFile returns the raw content and mode of path. A missing file is not
// an error; exists reports it.
func readFile(fsys afero.Fs, path string) (raw string, mode os.FileMode, exists bool, err error) {
	info, err := fsys.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return "", 0, true, err
	}
	return string(data), info.Mode().Perm(), true, nil
}

// writeFileAtomic writes content to a temp file next to path and renames it
// over path, so readers see either the old or the new content.
func writeFileAtomic(fsys afero.Fs, path string, content []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := afero.TempFile(fsys, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	fail := func(err error) error {
		_ = tmp.Close()
		_ = fsys.Remove(name)
		return err
	}

	if _, err := tmp.Write(content); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = fsys.Remove(name)
		return err
	}
	if err := fsys.Chmod(name, mode); err != nil {
		_ = fsys.Remove(name)
		return err
	}
	if err := fsys.Rename(name, path); err != nil {
		_ = fsys.Remove(name)
		return err
	}
	return nil
}
