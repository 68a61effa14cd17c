package osutil

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes contents into a temporary file next to path and
// renames it over path, readers never observe a partial file.
func WriteFileAtomic(path string, contents []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	_, err = tmp.Write(contents)
	if err == nil {
		err = tmp.Sync()
	}
	closeErr := tmp.Close()
	if err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("close temp file: %w", closeErr)
	}
	err = os.Chmod(tmpName, perm)
	if err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Exists reports whether path can be stat'ed.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
