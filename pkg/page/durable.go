package page

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// writeFileDurable writes data to path such that a crash never leaves
// a partially-written file in its place: it writes to a temp file in
// the same directory, fsyncs it, renames it over the target, then
// fsyncs the directory entry. Modeled on the directory-fsync discipline
// this codebase already uses for its on-disk metadata files.
func writeFileDurable(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return fsyncDir(dir)
}

// fsyncDir fsyncs a directory's entry table, ensuring a preceding
// rename is durable.
func fsyncDir(dir string) error {
	dirfd, err := syscall.Open(dir, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open directory: %w", err)
	}
	defer syscall.Close(dirfd)

	if err := syscall.Fsync(dirfd); err != nil {
		return fmt.Errorf("fsync directory: %w", err)
	}
	return nil
}
