// Package fileutil provides file utilities for benchmark artifacts: atomic
// tmp+mv writes of result files and scratch directories for on-disk backends.
package fileutil

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/eunmann/mkbench/pkg/logging"
)

// Exists returns true if the file exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsNonEmpty returns true if the file exists and has non-zero size.
func IsNonEmpty(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Size() > 0
}

// WriteTmpThenMove writes to a temporary file then atomically moves it to the final path.
// The writeFunc receives the temporary path and should write the complete file.
// On success, the file is moved to outPath atomically.
func WriteTmpThenMove(tmpDir, outPath string, writeFunc func(tmpPath string) error) error {
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return errors.Wrap(err, "create tmp dir")
	}

	tmpPath := filepath.Join(tmpDir, filepath.Base(outPath)+".tmp")

	if err := writeFunc(tmpPath); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := syncFile(tmpPath); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "sync temp file")
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "create output dir")
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "rename temp to final")
	}

	return nil
}

// syncFile opens, syncs, and closes a file.
func syncFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	err = f.Sync()
	f.Close()
	return err
}

// ScratchDir returns a directory named name for backend files, plus a
// cleanup func. Under a non-empty base the directory is kept on cleanup so
// its contents can be inspected after a run; otherwise a fresh temporary
// directory is created and removed on cleanup.
func ScratchDir(base, name string) (string, func() error, error) {
	if base != "" {
		dir := filepath.Join(base, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", nil, errors.Wrap(err, "create data dir")
		}
		return dir, func() error { return nil }, nil
	}
	dir, err := os.MkdirTemp("", "mkbench-"+name+"-*")
	if err != nil {
		return "", nil, errors.Wrap(err, "create temp dir")
	}
	logging.L().Debug().Str("dir", dir).Msg("created scratch dir")
	return dir, func() error { return os.RemoveAll(dir) }, nil
}
