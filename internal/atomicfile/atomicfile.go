// Package atomicfile provides crash-safe file writes: write to a sibling
// temp file, flush/sync, then rename over the destination. Rename within
// the same directory is atomic on the platforms kgraphd targets, so a
// crash at any point leaves either the old content or the new content
// fully visible at the destination path — never a truncated file.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Write durably writes data to path, or fails leaving path unchanged.
func Write(path string, data []byte) error {
	return WriteFunc(path, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

// WriteFunc durably writes to path using a caller-supplied writer callback,
// so large or streaming content doesn't need to be buffered in memory first.
func WriteFunc(path string, write func(f *os.File) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // G304 - internal data path
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	cleanTmp := true
	defer func() {
		if cleanTmp {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	cleanTmp = false
	return nil
}

// CleanupTemp removes any leftover *.tmp files directly under dir, left
// behind by a process that crashed mid-write on a previous run.
func CleanupTemp(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) == ".tmp" {
			_ = os.Remove(filepath.Join(dir, e.Name()))
		}
	}
	return nil
}
