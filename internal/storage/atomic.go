package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicWriter provides crash-safe file writing using temp file + rename.
type AtomicWriter struct {
	targetPath string
	tempFile   *os.File
	perm       os.FileMode
}

// NewAtomicWriter creates a new atomic writer for the target path.
func NewAtomicWriter(targetPath string, perm os.FileMode) (*AtomicWriter, error) {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	return &AtomicWriter{
		targetPath: targetPath,
		tempFile:   tempFile,
		perm:       perm,
	}, nil
}

// Write implements io.Writer.
func (w *AtomicWriter) Write(p []byte) (int, error) {
	return w.tempFile.Write(p)
}

// Commit syncs the temp file and renames it over the target path.
func (w *AtomicWriter) Commit() error {
	tempPath := w.tempFile.Name()
	fail := func(format string, err error) error {
		w.tempFile.Close()
		os.Remove(tempPath)
		return fmt.Errorf(format, err)
	}

	if err := w.tempFile.Chmod(w.perm); err != nil {
		return fail("failed to set permissions: %w", err)
	}
	if err := w.tempFile.Sync(); err != nil {
		return fail("failed to sync temp file: %w", err)
	}
	if err := w.tempFile.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tempPath, w.targetPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Abort cancels the write and cleans up the temp file.
func (w *AtomicWriter) Abort() error {
	tempPath := w.tempFile.Name()
	w.tempFile.Close()
	return os.Remove(tempPath)
}

// AtomicWriteFile writes data to a file atomically with mode 0644.
func AtomicWriteFile(path string, data []byte) error {
	return AtomicWriteFileMode(path, data, 0644)
}

// AtomicWriteFileMode writes data to a file atomically with the given mode.
func AtomicWriteFileMode(path string, data []byte, perm os.FileMode) error {
	writer, err := NewAtomicWriter(path, perm)
	if err != nil {
		return err
	}

	if _, err := writer.Write(data); err != nil {
		writer.Abort()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	return writer.Commit()
}
