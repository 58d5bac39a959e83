// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// Conversations, facts and config can hold personal details, so files are
// private unless a caller asks otherwise.
const (
	DefaultFilePerm os.FileMode = 0600
	DefaultDirPerm  os.FileMode = 0700
)

type writeOptions struct {
	filePerm      os.FileMode
	dirPerm       os.FileMode
	skipUnchanged bool
}

// WriteOption adjusts AtomicWriteFile.
type WriteOption func(*writeOptions)

// WithFilePerm sets the mode of the written file.
func WithFilePerm(perm os.FileMode) WriteOption {
	return func(o *writeOptions) { o.filePerm = perm }
}

// WithDirPerm sets the mode of any parent directories that get created.
func WithDirPerm(perm os.FileMode) WriteOption {
	return func(o *writeOptions) { o.dirPerm = perm }
}

// SkipUnchanged leaves the file alone when it already holds exactly data.
// Index files are rewritten after every save and rarely differ.
func SkipUnchanged() WriteOption {
	return func(o *writeOptions) { o.skipUnchanged = true }
}

// RELIABILITY: Atomic write with fsync prevents data loss on crash
//
// AtomicWriteFile replaces path with data. The bytes go to a temp file next
// to the target, are synced, then renamed over it, so readers see either the
// old file or the new one.
func AtomicWriteFile(path string, data []byte, opts ...WriteOption) error {
	o := writeOptions{filePerm: DefaultFilePerm, dirPerm: DefaultDirPerm}
	for _, opt := range opts {
		opt(&o)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	if o.skipUnchanged {
		if old, err := os.ReadFile(absPath); err == nil && bytes.Equal(old, data) {
			return nil
		}
	}

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, o.dirPerm); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	// Same directory as the target so the rename stays on one filesystem.
	f, err := os.CreateTemp(dir, "."+filepath.Base(absPath)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	if err := writeSynced(f, data, o.filePerm); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, absPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", absPath, err)
	}
	return nil
}

// writeSynced writes data, fsyncs and closes f. The file is closed on every
// path; Windows refuses to rename an open file.
func writeSynced(f *os.File, data []byte, perm os.FileMode) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Chmod(perm); err != nil {
		f.Close()
		return fmt.Errorf("set permissions: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return nil
}
