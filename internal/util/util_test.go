// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile_Basic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conv.json")
	data := []byte(`{"id":"abc"}`)

	if err := AtomicWriteFile(path, data); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != string(data) {
		t.Errorf("Content mismatch: got %q, want %q", content, data)
	}
}

func TestAtomicWriteFile_PrivateByDefault(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	path := filepath.Join(dir, "memory.json")

	if err := AtomicWriteFile(path, []byte("[]")); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("File not created: %v", err)
	}
	if info.Mode().Perm() != DefaultFilePerm {
		t.Errorf("file mode = %o, want %o", info.Mode().Perm(), DefaultFilePerm)
	}
	dirInfo, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Dir not created: %v", err)
	}
	if dirInfo.Mode().Perm() != DefaultDirPerm {
		t.Errorf("dir mode = %o, want %o", dirInfo.Mode().Perm(), DefaultDirPerm)
	}
}

func TestAtomicWriteFile_Options(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports", "deep")
	path := filepath.Join(dir, "trip.md")

	err := AtomicWriteFile(path, []byte("# Trip"), WithFilePerm(0644), WithDirPerm(0755))
	if err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("File not created: %v", err)
	}
	if info.Mode().Perm() != 0644 {
		t.Errorf("file mode = %o, want 644", info.Mode().Perm())
	}
}

func TestAtomicWriteFile_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	if err := AtomicWriteFile(path, []byte("initial")); err != nil {
		t.Fatalf("First write failed: %v", err)
	}
	if err := AtomicWriteFile(path, []byte("updated")); err != nil {
		t.Fatalf("Second write failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != "updated" {
		t.Errorf("Content not updated: got %q", content)
	}
}

func TestAtomicWriteFile_SkipUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")

	if err := AtomicWriteFile(path, []byte("[1]")); err != nil {
		t.Fatalf("First write failed: %v", err)
	}
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	if err := AtomicWriteFile(path, []byte("[1]"), SkipUnchanged()); err != nil {
		t.Fatalf("Unchanged write failed: %v", err)
	}
	info, _ := os.Stat(path)
	if !info.ModTime().Equal(old) {
		t.Errorf("unchanged data rewrote the file (mtime %v)", info.ModTime())
	}

	if err := AtomicWriteFile(path, []byte("[1,2]"), SkipUnchanged()); err != nil {
		t.Fatalf("Changed write failed: %v", err)
	}
	content, _ := os.ReadFile(path)
	if string(content) != "[1,2]" {
		t.Errorf("Content = %q, want [1,2]", content)
	}
}

func TestAtomicWriteFile_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conv.json")

	for i := 0; i < 3; i++ {
		if err := AtomicWriteFile(path, make([]byte, 64*1024)); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory holds %v, want only conv.json", names)
	}
}

func TestAtomicWriteFile_TargetIsDirectory(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "taken")
	if err := os.Mkdir(target, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(target, "x"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := AtomicWriteFile(target, []byte("data")); err == nil {
		t.Fatal("expected an error replacing a non-empty directory")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temp file left behind: %d entries", len(entries))
	}
}

// =============================================================================
// DISPLAY WIDTH TESTS
// =============================================================================

func TestTruncateWidth(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxWidth int
		want     string
	}{
		{"fits", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"ascii truncated", "hello world", 8, "hello..."},
		{"cjk counts double", "日本語テキスト", 9, "日本語..."},
		{"tiny width", "hello", 2, "he"},
		{"zero", "hello", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateWidth(tt.input, tt.maxWidth); got != tt.want {
				t.Errorf("TruncateWidth(%q, %d) = %q, want %q", tt.input, tt.maxWidth, got, tt.want)
			}
		})
	}
}

func TestStringWidth(t *testing.T) {
	if got := StringWidth("abc"); got != 3 {
		t.Errorf("StringWidth(abc) = %d", got)
	}
	if got := StringWidth("日本"); got != 4 {
		t.Errorf("StringWidth(日本) = %d", got)
	}
}

func TestPadRight(t *testing.T) {
	if got := PadRight("日本", 6); got != "日本  " {
		t.Errorf("PadRight = %q", got)
	}
	if got := PadRight("toolong", 4); got != "t..." {
		t.Errorf("PadRight should truncate, got %q", got)
	}
}

func TestOneLine(t *testing.T) {
	if got := OneLine("  a\n\tb   c  "); got != "a b c" {
		t.Errorf("OneLine = %q", got)
	}
}
