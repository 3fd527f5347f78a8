package driver

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOSFilesystemCopyAndHash(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(src, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fs := OSFilesystem{}
	dst := filepath.Join(dir, "nested", "b.txt")
	if err := fs.Copy(src, dst); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	exists, isDir := fs.Exists(dst)
	if !exists || isDir {
		t.Fatalf("Exists(dst) = (%v, %v)", exists, isDir)
	}

	h1, err := fs.Hash(src)
	if err != nil {
		t.Fatalf("Hash src: %v", err)
	}
	h2, err := fs.Hash(dst)
	if err != nil {
		t.Fatalf("Hash dst: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash mismatch after copy: %s != %s", h1, h2)
	}
}

func TestOSFilesystemMoveAcrossDirs(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	dst := filepath.Join(dir, "moved.txt")
	fs := OSFilesystem{}
	if err := fs.Move(src, dst); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if exists, _ := fs.Exists(src); exists {
		t.Fatal("source should no longer exist after move")
	}
	if exists, _ := fs.Exists(dst); !exists {
		t.Fatal("destination should exist after move")
	}
}

func TestMockFilesystemCopyRequiresExistingSource(t *testing.T) {
	m := NewMockFilesystem()
	if err := m.Copy("/missing", "/dst"); err == nil {
		t.Fatal("expected error copying from nonexistent mock source")
	}
}
