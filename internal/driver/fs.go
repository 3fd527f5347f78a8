// Package driver implements the Operation Drivers (C8): the filesystem,
// subprocess, and container-runtime operations the Transaction Executor
// dispatches steps to. The Executor calls these interfaces rather than
// os/exec or the docker client, so a MockFilesystem / MockProcess /
// MockContainer can stand in during tests; it does use the os package
// directly for TOUCH steps and for its backup root.
package driver

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cph-engine/internal/errs"
	"cph-engine/internal/logging"
	"cph-engine/internal/template"
)

// Filesystem is the driver interface for filesystem operations. All
// methods wrap failures as errs.CodeDriverFilesystem.
type Filesystem interface {
	CreateDir(path string) error
	Remove(path string) error
	Copy(src, dst string) error
	Move(src, dst string) error
	Hash(path string) (string, error)
	Exists(path string) (exists, isDir bool)
	Glob(base, pattern string) ([]string, error)
	Chmod(path string, mode os.FileMode) error
}

// OSFilesystem is the real, disk-backed Filesystem.
type OSFilesystem struct{}

var _ Filesystem = OSFilesystem{}

func (OSFilesystem) CreateDir(path string) error {
	logging.DriverDebug("fs: mkdir -p %s", path)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errs.Wrap(errs.CodeDriverFilesystem, "create_dir failed", err)
	}
	return nil
}

func (OSFilesystem) Remove(path string) error {
	logging.DriverDebug("fs: remove %s", path)
	if err := os.RemoveAll(path); err != nil {
		return errs.Wrap(errs.CodeDriverFilesystem, "remove failed", err)
	}
	return nil
}

func (OSFilesystem) Copy(src, dst string) error {
	logging.DriverDebug("fs: copy %s -> %s", src, dst)
	info, err := os.Stat(src)
	if err != nil {
		return errs.Wrap(errs.CodeDriverFilesystem, "copy source stat failed", err)
	}
	if info.IsDir() {
		return copyDir(src, dst)
	}
	return copyFile(src, dst, info.Mode())
}

func (OSFilesystem) Move(src, dst string) error {
	logging.DriverDebug("fs: move %s -> %s", src, dst)
	if err := os.Rename(src, dst); err != nil {
		// Cross-device rename fails on some filesystems; fall back to copy+remove.
		if cerr := (OSFilesystem{}).Copy(src, dst); cerr != nil {
			return errs.Wrap(errs.CodeDriverFilesystem, "move failed", err)
		}
		if rerr := os.RemoveAll(src); rerr != nil {
			return errs.Wrap(errs.CodeDriverFilesystem, "move cleanup failed", rerr)
		}
	}
	return nil
}

func (OSFilesystem) Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errs.Wrap(errs.CodeDriverFilesystem, "hash open failed", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errs.Wrap(errs.CodeDriverFilesystem, "hash read failed", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (OSFilesystem) Exists(path string) (bool, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return false, false
	}
	return true, info.IsDir()
}

func (OSFilesystem) Glob(base, pattern string) ([]string, error) {
	return template.Glob(base, pattern)
}

func (OSFilesystem) Chmod(path string, mode os.FileMode) error {
	logging.DriverDebug("fs: chmod %s %o", path, mode)
	if err := os.Chmod(path, mode); err != nil {
		return errs.Wrap(errs.CodeDriverFilesystem, "chmod failed", err)
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errs.Wrap(errs.CodeDriverFilesystem, "copy mkdir failed", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return errs.Wrap(errs.CodeDriverFilesystem, "copy open source failed", err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return errs.Wrap(errs.CodeDriverFilesystem, "copy open dest failed", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return errs.Wrap(errs.CodeDriverFilesystem, "copy write failed", err)
	}
	return nil
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target, info.Mode())
	})
}

// MockFilesystem is an in-memory Filesystem used by Executor/Planner tests.
type MockFilesystem struct {
	Dirs  map[string]bool
	Files map[string]bool
	Calls []string
}

var _ Filesystem = (*MockFilesystem)(nil)

func NewMockFilesystem() *MockFilesystem {
	return &MockFilesystem{Dirs: map[string]bool{}, Files: map[string]bool{}}
}

func (m *MockFilesystem) record(call string) { m.Calls = append(m.Calls, call) }

func (m *MockFilesystem) CreateDir(path string) error {
	m.record("mkdir " + path)
	m.Dirs[path] = true
	return nil
}

func (m *MockFilesystem) Remove(path string) error {
	m.record("remove " + path)
	delete(m.Dirs, path)
	delete(m.Files, path)
	return nil
}

func (m *MockFilesystem) Copy(src, dst string) error {
	m.record(fmt.Sprintf("copy %s -> %s", src, dst))
	if !m.Files[src] && !m.Dirs[src] {
		return errs.New(errs.CodeDriverFilesystem, "mock copy: source does not exist: "+src)
	}
	m.Files[dst] = true
	return nil
}

func (m *MockFilesystem) Move(src, dst string) error {
	if err := m.Copy(src, dst); err != nil {
		return err
	}
	return m.Remove(src)
}

func (m *MockFilesystem) Hash(path string) (string, error) {
	h := sha256.Sum256([]byte(path))
	return hex.EncodeToString(h[:]), nil
}

func (m *MockFilesystem) Exists(path string) (bool, bool) {
	if m.Dirs[path] {
		return true, true
	}
	if m.Files[path] {
		return true, false
	}
	return false, false
}

func (m *MockFilesystem) Glob(base, pattern string) ([]string, error) {
	return nil, nil
}

func (m *MockFilesystem) Chmod(path string, mode os.FileMode) error {
	m.record(fmt.Sprintf("chmod %s %o", path, mode))
	return nil
}
