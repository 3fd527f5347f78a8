package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func resetState() {
	CloseAll()
	loggersMu.Lock()
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()
}

func TestInitializeCreatesLogFilesOnlyInDebugMode(t *testing.T) {
	tempDir := t.TempDir()
	defer resetState()

	if err := Initialize(tempDir, false); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	Boot("hello")
	if _, err := os.Stat(filepath.Join(tempDir, ".temp", "logs")); !os.IsNotExist(err) {
		t.Fatalf("expected no logs directory outside debug mode, got err=%v", err)
	}

	if err := Initialize(tempDir, true); err != nil {
		t.Fatalf("Initialize debug: %v", err)
	}
	Boot("hello again")
	path := filepath.Join(tempDir, ".temp", "logs", "boot.log")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected boot.log to exist: %v", err)
	}
}

func TestCategoriesWriteToSeparateFiles(t *testing.T) {
	tempDir := t.TempDir()
	defer resetState()

	if err := Initialize(tempDir, true); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	State("context loaded")
	Plan("step planned")
	Exec("step executed")

	for _, cat := range []Category{CategoryState, CategoryPlan, CategoryExec} {
		path := filepath.Join(tempDir, ".temp", "logs", string(cat)+".log")
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("category %s: %v", cat, err)
		}
		if len(data) == 0 {
			t.Fatalf("category %s: expected non-empty log", cat)
		}
	}
}

func TestTimerStopWithThresholdLogsWhenExceeded(t *testing.T) {
	tempDir := t.TempDir()
	defer resetState()

	if err := Initialize(tempDir, true); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	timer := StartTimer(CategoryExec, "noop")
	timer.StopWithThreshold(0)

	path := filepath.Join(tempDir, ".temp", "logs", "exec.log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read exec.log: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected timer to log something")
	}
}
