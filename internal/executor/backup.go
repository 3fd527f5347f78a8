// Package executor implements the Transaction Executor (C7): it runs a
// plan.WorkflowPlan's steps against the Operation Drivers, backing up
// anything a step is about to overwrite so a failure mid-plan can roll
// the workspace back to its pre-execution state.
package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cph-engine/internal/driver"
	"cph-engine/internal/errs"
)

// FileBackup records enough to restore one path to its pre-step state.
type FileBackup struct {
	OriginalPath string
	BackupPath   string // empty if Existed is false: nothing to restore, just remove on rollback
	Existed      bool
	WasDir       bool
}

// backupSet accumulates FileBackup records for one Execute call, in the
// order they were taken, so rollback can walk them in reverse.
type backupSet struct {
	root    string
	records []FileBackup
	fs      driver.Filesystem
}

func newBackupSet(root string, fs driver.Filesystem) (*backupSet, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errs.Wrap(errs.CodeExecStepFailed, "creating backup root", err)
	}
	return &backupSet{root: root, fs: fs}, nil
}

// snapshot backs up path before a step is allowed to mutate it. Safe to
// call even if path does not exist yet (records Existed=false so rollback
// knows to simply remove whatever the step created).
func (b *backupSet) snapshot(path string) (FileBackup, error) {
	exists, isDir := b.fs.Exists(path)
	rec := FileBackup{OriginalPath: path, Existed: exists, WasDir: isDir}
	if exists {
		rec.BackupPath = filepath.Join(b.root, fmt.Sprintf("bk_%d_%s", len(b.records), filepath.Base(path)))
		if err := b.fs.Copy(path, rec.BackupPath); err != nil {
			return FileBackup{}, errs.Wrap(errs.CodeExecStepFailed, "backing up "+path, err)
		}
	}
	b.records = append(b.records, rec)
	return rec, nil
}

// rollback restores every recorded backup in reverse order. Errors
// during rollback are collected, not stopped on, so one bad restore
// doesn't prevent the rest of the workspace from being repaired.
func (b *backupSet) rollback() error {
	var errsList []error
	for i := len(b.records) - 1; i >= 0; i-- {
		rec := b.records[i]
		if rec.Existed {
			if err := b.fs.Remove(rec.OriginalPath); err != nil {
				errsList = append(errsList, err)
				continue
			}
			if err := b.fs.Copy(rec.BackupPath, rec.OriginalPath); err != nil {
				errsList = append(errsList, err)
			}
		} else {
			if err := b.fs.Remove(rec.OriginalPath); err != nil {
				errsList = append(errsList, err)
			}
		}
	}
	if len(errsList) > 0 {
		return errs.Wrap(errs.CodeExecRollbackFailed, fmt.Sprintf("%d rollback errors", len(errsList)), errsList[0])
	}
	return nil
}

func (b *backupSet) cleanup() {
	_ = os.RemoveAll(b.root)
}

// DefaultGracePeriod is how long a cooperatively-cancelled subprocess or
// container gets between SIGTERM/stop and a forced kill.
const DefaultGracePeriod = 5 * time.Second
