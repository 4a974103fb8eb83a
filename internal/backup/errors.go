package backup

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoSource indicates there is nothing to back up: the source database
// file does not exist. Recoverable and informational.
var ErrNoSource = errors.New("source database does not exist")

// ErrCopyMismatch indicates a freshly written backup copy did not hash to
// the same value as its source. The partial file is left on disk for
// diagnosis but is never recorded as a valid backup.
var ErrCopyMismatch = errors.New("backup copy does not match source hash")

// SourceCorruptError reports that the live database failed its integrity
// check before a backup. A corrupt source is never backed up.
type SourceCorruptError struct {
	Path        string
	Diagnostics []string
}

func (e *SourceCorruptError) Error() string {
	return fmt.Sprintf("source database %s failed integrity check: %s", e.Path, joinDiagnostics(e.Diagnostics))
}

// SnapshotError reports that the database engine's online-backup primitive
// could not produce a consistent copy of the source.
type SnapshotError struct {
	Source string
	Err    error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot of %s failed: %v", e.Source, e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }

// CandidateInvalidError reports that a restore source failed integrity
// verification. The restore is aborted before any mutation.
type CandidateInvalidError struct {
	Path        string
	Diagnostics []string
}

func (e *CandidateInvalidError) Error() string {
	return fmt.Sprintf("restore candidate %s failed integrity check: %s", e.Path, joinDiagnostics(e.Diagnostics))
}

// SafetyBackupFailedError reports that the pre-restore safety copy of the
// live database could not be created. The restore is aborted before the
// target is touched.
type SafetyBackupFailedError struct {
	Target string
	Err    error
}

func (e *SafetyBackupFailedError) Error() string {
	return fmt.Sprintf("safety backup of %s failed: %v", e.Target, e.Err)
}

func (e *SafetyBackupFailedError) Unwrap() error { return e.Err }

// RestoreVerificationFailedError reports that the just-restored database
// failed its post-restore integrity check. When RolledBack is true the
// safety copy has been renamed back over the target and the system is in
// its pre-restore state; RollbackErr is non-nil if that rename itself
// failed.
type RestoreVerificationFailedError struct {
	Target      string
	Diagnostics []string
	RolledBack  bool
	RollbackErr error
}

func (e *RestoreVerificationFailedError) Error() string {
	msg := fmt.Sprintf("restored database %s failed integrity check: %s", e.Target, joinDiagnostics(e.Diagnostics))
	switch {
	case e.RollbackErr != nil:
		return msg + fmt.Sprintf(" (rollback failed: %v)", e.RollbackErr)
	case e.RolledBack:
		return msg + " (rolled back to safety backup)"
	default:
		return msg
	}
}

func joinDiagnostics(diagnostics []string) string {
	if len(diagnostics) == 0 {
		return "no diagnostics"
	}
	return strings.Join(diagnostics, "; ")
}
