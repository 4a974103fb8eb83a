package testutil

import (
	"fmt"
	"io"
	"os"
	"time"

	"soci-backup/internal/backup"
)

// VerifyResult is one scripted response from a ScriptedVerifier.
type VerifyResult struct {
	OK          bool
	Diagnostics []string
}

// ScriptedVerifier returns pre-programmed integrity results in call
// order; calls past the end of the script pass. Useful for forcing a
// post-restore verification failure after a passing candidate check.
type ScriptedVerifier struct {
	Results []VerifyResult
	Calls   int
}

func (v *ScriptedVerifier) Check(string) (bool, []string) {
	i := v.Calls
	v.Calls++
	if i >= len(v.Results) {
		return true, nil
	}
	return v.Results[i].OK, v.Results[i].Diagnostics
}

// OKVerifier approves every file.
type OKVerifier struct{}

func (OKVerifier) Check(string) (bool, []string) { return true, nil }

// CopySnapshotter implements backup.Snapshotter with a plain byte copy.
// Good enough for quiescent test fixtures; Err, when set, is returned
// instead of copying.
type CopySnapshotter struct {
	Err error
	// Calls records the (source, dest) pairs seen.
	Calls [][2]string
}

func (s *CopySnapshotter) Snapshot(sourcePath, destPath string) error {
	s.Calls = append(s.Calls, [2]string{sourcePath, destPath})
	if s.Err != nil {
		return s.Err
	}

	in, err := os.Open(sourcePath)
	if err != nil {
		return &backup.SnapshotError{Source: sourcePath, Err: err}
	}
	defer in.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return &backup.SnapshotError{Source: sourcePath, Err: err}
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return &backup.SnapshotError{Source: sourcePath, Err: err}
	}
	return out.Close()
}

// FakeClock returns a programmable time so timestamped artifact names are
// deterministic.
type FakeClock struct {
	Current time.Time
}

func NewFakeClock() *FakeClock {
	return &FakeClock{Current: time.Date(2025, 1, 1, 9, 0, 0, 0, time.Local)}
}

func (c *FakeClock) Now() time.Time { return c.Current }

func (c *FakeClock) Advance(d time.Duration) { c.Current = c.Current.Add(d) }

// NopMaintainer ignores index rebuild requests.
type NopMaintainer struct{}

func (NopMaintainer) RebuildIndexes(string) error { return nil }

// FailingSnapshotter always fails.
type FailingSnapshotter struct{}

func (FailingSnapshotter) Snapshot(sourcePath, _ string) error {
	return &backup.SnapshotError{Source: sourcePath, Err: fmt.Errorf("injected snapshot failure")}
}

// Compile-time checks
var (
	_ backup.Verifier    = (*ScriptedVerifier)(nil)
	_ backup.Verifier    = OKVerifier{}
	_ backup.Snapshotter = (*CopySnapshotter)(nil)
	_ backup.Snapshotter = FailingSnapshotter{}
	_ backup.Clock       = (*FakeClock)(nil)
	_ backup.Maintainer  = NopMaintainer{}
)
