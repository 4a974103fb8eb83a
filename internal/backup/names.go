package backup

import (
	"path/filepath"
	"strings"
	"time"
)

// timestampLayout is the sortable timestamp embedded in artifact names.
const timestampLayout = "20060102_150405"

// baseName returns the database file name without its extension, used as
// the prefix for all backup artifacts ("soci.db" -> "soci").
func baseName(dbPath string) string {
	name := filepath.Base(dbPath)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// incrementalName builds the file name for an incremental backup copy:
// <base>_<YYYYMMDD_HHMMSS>.db
func incrementalName(dbPath string, t time.Time) string {
	return baseName(dbPath) + "_" + t.Format(timestampLayout) + ".db"
}

// archiveName builds the file name for an on-demand ZIP archive:
// <base>_<YYYYMMDD_HHMMSS>.zip
func archiveName(dbPath string, t time.Time) string {
	return baseName(dbPath) + "_" + t.Format(timestampLayout) + ".zip"
}

// safetyBackupPath builds the full path for a pre-restore safety copy:
// <dbPath>.pre_restore_<YYYYMMDD_HHMMSS>
func safetyBackupPath(dbPath string, t time.Time) string {
	return dbPath + ".pre_restore_" + t.Format(timestampLayout)
}

// parseIncrementalName extracts the timestamp embedded in an incremental
// backup file name for the given database. Returns false for names that do
// not belong to this database's incremental backup set.
func parseIncrementalName(dbPath, name string) (time.Time, bool) {
	prefix := baseName(dbPath) + "_"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".db") {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".db")
	t, err := time.ParseInLocation(timestampLayout, stamp, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// parseArchiveName extracts the timestamp embedded in an on-demand archive
// name for the given database. Both plain ".zip" and encrypted ".zip.age"
// archives are recognized.
func parseArchiveName(dbPath, name string) (time.Time, bool) {
	prefix := baseName(dbPath) + "_"
	name = strings.TrimSuffix(name, ".age")
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".zip") {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".zip")
	t, err := time.ParseInLocation(timestampLayout, stamp, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
