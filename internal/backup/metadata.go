package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// metadataFileName is the JSON side-file colocated with the backup
// directory that records the most recent incremental backup.
const metadataFileName = ".backup_meta.json"

// Metadata is the engine's only cross-run state: a single mutable record
// reflecting the most recent successful incremental backup. It is updated
// atomically and only after the backup has been verified.
type Metadata struct {
	LastBackupHash string    `json:"last_backup_hash"`
	LastBackupTime time.Time `json:"last_backup_time"`
	LastBackupFile string    `json:"last_backup_file"`
}

// MetadataStore persists Metadata as a JSON side-file in the backup
// directory. It is an explicit value loaded and saved around each
// operation, never an in-process singleton.
type MetadataStore struct {
	path string
}

// NewMetadataStore creates a store for the side-file inside backupDir.
func NewMetadataStore(backupDir string) *MetadataStore {
	return &MetadataStore{path: filepath.Join(backupDir, metadataFileName)}
}

// Path returns the side-file location.
func (st *MetadataStore) Path() string { return st.path }

// Load reads the metadata side-file. A missing or unparsable file yields
// zero-value defaults: bad metadata must never block backups, it only
// costs one redundant copy.
func (st *MetadataStore) Load() Metadata {
	var md Metadata
	data, err := os.ReadFile(st.path)
	if err != nil {
		return Metadata{}
	}
	if err := json.Unmarshal(data, &md); err != nil {
		return Metadata{}
	}
	return md
}

// Save writes the metadata to a temp file in the same directory and
// renames it over the target, so a crash mid-write never leaves a
// half-written side-file.
func (st *MetadataStore) Save(md Metadata) error {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	dir := filepath.Dir(st.path)
	tmp, err := os.CreateTemp(dir, metadataFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp metadata file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing metadata: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp metadata file: %w", err)
	}

	if err := os.Rename(tmpPath, st.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing metadata file: %w", err)
	}
	return nil
}
