package dedup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// ErrCorruptSnapshot indicates an unparseable snapshot document.
var ErrCorruptSnapshot = errors.New("corrupt dedup snapshot")

// snapshotVersion is the current on-disk document schema version.
const snapshotVersion = 1

// Store persists the dedup record map across restarts.
// Params: full record map per save; load at startup.
// Returns: durable snapshot behavior.
type Store interface {
	Load() (map[string]Record, error)
	Save(records map[string]Record, updatedAt time.Time) error
}

type snapshotDocument struct {
	Version   int                      `json:"version"`
	UpdatedAt time.Time                `json:"updated_at"`
	Alerts    map[string]snapshotEntry `json:"alerts"`
}

type snapshotEntry struct {
	LastAlertAt time.Time `json:"last_alert_at"`
	AlertCount  int       `json:"alert_count"`
}

// encodeSnapshot renders the record map as the versioned document.
// Params: full record map and the update timestamp.
// Returns: indented JSON document.
func encodeSnapshot(records map[string]Record, updatedAt time.Time) ([]byte, error) {
	doc := snapshotDocument{
		Version:   snapshotVersion,
		UpdatedAt: updatedAt.UTC(),
		Alerts:    make(map[string]snapshotEntry, len(records)),
	}
	for key, record := range records {
		doc.Alerts[key] = snapshotEntry{LastAlertAt: record.LastAlertAt.UTC(), AlertCount: record.AlertCount}
	}
	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode dedup snapshot: %w", err)
	}
	return encoded, nil
}

// decodeSnapshot parses a snapshot document back into records.
// Params: raw document bytes.
// Returns: record map; empty input yields an empty map, unparseable
// documents yield ErrCorruptSnapshot.
func decodeSnapshot(raw []byte) (map[string]Record, error) {
	if len(raw) == 0 {
		return map[string]Record{}, nil
	}
	var doc snapshotDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorruptSnapshot, err)
	}
	records := make(map[string]Record, len(doc.Alerts))
	for key, entry := range doc.Alerts {
		records[key] = Record{LastAlertAt: entry.LastAlertAt, AlertCount: entry.AlertCount}
	}
	return records, nil
}

// FileStore keeps the snapshot in one JSON document on local disk.
// Params: snapshot file path.
// Returns: atomic write-temp-then-rename persistence.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed snapshot store.
// Params: snapshot document path.
// Returns: store; the parent directory is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the snapshot document location.
// Params: none.
// Returns: configured file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the snapshot document.
// Params: none.
// Returns: record map; missing or empty files yield an empty map,
// unparseable documents yield ErrCorruptSnapshot.
func (s *FileStore) Load() (map[string]Record, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dedup snapshot: %w", err)
	}
	return decodeSnapshot(raw)
}

// Save rewrites the snapshot document atomically.
// Params: full record map and the update timestamp.
// Returns: write error; a partially written file is never observable.
func (s *FileStore) Save(records map[string]Record, updatedAt time.Time) error {
	encoded, err := encodeSnapshot(records, updatedAt)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return fmt.Errorf("write dedup snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace dedup snapshot: %w", err)
	}
	return nil
}
