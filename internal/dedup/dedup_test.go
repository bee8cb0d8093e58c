package dedup

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTryAlertFirstFire(t *testing.T) {
	t.Parallel()

	current := time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC)
	d := New(10*time.Minute, nil, func() time.Time { return current }, discardLogger())

	if !d.TryAlert("GET /api/orders") {
		t.Fatalf("expected first alert to fire")
	}
	record, ok := d.Record("GET /api/orders")
	if !ok {
		t.Fatalf("expected record to exist")
	}
	if record.AlertCount != 1 {
		t.Fatalf("expected alert count 1, got %d", record.AlertCount)
	}
	if !record.LastAlertAt.Equal(current) {
		t.Fatalf("unexpected last alert time %v", record.LastAlertAt)
	}
}

func TestTryAlertSuppressedInsideWindow(t *testing.T) {
	t.Parallel()

	current := time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC)
	d := New(10*time.Minute, nil, func() time.Time { return current }, discardLogger())

	if !d.TryAlert("GET /api/orders") {
		t.Fatalf("expected first alert to fire")
	}
	for i := 0; i < 3; i++ {
		current = current.Add(time.Minute)
		if d.TryAlert("GET /api/orders") {
			t.Fatalf("expected alert %d to be suppressed", i)
		}
	}

	record, _ := d.Record("GET /api/orders")
	if record.AlertCount != 1 {
		t.Fatalf("count must only grow on fired alerts, got %d", record.AlertCount)
	}
}

func TestTryAlertFiresAgainAfterWindow(t *testing.T) {
	t.Parallel()

	current := time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC)
	d := New(10*time.Minute, nil, func() time.Time { return current }, discardLogger())

	d.TryAlert("POST /api/import")

	current = current.Add(10 * time.Minute)
	if d.TryAlert("POST /api/import") {
		t.Fatalf("expected suppression at exactly the window boundary")
	}

	current = current.Add(time.Nanosecond)
	if !d.TryAlert("POST /api/import") {
		t.Fatalf("expected alert to fire after the window elapsed")
	}
	record, _ := d.Record("POST /api/import")
	if record.AlertCount != 2 {
		t.Fatalf("expected alert count 2, got %d", record.AlertCount)
	}
}

func TestTryAlertKeysAreIndependent(t *testing.T) {
	t.Parallel()

	current := time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC)
	d := New(time.Hour, nil, func() time.Time { return current }, discardLogger())

	if !d.TryAlert("GET /a") {
		t.Fatalf("expected /a to fire")
	}
	if !d.TryAlert("GET /b") {
		t.Fatalf("expected /b to fire independently")
	}
	if d.Count() != 2 {
		t.Fatalf("expected 2 tracked keys, got %d", d.Count())
	}
}

func TestTryAlertConcurrentCallsAdmitExactlyOne(t *testing.T) {
	t.Parallel()

	current := time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC)
	d := New(time.Hour, nil, func() time.Time { return current }, discardLogger())

	var fired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.TryAlert("GET /api/orders") {
				fired.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := fired.Load(); got != 1 {
		t.Fatalf("expected exactly one fired alert, got %d", got)
	}
}

func TestSnapshotRecoveryAcrossRestart(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alerts.json")
	current := time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	first := New(time.Hour, NewFileStore(path), now, discardLogger())
	if !first.TryAlert("GET /api/orders") {
		t.Fatalf("expected alert to fire")
	}

	second := New(time.Hour, NewFileStore(path), now, discardLogger())
	if second.Count() != 1 {
		t.Fatalf("expected recovered record, got %d", second.Count())
	}
	if second.TryAlert("GET /api/orders") {
		t.Fatalf("expected recovered state to suppress the alert")
	}
}

func TestCorruptSnapshotStartsEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alerts.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt snapshot: %v", err)
	}

	current := time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC)
	d := New(time.Hour, NewFileStore(path), func() time.Time { return current }, discardLogger())
	if d.Count() != 0 {
		t.Fatalf("expected empty state after corrupt snapshot, got %d", d.Count())
	}
	if !d.TryAlert("GET /api/orders") {
		t.Fatalf("expected alerts to work after recovery")
	}
}

func TestFileStoreLoadMissingAndEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "absent.json"))
	records, err := store.Load()
	if err != nil {
		t.Fatalf("load missing snapshot: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty map for missing file")
	}

	emptyPath := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(emptyPath, nil, 0o644); err != nil {
		t.Fatalf("write empty file: %v", err)
	}
	records, err = NewFileStore(emptyPath).Load()
	if err != nil {
		t.Fatalf("load empty snapshot: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty map for empty file")
	}
}

func TestFileStoreLoadCorruptReturnsSentinel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alerts.json")
	if err := os.WriteFile(path, []byte("[1,2,3"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := NewFileStore(path).Load(); !errors.Is(err, ErrCorruptSnapshot) {
		t.Fatalf("expected ErrCorruptSnapshot, got %v", err)
	}
}

func TestFileStoreSaveWritesVersionedDocumentAtomically(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "alerts.json")
	store := NewFileStore(path)
	updated := time.Date(2026, 5, 11, 8, 30, 0, 0, time.UTC)

	err := store.Save(map[string]Record{
		"GET /api/orders": {LastAlertAt: updated, AlertCount: 3},
	}, updated)
	if err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file must not remain after save")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var doc struct {
		Version   int       `json:"version"`
		UpdatedAt time.Time `json:"updated_at"`
		Alerts    map[string]struct {
			LastAlertAt time.Time `json:"last_alert_at"`
			AlertCount  int       `json:"alert_count"`
		} `json:"alerts"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("snapshot is not valid JSON: %v", err)
	}
	if doc.Version != 1 {
		t.Fatalf("unexpected schema version %d", doc.Version)
	}
	if !doc.UpdatedAt.Equal(updated) {
		t.Fatalf("unexpected updated_at %v", doc.UpdatedAt)
	}
	entry, ok := doc.Alerts["GET /api/orders"]
	if !ok || entry.AlertCount != 3 {
		t.Fatalf("unexpected alerts payload: %+v", doc.Alerts)
	}
}

type failingStore struct {
	saves atomic.Int32
}

func (s *failingStore) Load() (map[string]Record, error) {
	return map[string]Record{}, nil
}

func (s *failingStore) Save(map[string]Record, time.Time) error {
	s.saves.Add(1)
	return errors.New("disk full")
}

func TestPersistFailureKeepsMemoryAuthoritative(t *testing.T) {
	t.Parallel()

	store := &failingStore{}
	current := time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC)
	d := New(time.Hour, store, func() time.Time { return current }, discardLogger())

	if !d.TryAlert("GET /api/orders") {
		t.Fatalf("expected alert to fire despite persistence failure")
	}
	if d.TryAlert("GET /api/orders") {
		t.Fatalf("expected in-memory suppression despite persistence failure")
	}
	if store.saves.Load() == 0 {
		t.Fatalf("expected a save attempt")
	}
}

func TestResetClearsStateAndSnapshot(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alerts.json")
	current := time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC)
	now := func() time.Time { return current }

	d := New(time.Hour, NewFileStore(path), now, discardLogger())
	d.TryAlert("GET /api/orders")
	d.Reset()

	if d.Count() != 0 {
		t.Fatalf("expected empty state after reset")
	}
	if !d.TryAlert("GET /api/orders") {
		t.Fatalf("expected alert to fire after reset")
	}

	recovered := New(time.Hour, NewFileStore(path), now, discardLogger())
	if recovered.Count() != 1 {
		t.Fatalf("expected snapshot to reflect post-reset state, got %d", recovered.Count())
	}
}
