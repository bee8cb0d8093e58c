package dedup

import (
	"log/slog"
	"sync"
	"time"
)

// Record tracks alert history for one operation key.
// Params: last fired timestamp and monotonic fire counter.
// Returns: persisted dedup decision state.
type Record struct {
	LastAlertAt time.Time
	AlertCount  int
}

// Deduplicator suppresses repeat alerts for one operation key inside a window.
// Params: dedup window, snapshot store, clock, and logger.
// Returns: linearizable alert admission decisions.
type Deduplicator struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	store   Store
	logger  *slog.Logger
	records map[string]Record
}

// New builds a deduplicator, recovering state from the snapshot store.
// Params: dedup window, snapshot store, now function, and logger.
// Returns: ready deduplicator; corrupt or missing snapshots start empty, never fail.
func New(window time.Duration, store Store, now func() time.Time, logger *slog.Logger) *Deduplicator {
	if now == nil {
		now = time.Now
	}
	d := &Deduplicator{
		window:  window,
		now:     now,
		store:   store,
		logger:  logger,
		records: make(map[string]Record),
	}
	if store == nil {
		return d
	}
	records, err := store.Load()
	if err != nil {
		if logger != nil {
			logger.Warn("dedup snapshot unreadable, starting empty", "error", err.Error())
		}
		return d
	}
	if records != nil {
		d.records = records
	}
	return d
}

// TryAlert decides atomically whether an alert for the key may fire now.
// Params: operation key of the captured profile.
// Returns: true when this call is the one allowed to fire; state is
// recorded and persisted inside the same critical section.
func (d *Deduplicator) TryAlert(operationKey string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	record, ok := d.records[operationKey]
	if ok && now.Sub(record.LastAlertAt) <= d.window {
		return false
	}

	record.LastAlertAt = now
	record.AlertCount++
	d.records[operationKey] = record
	d.persistLocked(now)
	return true
}

// Count returns the number of tracked operation keys.
// Params: none.
// Returns: tracked key count.
func (d *Deduplicator) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}

// Record returns the stored record for one operation key.
// Params: operation key.
// Returns: record copy and presence flag.
func (d *Deduplicator) Record(operationKey string) (Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	record, ok := d.records[operationKey]
	return record, ok
}

// Reset clears all dedup state and rewrites the snapshot.
// Params: none.
// Returns: none; snapshot write failures are logged, not returned.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = make(map[string]Record)
	d.persistLocked(d.now())
}

// persistLocked rewrites the snapshot; callers must hold the lock.
// The in-memory map stays authoritative when the write fails.
func (d *Deduplicator) persistLocked(updatedAt time.Time) {
	if d.store == nil {
		return
	}
	if err := d.store.Save(d.records, updatedAt); err != nil && d.logger != nil {
		d.logger.Error("dedup snapshot write failed", "error", err.Error())
	}
}
