package dedup

import (
	"testing"
	"time"

	"perfmonitor/test/testutil"
)

func TestKVStoreRoundTripIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skip integration test in short mode")
	}

	url, stopNATS := testutil.StartLocalNATSServer(t)
	defer stopNATS()

	store, err := NewKVStore([]string{url}, "perf_alerts_test")
	if err != nil {
		t.Fatalf("new kv store: %v", err)
	}
	defer store.Close()

	empty, err := store.Load()
	if err != nil {
		t.Fatalf("load empty bucket: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty records, got %#v", empty)
	}

	firedAt := time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	records := map[string]Record{
		"GET /api/users": {LastAlertAt: firedAt, AlertCount: 3},
	}
	if err := store.Save(records, firedAt); err != nil {
		t.Fatalf("save: %v", err)
	}

	other, err := NewKVStore([]string{url}, "perf_alerts_test")
	if err != nil {
		t.Fatalf("second kv store: %v", err)
	}
	defer other.Close()

	loaded, err := other.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got, ok := loaded["GET /api/users"]
	if !ok || !got.LastAlertAt.Equal(firedAt) || got.AlertCount != 3 {
		t.Fatalf("unexpected loaded records %#v", loaded)
	}
}
