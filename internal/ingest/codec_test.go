package ingest

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"
	"time"

	"perfmonitor/profile"
)

func encodedProfile(t *testing.T, id, key string) []byte {
	t.Helper()
	p := profile.Profile{
		ID:           id,
		OperationKey: key,
		Duration:     1204 * time.Millisecond,
		CapturedAt:   time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
		Payload:      profile.TextPayload{Primary: "<div>flame</div>", Secondary: "2.100 handler"},
	}
	raw, err := p.Encode()
	if err != nil {
		t.Fatalf("encode profile: %v", err)
	}
	return raw
}

func gzipped(t *testing.T, raw []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(raw); err != nil {
		t.Fatalf("gzip payload: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close gzip writer: %v", err)
	}
	return buf.Bytes()
}

func TestDecodePayloadPlain(t *testing.T) {
	t.Parallel()

	p, err := decodePayload(encodedProfile(t, "prof-1", "GET /api/users"), false)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.OperationKey != "GET /api/users" || p.Duration != 1204*time.Millisecond {
		t.Fatalf("unexpected profile %+v", p)
	}
}

func TestDecodePayloadGzipAnnounced(t *testing.T) {
	t.Parallel()

	p, err := decodePayload(gzipped(t, encodedProfile(t, "prof-1", "GET /api/users")), true)
	if err != nil {
		t.Fatalf("decode gzip payload: %v", err)
	}
	if p.ID != "prof-1" {
		t.Fatalf("unexpected profile id %q", p.ID)
	}
}

func TestDecodePayloadGzipSniffed(t *testing.T) {
	t.Parallel()

	// No announcement: the magic bytes alone must trigger inflation.
	p, err := decodePayload(gzipped(t, encodedProfile(t, "prof-2", "POST /api/orders")), false)
	if err != nil {
		t.Fatalf("decode sniffed gzip payload: %v", err)
	}
	if p.OperationKey != "POST /api/orders" {
		t.Fatalf("unexpected operation key %q", p.OperationKey)
	}
}

func TestDecodePayloadRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "empty", payload: nil},
		{name: "whitespace", payload: []byte("   \n")},
		{name: "garbage", payload: []byte("not json")},
		{name: "truncated gzip", payload: []byte{0x1f, 0x8b, 0x01}},
		{name: "valid json, invalid profile", payload: []byte(`{"id":"","operation_key":""}`)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := decodePayload(tt.payload, false); err == nil {
				t.Fatalf("expected decode error")
			}
		})
	}
}

func TestPooledBuffersSurviveReuse(t *testing.T) {
	t.Parallel()

	for i := 0; i < 8; i++ {
		id := "prof-" + strings.Repeat("a", i+1)
		p, err := decodePayload(gzipped(t, encodedProfile(t, id, "GET /api/users")), true)
		if err != nil {
			t.Fatalf("decode round %d: %v", i, err)
		}
		if p.ID != id {
			t.Fatalf("round %d returned stale data: %q", i, p.ID)
		}
	}
}

func TestReleaseBufferDropsOversized(t *testing.T) {
	t.Parallel()

	oversized := bytes.NewBuffer(make([]byte, 0, maxPooledBufferCapacity+1))
	releaseBuffer(oversized)

	pooled := acquireBuffer()
	defer releaseBuffer(pooled)
	if pooled.Cap() > maxPooledBufferCapacity {
		t.Fatalf("oversized buffer returned to pool, cap=%d", pooled.Cap())
	}
}
