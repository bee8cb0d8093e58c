package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type webhookEnvelope struct {
	ID           string         `json:"id"`
	OperationKey string         `json:"operation_key"`
	DurationSec  float64        `json:"duration_sec"`
	CapturedAt   time.Time      `json:"captured_at"`
	Message      string         `json:"message"`
	Metadata     map[string]any `json:"metadata"`
	Report       string         `json:"report"`
	Auth         string         `json:"-"`
	ContentType  string         `json:"-"`
}

type webhookSinkLog struct {
	mu    sync.Mutex
	items []webhookEnvelope
}

func (l *webhookSinkLog) add(item webhookEnvelope) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, item)
}

func (l *webhookSinkLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

func (l *webhookSinkLog) at(index int) (webhookEnvelope, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.items) {
		return webhookEnvelope{}, false
	}
	return l.items[index], true
}

func TestWebhookAlertDeliveryE2E(t *testing.T) {
	port := freePort(t)

	logs := &webhookSinkLog{}
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		defer r.Body.Close()

		var envelope webhookEnvelope
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		envelope.Auth = r.Header.Get("X-Auth-Token")
		envelope.ContentType = r.Header.Get("Content-Type")
		logs.add(envelope)
		w.WriteHeader(http.StatusOK)
	}))
	defer sink.Close()

	reportDir := t.TempDir()
	configBody := relayConfigBase(port, reportDir) + fmt.Sprintf(`
[[channel]]
type = "webhook"
settings = { url = "%s", headers = { "X-Auth-Token" = "hook-secret" }, timeout_sec = 2 }
`, sink.URL)
	configPath := writeRelayConfig(t, configBody)

	service := newRelayService(t, configPath)
	cancel, done := runService(t, service)
	defer cancel()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitReady(t, port)

	if status := postProfileDoc(t, baseURL, encodedProfileDoc(t, "prof-hook-1", "GET /api/users")); status != http.StatusAccepted {
		t.Fatalf("expected ingest 202, got %d", status)
	}

	waitFor(t, 4*time.Second, func() bool {
		return logs.count() >= 1
	})

	envelope, ok := logs.at(0)
	if !ok {
		t.Fatalf("missing webhook envelope")
	}
	if envelope.ID != "prof-hook-1" {
		t.Fatalf("unexpected envelope id: %q", envelope.ID)
	}
	if envelope.OperationKey != "GET /api/users" {
		t.Fatalf("unexpected envelope operation key: %q", envelope.OperationKey)
	}
	if envelope.DurationSec < 1.203 || envelope.DurationSec > 1.205 {
		t.Fatalf("unexpected envelope duration: %v", envelope.DurationSec)
	}
	if envelope.CapturedAt.IsZero() {
		t.Fatalf("envelope captured_at must be set")
	}
	if !strings.Contains(envelope.Message, "GET /api/users") || !strings.Contains(envelope.Message, "1.204s") {
		t.Fatalf("unexpected envelope message: %q", envelope.Message)
	}
	if got := envelope.Metadata["path"]; got != "/api/users" {
		t.Fatalf("unexpected envelope metadata path: %v", got)
	}
	if !strings.Contains(envelope.Report, "2.100 handler") {
		t.Fatalf("envelope report must carry the profile body, got %q", envelope.Report)
	}
	if envelope.Auth != "hook-secret" {
		t.Fatalf("unexpected webhook auth header: %q", envelope.Auth)
	}
	if envelope.ContentType != "application/json" {
		t.Fatalf("unexpected webhook content type: %q", envelope.ContentType)
	}

	// The local sink runs alongside the webhook and still writes its file.
	waitFor(t, 4*time.Second, func() bool {
		return countReportFiles(t, reportDir) >= 1
	})

	cancel()
	waitServiceStop(t, done)
}

func TestWebhookFailureDoesNotBlockLocalReportE2E(t *testing.T) {
	port := freePort(t)

	var (
		mu    sync.Mutex
		calls int
	)
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("temporary failure"))
	}))
	defer sink.Close()

	reportDir := t.TempDir()
	configBody := relayConfigBase(port, reportDir) + fmt.Sprintf(`
[[channel]]
type = "webhook"
settings = { url = "%s", timeout_sec = 2 }
`, sink.URL)
	configPath := writeRelayConfig(t, configBody)

	service := newRelayService(t, configPath)
	cancel, done := runService(t, service)
	defer cancel()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitReady(t, port)

	if status := postProfileDoc(t, baseURL, encodedProfileDoc(t, "prof-hook-down-1", "GET /api/orders")); status != http.StatusAccepted {
		t.Fatalf("expected ingest 202, got %d", status)
	}

	// The failing webhook must not sink the task: the local channel
	// succeeds, so the alert still counts as delivered.
	waitFor(t, 4*time.Second, func() bool {
		return service.Monitor().Stats().Delivered >= 1
	})
	waitFor(t, 4*time.Second, func() bool {
		return countReportFiles(t, reportDir) >= 1
	})

	mu.Lock()
	finalCalls := calls
	mu.Unlock()
	if finalCalls < 1 {
		t.Fatalf("webhook endpoint was never called")
	}
	if got := service.Monitor().Stats().Failed; got != 0 {
		t.Fatalf("partial channel failure must not fail the task, got %d failed tasks", got)
	}

	cancel()
	waitServiceStop(t, done)
}
