package e2e

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestRelaySmokeHealthReadyAndIngest(t *testing.T) {
	port := freePort(t)
	reportDir := t.TempDir()
	configPath := writeRelayConfig(t, relayConfigBase(port, reportDir))

	service := newRelayService(t, configPath)
	cancel, done := runService(t, service)
	defer cancel()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitReady(t, port)

	response, err := http.Get(baseURL + "/healthz")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected health 200, got %d", response.StatusCode)
	}
	_ = response.Body.Close()

	if status := postProfileDoc(t, baseURL, encodedProfileDoc(t, "prof-smoke-1", "GET /api/users")); status != http.StatusAccepted {
		t.Fatalf("expected ingest 202, got %d", status)
	}
	waitFor(t, 4*time.Second, func() bool {
		return service.Monitor().Stats().Delivered >= 1
	})
	waitFor(t, 4*time.Second, func() bool {
		return countReportFiles(t, reportDir) >= 1
	})

	// A second capture of the same operation inside the alert window is
	// accepted but suppressed: no extra report may appear.
	if status := postProfileDoc(t, baseURL, encodedProfileDoc(t, "prof-smoke-2", "GET /api/users")); status != http.StatusAccepted {
		t.Fatalf("expected suppressed ingest 202, got %d", status)
	}
	waitFor(t, 4*time.Second, func() bool {
		return service.Monitor().Stats().Suppressed >= 1
	})
	if got := countReportFiles(t, reportDir); got != 1 {
		t.Fatalf("suppressed capture must not write another report, got %d files", got)
	}
	if got := service.Monitor().AlertCount("GET /api/users"); got != 1 {
		t.Fatalf("expected one recorded alert, got %d", got)
	}

	response, err = http.Post(baseURL+"/v1/profiles", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("malformed ingest request: %v", err)
	}
	_, _ = io.ReadAll(response.Body)
	_ = response.Body.Close()
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected malformed ingest 400, got %d", response.StatusCode)
	}

	// Structurally valid JSON that fails profile validation is rejected
	// as a client fault, not a transient sink failure.
	response, err = http.Post(baseURL+"/v1/profiles", "application/json", strings.NewReader(`{"operation_key":"GET /api/users"}`))
	if err != nil {
		t.Fatalf("invalid profile request: %v", err)
	}
	_, _ = io.ReadAll(response.Body)
	_ = response.Body.Close()
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected invalid profile 400, got %d", response.StatusCode)
	}

	cancel()
	waitServiceStop(t, done)
}
