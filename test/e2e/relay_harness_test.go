package e2e

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"perfmonitor/internal/app"
	"perfmonitor/profile"
	"perfmonitor/test/testutil"
)

// newRelayService creates a Service from a config file path.
// Params: test handle and absolute config path.
// Returns: initialized service instance.
func newRelayService(t *testing.T, path string) *app.Service {
	t.Helper()

	service, err := app.NewService(path)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

// runService starts the relay in the background with a cancellable context.
// Params: test handle and initialized service.
// Returns: cancel callback and done channel carrying the Run result.
func runService(t *testing.T, service *app.Service) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- service.Run(ctx)
	}()
	return cancel, done
}

// waitReady blocks until /readyz answers 200.
// Params: test handle and relay HTTP port.
// Returns: none; fails the test on timeout.
func waitReady(tb testing.TB, port int) {
	tb.Helper()
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitFor(tb, 8*time.Second, func() bool {
		response, err := http.Get(baseURL + "/readyz")
		if err != nil {
			return false
		}
		defer response.Body.Close()
		return response.StatusCode == http.StatusOK
	})
}

// waitServiceStop asserts Run exits cleanly after cancellation.
// Params: test handle and done channel from runService.
// Returns: none; fails the test on stop timeout or run error.
func waitServiceStop(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case runErr := <-done:
		if runErr != nil {
			t.Fatalf("service run error: %v", runErr)
		}
	case <-time.After(8 * time.Second):
		t.Fatalf("service did not stop after cancel")
	}
}

// waitFor polls a condition until it holds or the deadline passes.
func waitFor(tb testing.TB, timeout time.Duration, check func() bool) {
	tb.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	tb.Fatalf("timeout waiting for condition")
}

// relayConfigBase renders the shared [monitor]/[log]/[server] sections.
// Channel sections are appended by each scenario.
// Params: relay HTTP port and report directory.
// Returns: TOML prefix string.
func relayConfigBase(port int, reportDir string) string {
	return fmt.Sprintf(`[monitor]
threshold_sec = 0.1
alert_window_days = 1
report_dir = %q
channel_timeout_sec = 5
queue_size = 64
workers = 2
shutdown_grace_sec = 2

[log.console]
enabled = true
level = "error"
format = "line"

[server]
listen = "127.0.0.1:%d"
max_body_bytes = 1048576
`, reportDir, port)
}

// writeRelayConfig stores one scenario config under a temp dir.
// Params: test handle and full TOML body.
// Returns: config file path.
func writeRelayConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "perfmonitor.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// encodedProfileDoc builds one wire document for the intake endpoints.
// Params: test handle, profile id, and operation key.
// Returns: JSON transport bytes.
func encodedProfileDoc(tb testing.TB, id, operationKey string) []byte {
	tb.Helper()
	p := profile.Profile{
		ID:           id,
		OperationKey: operationKey,
		Duration:     1204 * time.Millisecond,
		CapturedAt:   time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC),
		Payload: profile.TextPayload{
			Primary:   "<div class=\"profile\">flame graph</div>",
			Secondary: "2.100 handler  app/views.go:42",
		},
		Metadata: profile.Metadata{}.
			Set("path", "/api/users").
			Set("method", "GET"),
	}
	body, err := p.Encode()
	if err != nil {
		tb.Fatalf("encode profile: %v", err)
	}
	return body
}

// postProfileDoc submits one document to the relay intake.
// Params: test handle, relay base URL, and document bytes.
// Returns: HTTP status code.
func postProfileDoc(tb testing.TB, baseURL string, body []byte) int {
	tb.Helper()
	response, err := http.Post(baseURL+"/v1/profiles", "application/json", bytes.NewReader(body))
	if err != nil {
		tb.Fatalf("post profile: %v", err)
	}
	_, _ = io.ReadAll(response.Body)
	_ = response.Body.Close()
	return response.StatusCode
}

// countReportFiles counts rendered HTML reports under a directory.
// Params: test handle and report directory.
// Returns: file count.
func countReportFiles(tb testing.TB, dir string) int {
	tb.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.html"))
	if err != nil {
		tb.Fatalf("glob reports: %v", err)
	}
	return len(matches)
}

// freePort reserves a local TCP port for a relay listener.
func freePort(tb testing.TB) int {
	tb.Helper()
	port, err := testutil.FreePort()
	if err != nil {
		tb.Fatalf("free port: %v", err)
	}
	return port
}

// startLocalNATSServer spawns a throwaway JetStream server.
func startLocalNATSServer(tb testing.TB) (string, func()) {
	return testutil.StartLocalNATSServer(tb)
}
