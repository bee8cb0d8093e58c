package monitor

import (
	"fmt"
	"net/http"
	"strings"

	"perfmonitor/profile"
)

const (
	// maxMetadataValueLength caps captured header and query values.
	maxMetadataValueLength = 500
	// maxCapturedEntries caps entries per captured metadata table.
	maxCapturedEntries = 50
	// truncatedMarker flags a metadata table cut at maxCapturedEntries.
	truncatedMarker = "_truncated"
)

// KeyFunc replaces the built-in "<METHOD> <path>" operation key builder.
// Params: incoming request.
// Returns: operation key for the capture.
type KeyFunc func(*http.Request) string

// MetadataFunc replaces the built-in request metadata extraction
// entirely; the built-in header and query capture is skipped.
// Params: incoming request.
// Returns: metadata attached to the alert.
type MetadataFunc func(*http.Request) profile.Metadata

// WithKeyFunc overrides how request captures are keyed.
// Params: key builder.
// Returns: monitor option.
func WithKeyFunc(fn KeyFunc) Option {
	return func(o *options) {
		o.keyFunc = fn
	}
}

// WithMetadataFunc overrides how request metadata is extracted.
// Params: metadata extractor.
// Returns: monitor option.
func WithMetadataFunc(fn MetadataFunc) Option {
	return func(o *options) {
		o.metadataFunc = fn
	}
}

// Middleware instruments an HTTP handler. Each request becomes one
// capture keyed "<METHOD> <path>"; request context is attached to the
// alert when the request turns out slow. Request bodies are never read
// here, so handlers observe an untouched request, and a panicking key
// or metadata override degrades the capture instead of the response.
// Params: next handler in the chain.
// Returns: wrapped handler.
func (m *Monitor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := m.BeginCapture(m.operationKey(r))
		if !c.Active() {
			next.ServeHTTP(w, r)
			return
		}
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			c.End(m.captureMetadata(r, recorder.status))
		}()
		next.ServeHTTP(recorder, r)
	})
}

// operationKey applies the configured key override, falling back to the
// default key when the override panics.
// Params: incoming request.
// Returns: operation key.
func (m *Monitor) operationKey(r *http.Request) (key string) {
	if m.keyFunc == nil {
		return requestKey(r)
	}
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Warn("request key override panicked, using default key",
				"panic", fmt.Sprint(rec))
			key = requestKey(r)
		}
	}()
	return m.keyFunc(r)
}

// captureMetadata applies the configured metadata override, degrading
// to a timing-only alert when extraction panics.
// Params: request and final response status.
// Returns: metadata for the capture, possibly nil.
func (m *Monitor) captureMetadata(r *http.Request, status int) (meta profile.Metadata) {
	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Warn("request metadata extraction panicked, alert keeps timing only",
				"panic", fmt.Sprint(rec))
			meta = nil
		}
	}()
	if m.metadataFunc != nil {
		return m.metadataFunc(r)
	}
	return m.requestMetadata(r, status)
}

// requestKey builds the operation key for one request.
// Params: incoming request.
// Returns: "<METHOD> <path>" with "/" for empty paths.
func requestKey(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	return r.Method + " " + path
}

// requestMetadata collects the request context attached to an alert.
// Params: request and final response status.
// Returns: ordered metadata fields.
func (m *Monitor) requestMetadata(r *http.Request, status int) profile.Metadata {
	meta := profile.Metadata{}
	meta = meta.Set("url", r.URL.String())
	meta = meta.Set("path", r.URL.Path)
	meta = meta.Set("method", r.Method)

	if query := flattenValues(r.URL.Query()); len(query) > 0 {
		meta = meta.Set("query_params", query)
	}
	if !m.cfg.DisableHeaderCapture {
		if headers := m.capturedHeaders(r); len(headers) > 0 {
			meta = meta.Set("request_headers", headers)
		}
	}
	meta = meta.Set("remote_addr", r.RemoteAddr)
	if agent := r.UserAgent(); agent != "" {
		meta = meta.Set("user_agent", truncateValue(agent))
	}
	meta = meta.Set("status", status)
	return meta
}

// capturedHeaders picks whitelisted request headers.
// Params: incoming request.
// Returns: header name to truncated value table.
func (m *Monitor) capturedHeaders(r *http.Request) map[string]string {
	headers := make(map[string]string, len(m.cfg.IncludedHeaders))
	for _, name := range m.cfg.IncludedHeaders {
		if len(headers) >= maxCapturedEntries {
			headers[truncatedMarker] = "true"
			break
		}
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if value := r.Header.Get(trimmed); value != "" {
			headers[http.CanonicalHeaderKey(trimmed)] = truncateValue(value)
		}
	}
	return headers
}

// flattenValues converts multi-value tables into one value per key.
// Params: parsed query or form values.
// Returns: key to comma-joined truncated value table.
func flattenValues(values map[string][]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	flattened := make(map[string]string, len(values))
	for key, list := range values {
		if len(flattened) >= maxCapturedEntries {
			flattened[truncatedMarker] = "true"
			break
		}
		flattened[key] = truncateValue(strings.Join(list, ", "))
	}
	return flattened
}

// truncateValue caps one captured value at maxMetadataValueLength.
// Params: raw value.
// Returns: value cut at the limit with a trailing ellipsis.
func truncateValue(value string) string {
	if len(value) <= maxMetadataValueLength {
		return value
	}
	return value[:maxMetadataValueLength] + "..."
}

// statusRecorder captures the response status for alert metadata.
// Params: wrapped response writer.
// Returns: recorder defaulting to 200 until WriteHeader runs.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

// WriteHeader records the first status code written.
// Params: response status code.
// Returns: none.
func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

// Write marks the header as written before delegating.
// Params: response body chunk.
// Returns: bytes written and write error.
func (r *statusRecorder) Write(body []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(body)
}

// Unwrap exposes the underlying writer for http.ResponseController.
// Params: none.
// Returns: wrapped response writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
