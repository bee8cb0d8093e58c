// Package ingest accepts pre-captured profiles over HTTP and NATS for
// the relay service. Submitted documents are decoded, validated, and
// handed to a sink; the sender already applied gating and thresholds.
package ingest

import (
	"io"
	"net/http"
	"strings"

	"perfmonitor/internal/permanent"
	"perfmonitor/profile"
)

// ProfileSink receives decoded profiles from the ingest interfaces.
// Params: decoded profile.
// Returns: rejection error when the pipeline cannot take it.
type ProfileSink interface {
	Submit(p profile.Profile) error
}

// HTTPHandler decodes posted profile documents and forwards them.
// Params: sink for accepted profiles and max body size cap.
// Returns: handler for the profile intake endpoint.
type HTTPHandler struct {
	sink        ProfileSink
	maxBodySize int64
}

// NewHTTPHandler creates the profile intake handler.
// Params: sink and max request body size in bytes.
// Returns: configured handler.
func NewHTTPHandler(sink ProfileSink, maxBodySize int64) *HTTPHandler {
	return &HTTPHandler{sink: sink, maxBodySize: maxBodySize}
}

// ServeHTTP handles one profile submission.
// Params: response writer and request carrying one encoded profile.
// Returns: 202 accepted, 405/400 on bad or permanently rejected
// requests, 503 on transient sink rejection.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	gzipped := strings.EqualFold(request.Header.Get("Content-Encoding"), "gzip")
	p, err := decodePayload(body, gzipped)
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.sink.Submit(p); err != nil {
		if permanent.Is(err) {
			writer.WriteHeader(http.StatusBadRequest)
			return
		}
		writer.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writer.WriteHeader(http.StatusAccepted)
}
