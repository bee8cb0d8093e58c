package ingest

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"sync"

	"perfmonitor/profile"
)

// maxPooledBufferCapacity drops oversized scratch buffers instead of
// pooling them, so one huge payload does not pin memory forever.
const maxPooledBufferCapacity = 1 << 20

var (
	bufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 4096))
		},
	}
	gzipReaderPool sync.Pool
)

// decodePayload decodes one submitted profile document, transparently
// inflating gzip bodies. Compression is honored both when announced by
// the caller and when detected from the magic bytes.
// Params: raw body bytes and whether the transport announced gzip.
// Returns: validated profile or decode error.
func decodePayload(raw []byte, announcedGzip bool) (profile.Profile, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		return profile.Profile{}, errors.New("empty payload")
	}
	if announcedGzip || isGzip(payload) {
		inflated, err := inflate(payload)
		if err != nil {
			return profile.Profile{}, err
		}
		payload = inflated
	}
	return profile.Decode(payload)
}

// inflate decompresses one gzip payload with pooled readers.
// Params: gzip bytes.
// Returns: decompressed copy or inflate error.
func inflate(raw []byte) ([]byte, error) {
	reader, _ := gzipReaderPool.Get().(*gzip.Reader)
	if reader == nil {
		fresh, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("open gzip payload: %w", err)
		}
		reader = fresh
	} else if err := reader.Reset(bytes.NewReader(raw)); err != nil {
		gzipReaderPool.Put(reader)
		return nil, fmt.Errorf("open gzip payload: %w", err)
	}
	defer func() {
		_ = reader.Close()
		gzipReaderPool.Put(reader)
	}()

	buf := acquireBuffer()
	defer releaseBuffer(buf)
	if _, err := buf.ReadFrom(reader); err != nil {
		return nil, fmt.Errorf("inflate payload: %w", err)
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// isGzip checks the two-byte gzip magic prefix.
func isGzip(payload []byte) bool {
	return len(payload) >= 2 && payload[0] == 0x1f && payload[1] == 0x8b
}

func acquireBuffer() *bytes.Buffer {
	return bufferPool.Get().(*bytes.Buffer)
}

func releaseBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledBufferCapacity {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}
