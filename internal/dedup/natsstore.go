package dedup

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// snapshotKey is the single KV entry carrying the snapshot document.
const snapshotKey = "snapshot"

// KVStore keeps the snapshot in a JetStream key-value bucket, so relay
// instances without a durable disk keep suppression state across
// restarts and replicas pick up the persisted window on startup.
// Params: owned NATS connection and bound bucket.
// Returns: KV-backed Store implementation.
type KVStore struct {
	nc     *nats.Conn
	bucket nats.KeyValue
}

// NewKVStore connects and binds the snapshot bucket, creating the
// bucket when it does not exist yet.
// Params: NATS server URLs and bucket name.
// Returns: ready store or connection/bucket error.
func NewKVStore(urls []string, bucket string) (*KVStore, error) {
	nc, err := nats.Connect(strings.Join(urls, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if err != nil {
		if !errors.Is(err, nats.ErrBucketNotFound) {
			nc.Close()
			return nil, fmt.Errorf("open snapshot bucket %q: %w", bucket, err)
		}
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create snapshot bucket %q: %w", bucket, err)
		}
	}
	return &KVStore{nc: nc, bucket: kv}, nil
}

// Load reads the snapshot entry from the bucket.
// Params: none.
// Returns: record map; a missing entry yields an empty map,
// unparseable documents yield ErrCorruptSnapshot.
func (s *KVStore) Load() (map[string]Record, error) {
	entry, err := s.bucket.Get(snapshotKey)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return map[string]Record{}, nil
		}
		return nil, fmt.Errorf("read dedup snapshot: %w", err)
	}
	return decodeSnapshot(entry.Value())
}

// Save replaces the snapshot entry.
// Params: full record map and the update timestamp.
// Returns: encode or KV put error.
func (s *KVStore) Save(records map[string]Record, updatedAt time.Time) error {
	encoded, err := encodeSnapshot(records, updatedAt)
	if err != nil {
		return err
	}
	if _, err := s.bucket.Put(snapshotKey, encoded); err != nil {
		return fmt.Errorf("write dedup snapshot: %w", err)
	}
	return nil
}

// Close closes the owned NATS connection.
// Params: none.
// Returns: nil after the connection is closed.
func (s *KVStore) Close() error {
	s.nc.Close()
	return nil
}
