// Package storage keeps the latest watch update of each Haystack point in a
// NATS KV bucket.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is the KV bucket holding point updates.
const DefaultBucket = "HAYSTACK_POINTS"

// Point is one row of a watch response, flattened for consumers that do not
// speak Zinc.
type Point struct {
	ID        string            `json:"id"`
	Dis       string            `json:"dis,omitempty"`
	Values    map[string]string `json:"values"`
	Kinds     map[string]string `json:"kinds,omitempty"`
	WatchID   string            `json:"watch_id,omitempty"`
	Seq       uint64            `json:"seq"`
	Timestamp time.Time         `json:"timestamp"`
	MessageID string            `json:"message_id"`
}

// Bucket is the subset of jetstream.KeyValue the store uses.
type Bucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Keys(ctx context.Context, opts ...jetstream.WatchOpt) ([]string, error)
	Delete(ctx context.Context, key string, opts ...jetstream.KVDeleteOpt) error
}

// Store provides point storage backed by NATS KV.
type Store struct {
	bucket Bucket
}

// NewStore creates a Store on the named bucket, creating the bucket if it
// doesn't exist.
func NewStore(ctx context.Context, js jetstream.JetStream, name string) (*Store, error) {
	if name == "" {
		name = DefaultBucket
	}
	kv, err := getOrCreateBucket(ctx, js, name)
	if err != nil {
		return nil, fmt.Errorf("create points bucket: %w", err)
	}
	return &Store{bucket: kv}, nil
}

// NewStoreWithBucket wraps an existing bucket.
func NewStoreWithBucket(b Bucket) *Store {
	return &Store{bucket: b}
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Haystack %s storage", strings.ToLower(name)),
		History:     5,
	})
}

// Key turns a point id into a KV key and NATS subject token. Characters
// outside [A-Za-z0-9_-] become underscores.
func Key(id string) string {
	id = strings.TrimPrefix(id, "@")
	if id == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Put stores p as the latest update of its point.
func (s *Store) Put(ctx context.Context, p *Point) error {
	if p.ID == "" {
		return fmt.Errorf("point id is required")
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal point: %w", err)
	}

	if _, err := s.bucket.Put(ctx, Key(p.ID), data); err != nil {
		return fmt.Errorf("store point: %w", err)
	}
	return nil
}

// Get retrieves the latest update of a point.
func (s *Store) Get(ctx context.Context, id string) (*Point, error) {
	entry, err := s.bucket.Get(ctx, Key(id))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get point: %w", err)
	}

	var p Point
	if err := json.Unmarshal(entry.Value(), &p); err != nil {
		return nil, fmt.Errorf("unmarshal point: %w", err)
	}
	return &p, nil
}

// List returns every stored point ordered by id.
func (s *Store) List(ctx context.Context) ([]*Point, error) {
	keys, err := s.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list point keys: %w", err)
	}

	points := make([]*Point, 0, len(keys))
	for _, key := range keys {
		entry, err := s.bucket.Get(ctx, key)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("get point %s: %w", key, err)
		}
		var p Point
		if err := json.Unmarshal(entry.Value(), &p); err != nil {
			continue
		}
		points = append(points, &p)
	}

	sort.Slice(points, func(i, j int) bool {
		return points[i].ID < points[j].ID
	})
	return points, nil
}

// Delete removes a point.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.bucket.Delete(ctx, Key(id)); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete point: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted)
}
