package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// L2 is a NATS JetStream KV bucket. Entry expiry is a bucket setting, so the
// per-call ttl is ignored.
type L2 struct {
	kv jetstream.KeyValue
}

// NewL2 wraps an existing bucket.
func NewL2(kv jetstream.KeyValue) *L2 {
	return &L2{kv: kv}
}

// OpenL2 creates or updates the bucket and returns a cache over it.
func OpenL2(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (*L2, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "conductor conversation state cache",
		TTL:         ttl,
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("open kv bucket %s: %w", bucket, err)
	}
	return NewL2(kv), nil
}

func (l *L2) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := l.kv.Get(ctx, kvKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value(), true, nil
}

func (l *L2) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := l.kv.Put(ctx, kvKey(key), value)
	return err
}

func (l *L2) Delete(ctx context.Context, key string) error {
	err := l.kv.Delete(ctx, kvKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

// kvKey maps characters KV keys reject to '_'. Task ids from the external
// service are not guaranteed to be UUIDs.
func kvKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '/', r == '=', r == '.':
			return r
		}
		return '_'
	}, key)
}
