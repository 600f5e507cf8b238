// Package cache implements the cache port and a read-through cache in front
// of the conversation state store.
//
// L1 is an in-process ristretto cache, L2 a NATS JetStream KV bucket shared
// between conductor processes. Tiered combines the two.
package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// L1 is an in-process cache bounded by total value size.
type L1 struct {
	c *ristretto.Cache[string, []byte]
}

// NewL1 creates an L1 cache holding at most maxSizeMB megabytes of values.
func NewL1(maxSizeMB int64) (*L1, error) {
	maxCost := max(maxSizeMB, 1) << 20
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCost / 512 * 10, // states average ~512 bytes
		MaxCost:     maxCost,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &L1{c: c}, nil
}

func (l *L1) Get(_ context.Context, key string) ([]byte, bool, error) {
	val, found := l.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores value. Writes are buffered; call Wait to make them visible
// immediately.
func (l *L1) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	l.c.SetWithTTL(key, value, int64(len(value)), ttl)
	return nil
}

func (l *L1) Delete(_ context.Context, key string) error {
	l.c.Del(key)
	return nil
}

// Wait blocks until buffered writes are applied.
func (l *L1) Wait() { l.c.Wait() }

// HitRatio reports the hit ratio since creation.
func (l *L1) HitRatio() float64 { return l.c.Metrics.Ratio() }

// Close releases the cache goroutines.
func (l *L1) Close() { l.c.Close() }
