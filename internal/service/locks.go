package service

import (
	"hash/fnv"
	"sync"
)

const lockStripes = 64

// stripedLock serializes work per key with a fixed set of mutexes. Two keys
// may share a stripe, so callers must never hold two keys at once.
type stripedLock struct {
	stripes [lockStripes]sync.Mutex
}

func (l *stripedLock) lock(key string) (unlock func()) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &l.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
