package lead

import (
	"hash/fnv"
	"sync"
)

// KeyLock serialises work per dedup key inside one process using a fixed set
// of striped mutexes. Two keys may share a stripe; that only costs throughput.
type KeyLock struct {
	stripes []sync.Mutex
}

// NewKeyLock creates a lock with n stripes (minimum 1).
func NewKeyLock(n int) *KeyLock {
	if n < 1 {
		n = 1
	}
	return &KeyLock{stripes: make([]sync.Mutex, n)}
}

// Lock acquires the stripe for key and returns its unlock function.
func (l *KeyLock) Lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	m.Lock()
	return m.Unlock
}
