package service

import "sync"

// keyedLocks is a registry of per-key mutexes. Node locks use TryLock so a
// contended miner fails fast instead of queueing; claim locks use Lock so
// losers observe the winner's committed state.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedLocks) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

// TryAcquire returns a release func, or false if the key is contended.
func (k *keyedLocks) TryAcquire(key string) (func(), bool) {
	m := k.get(key)
	if !m.TryLock() {
		return nil, false
	}
	return m.Unlock, true
}

// Acquire blocks until the key is held and returns a release func.
func (k *keyedLocks) Acquire(key string) func() {
	m := k.get(key)
	m.Lock()
	return m.Unlock
}
