package checkpoint

import "sync"

// threadLocks serializes turn commits and pruning per thread id.
type threadLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newThreadLocks() *threadLocks {
	return &threadLocks{locks: make(map[string]*sync.Mutex)}
}

func (t *threadLocks) lock(threadID string) func() {
	t.mu.Lock()
	m, ok := t.locks[threadID]
	if !ok {
		m = &sync.Mutex{}
		t.locks[threadID] = m
	}
	t.mu.Unlock()

	m.Lock()
	return m.Unlock
}
