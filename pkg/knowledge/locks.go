package knowledge

import (
	"errors"
	"sync"
)

// ErrLockQueueFull is returned when too many writers are already
// waiting on the same document.
var ErrLockQueueFull = errors.New("document lock queue full")

// maxLockWaiters bounds how many callers may queue behind a document's
// lock before further acquisitions fail fast.
const maxLockWaiters = 8

// lockTable hands out per-document exclusive access. Each document gets
// a semaphore channel whose capacity bounds the holder plus waiters, so
// a stuck writer cannot accumulate unbounded blocked callers.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*docLock
	cap   int
}

type docLock struct {
	sem     chan struct{}
	pending int
	mu      sync.Mutex
}

func newLockTable(waiters int) *lockTable {
	if waiters < 1 {
		waiters = 1
	}
	return &lockTable{
		locks: make(map[string]*docLock),
		cap:   waiters,
	}
}

func (t *lockTable) get(name string) *docLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	lock, ok := t.locks[name]
	if !ok {
		lock = &docLock{sem: make(chan struct{}, 1)}
		t.locks[name] = lock
	}
	return lock
}

// acquire blocks until the document is exclusively held and returns a
// release func. It fails with ErrLockQueueFull when the waiter bound is
// already reached.
func (t *lockTable) acquire(name string) (func(), error) {
	lock := t.get(name)

	lock.mu.Lock()
	if lock.pending >= t.cap {
		lock.mu.Unlock()
		return nil, ErrLockQueueFull
	}
	lock.pending++
	lock.mu.Unlock()

	lock.sem <- struct{}{}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		<-lock.sem
		lock.mu.Lock()
		lock.pending--
		lock.mu.Unlock()
	}, nil
}
