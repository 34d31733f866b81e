package service

import (
	"sync"

	"github.com/google/uuid"
)

// deviceLocks serializes the read-decide-write sequence per trigger device
type deviceLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*deviceLock
}

type deviceLock struct {
	mu   sync.Mutex
	refs int
}

func newDeviceLocks() *deviceLocks {
	return &deviceLocks{locks: make(map[uuid.UUID]*deviceLock)}
}

// lock blocks until the device is free and returns the matching unlock
func (d *deviceLocks) lock(id uuid.UUID) func() {
	d.mu.Lock()
	l, ok := d.locks[id]
	if !ok {
		l = &deviceLock{}
		d.locks[id] = l
	}
	l.refs++
	d.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, id)
		}
		d.mu.Unlock()
	}
}

func (d *deviceLocks) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.locks)
}
