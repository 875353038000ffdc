package group

import (
	"sync"

	"sealroom/internal/domain"
)

// keyedMutex hands out one mutex per group.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[domain.GroupID]*sync.Mutex
}

func (k *keyedMutex) lock(id domain.GroupID) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[domain.GroupID]*sync.Mutex)
	}
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
