package commit

import (
	"context"
	"sync"
)

// MemoryLocker is a process-local Locker, used when Redis is not configured.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (m *MemoryLocker) Lock(_ context.Context, sessionID string) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.held[sessionID]; busy {
		return nil, false, nil
	}
	m.held[sessionID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, sessionID)
			m.mu.Unlock()
		})
	}, true, nil
}
