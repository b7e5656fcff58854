package upload

import (
	"context"
	"sync"
)

// Sequencer tracks the next chunk index each transfer may write.
//
// Claim atomically checks index against the expected value. Index 0 always
// succeeds and restarts the transfer. On success the expectation moves to
// index+1; otherwise the expected index is returned with ok=false.
type Sequencer interface {
	Claim(ctx context.Context, key string, index int) (expected int, ok bool, err error)
	Clear(ctx context.Context, key string) error
}

// MemorySequencer is a process-local Sequencer, used when Redis is not
// configured and in tests.
type MemorySequencer struct {
	mu   sync.Mutex
	next map[string]int
}

func NewMemorySequencer() *MemorySequencer {
	return &MemorySequencer{next: make(map[string]int)}
}

func (m *MemorySequencer) Claim(_ context.Context, key string, index int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expected := m.next[key]
	if index != 0 && index != expected {
		return expected, false, nil
	}
	m.next[key] = index + 1
	return index, true, nil
}

func (m *MemorySequencer) Clear(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.next, key)
	m.mu.Unlock()
	return nil
}
