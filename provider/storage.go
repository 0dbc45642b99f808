package provider

import (
	"context"
	"sync"
)

// MemoryStorage keeps one session in process memory.
type MemoryStorage struct {
	mu   sync.Mutex
	sess *Session
}

// Load returns a copy of the stored session.
func (m *MemoryStorage) Load(context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.Clone(), nil
}

// Save replaces the stored session.
func (m *MemoryStorage) Save(_ context.Context, sess *Session) error {
	m.mu.Lock()
	m.sess = sess.Clone()
	m.mu.Unlock()
	return nil
}

// Delete forgets the stored session.
func (m *MemoryStorage) Delete(context.Context) error {
	m.mu.Lock()
	m.sess = nil
	m.mu.Unlock()
	return nil
}
