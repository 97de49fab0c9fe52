package session

import "sync"

// MemoryStorage keeps the session in a process-local variable. Useful for
// tests and for short-lived tools that re-authenticate every run.
type MemoryStorage struct {
	mu  sync.Mutex
	sav *Session
}

// NewMemoryStorage returns an empty in-memory Storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Load() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sav == nil {
		return &Session{}, nil
	}
	cp := *m.sav
	return &cp, nil
}

func (m *MemoryStorage) Save(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sav = &cp
	return nil
}

func (m *MemoryStorage) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sav = nil
	return nil
}
