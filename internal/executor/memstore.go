package executor

import "sync"

// MemStore backs memory artifacts for the duration of one invocation.
// Memory artifacts carry text only, typically captured exit statuses or
// small values threaded between actions.
type MemStore struct {
	mu    sync.Mutex
	files map[string]string
}

// NewMemStore returns an empty memory store.
func NewMemStore() *MemStore {
	return &MemStore{files: make(map[string]string)}
}

// Write replaces the contents stored under a logical path.
func (m *MemStore) Write(path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = content
}

// Read returns the contents stored under a logical path.
func (m *MemStore) Read(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.files[path]
	return content, ok
}
