package fieldresolver

import (
	"context"
	"sync"
)

// Memo caches secondary field lookups for the lifetime of one run.
// Concurrent callers asking for the same handle share a single fetch.
type Memo struct {
	mu      sync.Mutex
	entries map[string]*memoEntry
}

type memoEntry struct {
	once   sync.Once
	fields map[string]string
	err    error
}

// NewMemo creates an empty per-run memo
func NewMemo() *Memo {
	return &Memo{entries: make(map[string]*memoEntry)}
}

// Get returns the memoized fields for handle, calling fetch at most once.
// A failed fetch is remembered with its error, so every caller in the run
// sees the same failure.
func (m *Memo) Get(ctx context.Context, handle string, fetch func(ctx context.Context) (map[string]string, error)) (map[string]string, error) {
	m.mu.Lock()
	e, ok := m.entries[handle]
	if !ok {
		e = &memoEntry{}
		m.entries[handle] = e
	}
	m.mu.Unlock()

	e.once.Do(func() {
		fields, err := fetch(ctx)
		if fields == nil {
			fields = map[string]string{}
		}
		e.fields, e.err = fields, err
	})
	return e.fields, e.err
}

// Len reports how many handles have been looked up
func (m *Memo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
