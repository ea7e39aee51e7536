package cellstore

import (
	"io"
	"sync"
)

// Registry shares one open engine per location within a process. Embedded
// stores take an exclusive file lock, so a second independent open of the
// same path from a pool connection and a scan connection would block.
type Registry[E io.Closer] struct {
	mu      sync.Mutex
	entries map[string]*sharedEntry[E]
}

type sharedEntry[E io.Closer] struct {
	engine E
	refs   int
}

// NewRegistry returns an empty registry.
func NewRegistry[E io.Closer]() *Registry[E] {
	return &Registry[E]{entries: make(map[string]*sharedEntry[E])}
}

// Acquire returns the engine for key, opening it on first use. The returned
// release function must be called exactly once; the engine is closed when
// the last reference is released.
func (r *Registry[E]) Acquire(key string, open func() (E, error)) (E, func() error, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok {
		engine, err := open()
		if err != nil {
			var zero E
			return zero, nil, err
		}
		entry = &sharedEntry[E]{engine: engine}
		r.entries[key] = entry
	}
	entry.refs++

	var once sync.Once
	release := func() error {
		var err error
		once.Do(func() {
			err = r.release(key, entry)
		})
		return err
	}
	return entry.engine, release, nil
}

func (r *Registry[E]) release(key string, entry *sharedEntry[E]) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.refs--
	if entry.refs > 0 {
		return nil
	}
	if r.entries[key] == entry {
		delete(r.entries, key)
	}
	return entry.engine.Close()
}

// Open reports how many locations currently hold an engine.
func (r *Registry[E]) Open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
