package changelog

import (
	"fmt"
	"slices"
	"sync"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
)

// OpenFunc opens a store at path.
type OpenFunc func(path string) (Store, error)

var backends = struct {
	mu   sync.RWMutex
	open map[string]OpenFunc
}{
	open: map[string]OpenFunc{
		BackendMemory: func(string) (Store, error) {
			return NewMemoryStore(), nil
		},
		BackendSQLite: func(path string) (Store, error) {
			if path == "" {
				path = ":memory:"
			}
			s, err := NewSQLiteStore(path)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		BackendPebble: func(path string) (Store, error) {
			s, err := NewPebbleStore(path)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	},
}

// RegisterBackend makes a store implementation available to Open under
// name. Registering a name twice replaces the earlier backend.
// Panics if name is empty or open is nil.
func RegisterBackend(name string, open OpenFunc) {
	if name == "" || open == nil {
		panic("changelog: RegisterBackend needs a name and an open func")
	}
	backends.mu.Lock()
	defer backends.mu.Unlock()
	backends.open[name] = open
}

// Backends lists the backend names accepted by Open, sorted.
func Backends() []string {
	backends.mu.RLock()
	defer backends.mu.RUnlock()
	names := make([]string, 0, len(backends.open))
	for name := range backends.open {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Open opens a store by backend name. path is a database file for
// sqlite and a directory for pebble; memory ignores it.
func Open(backend, path string) (Store, error) {
	backends.mu.RLock()
	open, ok := backends.open[backend]
	backends.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
	return open(path)
}
