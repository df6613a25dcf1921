package changelog

import (
	"slices"
	"sort"
	"sync"

	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
)

// MemoryStore is an in-memory recovery log for testing.
// Data is lost when the process exits.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[recovery.FlowKey][]memEntry // sorted by epoch
	progress map[recovery.WorkerIndex]recovery.Epoch
	closed   bool
}

type memEntry struct {
	epoch  recovery.Epoch
	change recovery.Change
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory recovery log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[recovery.FlowKey][]memEntry),
		progress: make(map[recovery.WorkerIndex]recovery.Epoch),
	}
}

// Append implements Store.
func (m *MemoryStore) Append(epoch recovery.Epoch, changes []recovery.KChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	for _, kc := range changes {
		// Copy state to avoid retaining caller's slice
		c := kc.Change
		c.State = slices.Clone(c.State)

		list := m.entries[kc.Key]
		i := sort.Search(len(list), func(i int) bool { return list[i].epoch >= epoch })
		if i < len(list) && list[i].epoch == epoch {
			list[i].change = c
			continue
		}
		m.entries[kc.Key] = slices.Insert(list, i, memEntry{epoch: epoch, change: c})
	}
	return nil
}

// WriteProgress implements Store.
func (m *MemoryStore) WriteProgress(w recovery.WorkerIndex, epoch recovery.Epoch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.progress[w] = epoch
	return nil
}

// ResetProgress implements Store.
func (m *MemoryStore) ResetProgress(count recovery.WorkerCount, epoch recovery.Epoch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	clear(m.progress)
	for w := range recovery.WorkerIndex(count) {
		m.progress[w] = epoch
	}
	return nil
}

// Progress implements Store.
func (m *MemoryStore) Progress() ([]WorkerProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	out := make([]WorkerProgress, 0, len(m.progress))
	for w, e := range m.progress {
		out = append(out, WorkerProgress{Worker: w, Epoch: e})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Worker < out[j].Worker })
	return out, nil
}

// ResumeEpoch implements Store.
func (m *MemoryStore) ResumeEpoch() (recovery.ResumeEpoch, error) {
	p, err := m.Progress()
	if err != nil {
		return 0, err
	}
	return resumeFrom(p), nil
}

// latestBefore returns the index of the last entry before at, or -1.
func latestBefore(list []memEntry, at recovery.ResumeEpoch) int {
	i := sort.Search(len(list), func(i int) bool { return list[i].epoch >= at.Epoch() })
	return i - 1
}

// ResumeState implements Store.
func (m *MemoryStore) ResumeState(key recovery.FlowKey, at recovery.ResumeEpoch) (recovery.StateBytes, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	list := m.entries[key]
	i := latestBefore(list, at)
	if i < 0 || !list[i].change.IsUpsert() {
		return nil, ErrNotFound
	}
	return slices.Clone(list[i].change.State), nil
}

// List implements Store.
func (m *MemoryStore) List(at recovery.ResumeEpoch) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	var infos []Info
	for key, list := range m.entries {
		i := latestBefore(list, at)
		if i < 0 {
			continue
		}
		infos = append(infos, Info{
			Key:   key,
			Epoch: list[i].epoch,
			Kind:  list[i].change.Kind,
			Size:  len(list[i].change.State),
		})
	}
	sortInfos(infos)
	return infos, nil
}

// GC implements Store.
func (m *MemoryStore) GC(before recovery.Epoch) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}

	removed := 0
	for key, list := range m.entries {
		last := latestBefore(list, recovery.ResumeEpoch(before))
		if last < 0 {
			continue
		}
		drop := last
		if !list[last].change.IsUpsert() {
			drop = last + 1
		}
		removed += drop
		list = slices.Delete(list, 0, drop)
		if len(list) == 0 {
			delete(m.entries, key)
			continue
		}
		m.entries[key] = list
	}
	return removed, nil
}

// Len returns the number of stored entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, list := range m.entries {
		n += len(list)
	}
	return n
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.entries = nil
	m.progress = nil
	return nil
}
