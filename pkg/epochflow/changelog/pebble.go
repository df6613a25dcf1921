package changelog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
)

// PebbleStore persists the recovery log in a Pebble key-value store.
// Keys sort by flow key then epoch, so the latest entry before an epoch
// is one reverse seek away.
type PebbleStore struct {
	db     *pebble.DB
	mu     sync.RWMutex
	closed bool
}

// Compile-time interface check.
var _ Store = (*PebbleStore)(nil)

// NewPebbleStore opens or creates a Pebble recovery log in dir.
func NewPebbleStore(dir string) (*PebbleStore, error) {
	if dir == "" {
		return nil, errors.New("open pebble: empty directory")
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

// Append implements Store.
func (s *PebbleStore) Append(epoch recovery.Epoch, changes []recovery.KChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if len(changes) == 0 {
		return nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, kc := range changes {
		if err := validateKey(kc.Key); err != nil {
			return err
		}
		entry, err := EncodeChange(kc.Change)
		if err != nil {
			return err
		}
		if err := batch.Set(changeKey(kc.Key, epoch), entry, nil); err != nil {
			return fmt.Errorf("append change %s: %w", kc.Key, err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// WriteProgress implements Store.
func (s *PebbleStore) WriteProgress(w recovery.WorkerIndex, epoch recovery.Epoch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	v := binary.BigEndian.AppendUint64(nil, uint64(epoch))
	if err := s.db.Set(progressKey(w), v, pebble.Sync); err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	return nil
}

// ResetProgress implements Store.
func (s *PebbleStore) ResetProgress(count recovery.WorkerCount, epoch recovery.Epoch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.DeleteRange([]byte{progressPrefix}, []byte{progressPrefix + 1}, nil); err != nil {
		return fmt.Errorf("clear progress: %w", err)
	}
	v := binary.BigEndian.AppendUint64(nil, uint64(epoch))
	for w := range recovery.WorkerIndex(count) {
		if err := batch.Set(progressKey(w), v, nil); err != nil {
			return fmt.Errorf("reset progress worker %d: %w", w, err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit reset progress: %w", err)
	}
	return nil
}

// Progress implements Store.
func (s *PebbleStore) Progress() ([]WorkerProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{progressPrefix},
		UpperBound: []byte{progressPrefix + 1},
	})
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}
	defer iter.Close()

	var out []WorkerProgress
	for iter.First(); iter.Valid(); iter.Next() {
		k, v := iter.Key(), iter.Value()
		if len(k) != 5 || len(v) != 8 {
			return nil, fmt.Errorf("%w: progress key %x", ErrCorruptEntry, k)
		}
		out = append(out, WorkerProgress{
			Worker: recovery.WorkerIndex(binary.BigEndian.Uint32(k[1:])),
			Epoch:  recovery.Epoch(binary.BigEndian.Uint64(v)),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}
	return out, nil
}

// ResumeEpoch implements Store.
func (s *PebbleStore) ResumeEpoch() (recovery.ResumeEpoch, error) {
	p, err := s.Progress()
	if err != nil {
		return 0, err
	}
	return resumeFrom(p), nil
}

// ResumeState implements Store.
func (s *PebbleStore) ResumeState(key recovery.FlowKey, at recovery.ResumeEpoch) (recovery.StateBytes, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: changeKey(key, 0),
		UpperBound: changeKey(key, at.Epoch()),
	})
	if err != nil {
		return nil, fmt.Errorf("load state %s: %w", key, err)
	}
	defer iter.Close()

	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return nil, fmt.Errorf("load state %s: %w", key, err)
		}
		return nil, ErrNotFound
	}

	c, err := DecodeChange(iter.Value())
	if err != nil {
		return nil, err
	}
	if !c.IsUpsert() {
		return nil, ErrNotFound
	}
	return c.State, nil
}

// scanLatest calls fn for the last entry before at of every flow key, in
// key order. older holds the storage keys of earlier entries of the
// same flow key.
func (s *PebbleStore) scanLatest(at recovery.Epoch, fn func(key recovery.FlowKey, epoch recovery.Epoch, raw []byte, older [][]byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{changePrefix},
		UpperBound: []byte{changePrefix + 1},
	})
	if err != nil {
		return fmt.Errorf("scan entries: %w", err)
	}
	defer iter.Close()

	var (
		curKey   recovery.FlowKey
		curEpoch recovery.Epoch
		curRaw   []byte
		curPK    []byte
		older    [][]byte
		have     bool
	)
	flush := func() error {
		if !have {
			return nil
		}
		return fn(curKey, curEpoch, curRaw, older)
	}

	for iter.First(); iter.Valid(); iter.Next() {
		key, epoch, err := decodeChangeKey(iter.Key())
		if err != nil {
			return err
		}
		if epoch >= at {
			continue
		}
		if have && key == curKey {
			older = append(older, curPK)
		} else {
			if err := flush(); err != nil {
				return err
			}
			older = nil
		}
		curKey, curEpoch, have = key, epoch, true
		curPK = append([]byte(nil), iter.Key()...)
		curRaw = append([]byte(nil), iter.Value()...)
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("scan entries: %w", err)
	}
	return flush()
}

// List implements Store.
func (s *PebbleStore) List(at recovery.ResumeEpoch) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var infos []Info
	err := s.scanLatest(at.Epoch(), func(key recovery.FlowKey, epoch recovery.Epoch, raw []byte, _ [][]byte) error {
		c, err := DecodeChange(raw)
		if err != nil {
			return err
		}
		infos = append(infos, Info{Key: key, Epoch: epoch, Kind: c.Kind, Size: len(c.State)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortInfos(infos)
	return infos, nil
}

// GC implements Store.
func (s *PebbleStore) GC(before recovery.Epoch) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var doomed [][]byte
	err := s.scanLatest(before, func(key recovery.FlowKey, epoch recovery.Epoch, raw []byte, older [][]byte) error {
		doomed = append(doomed, older...)
		c, err := DecodeChange(raw)
		if err != nil {
			return err
		}
		if !c.IsUpsert() {
			doomed = append(doomed, changeKey(key, epoch))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	for _, k := range doomed {
		if err := batch.Delete(k, nil); err != nil {
			return 0, fmt.Errorf("gc entry: %w", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("commit gc: %w", err)
	}
	return len(doomed), nil
}

// Close implements Store.
func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close pebble: %w", err)
	}
	return nil
}
