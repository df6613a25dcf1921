// Package changelog persists the state changes inputs emit at epoch
// boundaries, together with each worker's progress, so a later run can
// pick a safe epoch to resume from and load the state for it.
package changelog

import (
	"cmp"
	"errors"
	"math"
	"slices"

	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
)

// Store is a durable recovery log.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append records changes as of epoch. A change for a key that already
	// has an entry at epoch replaces it.
	Append(epoch recovery.Epoch, changes []recovery.KChange) error

	// WriteProgress records that every epoch before epoch is durable as
	// far as worker w is concerned.
	WriteProgress(w recovery.WorkerIndex, epoch recovery.Epoch) error

	// ResetProgress starts an execution of count workers at epoch: workers
	// below count record epoch and the progress of every other worker is
	// removed, so workers from an earlier, larger execution no longer hold
	// the resume epoch back.
	ResetProgress(count recovery.WorkerCount, epoch recovery.Epoch) error

	// Progress returns the recorded progress of every worker, ordered by
	// worker index.
	Progress() ([]WorkerProgress, error)

	// ResumeEpoch returns the epoch a new run should start at: the lowest
	// progress over all workers, or 0 if none was ever recorded.
	ResumeEpoch() (recovery.ResumeEpoch, error)

	// ResumeState returns the state of key as of the latest change before
	// at. Returns ErrNotFound if there is none or it was discarded.
	ResumeState(key recovery.FlowKey, at recovery.ResumeEpoch) (recovery.StateBytes, error)

	// List returns the latest entry before at for every key, ordered by
	// key. Use Latest to list everything.
	List(at recovery.ResumeEpoch) ([]Info, error)

	// GC removes entries superseded by a later entry for the same key
	// before epoch before, and keys whose last such entry is a discard.
	// Returns the number of entries removed.
	GC(before recovery.Epoch) (int, error)

	// Close releases any resources (connections, files).
	Close() error
}

// Latest is a resume epoch after every possible entry.
const Latest = recovery.ResumeEpoch(math.MaxUint64)

// Info describes one stored entry without its state.
type Info struct {
	Key   recovery.FlowKey
	Epoch recovery.Epoch
	Kind  recovery.ChangeKind
	Size  int
}

// WorkerProgress is one worker's recorded progress.
type WorkerProgress struct {
	Worker recovery.WorkerIndex
	Epoch  recovery.Epoch
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates no usable state exists for a key.
	ErrNotFound = errors.New("state not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("recovery store closed")

	// ErrUnknownBackend indicates Open was given an unsupported backend.
	ErrUnknownBackend = errors.New("unknown recovery backend")

	// ErrCorruptEntry indicates a stored entry could not be decoded.
	ErrCorruptEntry = errors.New("corrupt recovery entry")

	// ErrEpochRange indicates an epoch the backend cannot store.
	ErrEpochRange = errors.New("epoch out of range for recovery store")
)

func compareKeys(a, b recovery.FlowKey) int {
	if c := cmp.Compare(a.Step, b.Step); c != 0 {
		return c
	}
	return cmp.Compare(a.Key, b.Key)
}

func sortInfos(infos []Info) {
	slices.SortFunc(infos, func(a, b Info) int {
		return compareKeys(a.Key, b.Key)
	})
}

func resumeFrom(progress []WorkerProgress) recovery.ResumeEpoch {
	if len(progress) == 0 {
		return 0
	}
	low := progress[0].Epoch
	for _, p := range progress[1:] {
		low = min(low, p.Epoch)
	}
	return recovery.ResumeEpoch(low)
}
