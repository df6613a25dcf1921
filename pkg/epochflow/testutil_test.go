package epochflow_test

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/randalmurphal/epochflow/pkg/epochflow"
	"github.com/randalmurphal/epochflow/pkg/epochflow/changelog"
	"github.com/randalmurphal/epochflow/pkg/epochflow/input"
	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
	"github.com/stretchr/testify/require"
)

// traceLog collects lines from concurrent writers.
type traceLog struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *traceLog) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(&l.buf, format+"\n", args...)
}

func (l *traceLog) Bytes() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return bytes.Clone(l.buf.Bytes())
}

// tracingStore logs every write to the store it wraps.
type tracingStore struct {
	changelog.Store
	log *traceLog
}

func (s *tracingStore) Append(epoch recovery.Epoch, changes []recovery.KChange) error {
	for _, kc := range changes {
		state, err := recovery.De[int](kc.Change.State)
		if err != nil {
			return err
		}
		s.log.printf("append epoch=%d %s %s state=%d", epoch, kc.Key, kc.Change.Kind, state)
	}
	return s.Store.Append(epoch, changes)
}

func (s *tracingStore) WriteProgress(w recovery.WorkerIndex, epoch recovery.Epoch) error {
	s.log.printf("progress worker=%d epoch=%d", w, epoch)
	return s.Store.WriteProgress(w, epoch)
}

// storeOpener opens (or reopens) the same recovery store.
type storeOpener func(t *testing.T) changelog.Store

// backends returns an opener per backend. Durable backends reopen the
// same files on every call; memory hands back one shared store whose
// Close is a no-op until the test ends.
func backends(t *testing.T) map[string]storeOpener {
	t.Helper()

	mem := changelog.NewMemoryStore()
	t.Cleanup(func() { mem.Close() })

	durable := func(backend string) storeOpener {
		path := filepath.Join(t.TempDir(), backend)
		return func(t *testing.T) changelog.Store {
			store, err := changelog.Open(backend, path)
			require.NoError(t, err)
			return store
		}
	}

	return map[string]storeOpener{
		changelog.BackendMemory: func(*testing.T) changelog.Store { return keepOpen{mem} },
		changelog.BackendSQLite: durable(changelog.BackendSQLite),
		changelog.BackendPebble: durable(changelog.BackendPebble),
	}
}

// keepOpen ignores Close so a memory store survives between runs.
type keepOpen struct {
	changelog.Store
}

func (keepOpen) Close() error { return nil }

// numbersFlow builds inp -> capture over a fixed list.
func numbersFlow(items []int, sink epochflow.Sink[int]) *epochflow.Dataflow[int] {
	return epochflow.NewDataflow[int]("numbers").
		Input("inp", input.Testing(items)).
		Capture(sink)
}

func progressOf(t *testing.T, store changelog.Store) []changelog.WorkerProgress {
	t.Helper()
	p, err := store.Progress()
	require.NoError(t, err)
	return p
}

func stateOf(t *testing.T, store changelog.Store, key recovery.FlowKey, at recovery.ResumeEpoch) int {
	t.Helper()
	b, err := store.ResumeState(key, at)
	require.NoError(t, err)
	v, err := recovery.De[int](b)
	require.NoError(t, err)
	return v
}
