package changelog

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/randalmurphal/epochflow/pkg/epochflow/recovery"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists the recovery log to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens or creates a SQLite recovery log.
// The path should be a file path (e.g., "./recovery.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A :memory: database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS changes (
			step TEXT NOT NULL,
			state_key TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			entry BLOB NOT NULL,
			PRIMARY KEY (step, state_key, epoch)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create changes table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS progress (
			worker INTEGER PRIMARY KEY,
			epoch INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create progress table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(epoch recovery.Epoch, changes []recovery.KChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if len(changes) == 0 {
		return nil
	}
	stored, err := storedEpoch(epoch)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.Prepare(`
		INSERT INTO changes (step, state_key, epoch, kind, entry)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(step, state_key, epoch) DO UPDATE SET
			kind = excluded.kind,
			entry = excluded.entry
	`)
	if err != nil {
		return fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	for _, kc := range changes {
		entry, err := EncodeChange(kc.Change)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(string(kc.Key.Step), string(kc.Key.Key), stored, int(kc.Change.Kind), entry); err != nil {
			return fmt.Errorf("append change %s: %w", kc.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// WriteProgress implements Store.
func (s *SQLiteStore) WriteProgress(w recovery.WorkerIndex, epoch recovery.Epoch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	stored, err := storedEpoch(epoch)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO progress (worker, epoch) VALUES (?, ?)
		ON CONFLICT(worker) DO UPDATE SET epoch = excluded.epoch
	`, int(w), stored)
	if err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	return nil
}

// ResetProgress implements Store.
func (s *SQLiteStore) ResetProgress(count recovery.WorkerCount, epoch recovery.Epoch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	stored, err := storedEpoch(epoch)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin reset progress: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(`DELETE FROM progress`); err != nil {
		return fmt.Errorf("clear progress: %w", err)
	}
	for w := range int(count) {
		if _, err := tx.Exec(`INSERT INTO progress (worker, epoch) VALUES (?, ?)`, w, stored); err != nil {
			return fmt.Errorf("reset progress worker %d: %w", w, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset progress: %w", err)
	}
	return nil
}

// Progress implements Store.
func (s *SQLiteStore) Progress() ([]WorkerProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.progress()
}

func (s *SQLiteStore) progress() ([]WorkerProgress, error) {
	rows, err := s.db.Query(`SELECT worker, epoch FROM progress ORDER BY worker`)
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}
	defer rows.Close()

	var out []WorkerProgress
	for rows.Next() {
		var w int
		var e int64
		if err := rows.Scan(&w, &e); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		out = append(out, WorkerProgress{Worker: recovery.WorkerIndex(w), Epoch: recovery.Epoch(e)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress: %w", err)
	}
	return out, nil
}

// ResumeEpoch implements Store.
func (s *SQLiteStore) ResumeEpoch() (recovery.ResumeEpoch, error) {
	p, err := s.Progress()
	if err != nil {
		return 0, err
	}
	return resumeFrom(p), nil
}

// ResumeState implements Store.
func (s *SQLiteStore) ResumeState(key recovery.FlowKey, at recovery.ResumeEpoch) (recovery.StateBytes, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var entry []byte
	err := s.db.QueryRow(`
		SELECT entry FROM changes
		WHERE step = ? AND state_key = ? AND epoch < ?
		ORDER BY epoch DESC
		LIMIT 1
	`, string(key.Step), string(key.Key), epochBound(at)).Scan(&entry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load state %s: %w", key, err)
	}

	c, err := DecodeChange(entry)
	if err != nil {
		return nil, err
	}
	if !c.IsUpsert() {
		return nil, ErrNotFound
	}
	return c.State, nil
}

// List implements Store.
func (s *SQLiteStore) List(at recovery.ResumeEpoch) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT c.step, c.state_key, c.epoch, c.kind, c.entry
		FROM changes c
		JOIN (
			SELECT step, state_key, MAX(epoch) AS epoch
			FROM changes
			WHERE epoch < ?
			GROUP BY step, state_key
		) latest USING (step, state_key, epoch)
		ORDER BY c.step, c.state_key
	`, epochBound(at))
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var (
			step, stateKey string
			epoch          int64
			kind           int
			entry          []byte
		)
		if err := rows.Scan(&step, &stateKey, &epoch, &kind, &entry); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		c, err := DecodeChange(entry)
		if err != nil {
			return nil, err
		}
		infos = append(infos, Info{
			Key:   recovery.NewFlowKey(recovery.StepID(step), recovery.StateKey(stateKey)),
			Epoch: recovery.Epoch(epoch),
			Kind:  recovery.ChangeKind(kind),
			Size:  len(c.State),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	sortInfos(infos)
	return infos, nil
}

// GC implements Store.
func (s *SQLiteStore) GC(before recovery.Epoch) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	bound := epochBound(recovery.ResumeEpoch(before))
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin gc: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	superseded, err := tx.Exec(`
		DELETE FROM changes
		WHERE epoch < ? AND EXISTS (
			SELECT 1 FROM changes newer
			WHERE newer.step = changes.step
			  AND newer.state_key = changes.state_key
			  AND newer.epoch > changes.epoch
			  AND newer.epoch < ?
		)
	`, bound, bound)
	if err != nil {
		return 0, fmt.Errorf("gc superseded entries: %w", err)
	}

	discarded, err := tx.Exec(`
		DELETE FROM changes WHERE epoch < ? AND kind = ?
	`, bound, int(recovery.KindDiscard))
	if err != nil {
		return 0, fmt.Errorf("gc discarded keys: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit gc: %w", err)
	}

	n1, _ := superseded.RowsAffected()
	n2, _ := discarded.RowsAffected()
	return int(n1 + n2), nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}

// storedEpoch converts an epoch to SQLite's signed integers. MaxInt64
// itself is rejected so every stored epoch stays below epochBound(Latest).
func storedEpoch(e recovery.Epoch) (int64, error) {
	if uint64(e) >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d", ErrEpochRange, e)
	}
	return int64(e), nil
}

// epochBound maps an exclusive upper bound onto SQLite's signed integers.
func epochBound(at recovery.ResumeEpoch) int64 {
	if uint64(at) > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(at)
}
