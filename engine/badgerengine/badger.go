// Package badgerengine implements the engine contract over an embedded
// Badger key-value store. Document paths map directly to keys, queries run
// as prefix scans with in-process filtering, and Badger's optimistic
// transactions back the conflict semantics the contract requires.
package badgerengine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/halcyondb/halcyon/engine"
)

// Options configures a store.
type Options struct {
	// Dir is the database directory. Ignored with InMemory.
	Dir string
	// InMemory keeps everything off disk; used by tests.
	InMemory bool
	Logger   *logrus.Logger
	// ReportContention makes Capabilities deny native deadlock avoidance,
	// so callers add backoff between transaction retries. Badger fails
	// conflicting commits immediately rather than blocking, so this is
	// off by default.
	ReportContention bool
}

// Store is a badger-backed engine.
type Store struct {
	db   *badger.DB
	log  *logrus.Logger
	caps engine.Capabilities
}

var _ engine.Engine = (*Store)(nil)

// Open opens or creates the database.
func Open(opts Options) (*Store, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}
	bopts := badger.DefaultOptions(opts.Dir).
		WithInMemory(opts.InMemory).
		WithLogger(nil)
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", opts.Dir, err)
	}
	return &Store{
		db:   db,
		log:  log,
		caps: engine.Capabilities{NativeDeadlockAvoidance: !opts.ReportContention},
	}, nil
}

// OpenInMemory opens a throwaway in-memory store.
func OpenInMemory(log *logrus.Logger) (*Store, error) {
	return Open(Options{InMemory: true, Logger: log})
}

func (s *Store) Capabilities() engine.Capabilities { return s.caps }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(ctx context.Context, path string) (engine.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return engine.Snapshot{}, err
	}
	var snap engine.Snapshot
	err := s.db.View(func(bt *badger.Txn) error {
		var err error
		snap, err = readDoc(bt, path)
		return err
	})
	return snap, err
}

func (s *Store) GetAll(ctx context.Context, paths []string) ([]engine.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snaps := make([]engine.Snapshot, len(paths))
	err := s.db.View(func(bt *badger.Txn) error {
		for i, path := range paths {
			snap, err := readDoc(bt, path)
			if err != nil {
				return err
			}
			snaps[i] = snap
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snaps, nil
}

func (s *Store) RunQuery(ctx context.Context, q engine.Query) ([]engine.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var snaps []engine.Snapshot
	err := s.db.View(func(bt *badger.Txn) error {
		var err error
		snaps, err = runQuery(bt, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snaps, nil
}

// RunTransaction runs fn in one optimistic transaction. A conflicting
// commit surfaces as engine.ErrConflict; retrying is the caller's job.
func (s *Store) RunTransaction(ctx context.Context, fn func(engine.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bt := s.db.NewTransaction(true)
	defer bt.Discard()

	t := &txn{bt: bt}
	if err := fn(t); err != nil {
		return err
	}
	if err := bt.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return engine.ErrConflict
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// readDoc reads and decodes one document inside a badger transaction.
func readDoc(bt *badger.Txn, path string) (engine.Snapshot, error) {
	item, err := bt.Get([]byte(path))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return engine.NewSnapshot(path, nil), nil
	}
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("failed to read %q: %w", path, err)
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("failed to read %q: %w", path, err)
	}
	data, err := decodeDoc(raw)
	if err != nil {
		return engine.Snapshot{}, fmt.Errorf("document %q: %w", path, err)
	}
	return engine.NewSnapshot(path, data), nil
}

// runQuery scans the collection prefix, filters in process, sorts, then
// applies cursor, offset and limit.
func runQuery(bt *badger.Txn, q engine.Query) ([]engine.Snapshot, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	prefix := q.Collection + "/"

	iopts := badger.DefaultIteratorOptions
	iopts.Prefix = []byte(prefix)
	it := bt.NewIterator(iopts)
	defer it.Close()

	var matched []engine.Snapshot
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := string(item.Key())
		// Only direct children of the collection are documents.
		if strings.ContainsRune(key[len(prefix):], '/') {
			continue
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", key, err)
		}
		data, err := decodeDoc(raw)
		if err != nil {
			return nil, fmt.Errorf("document %q: %w", key, err)
		}
		snap := engine.NewSnapshot(key, data)
		ok := true
		for _, f := range q.Filters {
			if !engine.MatchesFilter(snap, f) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, snap)
		}
	}

	engine.SortSnapshots(matched, q.Orders)

	if q.StartAfter != nil {
		after := q.StartAfter.Path()
		start := len(matched)
		for i := range matched {
			if matched[i].Path() == after {
				start = i + 1
				break
			}
		}
		matched = matched[start:]
	}
	if q.Offset > 0 {
		if q.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[q.Offset:]
		}
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}
