// Package txn wraps the engine's optimistic transaction primitive with
// per-transaction read caching, deferred coalesced writes and contention
// backoff. The engine forbids reads once any write is issued, so every
// write is buffered as data and flushed in one pass right before commit.
package txn

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halcyondb/halcyon/engine"
)

const (
	defaultMaxAttempts = 5
	backoffBase        = 120 * time.Millisecond
	backoffCap         = 2 * time.Second
)

// Runner opens transactions and retries them under contention.
type Runner struct {
	Engine engine.Engine
	Log    *logrus.Logger
	// MaxAttempts bounds conflict retries; zero means the default.
	MaxAttempts int
	// LogStats emits per-transaction read/write counts at debug level.
	LogStats bool
}

// NewRunner builds a runner over the given engine.
func NewRunner(e engine.Engine, log *logrus.Logger) *Runner {
	if log == nil {
		log = logrus.New()
	}
	return &Runner{Engine: e, Log: log}
}

// Run executes fn inside one transaction, flushing its buffered writes
// before commit. Conflicts are retried with a bounded randomized backoff
// scaled by attempt count; the backoff is skipped when the engine's own
// coordinator already avoids deadlock storms.
func (r *Runner) Run(ctx context.Context, fn func(*Transaction) error) error {
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	for attempt := 1; ; attempt++ {
		var t *Transaction
		err := r.Engine.RunTransaction(ctx, func(native engine.Txn) error {
			t = newTransaction(native, r.Log)
			if err := fn(t); err != nil {
				return err
			}
			return t.flush()
		})
		if err == nil {
			if t != nil && (r.LogStats || r.Log.IsLevelEnabled(logrus.DebugLevel)) {
				r.Log.WithFields(logrus.Fields{
					"reads":      t.reads,
					"cache_hits": t.cacheHits,
					"writes":     t.writes,
					"attempt":    attempt,
				}).Debug("transaction committed")
			}
			return nil
		}
		if !errors.Is(err, engine.ErrConflict) || attempt >= maxAttempts {
			return err
		}
		if !r.Engine.Capabilities().NativeDeadlockAvoidance {
			// Emulator-grade engines lack deadlock avoidance; spread out
			// the retries so contending transactions stop colliding.
			delay := time.Duration(rand.Int63n(int64(backoffBase))) * time.Duration(attempt)
			if delay > backoffCap {
				delay = backoffCap
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		r.Log.WithField("attempt", attempt).Debug("retrying contested transaction")
	}
}

// Transaction is the per-transaction state: a read cache keyed by physical
// path, buffered writes, and coalesced keyed writes for documents shared by
// several logical models. It is valid only inside its Run callback and is
// discarded at commit or abort. Not safe for concurrent use.
type Transaction struct {
	native engine.Txn
	log    *logrus.Logger

	cache map[string]engine.Snapshot

	writeOps []func(engine.Txn) error
	keyed    map[string]*keyedWrite
	keyedSeq []string

	reads     int
	cacheHits int
	writes    int
}

type keyedWrite struct {
	patch map[string]interface{}
	flush func(engine.Txn, map[string]interface{}) error
}

func newTransaction(native engine.Txn, log *logrus.Logger) *Transaction {
	return &Transaction{
		native: native,
		log:    log,
		cache:  make(map[string]engine.Snapshot),
		keyed:  make(map[string]*keyedWrite),
	}
}

// Get reads one document, serving repeated reads of the same physical path
// from the transaction's cache.
func (t *Transaction) Get(path string) (engine.Snapshot, error) {
	if snap, ok := t.cache[path]; ok {
		t.cacheHits++
		return snap, nil
	}
	snap, err := t.native.Get(path)
	if err != nil {
		return engine.Snapshot{}, err
	}
	t.reads++
	t.cache[path] = snap
	return snap, nil
}

// GetAll reads documents in one batch, deduplicating by physical path and
// serving already-cached paths without a new read.
func (t *Transaction) GetAll(paths []string) ([]engine.Snapshot, error) {
	var missing []string
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		if _, ok := t.cache[p]; ok {
			t.cacheHits++
		} else {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		snaps, err := t.native.GetAll(missing)
		if err != nil {
			return nil, err
		}
		t.reads += len(missing)
		for _, s := range snaps {
			t.cache[s.Path()] = s
		}
	}
	out := make([]engine.Snapshot, len(paths))
	for i, p := range paths {
		out[i] = t.cache[p]
	}
	return out, nil
}

// RunQuery executes a native query. Result documents pre-populate the read
// cache so later point reads of the same documents cost nothing.
func (t *Transaction) RunQuery(q engine.Query) ([]engine.Snapshot, error) {
	snaps, err := t.native.RunQuery(q)
	if err != nil {
		return nil, err
	}
	t.reads += len(snaps)
	for _, s := range snaps {
		t.cache[s.Path()] = s
	}
	return snaps, nil
}

// AddWrite buffers a write for the pre-commit flush pass.
func (t *Transaction) AddWrite(fn func(engine.Txn) error) {
	t.writeOps = append(t.writeOps, fn)
}

// MergeKeyed coalesces field patches targeting the same physical document
// under one key, so several logical models flattened into one document
// produce a single physical write. Later patches win per field path;
// array-union and array-remove patches against the same field accumulate.
func (t *Transaction) MergeKeyed(key string, patch map[string]interface{}, flush func(engine.Txn, map[string]interface{}) error) {
	kw, ok := t.keyed[key]
	if !ok {
		kw = &keyedWrite{patch: make(map[string]interface{}, len(patch))}
		t.keyed[key] = kw
		t.keyedSeq = append(t.keyedSeq, key)
	}
	kw.flush = flush
	for field, val := range patch {
		kw.patch[field] = mergePatchValue(kw.patch[field], val)
	}
}

func mergePatchValue(existing, incoming interface{}) interface{} {
	switch in := incoming.(type) {
	case engine.ArrayUnion:
		if ex, ok := existing.(engine.ArrayUnion); ok {
			return engine.ArrayUnion{Values: append(append([]interface{}{}, ex.Values...), in.Values...)}
		}
	case engine.ArrayRemove:
		if ex, ok := existing.(engine.ArrayRemove); ok {
			return engine.ArrayRemove{Values: append(append([]interface{}{}, ex.Values...), in.Values...)}
		}
	}
	return incoming
}

// flush applies every buffered write in one pass: keyed writes first in
// first-touch order, then ordinary writes in insertion order.
func (t *Transaction) flush() error {
	for _, key := range t.keyedSeq {
		kw := t.keyed[key]
		if err := kw.flush(t.native, kw.patch); err != nil {
			return err
		}
		t.writes++
	}
	for _, op := range t.writeOps {
		if err := op(t.native); err != nil {
			return err
		}
		t.writes++
	}
	return nil
}
