// Package engine defines the contract halcyon expects from a document
// database: point reads, prefix-scoped queries with a small native operator
// set, and an optimistic transaction primitive that forbids reads after any
// write. Everything above this package treats the engine as a black box.
package engine

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Update and reported through Snapshot.Exists
	// for point reads of missing documents.
	ErrNotFound = errors.New("engine: document not found")
	// ErrExists is returned by Create when the target document already exists.
	ErrExists = errors.New("engine: document already exists")
	// ErrConflict signals an optimistic transaction conflict. The caller is
	// expected to retry the whole transaction function.
	ErrConflict = errors.New("engine: transaction conflict")
	// ErrReadAfterWrite is returned when a transaction attempts a read after
	// any of its writes. The underlying primitive forbids this ordering.
	ErrReadAfterWrite = errors.New("engine: reads are not permitted after writes in a transaction")
)

// InLimit is the engine's argument ceiling for in-style clauses.
const InLimit = 10

// Capabilities describes engine-level behavior the layers above must adapt to.
type Capabilities struct {
	// NativeDeadlockAvoidance is true when the engine's transaction
	// coordinator already prevents retry storms under contention. When
	// false (local emulator-grade engines) callers add their own backoff
	// between transaction attempts.
	NativeDeadlockAvoidance bool
}

// Reader is the read surface shared by the engine root and its transactions.
type Reader interface {
	// Get reads a single document. A missing document yields a Snapshot
	// with Exists() == false, not an error.
	Get(ctx context.Context, path string) (Snapshot, error)
	// GetAll reads documents in one batch, preserving input order.
	GetAll(ctx context.Context, paths []string) ([]Snapshot, error)
	// RunQuery executes a native query and returns matching snapshots in
	// query order.
	RunQuery(ctx context.Context, q Query) ([]Snapshot, error)
}

// Engine is the root handle on a document database.
type Engine interface {
	Reader

	// RunTransaction executes fn inside a single optimistic transaction and
	// commits it. A commit-time conflict surfaces as ErrConflict; the engine
	// performs no retries of its own.
	RunTransaction(ctx context.Context, fn func(Txn) error) error

	Capabilities() Capabilities

	Close() error
}

// Txn is a live optimistic transaction. All reads are snapshot-consistent as
// of transaction start. Once any write is issued, further reads fail with
// ErrReadAfterWrite.
type Txn interface {
	Get(path string) (Snapshot, error)
	GetAll(paths []string) ([]Snapshot, error)
	RunQuery(q Query) ([]Snapshot, error)

	// Create writes a new document and fails with ErrExists if the path is
	// already occupied.
	Create(path string, data map[string]interface{}) error
	// Set replaces the document. With merge set, data is flattened to
	// dot-path field updates so sibling fields survive.
	Set(path string, data map[string]interface{}, merge bool) error
	// Update applies dot-path field patches to an existing document and
	// fails with ErrNotFound when it is missing. Values may be Delete,
	// ServerTimestamp, ArrayUnion or ArrayRemove markers.
	Update(path string, fields map[string]interface{}) error
	Delete(path string) error
}
