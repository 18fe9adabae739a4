// Package persister implements the L1 durable storage layer (§4.1): the
// change log, a compacted document snapshot, and per-peer sync cursors.
// internal/document never touches storage directly; internal/actor is the
// sole owner of a Persister and the sole caller of its methods.
package persister

import "fmt"

// ChangeRecord is one persisted change, addressed by (actor, seq) rather
// than by its hash: the pair is assigned once, at creation, and never
// recomputed, so it is a cheaper persistence key than re-hashing Bytes on
// every load.
type ChangeRecord struct {
	Actor string
	Seq   uint64
	Bytes []byte
}

// Sizes reports on-disk/in-memory usage, surfaced by Maintenance.Status
// (§6).
type Sizes struct {
	ChangeLogBytes int64
	DocumentBytes  int64
	TotalBytes     int64
}

// Persister is the storage abstraction every backend (memory, file, bolt)
// implements (§4.1). Implementations need not be safe for concurrent use;
// the Document Actor is the only caller and calls them from its single
// goroutine.
type Persister interface {
	// GetChanges returns every persisted change record, in arbitrary
	// order; used once at load time to rebuild the Document.
	GetChanges() ([]ChangeRecord, error)
	// InsertChanges idempotently persists new local/remote changes:
	// inserting a record whose (Actor, Seq) already exists is a no-op.
	InsertChanges(records []ChangeRecord) error
	// RemoveChanges drops change records. internal/actor does not call
	// it; the change log is only ever appended to.
	RemoveChanges(records []ChangeRecord) error

	// GetDocument returns the last persisted compacted snapshot, or
	// (nil, nil) if none has ever been written.
	GetDocument() ([]byte, error)
	// SetDocument persists a compacted snapshot, replacing any prior one.
	SetDocument(doc []byte) error

	// GetSyncState returns the persisted sync cursor for peerID, or
	// (nil, nil) if none exists yet.
	GetSyncState(peerID uint64) ([]byte, error)
	// SetSyncState persists the sync cursor for peerID.
	SetSyncState(peerID uint64, state []byte) error

	// Flush ensures every prior write is durable and reports the
	// backend's current total stored size in bytes. After Flush returns
	// without error, the persisted state is sufficient to reconstruct the
	// Document up to the last flushed change (§4.1 crash recovery
	// contract).
	Flush() (int64, error)

	// Sizes reports current storage usage.
	Sizes() (Sizes, error)

	// Close releases any resources the backend holds open.
	Close() error
}

// ErrNotOpen is returned by backends when used after Close.
var ErrNotOpen = fmt.Errorf("persister: closed")
