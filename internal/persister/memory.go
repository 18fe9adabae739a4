package persister

import (
	"strconv"
	"sync/atomic"
)

// MemoryPersister keeps all state in process memory. Flush is a true no-op
// (nothing to write through), so crash recovery is never satisfied — it
// exists for tests and the `persister=memory` CLI option (§6.2), never for
// production deployments.
type MemoryPersister struct {
	changes    map[string]ChangeRecord
	document   []byte
	syncStates map[uint64][]byte
	flushed    int64
	closed     atomic.Bool
}

// NewMemoryPersister returns an empty in-memory Persister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{
		changes:    map[string]ChangeRecord{},
		syncStates: map[uint64][]byte{},
	}
}

func changeKey(actor string, seq uint64) string {
	// A NUL separator is safe: actor ids are UUID strings and never
	// contain one.
	return actor + "\x00" + strconv.FormatUint(seq, 10)
}

func (m *MemoryPersister) GetChanges() ([]ChangeRecord, error) {
	if m.closed.Load() {
		return nil, ErrNotOpen
	}
	out := make([]ChangeRecord, 0, len(m.changes))
	for _, r := range m.changes {
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryPersister) InsertChanges(records []ChangeRecord) error {
	if m.closed.Load() {
		return ErrNotOpen
	}
	for _, r := range records {
		k := changeKey(r.Actor, r.Seq)
		if _, ok := m.changes[k]; ok {
			continue
		}
		m.changes[k] = r
	}
	return nil
}

func (m *MemoryPersister) RemoveChanges(records []ChangeRecord) error {
	if m.closed.Load() {
		return ErrNotOpen
	}
	for _, r := range records {
		delete(m.changes, changeKey(r.Actor, r.Seq))
	}
	return nil
}

func (m *MemoryPersister) GetDocument() ([]byte, error) {
	if m.closed.Load() {
		return nil, ErrNotOpen
	}
	return m.document, nil
}

func (m *MemoryPersister) SetDocument(doc []byte) error {
	if m.closed.Load() {
		return ErrNotOpen
	}
	m.document = doc
	return nil
}

func (m *MemoryPersister) GetSyncState(peerID uint64) ([]byte, error) {
	if m.closed.Load() {
		return nil, ErrNotOpen
	}
	return m.syncStates[peerID], nil
}

func (m *MemoryPersister) SetSyncState(peerID uint64, state []byte) error {
	if m.closed.Load() {
		return ErrNotOpen
	}
	m.syncStates[peerID] = state
	return nil
}

func (m *MemoryPersister) Flush() (int64, error) {
	if m.closed.Load() {
		return 0, ErrNotOpen
	}
	var n int64
	for _, r := range m.changes {
		n += int64(len(r.Bytes))
	}
	n += int64(len(m.document))
	m.flushed = n
	return n, nil
}

func (m *MemoryPersister) Sizes() (Sizes, error) {
	if m.closed.Load() {
		return Sizes{}, ErrNotOpen
	}
	var changeBytes int64
	for _, r := range m.changes {
		changeBytes += int64(len(r.Bytes))
	}
	docBytes := int64(len(m.document))
	return Sizes{ChangeLogBytes: changeBytes, DocumentBytes: docBytes, TotalBytes: changeBytes + docBytes}, nil
}

func (m *MemoryPersister) Close() error {
	m.closed.Store(true)
	return nil
}
