package document

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/cuemby/dismerge/internal/model"
)

// peerSyncState is this replica's belief about one peer's progress,
// consulted by GenerateSyncMessage/ReceiveSyncMessage to decide what to
// send and to answer ReplicationStatus.
type peerSyncState struct {
	// lastSentHeads is our own heads as of the last sync message we built
	// for this peer. If our heads haven't moved since, GenerateSyncMessage
	// has nothing new to say and returns nil — this is what makes repeated
	// generation calls monotone (idle, it stops producing messages).
	lastSentHeads []model.ChangeHash
	// theirHeads is our best knowledge of the peer's own heads, updated
	// whenever we receive a message from them.
	theirHeads []model.ChangeHash
}

// SyncMessage is what GenerateSyncMessage produces and ReceiveSyncMessage
// consumes. Changes is always exactly the set the sender believes the
// receiver is missing, in a topological order safe to apply directly.
type SyncMessage struct {
	Heads   []model.ChangeHash
	Changes []*Change
}

// EncodeSyncMessage serializes a SyncMessage for transport (internal/sync's
// Transport interface carries opaque bytes; gob is sufficient since both
// ends are the same binary, unlike the gRPC-facing wire types).
func EncodeSyncMessage(msg *SyncMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, fmt.Errorf("encode sync message: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSyncMessage deserializes bytes produced by EncodeSyncMessage.
func DecodeSyncMessage(b []byte) (*SyncMessage, error) {
	var msg SyncMessage
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&msg); err != nil {
		return nil, fmt.Errorf("decode sync message: %w", err)
	}
	return &msg, nil
}

// EncodeChange serializes a single Change for persistence (internal/actor
// hands the bytes to Persister.InsertChanges, keyed by Actor/Seq).
func EncodeChange(c *Change) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("encode change: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeChange deserializes bytes produced by EncodeChange.
func DecodeChange(b []byte) (*Change, error) {
	var c Change
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode change: %w", err)
	}
	return &c, nil
}

// PeerSyncSnapshot is the persisted form of one peer's sync state, as
// returned by SyncState and consumed by LoadSyncState. internal/actor
// gob-encodes it for Persister.SetSyncState and decodes it back on
// startup.
type PeerSyncSnapshot struct {
	LastSent []model.ChangeHash
	Theirs   []model.ChangeHash
}

// EncodePeerSyncState serializes a PeerSyncSnapshot for persistence.
func EncodePeerSyncState(s PeerSyncSnapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, fmt.Errorf("encode peer sync state: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePeerSyncState deserializes bytes produced by EncodePeerSyncState.
func DecodePeerSyncState(b []byte) (PeerSyncSnapshot, error) {
	var s PeerSyncSnapshot
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&s); err != nil {
		return PeerSyncSnapshot{}, fmt.Errorf("decode peer sync state: %w", err)
	}
	return s, nil
}

func (d *Document) peerState(peerID uint64) *peerSyncState {
	ps, ok := d.peers[peerID]
	if !ok {
		ps = &peerSyncState{}
		d.peers[peerID] = ps
	}
	return ps
}

// GenerateSyncMessage builds the next message to send to peerID, or nil if
// nothing has changed since the last one sent (idle peers stop producing
// traffic, satisfying the spec's "eventually stops" sync termination
// property).
func (d *Document) GenerateSyncMessage(peerID uint64) *SyncMessage {
	ps := d.peerState(peerID)
	ourHeads := d.Heads()
	if headsEqual(ourHeads, ps.lastSentHeads) {
		return nil
	}

	have := d.dag.closure(ps.theirHeads)
	missing := d.dag.missingFrom(ourHeads, have)

	ps.lastSentHeads = ourHeads
	return &SyncMessage{Heads: ourHeads, Changes: missing}
}

// ReceiveSyncMessage merges msg's changes into the document and returns the
// resulting watch events. Applying the identical message twice is
// idempotent: the second call finds every change already present and
// returns no events.
func (d *Document) ReceiveSyncMessage(peerID uint64, msg *SyncMessage) []model.Event {
	events := d.Merge(msg.Changes)

	// msg.Heads is the peer's full current frontier as of when they built
	// this message, which already causally dominates whatever we'd
	// recorded before, so it replaces rather than unions with theirHeads.
	ps := d.peerState(peerID)
	ps.theirHeads = msg.Heads
	return events
}

// LoadSyncState restores previously persisted per-peer sync state (see
// internal/persister's get_sync_state), called once at startup before any
// sync traffic flows.
func (d *Document) LoadSyncState(peerID uint64, lastSent, theirs []model.ChangeHash) {
	d.peers[peerID] = &peerSyncState{lastSentHeads: lastSent, theirHeads: theirs}
}

// SyncState returns the per-peer sync state to persist (see
// internal/persister's set_sync_state).
func (d *Document) SyncState(peerID uint64) (lastSent, theirs []model.ChangeHash, ok bool) {
	ps, found := d.peers[peerID]
	if !found {
		return nil, nil, false
	}
	return ps.lastSentHeads, ps.theirHeads, true
}

func headsEqual(a, b []model.ChangeHash) bool {
	if len(a) != len(b) {
		return false
	}
	as, bs := sortedCopy(a), sortedCopy(b)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func sortedCopy(hs []model.ChangeHash) []model.ChangeHash {
	out := append([]model.ChangeHash{}, hs...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Less(out[j-1]); j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
