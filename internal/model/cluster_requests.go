package model

// MemberAddRequest adds a peer to the cluster's membership map.
type MemberAddRequest struct {
	PeerURLs   []string
	ClientURLs []string
}

// MemberAddResponse reports the newly assigned member and the full list.
type MemberAddResponse struct {
	Header  Header
	Member  Member
	Members []Member
}

// MemberListResponse lists current membership.
type MemberListResponse struct {
	Header  Header
	Members []Member
}

// MemberRemoveRequest names a member to remove. Documented as a no-op
// (§6.1): the CRDT membership map has no tombstone-free removal that
// stays commutative under concurrent re-additions, so the request is
// accepted and answered but never mutates the Document.
type MemberRemoveRequest struct {
	ID uint64
}

// MemberRemoveResponse reports current membership, unchanged by the
// request it answers.
type MemberRemoveResponse struct {
	Header  Header
	Members []Member
}

// MemberUpdateRequest names a member and the peer URLs it would be
// updated to. Documented as a no-op (§6.1).
type MemberUpdateRequest struct {
	ID       uint64
	PeerURLs []string
}

// MemberUpdateResponse reports current membership, unchanged by the
// request it answers.
type MemberUpdateResponse struct {
	Header  Header
	Members []Member
}

// MemberPromoteRequest names a learner member to promote to full voting
// status. Documented as a no-op (§6.1): every member is already a full
// voter, since there is no Raft-style learner distinction over a CRDT.
type MemberPromoteRequest struct {
	ID uint64
}

// MemberPromoteResponse reports current membership, unchanged by the
// request it answers.
type MemberPromoteResponse struct {
	Header  Header
	Members []Member
}

// ReplicationStatusRequest asks, for each known member, whether its
// last-observed sync state is known to dominate (causally descend from)
// Heads — the heads-variant Replication service named in §6.1.
type ReplicationStatusRequest struct {
	Heads []ChangeHash
}

// ReplicationStatusResponse reports per-member dominance.
type ReplicationStatusResponse struct {
	Header       Header
	HasHeads     map[uint64]bool // member id -> has merged past Heads
}
