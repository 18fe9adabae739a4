package document

import "github.com/cuemby/dismerge/internal/model"

// MemberAdd admits a new peer into the cluster's membership map. id is
// assigned by the caller (internal/node, from a random source) rather than
// derived here, so that a member's id is itself content-addressed only
// indirectly, through the change that introduces it.
func (d *Document) MemberAdd(id uint64, req model.MemberAddRequest) model.MemberAddResponse {
	d.commit([]changeOp{{Kind: opMemberAdd, MemberID: id, PeerURLs: req.PeerURLs, ClientURLs: req.ClientURLs}})
	return model.MemberAddResponse{Header: d.Header(), Member: *d.members[id], Members: d.memberList()}
}

// MemberList lists current membership.
func (d *Document) MemberList() model.MemberListResponse {
	return model.MemberListResponse{Header: d.Header(), Members: d.memberList()}
}

func (d *Document) memberList() []model.Member {
	out := make([]model.Member, 0, len(d.members))
	for _, m := range d.members {
		out = append(out, *m)
	}
	return out
}

// ReplicationStatus reports, for every known member, whether it is known
// (via the peer sync engine's last-exchanged heads) to have merged past
// Heads. A member with no recorded sync state is reported as not caught up,
// including this replica's own id relative to future heads it hasn't
// produced yet.
func (d *Document) ReplicationStatus(req model.ReplicationStatusRequest) model.ReplicationStatusResponse {
	// closure() skips hashes this replica doesn't know, so the requested
	// heads themselves are added back: an unknown head must still be wanted.
	closure := d.dag.closure(req.Heads)
	for _, h := range req.Heads {
		closure[h] = struct{}{}
	}
	has := make(map[uint64]bool, len(d.members))
	for id := range d.members {
		if id == d.memberID {
			has[id] = supersetOf(d.dag.closure(d.Heads()), closure)
			continue
		}
		peer, ok := d.peers[id]
		if !ok {
			has[id] = false
			continue
		}
		theirs := d.dag.closure(peer.theirHeads)
		for _, h := range peer.theirHeads {
			theirs[h] = struct{}{}
		}
		has[id] = supersetOf(theirs, closure)
	}
	return model.ReplicationStatusResponse{Header: d.Header(), HasHeads: has}
}

func supersetOf(have, want map[model.ChangeHash]struct{}) bool {
	for h := range want {
		if _, ok := have[h]; !ok {
			return false
		}
	}
	return true
}

// MemberRemove is a documented no-op (§6.1): removing an entry from the
// CRDT membership map cannot be made to commute with a concurrent
// MemberAdd for the same id without a tombstone scheme this exercise does
// not implement, so the request is answered but the map is untouched.
func (d *Document) MemberRemove(req model.MemberRemoveRequest) model.MemberRemoveResponse {
	return model.MemberRemoveResponse{Header: d.Header(), Members: d.memberList()}
}

// MemberUpdate is a documented no-op (§6.1), matching the original
// implementation's unimplemented Cluster.MemberUpdate.
func (d *Document) MemberUpdate(req model.MemberUpdateRequest) model.MemberUpdateResponse {
	return model.MemberUpdateResponse{Header: d.Header(), Members: d.memberList()}
}

// MemberPromote is a documented no-op (§6.1): there is no learner/voter
// distinction over a CRDT membership map, so every member is already
// promoted.
func (d *Document) MemberPromote(req model.MemberPromoteRequest) model.MemberPromoteResponse {
	return model.MemberPromoteResponse{Header: d.Header(), Members: d.memberList()}
}

// Compact is a no-op: the CRDT core has no revision history to prune, only
// a change DAG that grows with real edits. It exists so the router can
// still answer a Compact RPC without an error, per the Cluster no-ops noted
// for the CRDT adapter.
func (d *Document) Compact() model.Header {
	return d.Header()
}
