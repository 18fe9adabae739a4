package actor

import (
	"context"
	"time"

	"github.com/cuemby/dismerge/internal/document"
	"github.com/cuemby/dismerge/internal/model"
)

// submit enqueues a command built from fn and waits for its typed reply,
// honoring ctx at both the enqueue and the await-reply suspension points
// (§5's "suspension points" for request handler tasks). The reply channel
// is buffered so a canceled caller never blocks the actor goroutine from
// delivering it.
func submit[T any](ctx context.Context, a *Actor, durable bool, origin string, fn func(*document.Document) (T, error)) (T, error) {
	var zero T
	reply := make(chan result, 1)
	cmd := command{
		durable: durable,
		origin:  origin,
		reply:   reply,
		run: func(d *document.Document) (any, error) {
			return fn(d)
		},
	}

	if err := ctx.Err(); err != nil {
		return zero, model.NewError(model.KindDeadlineExceeded, "submit to document actor: %v", err)
	}
	select {
	case a.cmds <- cmd:
	case <-ctx.Done():
		return zero, model.NewError(model.KindDeadlineExceeded, "submit to document actor: %v", ctx.Err())
	case <-a.stop:
		return zero, model.NewError(model.KindUnavailable, "document actor stopped")
	}

	select {
	case r := <-reply:
		if r.err != nil {
			return zero, r.err
		}
		v, _ := r.val.(T)
		return v, nil
	case <-ctx.Done():
		return zero, model.NewError(model.KindDeadlineExceeded, "await document actor reply: %v", ctx.Err())
	}
}

// Range reads keys in req.Range; never buffered behind a flush (§4.3, §5).
func (a *Actor) Range(ctx context.Context, req model.RangeRequest) (model.RangeResponse, error) {
	return submit(ctx, a, false, "local", func(d *document.Document) (model.RangeResponse, error) {
		return d.Range(req)
	})
}

// Put writes a single key.
func (a *Actor) Put(ctx context.Context, req model.PutRequest) (model.PutResponse, error) {
	return submit(ctx, a, true, "local", func(d *document.Document) (model.PutResponse, error) {
		return d.Put(req)
	})
}

// DeleteRange deletes every key in req.Range.
func (a *Actor) DeleteRange(ctx context.Context, req model.DeleteRangeRequest) (model.DeleteRangeResponse, error) {
	return submit(ctx, a, true, "local", func(d *document.Document) (model.DeleteRangeResponse, error) {
		return d.DeleteRange(req)
	})
}

// Txn evaluates req.Compares and runs the matching branch.
func (a *Actor) Txn(ctx context.Context, req model.TxnRequest) (model.TxnResponse, error) {
	return submit(ctx, a, true, "local", func(d *document.Document) (model.TxnResponse, error) {
		return d.Txn(req)
	})
}

// Bootstrap seeds a brand-new document with a cluster id and its own
// member record. Routed through the actor like any other mutation so the
// resulting change is captured by DrainPendingChanges and persisted,
// rather than being applied directly to a Document the actor doesn't yet
// know produced local state.
func (a *Actor) Bootstrap(ctx context.Context, clusterID uint64, self model.Member) (model.Header, error) {
	return submit(ctx, a, true, "local", func(d *document.Document) (model.Header, error) {
		d.Bootstrap(clusterID, self)
		return d.Header(), nil
	})
}

// SetMemberID records which member id this replica is, once it has
// learned it (either from Bootstrap, for the cluster's first member, or by
// observing its own peer URL in a MemberList response while joining an
// existing cluster). Not itself a change: membership is still mediated
// entirely by MemberAdd.
func (a *Actor) SetMemberID(ctx context.Context, id uint64) error {
	_, err := submit(ctx, a, false, "local", func(d *document.Document) (struct{}, error) {
		d.SetMemberID(id)
		return struct{}{}, nil
	})
	return err
}

// LeaseGrant grants a new lease, generating a random id when req.ID is
// zero (the document itself stays free of any randomness dependency).
func (a *Actor) LeaseGrant(ctx context.Context, req model.LeaseGrantRequest) (model.LeaseGrantResponse, error) {
	id, err := randLeaseID()
	if err != nil {
		return model.LeaseGrantResponse{}, model.NewError(model.KindInternal, "%v", err)
	}
	now := time.Now().Unix()
	return submit(ctx, a, true, "local", func(d *document.Document) (model.LeaseGrantResponse, error) {
		return d.LeaseGrant(req, id, now)
	})
}

// LeaseRevoke revokes a lease, cascading deletion of its attached keys.
func (a *Actor) LeaseRevoke(ctx context.Context, req model.LeaseRevokeRequest) (model.LeaseRevokeResponse, error) {
	return submit(ctx, a, true, "local", func(d *document.Document) (model.LeaseRevokeResponse, error) {
		return d.LeaseRevoke(req)
	})
}

// LeaseKeepAlive refreshes a lease's last-refresh timestamp.
func (a *Actor) LeaseKeepAlive(ctx context.Context, req model.LeaseKeepAliveRequest) (model.LeaseKeepAliveResponse, error) {
	now := time.Now().Unix()
	return submit(ctx, a, true, "local", func(d *document.Document) (model.LeaseKeepAliveResponse, error) {
		return d.LeaseKeepAlive(req, now)
	})
}

// LeaseTimeToLive reports remaining TTL and, if requested, attached keys.
// Read-only: never buffered behind a flush.
func (a *Actor) LeaseTimeToLive(ctx context.Context, req model.LeaseTimeToLiveRequest) (model.LeaseTimeToLiveResponse, error) {
	now := time.Now().Unix()
	return submit(ctx, a, false, "local", func(d *document.Document) (model.LeaseTimeToLiveResponse, error) {
		return d.LeaseTimeToLive(req, now)
	})
}

// LeaseLeases lists every granted lease id.
func (a *Actor) LeaseLeases(ctx context.Context) (model.LeaseLeasesResponse, error) {
	return submit(ctx, a, false, "local", func(d *document.Document) (model.LeaseLeasesResponse, error) {
		return d.LeaseLeases(), nil
	})
}

// ExpireLease revokes a lease whose TTL has elapsed. Called by
// internal/lease's per-lease timers rather than by the request router.
func (a *Actor) ExpireLease(ctx context.Context, id uint64) error {
	_, err := submit(ctx, a, true, "local", func(d *document.Document) (struct{}, error) {
		_, err := d.LeaseRevoke(model.LeaseRevokeRequest{ID: id})
		return struct{}{}, err
	})
	return err
}

// MemberAdd admits id (chosen by the caller, internal/node) into the
// cluster's membership map.
func (a *Actor) MemberAdd(ctx context.Context, id uint64, req model.MemberAddRequest) (model.MemberAddResponse, error) {
	return submit(ctx, a, true, "local", func(d *document.Document) (model.MemberAddResponse, error) {
		return d.MemberAdd(id, req), nil
	})
}

// MemberList lists current membership.
func (a *Actor) MemberList(ctx context.Context) (model.MemberListResponse, error) {
	return submit(ctx, a, false, "local", func(d *document.Document) (model.MemberListResponse, error) {
		return d.MemberList(), nil
	})
}

// MemberRemove is a documented no-op; see document.Document.MemberRemove.
func (a *Actor) MemberRemove(ctx context.Context, req model.MemberRemoveRequest) (model.MemberRemoveResponse, error) {
	return submit(ctx, a, false, "local", func(d *document.Document) (model.MemberRemoveResponse, error) {
		return d.MemberRemove(req), nil
	})
}

// MemberUpdate is a documented no-op; see document.Document.MemberUpdate.
func (a *Actor) MemberUpdate(ctx context.Context, req model.MemberUpdateRequest) (model.MemberUpdateResponse, error) {
	return submit(ctx, a, false, "local", func(d *document.Document) (model.MemberUpdateResponse, error) {
		return d.MemberUpdate(req), nil
	})
}

// MemberPromote is a documented no-op; see document.Document.MemberPromote.
func (a *Actor) MemberPromote(ctx context.Context, req model.MemberPromoteRequest) (model.MemberPromoteResponse, error) {
	return submit(ctx, a, false, "local", func(d *document.Document) (model.MemberPromoteResponse, error) {
		return d.MemberPromote(req), nil
	})
}

// ReplicationStatus reports per-member dominance over req.Heads.
func (a *Actor) ReplicationStatus(ctx context.Context, req model.ReplicationStatusRequest) (model.ReplicationStatusResponse, error) {
	return submit(ctx, a, false, "local", func(d *document.Document) (model.ReplicationStatusResponse, error) {
		return d.ReplicationStatus(req), nil
	})
}

// Compact is a no-op over the causal DAG; kept so the router can answer
// the RPC.
func (a *Actor) Compact(ctx context.Context) (model.Header, error) {
	return submit(ctx, a, false, "local", func(d *document.Document) (model.Header, error) {
		return d.Compact(), nil
	})
}

// ReplayEvents reconstructs the per-change Put/Delete events that
// happened to keys in kr between startHeads and the current heads, for
// internal/watch's historical watch replay.
func (a *Actor) ReplayEvents(ctx context.Context, startHeads []model.ChangeHash, kr model.KeyRange, includePrevKV bool) ([]model.Event, error) {
	return submit(ctx, a, false, "local", func(d *document.Document) ([]model.Event, error) {
		return d.ReplayEvents(startHeads, kr, includePrevKV), nil
	})
}

// Heads returns the document's current causal frontier.
func (a *Actor) Heads(ctx context.Context) ([]model.ChangeHash, error) {
	return submit(ctx, a, false, "local", func(d *document.Document) ([]model.ChangeHash, error) {
		return d.Heads(), nil
	})
}

// Header reports the cluster id, this replica's member id (zero until
// SetMemberID has run) and the current heads, used by internal/health's
// status endpoint and readiness probe.
func (a *Actor) Header(ctx context.Context) (model.Header, error) {
	return submit(ctx, a, false, "local", func(d *document.Document) (model.Header, error) {
		return d.Header(), nil
	})
}

// GenerateSyncMessage builds the next message to send to peerID, or nil if
// nothing has changed since the last one (internal/sync's per-peer loop
// calls this on every tick or change notification).
func (a *Actor) GenerateSyncMessage(ctx context.Context, peerID uint64) (*document.SyncMessage, error) {
	return submit(ctx, a, false, "local", func(d *document.Document) (*document.SyncMessage, error) {
		return d.GenerateSyncMessage(peerID), nil
	})
}

// ReceiveSyncMessage merges a peer's sync message and returns the
// resulting events; this is itself a durable, "remote origin" command
// since it may introduce new persisted changes.
func (a *Actor) ReceiveSyncMessage(ctx context.Context, peerID uint64, msg *document.SyncMessage) ([]model.Event, error) {
	return submit(ctx, a, true, "remote", func(d *document.Document) ([]model.Event, error) {
		return d.ReceiveSyncMessage(peerID, msg), nil
	})
}

// PersistSyncState writes peerID's current sync state to the persister;
// internal/sync calls this periodically so a restart doesn't replay
// already-acknowledged history. Goes straight to the persister rather than
// through the flush buffer: losing the very latest cursor on crash just
// costs one redundant sync round, not correctness.
func (a *Actor) PersistSyncState(ctx context.Context, peerID uint64) error {
	_, err := submit(ctx, a, false, "local", func(d *document.Document) (struct{}, error) {
		lastSent, theirs, ok := d.SyncState(peerID)
		if !ok {
			return struct{}{}, nil
		}
		b, err := document.EncodePeerSyncState(document.PeerSyncSnapshot{LastSent: lastSent, Theirs: theirs})
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, a.persister.SetSyncState(peerID, b)
	})
	return err
}
