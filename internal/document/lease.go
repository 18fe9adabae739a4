package document

import "github.com/cuemby/dismerge/internal/model"

// clampTTL enforces the §4.5/§8 minimum lease TTL.
func clampTTL(ttl int64) int64 {
	if ttl < model.MinLeaseTTL {
		return model.MinLeaseTTL
	}
	return ttl
}

// LeaseGrant grants a new lease, or regrants an explicit id if it is not
// already in use. now is supplied by the caller (internal/actor) rather
// than read from the wall clock here, keeping the document itself free of
// any direct time dependency.
func (d *Document) LeaseGrant(req model.LeaseGrantRequest, id uint64, nowUnix int64) (model.LeaseGrantResponse, error) {
	if req.ID != 0 {
		if _, ok := d.leases[req.ID]; ok {
			return model.LeaseGrantResponse{}, model.NewError(model.KindAlreadyExists, "lease %d already exists", req.ID)
		}
		id = req.ID
	}
	ttl := clampTTL(req.TTL)
	d.commit([]changeOp{{Kind: opLeaseGrant, LeaseID: id, TTL: ttl, NowUnix: nowUnix}})
	return model.LeaseGrantResponse{Header: d.Header(), ID: id, TTL: ttl}, nil
}

// LeaseRevoke revokes a lease, cascading deletion of every key attached to
// it (§4.5).
func (d *Document) LeaseRevoke(req model.LeaseRevokeRequest) (model.LeaseRevokeResponse, error) {
	if _, ok := d.leases[req.ID]; !ok {
		return model.LeaseRevokeResponse{}, model.NewError(model.KindNotFound, "lease %d not found", req.ID)
	}
	d.commit([]changeOp{{Kind: opLeaseRevoke, LeaseID: req.ID}})
	return model.LeaseRevokeResponse{Header: d.Header()}, nil
}

// LeaseKeepAlive refreshes a lease's last-refresh timestamp. TTL=0 in the
// response signals the lease no longer exists (§4.5), not an error — a
// keepalive racing an expiry is an expected, non-exceptional outcome.
func (d *Document) LeaseKeepAlive(req model.LeaseKeepAliveRequest, nowUnix int64) (model.LeaseKeepAliveResponse, error) {
	ls, ok := d.leases[req.ID]
	if !ok {
		return model.LeaseKeepAliveResponse{Header: d.Header(), ID: req.ID, TTL: 0}, nil
	}
	d.commit([]changeOp{{Kind: opLeaseRefresh, LeaseID: req.ID, NowUnix: nowUnix}})
	return model.LeaseKeepAliveResponse{Header: d.Header(), ID: req.ID, TTL: ls.lease.GrantedTTL}, nil
}

// LeaseTimeToLive reports remaining TTL and, if requested, attached keys.
func (d *Document) LeaseTimeToLive(req model.LeaseTimeToLiveRequest, nowUnix int64) (model.LeaseTimeToLiveResponse, error) {
	ls, ok := d.leases[req.ID]
	if !ok {
		return model.LeaseTimeToLiveResponse{Header: d.Header(), ID: req.ID, TTL: -1, GrantedTTL: -1}, nil
	}
	resp := model.LeaseTimeToLiveResponse{
		Header:     d.Header(),
		ID:         req.ID,
		TTL:        ls.lease.Remaining(unixTime(nowUnix)),
		GrantedTTL: ls.lease.GrantedTTL,
	}
	if req.Keys {
		for k := range ls.lease.AttachedKeys {
			resp.Keys = append(resp.Keys, []byte(k))
		}
	}
	return resp, nil
}

// LeaseLeases lists every granted lease id.
func (d *Document) LeaseLeases() model.LeaseLeasesResponse {
	ids := make([]uint64, 0, len(d.leases))
	for id := range d.leases {
		ids = append(ids, id)
	}
	return model.LeaseLeasesResponse{Header: d.Header(), IDs: ids}
}

// ExpiredLeases returns ids of every lease whose TTL has elapsed as of
// nowUnix. internal/lease does not call it: its per-lease workers check
// each lease's remaining TTL through LeaseTimeToLive instead.
func (d *Document) ExpiredLeases(nowUnix int64) []uint64 {
	var out []uint64
	now := unixTime(nowUnix)
	for id, ls := range d.leases {
		if ls.lease.Expired(now) {
			out = append(out, id)
		}
	}
	return out
}
