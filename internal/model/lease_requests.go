package model

// LeaseGrantRequest requests a new (or, with ID set, a specific) lease.
type LeaseGrantRequest struct {
	ID  uint64 // 0 => assign one
	TTL int64  // seconds, clamped to >= MinLeaseTTL
}

// LeaseGrantResponse reports the granted lease.
type LeaseGrantResponse struct {
	Header Header
	ID     uint64
	TTL    int64
}

// LeaseRevokeRequest revokes a lease, cascading deletion of its keys.
type LeaseRevokeRequest struct {
	ID uint64
}

// LeaseRevokeResponse is the (header-only) result of a revoke.
type LeaseRevokeResponse struct {
	Header Header
}

// LeaseKeepAliveRequest refreshes a lease's last-refresh timestamp.
type LeaseKeepAliveRequest struct {
	ID uint64
}

// LeaseKeepAliveResponse echoes the current TTL; TTL=0 means the lease
// doesn't exist (§4.5).
type LeaseKeepAliveResponse struct {
	Header Header
	ID     uint64
	TTL    int64
}

// LeaseTimeToLiveRequest queries remaining TTL, optionally with attached
// keys.
type LeaseTimeToLiveRequest struct {
	ID   uint64
	Keys bool
}

// LeaseTimeToLiveResponse reports remaining TTL and (if requested)
// attached keys. GrantedTTL/TTL are both -1 if the lease does not exist.
type LeaseTimeToLiveResponse struct {
	Header     Header
	ID         uint64
	TTL        int64
	GrantedTTL int64
	Keys       [][]byte
}

// LeaseLeasesResponse lists every granted lease id.
type LeaseLeasesResponse struct {
	Header Header
	IDs    []uint64
}
