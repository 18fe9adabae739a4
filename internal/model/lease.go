package model

import "time"

// Lease is a time-bounded handle keys can attach to; revoking (or letting
// expire) a lease cascades to delete every key attached to it (§3).
type Lease struct {
	ID           uint64
	GrantedTTL   int64 // seconds
	LastRefresh  time.Time
	AttachedKeys map[string]struct{}
}

// MinLeaseTTL is the minimum TTL a grant is clamped to (§4.5, §8).
const MinLeaseTTL = 2

// Remaining returns the TTL remaining as of now, per §4.5's
// granted_ttl - (now - last_refresh). It can be negative once a lease has
// outlived its grant but not yet been reaped.
func (l Lease) Remaining(now time.Time) int64 {
	elapsed := int64(now.Sub(l.LastRefresh).Seconds())
	return l.GrantedTTL - elapsed
}

// Expired reports whether the lease has outlived its TTL as of now.
func (l Lease) Expired(now time.Time) bool {
	return l.Remaining(now) <= 0
}
