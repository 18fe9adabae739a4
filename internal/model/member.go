package model

// Member is a replica participating in the cluster (§3).
type Member struct {
	ID         uint64
	Name       string
	PeerURLs   []string
	ClientURLs []string
}

// Header accompanies every response and identifies the Document state
// that produced it (§3).
type Header struct {
	ClusterID uint64
	MemberID  uint64
	Heads     []ChangeHash
}
