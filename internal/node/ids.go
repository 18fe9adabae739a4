package node

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// randID generates a random non-zero uint64, the same crypto/rand
// convention used for lease ids in internal/actor and member ids in
// internal/router, applied here to cluster/member id generation for a
// node bootstrapping a brand new cluster (initial_cluster_state=new).
func randID() (uint64, error) {
	var b [8]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 0, fmt.Errorf("generate id: %w", err)
		}
		id := binary.BigEndian.Uint64(b[:])
		if id != 0 {
			return id, nil
		}
	}
}
