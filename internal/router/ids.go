package router

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// randMemberID generates a random non-zero member id for MemberAdd,
// following the same crypto/rand convention used for lease ids in
// internal/actor (itself grounded on the teacher's token-generation
// code) rather than math/rand.
func randMemberID() (uint64, error) {
	var b [8]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 0, fmt.Errorf("generate member id: %w", err)
		}
		id := binary.BigEndian.Uint64(b[:])
		if id != 0 {
			return id, nil
		}
	}
}
