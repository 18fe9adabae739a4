package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// ChangeHash is a content-addressed identifier of a single change applied
// to the document. It plays the role etcd's integer revision plays, except
// there is no total order between two unrelated hashes: ancestry, not
// magnitude, is what makes one "newer" than another.
type ChangeHash [32]byte

// ZeroHash is the hash of no change; it never appears as a real change's
// hash and is used as a sentinel (e.g. "no lease", "document is empty").
var ZeroHash ChangeHash

// String renders the hash as lowercase hex, like git object ids.
func (h ChangeHash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the sentinel zero hash.
func (h ChangeHash) IsZero() bool {
	return h == ZeroHash
}

// Less provides a total order over hashes used only to deterministically
// break ties between causally-concurrent writes; it has no bearing on
// causal ("happened-before") order, which is tracked separately via the
// change DAG.
func (h ChangeHash) Less(other ChangeHash) bool {
	for i := range h {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}

// HashChanges computes a ChangeHash for a change from its actor, sequence
// number, sorted dependency hashes and serialized operations. It is pure
// and deterministic: any two replicas hashing the same logical change
// produce the same ChangeHash, which is what lets changes be addressed by
// content rather than by a centrally assigned counter.
func HashChanges(actor string, seq uint64, deps []ChangeHash, opsEncoded []byte) ChangeHash {
	sorted := make([]ChangeHash, len(deps))
	copy(sorted, deps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	h := sha256.New()
	h.Write([]byte(actor))
	writeUint64(h, seq)
	for _, d := range sorted {
		h.Write(d[:])
	}
	h.Write(opsEncoded)

	var out ChangeHash
	copy(out[:], h.Sum(nil))
	return out
}

func writeUint64(w interface{ Write([]byte) (int, error) }, v uint64) {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (56 - 8*i))
	}
	w.Write(buf[:])
}
