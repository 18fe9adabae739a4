package document

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/cuemby/dismerge/internal/model"
)

// opKind tags the low-level mutations a Change can carry. These are the
// CRDT's own primitive ops, one level below the request-shaped Op in
// internal/model: a single Put request, for example, becomes one opKVPut
// changeOp.
type opKind uint8

const (
	opKVPut opKind = iota
	opKVDelete
	opLeaseGrant
	opLeaseRefresh
	opLeaseRevoke
	opMemberAdd
	opClusterInit
)

// changeOp is one primitive mutation recorded inside a Change.
type changeOp struct {
	Kind opKind

	Key   []byte
	Value model.Value

	LeaseID uint64
	TTL     int64
	NowUnix int64

	MemberID   uint64
	Name       string
	PeerURLs   []string
	ClientURLs []string

	ClusterID uint64
}

// Change is an atomic, immutable edit to the document (spec §3 "Change
// Hash"). Its Hash is computed from everything else in the struct, so two
// replicas that construct the logically same change always agree on its
// identity.
type Change struct {
	Hash model.ChangeHash
	Actor string
	Seq   uint64
	Deps  []model.ChangeHash
	Ops   []changeOp

	// insertSeq is the order this change was added to this replica's DAG.
	// Because a change is only ever inserted after all of its Deps are
	// already present, sorting by insertSeq yields a valid topological
	// order for re-application.
	insertSeq int64
}

func newChange(actor string, seq uint64, deps []model.ChangeHash, ops []changeOp) *Change {
	sortedDeps := make([]model.ChangeHash, len(deps))
	copy(sortedDeps, deps)
	sort.Slice(sortedDeps, func(i, j int) bool { return sortedDeps[i].Less(sortedDeps[j]) })

	c := &Change{Actor: actor, Seq: seq, Deps: sortedDeps, Ops: ops}
	c.Hash = model.HashChanges(actor, seq, sortedDeps, encodeOpsDeterministic(ops))
	return c
}

// encodeOpsDeterministic serializes ops in a fixed field order, with any
// map fields (JSON value fields) sorted by key, so that the same logical
// change always hashes to the same bytes regardless of Go map iteration
// order.
func encodeOpsDeterministic(ops []changeOp) []byte {
	var buf bytes.Buffer
	for _, op := range ops {
		buf.WriteByte(byte(op.Kind))
		writeBytes(&buf, op.Key)
		writeValue(&buf, op.Value)
		writeUint64(&buf, op.LeaseID)
		writeInt64(&buf, op.TTL)
		writeInt64(&buf, op.NowUnix)
		writeUint64(&buf, op.MemberID)
		writeString(&buf, op.Name)
		writeStrings(&buf, op.PeerURLs)
		writeStrings(&buf, op.ClientURLs)
		writeUint64(&buf, op.ClusterID)
	}
	return buf.Bytes()
}

func writeValue(buf *bytes.Buffer, v model.Value) {
	buf.WriteByte(byte(v.Kind))
	writeBytes(buf, v.Bytes)
	if v.Kind != model.ValueJSON {
		return
	}
	names := make([]string, 0, len(v.Fields))
	for n := range v.Fields {
		names = append(names, n)
	}
	sort.Strings(names)
	writeInt64(buf, int64(len(names)))
	for _, n := range names {
		writeString(buf, n)
		f := v.Fields[n]
		writeBytes(buf, f.Raw)
		buf.Write(f.ModHead[:])
	}
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeInt64(buf, int64(len(b)))
	buf.Write(b)
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func writeStrings(buf *bytes.Buffer, ss []string) {
	writeInt64(buf, int64(len(ss)))
	for _, s := range ss {
		writeString(buf, s)
	}
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	writeUint64(buf, uint64(v))
}
