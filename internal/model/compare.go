package model

// CompareTargetKind selects which facet of a key a txn predicate inspects.
type CompareTargetKind int

const (
	CompareCreateHead CompareTargetKind = iota
	CompareModHead
	CompareValue
	CompareLease
	// CompareVersion/CreateRevision/ModRevision belong to the
	// revision-based wire variant (§4.6); the CRDT core never produces a
	// scalar revision itself, so these are accepted as compare targets
	// only by an adapter that maintains its own local revision counter
	// (§9 "Clients needing total order"), never by internal/document.
	CompareVersion
	CompareCreateRevision
	CompareModRevision
)

// CompareResult is the predicate operator (§4.2).
type CompareResult int

const (
	CompareEqual CompareResult = iota
	CompareLess
	CompareGreater
	CompareNotEqual
)

// Compare is one txn predicate, evaluated over every key in Range
// (conjunction across the range — §4.2 "holds iff it holds for every key
// in the range").
type Compare struct {
	Range  KeyRange
	Target CompareTargetKind
	Result CompareResult

	HeadValue    ChangeHash
	BytesValue   []byte
	LeaseValue   uint64
	RevisionVal  int64
}
