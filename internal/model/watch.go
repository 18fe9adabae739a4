package model

// EventType distinguishes the two kinds of watch events (§4.2).
type EventType int

const (
	EventPut EventType = iota
	EventDelete
)

// Event is one logical mutation delivered to a watcher.
type Event struct {
	Type    EventType
	KV      KeyValue
	PrevKV  *KeyValue // populated only when the watcher requested it
}

// WatchCreateRequest registers a new range watcher (§4.4). StartHeads, if
// non-nil, asks for historical replay from that causal point forward
// before switching to live delivery; a nil StartHeads means "live only,
// starting now".
type WatchCreateRequest struct {
	Range          KeyRange
	IncludePrevKV  bool
	StartHeads     []ChangeHash
}

// WatchID identifies a registered watcher, assigned by a monotonic
// counter local to the watch server (§4.4).
type WatchID int64
