package model

import "encoding/json"

// ValueKind distinguishes the two payload shapes a key may carry (§9
// "Value types"): opaque bytes, compatible with etcd's own wire format,
// and a structured JSON document whose disjoint fields can be written
// concurrently by different replicas without clobbering each other.
type ValueKind int

const (
	ValueBytes ValueKind = iota
	ValueJSON
)

// FieldValue is one field of a structured Value, carrying its own change
// hash so that two concurrent writes to different fields of the same key
// merge instead of one clobbering the other.
type FieldValue struct {
	Raw     json.RawMessage
	ModHead ChangeHash
}

// Value is the payload stored under a Key. For ValueBytes, Bytes is
// authoritative. For ValueJSON, Fields is authoritative and Bytes is a
// cached encoding of it, rebuilt by Canonicalize after any field merge.
type Value struct {
	Kind   ValueKind
	Bytes  []byte
	Fields map[string]FieldValue
}

// NewBytesValue builds an opaque-bytes Value.
func NewBytesValue(b []byte) Value {
	return Value{Kind: ValueBytes, Bytes: b}
}

// NewJSONValue parses doc (a JSON object) into a field-addressable Value,
// all fields stamped with modHead.
func NewJSONValue(doc []byte, modHead ChangeHash) (Value, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(doc, &raw); err != nil {
		return Value{}, err
	}
	fields := make(map[string]FieldValue, len(raw))
	for k, v := range raw {
		fields[k] = FieldValue{Raw: v, ModHead: modHead}
	}
	v := Value{Kind: ValueJSON, Fields: fields}
	v.Canonicalize()
	return v, nil
}

// Canonicalize rebuilds Bytes from Fields for a ValueJSON value. It is a
// no-op for ValueBytes.
func (v *Value) Canonicalize() {
	if v.Kind != ValueJSON {
		return
	}
	flat := make(map[string]json.RawMessage, len(v.Fields))
	for k, f := range v.Fields {
		flat[k] = f.Raw
	}
	// error is impossible: flat's values are all valid json.RawMessage
	b, _ := json.Marshal(flat)
	v.Bytes = b
}

// MergeField applies a single-field write from a change stamped modHead,
// keeping the field whose stamp wins the same causal/hash tie-break the
// document uses for whole-key conflicts (DESIGN.md "concurrent-write
// tie-break"). ancestorOf reports whether a is an ancestor of (or equal
// to) b in the change DAG.
func (v *Value) MergeField(name string, raw json.RawMessage, modHead ChangeHash, ancestorOf func(a, b ChangeHash) bool) {
	if v.Kind != ValueJSON {
		return
	}
	if v.Fields == nil {
		v.Fields = map[string]FieldValue{}
	}
	existing, ok := v.Fields[name]
	if !ok || ancestorOf(existing.ModHead, modHead) {
		v.Fields[name] = FieldValue{Raw: raw, ModHead: modHead}
		return
	}
	if ancestorOf(modHead, existing.ModHead) {
		return // existing is already newer
	}
	// concurrent: higher hash wins, deterministically on every replica
	if existing.ModHead.Less(modHead) {
		v.Fields[name] = FieldValue{Raw: raw, ModHead: modHead}
	}
}
