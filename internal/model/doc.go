// Package model holds the language-neutral request/response types that
// internal/document and internal/watch operate on. It exists so the CRDT
// core never has to know whether it's being driven by an etcd-compatible
// gRPC service or something else entirely — conversions at the transport
// boundary (UTF-8 decoding of keys, empty range_end becoming a nil End,
// etc.) all happen outside this package.
package model
