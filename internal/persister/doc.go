/*
Package persister implements the durable storage layer beneath the
document: the change log, the last compacted snapshot, and per-peer sync
cursors (§4.1, §6.2).

Three backends share the Persister interface:

  - MemoryPersister: process memory only, no crash recovery. Used by tests
    and the `persister=memory` CLI option.
  - FilePersister: one file per change under <data_dir>/changes, plus a
    single <data_dir>/document snapshot file and <data_dir>/sync cursor
    files. `persister=fs`.
  - BoltPersister: a single bbolt database file, <data_dir>/dismerge.db,
    with one bucket each for changes, the document snapshot, and sync
    state. `persister=sled` in the design this was distilled from — Go has
    no sled binding, so bbolt fills the same "embedded ordered KV engine"
    role.

None of these backends are safe for concurrent use; internal/actor is the
only caller and serializes every call from its own goroutine.
*/
package persister
