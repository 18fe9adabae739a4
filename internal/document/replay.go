package document

import "github.com/cuemby/dismerge/internal/model"

// ReplayEvents reconstructs the Put/Delete events that happened to keys in
// kr strictly after startHeads, up to the document's current heads, one
// event per mutating change rather than a single net diff between the two
// frontiers. This mirrors the original implementation's create_watch
// walking every intermediate revision between start and current
// (dismerge-core/src/watch_server.rs's `for revision in
// start_revision..current_revision`) instead of snapshotting the
// endpoints: a key that is put, put again, then deleted between the two
// frontiers must be reported as three events, not net-diffed to one.
//
// It materializes startHeads into a shadow document (the same machinery
// materialize.go uses for historical Range), extends that shadow's dag to
// also know about every change up to the current heads so wins()/
// isAncestorOrEqual still see the true causal graph, then re-applies the
// missing changes in topological order, routing each through the same
// apply logic the live document uses so CRDT conflict resolution during
// replay matches what actually happened live.
func (d *Document) ReplayEvents(startHeads []model.ChangeHash, kr model.KeyRange, includePrevKV bool) []model.Event {
	if kr.Empty() {
		return nil
	}

	startClosure := d.dag.closure(startHeads)
	shadow := d.materializeDocument(startClosure)

	fullClosure := d.dag.closure(d.Heads())
	for h := range fullClosure {
		if _, ok := shadow.dag.changes[h]; ok {
			continue
		}
		shadow.dag.changes[h] = d.dag.changes[h]
		shadow.dag.ancestors[h] = d.dag.ancestors[h]
	}

	missing := d.dag.missingFrom(d.Heads(), startClosure)

	var events []model.Event
	emit := func(e model.Event) {
		if !kr.Contains(e.KV.Key) {
			return
		}
		if !includePrevKV {
			e.PrevKV = nil
		}
		events = append(events, e)
	}
	for _, c := range missing {
		shadow.apply(c, emit)
	}
	return events
}
