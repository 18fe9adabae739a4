package document

import "github.com/cuemby/dismerge/internal/model"

// materialize replays every change in the ancestor closure of heads, in
// topological order, into a throwaway key-value map. It reuses the exact
// same apply logic the live document uses, so a historical Range sees
// precisely the state that existed at that causal frontier — including the
// same conflict-resolution rule for concurrent writes.
func (d *Document) materialize(heads []model.ChangeHash) map[string]*model.KeyValue {
	return d.materializeDocument(d.dag.closure(heads)).kvs
}

// materializeDocument builds a throwaway Document holding exactly the
// state produced by replaying, in topological order, every change in
// closure. Its dag only knows about closure, matching materialize's
// existing behavior for historical Range; ReplayEvents (replay.go) extends a
// shadow document's dag further once it already has one, so that a
// change applied after the initial snapshot can still be compared
// against changes the snapshot already holds.
func (d *Document) materializeDocument(closure map[model.ChangeHash]struct{}) *Document {
	changes := make([]*Change, 0, len(closure))
	for h := range closure {
		changes = append(changes, d.dag.changes[h])
	}
	orderByInsertSeq(changes)

	shadow := &Document{
		dag:           newShadowDAG(d.dag, closure),
		kvs:           map[string]*model.KeyValue{},
		leases:        map[uint64]*leaseState{},
		members:       map[uint64]*model.Member{},
		memberModHead: map[uint64]model.ChangeHash{},
	}
	for _, c := range changes {
		shadow.apply(c, nil)
	}
	return shadow
}

func orderByInsertSeq(cs []*Change) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0 && cs[j-1].insertSeq > cs[j].insertSeq; j-- {
			cs[j-1], cs[j] = cs[j], cs[j-1]
		}
	}
}

// newShadowDAG builds a dag view restricted to the changes in closure, used
// only so that wins()/isAncestorOrEqual() give answers consistent with the
// state of the world as of that frontier rather than the replica's full,
// possibly newer, graph. Ancestor sets are shared with the parent graph
// (they never change once computed), so this is cheap.
func newShadowDAG(parent *dag, closure map[model.ChangeHash]struct{}) *dag {
	g := newDAG()
	for h := range closure {
		g.changes[h] = parent.changes[h]
		g.ancestors[h] = parent.ancestors[h]
	}
	return g
}
