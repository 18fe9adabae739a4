package document

import (
	"sort"

	"github.com/cuemby/dismerge/internal/model"
)

// dag tracks the causal graph of Changes: which hashes are currently heads,
// and, memoized per hash, the full set of its ancestors. Automerge itself
// derives ancestry from a columnar encoding of the change graph; caching
// the closure per-hash trades memory for an O(1) ancestor test, which is
// the simplification recorded in DESIGN.md.
type dag struct {
	changes   map[model.ChangeHash]*Change
	isHead    map[model.ChangeHash]bool
	ancestors map[model.ChangeHash]map[model.ChangeHash]struct{}
	nextSeq   int64
}

func newDAG() *dag {
	return &dag{
		changes:   map[model.ChangeHash]*Change{},
		isHead:    map[model.ChangeHash]bool{},
		ancestors: map[model.ChangeHash]map[model.ChangeHash]struct{}{},
	}
}

func (g *dag) has(h model.ChangeHash) bool {
	_, ok := g.changes[h]
	return ok
}

// insert adds c to the graph. Every dependency of c must already be
// present; the caller (Document.ReceiveSyncMessage, Document's own local
// commit path) is responsible for ordering.
func (g *dag) insert(c *Change) {
	if g.has(c.Hash) {
		return
	}
	c.insertSeq = g.nextSeq
	g.nextSeq++

	closure := map[model.ChangeHash]struct{}{}
	for _, d := range c.Deps {
		closure[d] = struct{}{}
		for a := range g.ancestors[d] {
			closure[a] = struct{}{}
		}
		g.isHead[d] = false
	}
	g.ancestors[c.Hash] = closure
	g.changes[c.Hash] = c
	g.isHead[c.Hash] = true
}

// heads returns the current causal frontier: hashes with no known
// dependents.
func (g *dag) heads() []model.ChangeHash {
	out := make([]model.ChangeHash, 0, len(g.isHead))
	for h, head := range g.isHead {
		if head {
			out = append(out, h)
		}
	}
	return out
}

// isAncestorOrEqual reports whether a happened-before (or is) b.
func (g *dag) isAncestorOrEqual(a, b model.ChangeHash) bool {
	if a == b {
		return true
	}
	_, ok := g.ancestors[b][a]
	return ok
}

// wins reports whether candidate should supersede current as the authority
// over some piece of state (a key's value, a lease, a member record): a
// causal descendant always wins outright; between two causally concurrent
// changes, the one with the lexicographically greater hash wins. This rule
// is commutative and idempotent regardless of application order (DESIGN.md
// "concurrent-write tie-break"), which is what lets replicas converge
// without coordinating on an order to apply changes in.
func (g *dag) wins(candidate, current model.ChangeHash) bool {
	if current.IsZero() {
		return true
	}
	if g.isAncestorOrEqual(current, candidate) {
		return true
	}
	if g.isAncestorOrEqual(candidate, current) {
		return false
	}
	return current.Less(candidate)
}

// closure returns the set of heads themselves plus every one of their
// ancestors: every change reachable as of that causal frontier.
func (g *dag) closure(heads []model.ChangeHash) map[model.ChangeHash]struct{} {
	out := map[model.ChangeHash]struct{}{}
	for _, h := range heads {
		if _, ok := g.changes[h]; !ok {
			continue
		}
		out[h] = struct{}{}
		for a := range g.ancestors[h] {
			out[a] = struct{}{}
		}
	}
	return out
}

// missingFrom returns the changes in g's full closure of heads that are not
// present in have, ordered topologically (by insertSeq) so that applying
// them in order never hits an unsatisfied dependency.
func (g *dag) missingFrom(heads []model.ChangeHash, have map[model.ChangeHash]struct{}) []*Change {
	full := g.closure(heads)
	out := make([]*Change, 0, len(full))
	for h := range full {
		if _, ok := have[h]; ok {
			continue
		}
		out = append(out, g.changes[h])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].insertSeq < out[j].insertSeq })
	return out
}
