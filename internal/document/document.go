// Package document implements the conflict-free replicated document: the
// single CRDT that backs the key-value store, lease table and membership
// list. A Document is not internally synchronized; it is owned by exactly
// one goroutine at a time (internal/actor enforces this), mirroring the
// single-writer DocumentHandle pattern the sync engine and request router
// both talk to through channels rather than direct calls.
package document

import (
	"bytes"
	"sort"
	"time"

	"github.com/cuemby/dismerge/internal/model"
)

func unixTime(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

// Document is the CRDT core: a change DAG plus the materialized view
// (key-value table, lease table, membership list) that replaying every
// change in topological order produces.
type Document struct {
	actorID string
	seq     uint64

	dag *dag

	clusterID uint64
	memberID  uint64

	kvs     map[string]*model.KeyValue
	leases  map[uint64]*leaseState
	members map[uint64]*model.Member

	// modHead of the most recent change touching a member id, for the same
	// wins() conflict policy applied to keys.
	memberModHead map[uint64]model.ChangeHash

	peers map[uint64]*peerSyncState

	pending        []model.Event
	pendingChanges []*Change
}

type leaseState struct {
	lease       model.Lease
	modHead     model.ChangeHash
	lastRefresh int64 // unix seconds, merged by max() — see applyLeaseRefresh
}

// New creates an empty Document for actorID (a per-process random identity
// used to attribute locally-created changes and seed their sequence
// numbers).
func New(actorID string) *Document {
	return &Document{
		actorID:       actorID,
		dag:           newDAG(),
		kvs:           map[string]*model.KeyValue{},
		leases:        map[uint64]*leaseState{},
		members:       map[uint64]*model.Member{},
		memberModHead: map[uint64]model.ChangeHash{},
		peers:         map[uint64]*peerSyncState{},
	}
}

// Bootstrap seeds a fresh Document with a cluster id and its own member
// record. Called once, by the first member of a new cluster.
func (d *Document) Bootstrap(clusterID uint64, self model.Member) {
	d.commit([]changeOp{
		{Kind: opClusterInit, ClusterID: clusterID},
		{Kind: opMemberAdd, MemberID: self.ID, Name: self.Name, PeerURLs: self.PeerURLs, ClientURLs: self.ClientURLs},
	})
	d.memberID = self.ID
}

// SetMemberID records which member id this replica is, once it has joined
// an existing cluster (its membership change arrives via sync rather than
// a local Bootstrap).
func (d *Document) SetMemberID(id uint64) { d.memberID = id }

// Header returns the response header for the document's current state.
func (d *Document) Header() model.Header {
	return model.Header{ClusterID: d.clusterID, MemberID: d.memberID, Heads: d.Heads()}
}

// Heads returns the current causal frontier.
func (d *Document) Heads() []model.ChangeHash {
	h := d.dag.heads()
	sort.Slice(h, func(i, j int) bool { return h[i].Less(h[j]) })
	return h
}

// DrainEvents removes and returns every event buffered since the last
// drain. internal/actor calls this after each request that may have
// mutated state, to hand the events to internal/watch for dispatch.
func (d *Document) DrainEvents() []model.Event {
	ev := d.pending
	d.pending = nil
	return ev
}

func (d *Document) pushEvent(e model.Event) {
	d.pending = append(d.pending, e)
}

// commit assembles ops into a new local Change, inserts it into the DAG as
// a child of the current heads, applies it to the live state (emitting
// events), and returns it. Every externally-visible mutating method is a
// thin wrapper around commit.
func (d *Document) commit(ops []changeOp) *Change {
	d.seq++
	c := newChange(d.actorID, d.seq, d.Heads(), ops)
	d.dag.insert(c)
	d.apply(c, d.pushEvent)
	d.pendingChanges = append(d.pendingChanges, c)
	return c
}

// DrainPendingChanges removes and returns every change created locally or
// merged from a peer since the last drain. internal/actor calls this after
// each request to know what to hand to the Persister.
func (d *Document) DrainPendingChanges() []*Change {
	cs := d.pendingChanges
	d.pendingChanges = nil
	return cs
}

// LoadChanges inserts a batch of previously persisted changes whose
// dependency order is not guaranteed (Persister.GetChanges returns
// "arbitrary order" per spec). It repeatedly inserts whatever is
// insertable until no more progress can be made; any change still missing
// a dependency at that point indicates corrupt or incomplete storage.
func (d *Document) LoadChanges(changes []*Change) error {
	remaining := changes
	for len(remaining) > 0 {
		var next []*Change
		progressed := false
		for _, c := range remaining {
			if d.depsSatisfied(c) {
				d.dag.insert(c)
				d.apply(c, nil)
				progressed = true
				continue
			}
			next = append(next, c)
		}
		if !progressed {
			return model.NewError(model.KindInternal, "%d persisted changes have unresolvable dependencies", len(next))
		}
		remaining = next
	}
	d.pendingChanges = nil
	return nil
}

func (d *Document) depsSatisfied(c *Change) bool {
	for _, dep := range c.Deps {
		if !d.dag.has(dep) {
			return false
		}
	}
	return true
}

// Merge inserts changes received from a peer (already in a valid
// topological order — see internal/document/merge.go) and applies each to
// the live state, in order, skipping any already known. It returns the
// events produced, which may be empty if every change was already known
// (merge is idempotent: applying the same set twice produces no new
// events the second time).
func (d *Document) Merge(changes []*Change) []model.Event {
	start := len(d.pending)
	for _, c := range changes {
		if d.dag.has(c.Hash) {
			continue
		}
		d.dag.insert(c)
		d.apply(c, d.pushEvent)
		d.pendingChanges = append(d.pendingChanges, c)
	}
	// The events stay buffered for DrainEvents, so internal/actor hands
	// merged-in events to its onEvents hook just like local ones.
	return append([]model.Event(nil), d.pending[start:]...)
}

// apply materializes c's ops into the document's live maps. emit is called
// for every KV mutation that actually changes observable state; pass a
// nil-safe no-op to replay without generating watch events (used by
// materialize.go for historical Range).
func (d *Document) apply(c *Change, emit func(model.Event)) {
	if emit == nil {
		emit = func(model.Event) {}
	}
	for _, op := range c.Ops {
		switch op.Kind {
		case opKVPut:
			d.applyPut(c.Hash, op, emit)
		case opKVDelete:
			d.applyDelete(c.Hash, op, emit)
		case opLeaseGrant:
			d.applyLeaseGrant(c.Hash, op)
		case opLeaseRefresh:
			d.applyLeaseRefresh(op)
		case opLeaseRevoke:
			d.applyLeaseRevoke(c.Hash, op, emit)
		case opMemberAdd:
			d.applyMemberAdd(c.Hash, op)
		case opClusterInit:
			if d.clusterID == 0 {
				d.clusterID = op.ClusterID
			}
		}
	}
}

func (d *Document) applyPut(h model.ChangeHash, op changeOp, emit func(model.Event)) {
	key := string(op.Key)
	existing, ok := d.kvs[key]
	if !ok {
		kv := &model.KeyValue{Key: op.Key, Value: op.Value, CreateHead: h, ModHead: h, LeaseID: op.LeaseID}
		d.kvs[key] = kv
		d.attachLease(op.LeaseID, key)
		emit(model.Event{Type: model.EventPut, KV: kv.Clone()})
		return
	}

	if existing.Value.Kind == model.ValueJSON && op.Value.Kind == model.ValueJSON {
		prev := existing.Clone()
		for name, f := range op.Value.Fields {
			existing.Value.MergeField(name, f.Raw, h, d.dag.isAncestorOrEqual)
		}
		existing.Value.Canonicalize()
		if d.dag.wins(h, existing.ModHead) {
			d.detachLease(existing.LeaseID, key)
			existing.ModHead = h
			existing.LeaseID = op.LeaseID
			d.attachLease(op.LeaseID, key)
		}
		emit(model.Event{Type: model.EventPut, KV: existing.Clone(), PrevKV: &prev})
		return
	}

	if !d.dag.wins(h, existing.ModHead) {
		return
	}
	prev := existing.Clone()
	d.detachLease(existing.LeaseID, key)
	existing.Value = op.Value
	existing.ModHead = h
	existing.LeaseID = op.LeaseID
	d.attachLease(op.LeaseID, key)
	emit(model.Event{Type: model.EventPut, KV: existing.Clone(), PrevKV: &prev})
}

func (d *Document) applyDelete(h model.ChangeHash, op changeOp, emit func(model.Event)) {
	key := string(op.Key)
	existing, ok := d.kvs[key]
	if !ok || !d.dag.wins(h, existing.ModHead) {
		return
	}
	prev := existing.Clone()
	d.detachLease(existing.LeaseID, key)
	delete(d.kvs, key)
	emit(model.Event{Type: model.EventDelete, KV: model.KeyValue{Key: op.Key, ModHead: h}, PrevKV: &prev})
}

func (d *Document) attachLease(leaseID uint64, key string) {
	if leaseID == 0 {
		return
	}
	if ls, ok := d.leases[leaseID]; ok {
		if ls.lease.AttachedKeys == nil {
			ls.lease.AttachedKeys = map[string]struct{}{}
		}
		ls.lease.AttachedKeys[key] = struct{}{}
	}
}

func (d *Document) detachLease(leaseID uint64, key string) {
	if leaseID == 0 {
		return
	}
	if ls, ok := d.leases[leaseID]; ok {
		delete(ls.lease.AttachedKeys, key)
	}
}

func (d *Document) applyLeaseGrant(h model.ChangeHash, op changeOp) {
	existing, ok := d.leases[op.LeaseID]
	if ok && !d.dag.wins(h, existing.modHead) {
		return
	}
	if ok {
		existing.modHead = h
		existing.lease.GrantedTTL = op.TTL
		existing.lastRefresh = op.NowUnix
		existing.lease.LastRefresh = unixTime(op.NowUnix)
		return
	}
	d.leases[op.LeaseID] = &leaseState{
		lease: model.Lease{
			ID:           op.LeaseID,
			GrantedTTL:   op.TTL,
			LastRefresh:  unixTime(op.NowUnix),
			AttachedKeys: map[string]struct{}{},
		},
		modHead:     h,
		lastRefresh: op.NowUnix,
	}
}

// applyLeaseRefresh merges keepalives by taking the later wall-clock
// timestamp: two concurrent keepalives for the same lease commute and are
// idempotent without needing a hash tie-break, since "furthest in the
// future" is itself a well defined join.
func (d *Document) applyLeaseRefresh(op changeOp) {
	ls, ok := d.leases[op.LeaseID]
	if !ok {
		return
	}
	if op.NowUnix > ls.lastRefresh {
		ls.lastRefresh = op.NowUnix
		ls.lease.LastRefresh = unixTime(op.NowUnix)
	}
}

func (d *Document) applyLeaseRevoke(h model.ChangeHash, op changeOp, emit func(model.Event)) {
	ls, ok := d.leases[op.LeaseID]
	if !ok || !d.dag.wins(h, ls.modHead) {
		return
	}
	for key := range ls.lease.AttachedKeys {
		if existing, ok := d.kvs[key]; ok {
			prev := existing.Clone()
			delete(d.kvs, key)
			emit(model.Event{Type: model.EventDelete, KV: model.KeyValue{Key: existing.Key, ModHead: h}, PrevKV: &prev})
		}
	}
	delete(d.leases, op.LeaseID)
}

func (d *Document) applyMemberAdd(h model.ChangeHash, op changeOp) {
	if cur, ok := d.memberModHead[op.MemberID]; ok && !d.dag.wins(h, cur) {
		return
	}
	d.members[op.MemberID] = &model.Member{ID: op.MemberID, Name: op.Name, PeerURLs: op.PeerURLs, ClientURLs: op.ClientURLs}
	d.memberModHead[op.MemberID] = h
}

// --- Key-value operations (§4.2) -------------------------------------------------

// Range reads keys in req.Range. A nil req.Heads reads current state; a
// non-nil req.Heads reads the historical state as of that causal frontier
// (see materialize.go).
func (d *Document) Range(req model.RangeRequest) (model.RangeResponse, error) {
	var kvs map[string]*model.KeyValue
	if req.Heads == nil {
		kvs = d.kvs
	} else {
		kvs = d.materialize(req.Heads)
	}

	keys := matchingKeys(kvs, req.Range)
	resp := model.RangeResponse{Header: d.Header(), Count: int64(len(keys))}
	if req.CountOnly {
		return resp, nil
	}

	limit := len(keys)
	if req.Limit > 0 && int64(limit) > req.Limit {
		limit = int(req.Limit)
		resp.More = true
	}
	for _, k := range keys[:limit] {
		resp.KVs = append(resp.KVs, kvs[k].Clone())
	}
	return resp, nil
}

func matchingKeys(kvs map[string]*model.KeyValue, r model.KeyRange) []string {
	if r.Empty() {
		return nil
	}
	var out []string
	for k := range kvs {
		if r.Contains([]byte(k)) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Put writes a single key (§4.2). If req.LeaseID is non-zero and does not
// name a known lease, the document is left unchanged and a NotFound error
// is returned.
func (d *Document) Put(req model.PutRequest) (model.PutResponse, error) {
	if req.LeaseID != 0 {
		if _, ok := d.leases[req.LeaseID]; !ok {
			return model.PutResponse{}, model.NewError(model.KindNotFound, "lease %d not found", req.LeaseID)
		}
	}
	var prev *model.KeyValue
	if req.PrevKV {
		if existing, ok := d.kvs[string(req.Key)]; ok {
			p := existing.Clone()
			prev = &p
		}
	}
	d.commit([]changeOp{{Kind: opKVPut, Key: req.Key, Value: req.Value, LeaseID: req.LeaseID}})
	return model.PutResponse{Header: d.Header(), PrevKV: prev}, nil
}

// DeleteRange deletes every key in req.Range (§4.2).
func (d *Document) DeleteRange(req model.DeleteRangeRequest) (model.DeleteRangeResponse, error) {
	keys := matchingKeys(d.kvs, req.Range)
	if len(keys) == 0 {
		return model.DeleteRangeResponse{Header: d.Header()}, nil
	}

	ops := make([]changeOp, 0, len(keys))
	var prevKVs []model.KeyValue
	for _, k := range keys {
		if req.PrevKV {
			prevKVs = append(prevKVs, d.kvs[k].Clone())
		}
		ops = append(ops, changeOp{Kind: opKVDelete, Key: []byte(k)})
	}
	d.commit(ops)
	return model.DeleteRangeResponse{Header: d.Header(), Deleted: int64(len(keys)), PrevKVs: prevKVs}, nil
}

// Txn evaluates req.Compares against current state; if every one holds it
// runs Success, otherwise Failure (§4.2, §8).
func (d *Document) Txn(req model.TxnRequest) (model.TxnResponse, error) {
	ok := true
	for _, cmp := range req.Compares {
		held, err := d.evalCompare(cmp)
		if err != nil {
			return model.TxnResponse{}, err
		}
		if !held {
			ok = false
			break
		}
	}

	branch := req.Failure
	if ok {
		branch = req.Success
	}
	responses := make([]model.OpResponse, 0, len(branch))
	for _, op := range branch {
		r, err := d.runOp(op)
		if err != nil {
			return model.TxnResponse{}, err
		}
		responses = append(responses, r)
	}
	return model.TxnResponse{Header: d.Header(), Succeeded: ok, Responses: responses}, nil
}

func (d *Document) runOp(op model.Op) (model.OpResponse, error) {
	switch op.Kind {
	case model.OpRange:
		r, err := d.Range(*op.Range)
		return model.OpResponse{Kind: op.Kind, Range: &r}, err
	case model.OpPut:
		r, err := d.Put(*op.Put)
		return model.OpResponse{Kind: op.Kind, Put: &r}, err
	case model.OpDeleteRange:
		r, err := d.DeleteRange(*op.DeleteRange)
		return model.OpResponse{Kind: op.Kind, DeleteRange: &r}, err
	case model.OpTxn:
		r, err := d.Txn(*op.Txn)
		return model.OpResponse{Kind: op.Kind, Txn: &r}, err
	default:
		return model.OpResponse{}, model.NewError(model.KindInvalidArgument, "unknown op kind %d", op.Kind)
	}
}

// evalCompare evaluates cmp across every key in cmp.Range, requiring it to
// hold for all of them (vacuously true over an empty range).
func (d *Document) evalCompare(cmp model.Compare) (bool, error) {
	if cmp.Target == model.CompareVersion || cmp.Target == model.CompareCreateRevision || cmp.Target == model.CompareModRevision {
		return false, model.NewError(model.KindInvalidArgument, "revision-based compare requires the revision adapter, not the document directly")
	}

	keys := matchingKeys(d.kvs, cmp.Range)
	if cmp.Range.End == nil && len(keys) == 0 {
		keys = []string{string(cmp.Range.Start)}
	}
	for _, k := range keys {
		kv, present := d.kvs[k]
		if !d.evalOne(kv, present, cmp) {
			return false, nil
		}
	}
	return true, nil
}

func (d *Document) evalOne(kv *model.KeyValue, present bool, cmp model.Compare) bool {
	switch cmp.Target {
	case model.CompareCreateHead:
		actual := model.ZeroHash
		if present {
			actual = kv.CreateHead
		}
		return d.evalHeadResult(actual, cmp.HeadValue, cmp.Result)
	case model.CompareModHead:
		actual := model.ZeroHash
		if present {
			actual = kv.ModHead
		}
		return d.evalHeadResult(actual, cmp.HeadValue, cmp.Result)
	case model.CompareValue:
		var actual []byte
		if present {
			actual = kv.Value.Bytes
		}
		return evalBytesResult(actual, cmp.BytesValue, cmp.Result)
	case model.CompareLease:
		var actual uint64
		if present {
			actual = kv.LeaseID
		}
		return evalUintResult(actual, cmp.LeaseValue, cmp.Result)
	default:
		return false
	}
}

func (d *Document) evalHeadResult(actual, target model.ChangeHash, want model.CompareResult) bool {
	switch want {
	case model.CompareEqual:
		return actual == target
	case model.CompareNotEqual:
		return actual != target
	case model.CompareLess:
		return actual != target && d.dag.isAncestorOrEqual(actual, target)
	case model.CompareGreater:
		return actual != target && d.dag.isAncestorOrEqual(target, actual)
	default:
		return false
	}
}

func evalBytesResult(actual, target []byte, want model.CompareResult) bool {
	c := bytes.Compare(actual, target)
	switch want {
	case model.CompareEqual:
		return c == 0
	case model.CompareNotEqual:
		return c != 0
	case model.CompareLess:
		return c < 0
	case model.CompareGreater:
		return c > 0
	default:
		return false
	}
}

func evalUintResult(actual, target uint64, want model.CompareResult) bool {
	switch want {
	case model.CompareEqual:
		return actual == target
	case model.CompareNotEqual:
		return actual != target
	case model.CompareLess:
		return actual < target
	case model.CompareGreater:
		return actual > target
	default:
		return false
	}
}
