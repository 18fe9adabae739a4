package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuemby/dismerge/internal/actor"
	"github.com/cuemby/dismerge/internal/document"
	"github.com/cuemby/dismerge/internal/model"
	"github.com/cuemby/dismerge/internal/persister"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport routes sync traffic directly to the peer actor's methods,
// in-process, so the engine's dispatch/backoff logic is exercised without
// a real network.
type fakeTransport struct {
	actors map[uint64]*actor.Actor
	fail   map[uint64]int // remaining forced-failure count per peer
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{actors: map[uint64]*actor.Actor{}, fail: map[uint64]int{}}
}

func (f *fakeTransport) SendSyncMessage(ctx context.Context, peer model.Member, selfID uint64, msg *document.SyncMessage) error {
	if f.fail[peer.ID] > 0 {
		f.fail[peer.ID]--
		return assertErr
	}
	target, ok := f.actors[peer.ID]
	if !ok {
		return assertErr
	}
	_, err := target.ReceiveSyncMessage(ctx, selfID, msg)
	return err
}

func (f *fakeTransport) MemberList(ctx context.Context, peer model.Member) (model.MemberListResponse, error) {
	target, ok := f.actors[peer.ID]
	if !ok {
		return model.MemberListResponse{}, assertErr
	}
	return target.MemberList(ctx)
}

var assertErr = errors.New("peer unreachable")

func newTestActor(t *testing.T, name string, memberID uint64) *actor.Actor {
	t.Helper()
	p := persister.NewMemoryPersister()
	doc := document.New(name)
	a := actor.New(actor.Config{}, doc, p, nil, nil)
	require.NoError(t, a.Load())
	a.Start()
	t.Cleanup(a.Stop)

	ctx := context.Background()
	_, err := a.Bootstrap(ctx, 1, model.Member{ID: memberID, Name: name, PeerURLs: []string{"http://" + name}})
	require.NoError(t, err)
	require.NoError(t, a.SetMemberID(ctx, memberID))
	return a
}

func TestEngineSyncsPutFromOnePeerToAnother(t *testing.T) {
	ctx := context.Background()
	a1 := newTestActor(t, "node-a", 1)
	a2 := newTestActor(t, "node-b", 2)

	// Each side learns about the other so MemberList (used by Refresh)
	// reports both members; this sidesteps the full join handshake to
	// focus on the engine's generate/send/receive loop.
	_, err := a1.MemberAdd(ctx, 2, model.MemberAddRequest{PeerURLs: []string{"http://node-b"}})
	require.NoError(t, err)
	_, err = a2.MemberAdd(ctx, 1, model.MemberAddRequest{PeerURLs: []string{"http://node-a"}})
	require.NoError(t, err)

	transport := newFakeTransport()
	transport.actors[1] = a1
	transport.actors[2] = a2

	e1 := NewEngine(Config{SyncInterval: 20 * time.Millisecond}, a1, transport, 1)
	defer e1.Stop()
	require.NoError(t, e1.Refresh(ctx))

	_, err = a1.Put(ctx, model.PutRequest{Key: []byte("k"), Value: model.NewBytesValue([]byte("v"))})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		resp, err := a2.Range(ctx, model.RangeRequest{Range: model.KeyRange{Start: []byte("k")}})
		return err == nil && len(resp.KVs) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngineRetriesWithBackoffAfterTransportFailure(t *testing.T) {
	ctx := context.Background()
	a1 := newTestActor(t, "node-a", 1)
	a2 := newTestActor(t, "node-b", 2)

	_, err := a1.MemberAdd(ctx, 2, model.MemberAddRequest{PeerURLs: []string{"http://node-b"}})
	require.NoError(t, err)

	transport := newFakeTransport()
	transport.actors[2] = a2
	transport.fail[2] = 2 // first two sends fail

	e1 := NewEngine(Config{SyncInterval: 20 * time.Millisecond}, a1, transport, 1)
	defer e1.Stop()
	require.NoError(t, e1.Refresh(ctx))

	_, err = a1.Put(ctx, model.PutRequest{Key: []byte("k"), Value: model.NewBytesValue([]byte("v"))})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		resp, err := a2.Range(ctx, model.RangeRequest{Range: model.KeyRange{Start: []byte("k")}})
		return err == nil && len(resp.KVs) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestRefreshIsIdempotentForAnUnchangedMembership(t *testing.T) {
	ctx := context.Background()
	a1 := newTestActor(t, "node-a", 1)

	_, err := a1.MemberAdd(ctx, 2, model.MemberAddRequest{PeerURLs: []string{"http://node-b"}})
	require.NoError(t, err)

	transport := newFakeTransport()
	e1 := NewEngine(Config{SyncInterval: time.Hour}, a1, transport, 1)
	defer e1.Stop()
	require.NoError(t, e1.Refresh(ctx))

	e1.mu.Lock()
	w := e1.peers[2]
	e1.mu.Unlock()
	require.NotNil(t, w)

	// A second Refresh over the same membership must not replace the
	// existing worker (which would leak the first one's goroutine).
	require.NoError(t, e1.Refresh(ctx))
	e1.mu.Lock()
	w2 := e1.peers[2]
	n := len(e1.peers)
	e1.mu.Unlock()
	assert.Same(t, w, w2)
	assert.Equal(t, 1, n)
}

func TestReachableReportsTrueForUntrackedPeerAndAfterSuccessfulProbe(t *testing.T) {
	ctx := context.Background()
	a1 := newTestActor(t, "node-a", 1)
	a2 := newTestActor(t, "node-b", 2)

	_, err := a1.MemberAdd(ctx, 2, model.MemberAddRequest{PeerURLs: []string{"http://node-b"}})
	require.NoError(t, err)

	transport := newFakeTransport()
	transport.actors[2] = a2

	e1 := NewEngine(Config{SyncInterval: time.Hour}, a1, transport, 1)
	defer e1.Stop()

	// Before Refresh ever tracks peer 2, it reports reachable by default
	// rather than falsely unhealthy.
	assert.True(t, e1.Reachable(2))

	require.NoError(t, e1.Refresh(ctx))
	e1.mu.Lock()
	_, tracked := e1.reachability[2]
	e1.mu.Unlock()
	assert.True(t, tracked)
}

func TestDiscoverAdoptsMemberIDOnceSelfURLAppears(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	seed := newTestActor(t, "node-seed", 1)
	reqCtx := context.Background()
	_, err := seed.MemberAdd(reqCtx, 2, model.MemberAddRequest{PeerURLs: []string{"http://node-new"}})
	require.NoError(t, err)

	transport := newFakeTransport()
	transport.actors[1] = seed

	clusterID, memberID, err := Discover(ctx, transport, []model.Member{{ID: 1, PeerURLs: []string{"http://node-seed"}}}, "http://node-new")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), clusterID)
	assert.Equal(t, uint64(2), memberID)
}
