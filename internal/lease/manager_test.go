package lease

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/dismerge/internal/actor"
	"github.com/cuemby/dismerge/internal/document"
	"github.com/cuemby/dismerge/internal/model"
	"github.com/cuemby/dismerge/internal/persister"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestActor(t *testing.T) *actor.Actor {
	t.Helper()
	p := persister.NewMemoryPersister()
	doc := document.New("lease-test")
	a := actor.New(actor.Config{}, doc, p, nil, nil)
	require.NoError(t, a.Load())
	a.Start()
	t.Cleanup(a.Stop)

	ctx := context.Background()
	_, err := a.Bootstrap(ctx, 1, model.Member{ID: 1, Name: "n1"})
	require.NoError(t, err)
	require.NoError(t, a.SetMemberID(ctx, 1))
	return a
}

func TestTrackExpiresLeaseAndCascadesKeyDeletion(t *testing.T) {
	a := newTestActor(t)
	ctx := context.Background()

	grant, err := a.LeaseGrant(ctx, model.LeaseGrantRequest{TTL: model.MinLeaseTTL})
	require.NoError(t, err)
	_, err = a.Put(ctx, model.PutRequest{Key: []byte("k"), Value: model.NewBytesValue([]byte("v")), LeaseID: grant.ID})
	require.NoError(t, err)

	m := NewManager(a)
	defer m.Stop()
	m.Track(grant.ID, grant.TTL)

	require.Eventually(t, func() bool {
		resp, err := a.LeaseTimeToLive(ctx, model.LeaseTimeToLiveRequest{ID: grant.ID})
		return err == nil && resp.TTL < 0
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := a.Range(ctx, model.RangeRequest{Range: model.KeyRange{Start: []byte("k")}})
	require.NoError(t, err)
	assert.Empty(t, resp.KVs)
}

func TestKeepAliveDuringWaitExtendsExpiry(t *testing.T) {
	a := newTestActor(t)
	ctx := context.Background()

	grant, err := a.LeaseGrant(ctx, model.LeaseGrantRequest{TTL: model.MinLeaseTTL})
	require.NoError(t, err)

	m := NewManager(a)
	defer m.Stop()
	m.Track(grant.ID, grant.TTL)

	// Refresh partway through the wait; the lease must still exist once
	// the original TTL window would otherwise have elapsed.
	time.Sleep(time.Duration(grant.TTL-1) * time.Second)
	_, err = a.LeaseKeepAlive(ctx, model.LeaseKeepAliveRequest{ID: grant.ID})
	require.NoError(t, err)

	time.Sleep(1500 * time.Millisecond)
	resp, err := a.LeaseTimeToLive(ctx, model.LeaseTimeToLiveRequest{ID: grant.ID})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, resp.TTL, int64(0))
}

func TestForgetStopsTrackingRevokedLease(t *testing.T) {
	a := newTestActor(t)
	ctx := context.Background()

	grant, err := a.LeaseGrant(ctx, model.LeaseGrantRequest{TTL: 60})
	require.NoError(t, err)

	m := NewManager(a)
	defer m.Stop()
	m.Track(grant.ID, grant.TTL)

	_, err = a.LeaseRevoke(ctx, model.LeaseRevokeRequest{ID: grant.ID})
	require.NoError(t, err)
	m.Forget(grant.ID)

	m.mu.Lock()
	_, tracked := m.workers[grant.ID]
	m.mu.Unlock()
	assert.False(t, tracked)
}

func TestReconcilePicksUpLeasesFromPersistedState(t *testing.T) {
	a := newTestActor(t)
	ctx := context.Background()

	grant, err := a.LeaseGrant(ctx, model.LeaseGrantRequest{TTL: 60})
	require.NoError(t, err)

	m := NewManager(a)
	defer m.Stop()
	require.NoError(t, m.Reconcile(ctx))

	m.mu.Lock()
	_, tracked := m.workers[grant.ID]
	m.mu.Unlock()
	assert.True(t, tracked)
}
