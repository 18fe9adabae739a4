package actor

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/dismerge/internal/document"
	"github.com/cuemby/dismerge/internal/model"
	"github.com/cuemby/dismerge/internal/persister"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestActor(t *testing.T, cfg Config) (*Actor, *persister.MemoryPersister) {
	t.Helper()
	p := persister.NewMemoryPersister()
	doc := document.New("test-actor")

	a := New(cfg, doc, p, nil, nil)
	require.NoError(t, a.Load())
	a.Start()
	t.Cleanup(a.Stop)

	ctx := context.Background()
	_, err := a.Bootstrap(ctx, 1, model.Member{ID: 1, Name: "n1"})
	require.NoError(t, err)
	require.NoError(t, a.SetMemberID(ctx, 1))
	return a, p
}

func TestPutAndRangeThroughActor(t *testing.T) {
	a, _ := newTestActor(t, Config{AutoFlush: false})
	ctx := context.Background()

	_, err := a.Put(ctx, model.PutRequest{Key: []byte("k"), Value: model.NewBytesValue([]byte("v"))})
	require.NoError(t, err)

	resp, err := a.Range(ctx, model.RangeRequest{Range: model.KeyRange{Start: []byte("k")}})
	require.NoError(t, err)
	require.Len(t, resp.KVs, 1)
	assert.Equal(t, []byte("v"), resp.KVs[0].Value.Bytes)
}

func TestPutIsPersisted(t *testing.T) {
	a, p := newTestActor(t, Config{AutoFlush: false})
	ctx := context.Background()

	_, err := a.Put(ctx, model.PutRequest{Key: []byte("k"), Value: model.NewBytesValue([]byte("v"))})
	require.NoError(t, err)

	recs, err := p.GetChanges()
	require.NoError(t, err)
	assert.NotEmpty(t, recs)
}

// newUnflushedActor starts an actor whose flush loop won't fire for an
// hour. Its durable replies are held until that flush, so this helper does
// not Bootstrap (that reply would never arrive).
func newUnflushedActor(t *testing.T) *Actor {
	t.Helper()
	a := New(Config{AutoFlush: true, FlushInterval: time.Hour, MaxOutstanding: 1}, document.New("test-actor"), persister.NewMemoryPersister(), nil, nil)
	require.NoError(t, a.Load())
	a.Start()
	t.Cleanup(a.Stop)
	return a
}

func TestBackpressureRejectsOnceOutstandingHitsLimit(t *testing.T) {
	a := newUnflushedActor(t)
	ctx := context.Background()

	// The first Put is applied (outstanding becomes 1), but its reply waits
	// for a flush that won't come, so the caller gives up waiting.
	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err := a.Put(waitCtx, model.PutRequest{Key: []byte("a"), Value: model.NewBytesValue([]byte("1"))})
	require.Error(t, err)
	assert.Equal(t, model.KindDeadlineExceeded, model.KindOf(err))

	// The flush loop won't fire for an hour, so outstanding stays at 1 and
	// the next durable command is refused immediately rather than blocking.
	_, err = a.Put(ctx, model.PutRequest{Key: []byte("b"), Value: model.NewBytesValue([]byte("2"))})
	require.Error(t, err)
	assert.Equal(t, model.KindUnavailable, model.KindOf(err))
}

func TestReadsBypassBackpressure(t *testing.T) {
	a := newUnflushedActor(t)
	ctx := context.Background()

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err := a.Put(waitCtx, model.PutRequest{Key: []byte("a"), Value: model.NewBytesValue([]byte("1"))})
	require.Error(t, err)
	assert.Equal(t, model.KindDeadlineExceeded, model.KindOf(err))

	_, err = a.Range(ctx, model.RangeRequest{Range: model.KeyRange{Start: []byte("a")}})
	assert.NoError(t, err)
}

func TestLeaseGrantAndRevokeCascades(t *testing.T) {
	a, _ := newTestActor(t, Config{})
	ctx := context.Background()

	grant, err := a.LeaseGrant(ctx, model.LeaseGrantRequest{TTL: 60})
	require.NoError(t, err)

	_, err = a.Put(ctx, model.PutRequest{Key: []byte("k"), Value: model.NewBytesValue([]byte("v")), LeaseID: grant.ID})
	require.NoError(t, err)

	_, err = a.LeaseRevoke(ctx, model.LeaseRevokeRequest{ID: grant.ID})
	require.NoError(t, err)

	resp, err := a.Range(ctx, model.RangeRequest{Range: model.KeyRange{Start: []byte("k")}})
	require.NoError(t, err)
	assert.Empty(t, resp.KVs)
}

// A canceled context on an actor whose loop was never started can never
// succeed in enqueuing a command: a.cmds has no reader. This deterministically
// exercises the enqueue-side cancellation branch of submit, without racing
// an already-running message loop for which case fires first.
func TestContextCancellationSurfacesDeadlineExceeded(t *testing.T) {
	p := persister.NewMemoryPersister()
	doc := document.New("actor-a")
	a := New(Config{}, doc, p, nil, nil)
	require.NoError(t, a.Load())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Range(ctx, model.RangeRequest{Range: model.KeyRange{Start: []byte("k")}})
	require.Error(t, err)
	assert.Equal(t, model.KindDeadlineExceeded, model.KindOf(err))
}

func TestLoadRestoresChangesFromPersister(t *testing.T) {
	p := persister.NewMemoryPersister()
	doc := document.New("actor-a")

	a := New(Config{}, doc, p, nil, nil)
	require.NoError(t, a.Load())
	a.Start()

	ctx := context.Background()
	_, err := a.Bootstrap(ctx, 1, model.Member{ID: 1, Name: "n1"})
	require.NoError(t, err)
	require.NoError(t, a.SetMemberID(ctx, 1))

	_, err = a.Put(ctx, model.PutRequest{Key: []byte("k"), Value: model.NewBytesValue([]byte("v"))})
	require.NoError(t, err)
	a.Stop()

	doc2 := document.New("actor-a")
	a2 := New(Config{}, doc2, p, nil, nil)
	require.NoError(t, a2.Load())
	a2.Start()
	t.Cleanup(a2.Stop)

	resp, err := a2.Range(ctx, model.RangeRequest{Range: model.KeyRange{Start: []byte("k")}})
	require.NoError(t, err)
	require.Len(t, resp.KVs, 1)
	assert.Equal(t, []byte("v"), resp.KVs[0].Value.Bytes)
}
