package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/dismerge/internal/actor"
	"github.com/cuemby/dismerge/internal/document"
	"github.com/cuemby/dismerge/internal/model"
	"github.com/cuemby/dismerge/internal/persister"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestActor(t *testing.T) (*actor.Actor, persister.Persister) {
	t.Helper()
	p := persister.NewMemoryPersister()
	doc := document.New("health-test")
	a := actor.New(actor.Config{}, doc, p, nil, nil)
	require.NoError(t, a.Load())
	a.Start()
	t.Cleanup(a.Stop)
	return a, p
}

func TestCheckFailsBeforeLoaded(t *testing.T) {
	a, _ := newTestActor(t)
	c := NewChecker(a, func() bool { return false }, func() bool { return true })

	result := c.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "not loaded")
}

func TestCheckFailsBeforeMemberIDAssigned(t *testing.T) {
	a, _ := newTestActor(t)
	c := NewChecker(a, func() bool { return true }, func() bool { return false })

	result := c.Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "member id")
}

func TestCheckSucceedsOnceLoadedAndMemberAssigned(t *testing.T) {
	a, _ := newTestActor(t)
	ctx := context.Background()
	_, err := a.Bootstrap(ctx, 1, model.Member{ID: 1, Name: "n1"})
	require.NoError(t, err)
	require.NoError(t, a.SetMemberID(ctx, 1))

	c := NewChecker(a, func() bool { return true }, func() bool { return true })
	result := c.Check(ctx)
	assert.True(t, result.Healthy)
}

func TestCheckFailsWhenActorStopped(t *testing.T) {
	// Built without newTestActor: its t.Cleanup(a.Stop) would call Stop a
	// second time after the explicit Stop below, and Stop may run only once.
	a := actor.New(actor.Config{}, document.New("health-test"), persister.NewMemoryPersister(), nil, nil)
	require.NoError(t, a.Load())
	a.Start()
	ctx := context.Background()
	_, err := a.Bootstrap(ctx, 1, model.Member{ID: 1, Name: "n1"})
	require.NoError(t, err)
	require.NoError(t, a.SetMemberID(ctx, 1))
	a.Stop()

	c := NewChecker(a, func() bool { return true }, func() bool { return true })
	result := c.Check(ctx)
	assert.False(t, result.Healthy)
}

func TestBuildStatusReportsHeaderAndSize(t *testing.T) {
	a, p := newTestActor(t)
	ctx := context.Background()
	_, err := a.Bootstrap(ctx, 7, model.Member{ID: 3, Name: "n1"})
	require.NoError(t, err)
	require.NoError(t, a.SetMemberID(ctx, 3))
	_, err = a.Put(ctx, model.PutRequest{Key: []byte("k"), Value: model.NewBytesValue([]byte("v"))})
	require.NoError(t, err)

	status, err := BuildStatus(ctx, a, p)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), status.MemberID)
	assert.Equal(t, uint64(7), status.ClusterID)
	assert.NotEmpty(t, status.Heads)
}

func TestServerReadyzReturnsUnavailableBeforeReady(t *testing.T) {
	a, p := newTestActor(t)
	c := NewChecker(a, func() bool { return true }, func() bool { return false })
	srv := NewServer(c, a, p)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerReadyzReturnsOKWhenReady(t *testing.T) {
	a, p := newTestActor(t)
	ctx := context.Background()
	_, err := a.Bootstrap(ctx, 1, model.Member{ID: 1, Name: "n1"})
	require.NoError(t, err)
	require.NoError(t, a.SetMemberID(ctx, 1))

	c := NewChecker(a, func() bool { return true }, func() bool { return true })
	srv := NewServer(c, a, p)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerStatuszReportsMemberID(t *testing.T) {
	a, p := newTestActor(t)
	ctx := context.Background()
	_, err := a.Bootstrap(ctx, 1, model.Member{ID: 9, Name: "n1"})
	require.NoError(t, err)
	require.NoError(t, a.SetMemberID(ctx, 9))

	c := NewChecker(a, func() bool { return true }, func() bool { return true })
	srv := NewServer(c, a, p)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/statusz", nil)
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"member_id":9`)
}
