package node

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/dismerge/internal/document"
	"github.com/cuemby/dismerge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsMissingName(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestNewRejectsExistingStateWithoutInitialCluster(t *testing.T) {
	_, err := New(Config{Name: "n1", InitialClusterState: ClusterStateExisting})
	require.Error(t, err)
}

func TestStartBootstrapsNewClusterAndBecomesReady(t *testing.T) {
	n, err := New(Config{Name: "n1", Persister: PersisterMemory, InitialClusterState: ClusterStateNew})
	require.NoError(t, err)

	assert.False(t, n.isReady())

	transport := fakeTransport{}
	require.NoError(t, n.Start(context.Background(), transport))
	t.Cleanup(n.Stop)

	assert.True(t, n.isReady())
	assert.NotNil(t, n.SyncEngine())
}

func TestHealthServerReportsReadyAfterStart(t *testing.T) {
	n, err := New(Config{Name: "n1", Persister: PersisterMemory, InitialClusterState: ClusterStateNew})
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background(), fakeTransport{}))
	t.Cleanup(n.Stop)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/readyz", nil)
	n.HealthServer().Handler().ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
}

func TestRouterServesPutAfterStart(t *testing.T) {
	n, err := New(Config{Name: "n1", Persister: PersisterMemory, InitialClusterState: ClusterStateNew})
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background(), fakeTransport{}))
	t.Cleanup(n.Stop)

	ctx := context.Background()
	_, err = n.Router().Put(ctx, model.PutRequest{Key: []byte("k"), Value: model.NewBytesValue([]byte("v"))})
	require.NoError(t, err)

	resp, err := n.Router().Range(ctx, model.RangeRequest{Range: model.KeyRange{Start: []byte("k")}})
	require.NoError(t, err)
	require.Len(t, resp.KVs, 1)
}

func TestStartJoiningExistingClusterAdoptsDiscoveredMemberIDWithoutLocalBootstrap(t *testing.T) {
	n, err := New(Config{
		Name:                "n2",
		Persister:           PersisterMemory,
		InitialClusterState: ClusterStateExisting,
		InitialCluster:      []Peer{{Name: "n1", URL: "http://n1.example"}},
		ListenPeerURLs:      []string{"http://n2.example"},
	})
	require.NoError(t, err)

	transport := joiningTransport{memberID: 42}
	require.NoError(t, n.Start(context.Background(), transport))
	t.Cleanup(n.Stop)

	assert.True(t, n.isReady())
	header, err := n.Actor().Header(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), header.MemberID)
}

// fakeTransport never reaches a peer; a single-node New-cluster test has
// no peers to talk to, so the sync engine's workers sit idle but still
// need a non-nil Transport to construct the Engine against.
type fakeTransport struct{}

func (fakeTransport) SendSyncMessage(ctx context.Context, peer model.Member, selfID uint64, msg *document.SyncMessage) error {
	return nil
}
func (fakeTransport) MemberList(ctx context.Context, peer model.Member) (model.MemberListResponse, error) {
	return model.MemberListResponse{}, nil
}

// joiningTransport answers MemberList as if an admitting peer had already
// recorded this node, letting sync.Discover return a fixed cluster/member
// id pair without a real peer listening.
type joiningTransport struct {
	memberID uint64
}

func (t joiningTransport) SendSyncMessage(ctx context.Context, peer model.Member, selfID uint64, msg *document.SyncMessage) error {
	return nil
}

func (t joiningTransport) MemberList(ctx context.Context, peer model.Member) (model.MemberListResponse, error) {
	return model.MemberListResponse{
		Header: model.Header{ClusterID: 7},
		Members: []model.Member{
			{ID: t.memberID, Name: "n2", PeerURLs: []string{"http://n2.example"}},
		},
	}, nil
}
