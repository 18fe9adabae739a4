package sync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/dismerge/internal/model"
	"github.com/stretchr/testify/require"
)

func TestSyncHandlerAndMemberListHandlerRoundtripThroughHTTPTransport(t *testing.T) {
	server := newTestActor(t, "server", 1)
	ctx := context.Background()
	_, err := server.Put(ctx, model.PutRequest{Key: []byte("k"), Value: model.NewBytesValue([]byte("v"))})
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/internal/sync", NewSyncHandler(server))
	mux.HandleFunc("/internal/members", NewMemberListHandler(server))
	httpSrv := httptest.NewServer(mux)
	defer httpSrv.Close()

	client := newTestActor(t, "client", 2)
	transport := &HTTPTransport{Client: httpSrv.Client()}

	resp, err := transport.MemberList(ctx, model.Member{ID: 1, PeerURLs: []string{httpSrv.URL}})
	require.NoError(t, err)
	require.Len(t, resp.Members, 1)
	require.Equal(t, uint64(1), resp.Header.ClusterID)

	msg, err := client.GenerateSyncMessage(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, msg)

	err = transport.SendSyncMessage(ctx, model.Member{ID: 1, PeerURLs: []string{httpSrv.URL}}, 2, msg)
	require.NoError(t, err)

	resp, err = server.MemberList(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(resp.Members), 1)

	serverRange, err := server.Range(ctx, model.RangeRequest{Range: model.KeyRange{Start: []byte("k")}})
	require.NoError(t, err)
	require.Len(t, serverRange.KVs, 1)
}
