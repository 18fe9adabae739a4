package sync

import (
	"context"
	"time"

	"github.com/cuemby/dismerge/internal/model"
)

// Discover implements the §4.7 join flow for initial_cluster_state=Existing:
// poll each candidate peer's membership list, with capped exponential
// backoff between rounds, until one of them reports a member whose peer
// URLs include selfPeerURL. The cluster id and member id are then adopted
// from that response. Candidates are the statically configured initial
// cluster members; none need to be reachable on the first attempt.
func Discover(ctx context.Context, transport Transport, candidates []model.Member, selfPeerURL string) (clusterID, memberID uint64, err error) {
	backoff := minBackoff
	for {
		for _, peer := range candidates {
			resp, lerr := transport.MemberList(ctx, peer)
			if lerr != nil {
				continue
			}
			for _, m := range resp.Members {
				if containsURL(m.PeerURLs, selfPeerURL) {
					return resp.Header.ClusterID, m.ID, nil
				}
			}
		}

		select {
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func containsURL(urls []string, target string) bool {
	for _, u := range urls {
		if u == target {
			return true
		}
	}
	return false
}
