package router

import (
	"context"

	"github.com/cuemby/dismerge/internal/model"
	"github.com/cuemby/dismerge/internal/watch"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CreateWatch registers a new range watcher. Unlike the request/response
// endpoints above, a watch is long-lived once created, so it is gated on
// readiness only and not counted against the request concurrency limit —
// the limiter exists to shed load from bursty request/response traffic,
// not to bound how many long-running streams a client may hold open.
func (r *Router) CreateWatch(ctx context.Context, req model.WatchCreateRequest, srv *watch.Server) (*watch.Watcher, error) {
	if !r.ready() {
		return nil, status.Error(codes.Unavailable, "node is not ready")
	}
	w, err := srv.Create(ctx, req, r.act)
	if err != nil {
		return nil, translate(err)
	}
	return w, nil
}

// CancelWatch unregisters a watcher.
func (r *Router) CancelWatch(srv *watch.Server, id model.WatchID) {
	srv.Cancel(id)
}
