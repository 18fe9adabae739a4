// Package router adapts internal/model request/response types to the
// etcd-shaped RPC surface described in §4.8: one method per endpoint,
// each going through a shared concurrency limiter, a per-call timeout,
// a readiness gate, and a uniform error-kind-to-gRPC-status mapping.
//
// This package stops at the internal/model boundary: it does not itself
// register a grpc.Server or depend on generated etcdserverpb stubs, since
// producing those requires running protoc against an etcd.proto this
// exercise has no way to invoke. cmd/dismerge registers only the standard
// gRPC health service; no generated service calling Router's methods
// exists. See DESIGN.md for the reasoning.
package router

import (
	"context"
	"time"

	"github.com/cuemby/dismerge/internal/actor"
	"github.com/cuemby/dismerge/internal/model"
	"github.com/cuemby/dismerge/pkg/log"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Config tunes the router's load-shedding and deadline behavior (§4.8,
// §6.3's concurrency_limit/timeout_ms flags).
type Config struct {
	ConcurrencyLimit int64
	Timeout          time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConcurrencyLimit <= 0 {
		c.ConcurrencyLimit = 256
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}

// ReadyFunc reports whether the node is ready to serve requests: it has
// acquired a member id (§4.8's "Ready-state").
type ReadyFunc func() bool

// Router is the shared adapter layer in front of the Document Actor.
type Router struct {
	cfg   Config
	act   *actor.Actor
	ready ReadyFunc
	sem   *semaphore.Weighted

	log zerolog.Logger
}

// New builds a Router bound to act, gated by ready.
func New(cfg Config, act *actor.Actor, ready ReadyFunc) *Router {
	cfg = cfg.withDefaults()
	return &Router{
		cfg:   cfg,
		act:   act,
		ready: ready,
		sem:   semaphore.NewWeighted(cfg.ConcurrencyLimit),
		log:   log.WithComponent("router"),
	}
}

// acquire enforces readiness and the concurrency limit for one request;
// callers must invoke the returned release exactly once.
func (r *Router) acquire(ctx context.Context) (release func(), err error) {
	if !r.ready() {
		return nil, status.Error(codes.Unavailable, "node is not ready")
	}
	if !r.sem.TryAcquire(1) {
		return nil, status.Error(codes.ResourceExhausted, "too many in-flight requests")
	}
	return func() { r.sem.Release(1) }, nil
}

func (r *Router) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.cfg.Timeout)
}

// translate maps an internal/model error to a gRPC status error. A nil
// err passes through unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch model.KindOf(err) {
	case model.KindUnavailable:
		code = codes.Unavailable
	case model.KindInvalidArgument:
		code = codes.InvalidArgument
	case model.KindNotFound:
		code = codes.NotFound
	case model.KindAlreadyExists:
		code = codes.AlreadyExists
	case model.KindDeadlineExceeded:
		code = codes.DeadlineExceeded
	case model.KindResourceExhausted:
		code = codes.ResourceExhausted
	case model.KindFailedPrecondition:
		code = codes.FailedPrecondition
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// Range reads keys in req.Range.
func (r *Router) Range(ctx context.Context, req model.RangeRequest) (model.RangeResponse, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return model.RangeResponse{}, err
	}
	defer release()
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	resp, err := r.act.Range(ctx, req)
	return resp, translate(err)
}

// Put writes a single key.
func (r *Router) Put(ctx context.Context, req model.PutRequest) (model.PutResponse, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return model.PutResponse{}, err
	}
	defer release()
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	resp, err := r.act.Put(ctx, req)
	return resp, translate(err)
}

// DeleteRange deletes every key in req.Range.
func (r *Router) DeleteRange(ctx context.Context, req model.DeleteRangeRequest) (model.DeleteRangeResponse, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return model.DeleteRangeResponse{}, err
	}
	defer release()
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	resp, err := r.act.DeleteRange(ctx, req)
	return resp, translate(err)
}

// Txn evaluates req.Compares and runs the matching branch.
func (r *Router) Txn(ctx context.Context, req model.TxnRequest) (model.TxnResponse, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return model.TxnResponse{}, err
	}
	defer release()
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	resp, err := r.act.Txn(ctx, req)
	return resp, translate(err)
}

// LeaseGrant grants a new lease.
func (r *Router) LeaseGrant(ctx context.Context, req model.LeaseGrantRequest) (model.LeaseGrantResponse, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return model.LeaseGrantResponse{}, err
	}
	defer release()
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	resp, err := r.act.LeaseGrant(ctx, req)
	return resp, translate(err)
}

// LeaseRevoke revokes a lease, cascading deletion of its keys.
func (r *Router) LeaseRevoke(ctx context.Context, req model.LeaseRevokeRequest) (model.LeaseRevokeResponse, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return model.LeaseRevokeResponse{}, err
	}
	defer release()
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	resp, err := r.act.LeaseRevoke(ctx, req)
	return resp, translate(err)
}

// LeaseKeepAlive refreshes a lease. Called once per inbound message on
// the bidirectional keep-alive stream (§4.5); the stream handler itself
// lives in cmd/dismerge alongside the generated service, not here.
func (r *Router) LeaseKeepAlive(ctx context.Context, req model.LeaseKeepAliveRequest) (model.LeaseKeepAliveResponse, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return model.LeaseKeepAliveResponse{}, err
	}
	defer release()
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	resp, err := r.act.LeaseKeepAlive(ctx, req)
	return resp, translate(err)
}

// LeaseTimeToLive reports remaining TTL and, if requested, attached keys.
func (r *Router) LeaseTimeToLive(ctx context.Context, req model.LeaseTimeToLiveRequest) (model.LeaseTimeToLiveResponse, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return model.LeaseTimeToLiveResponse{}, err
	}
	defer release()
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	resp, err := r.act.LeaseTimeToLive(ctx, req)
	return resp, translate(err)
}

// LeaseLeases lists every granted lease id.
func (r *Router) LeaseLeases(ctx context.Context) (model.LeaseLeasesResponse, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return model.LeaseLeasesResponse{}, err
	}
	defer release()
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	resp, err := r.act.LeaseLeases(ctx)
	return resp, translate(err)
}

// MemberAdd admits a new peer, assigning it a random id.
func (r *Router) MemberAdd(ctx context.Context, req model.MemberAddRequest) (model.MemberAddResponse, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return model.MemberAddResponse{}, err
	}
	defer release()
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	id, err := randMemberID()
	if err != nil {
		return model.MemberAddResponse{}, status.Error(codes.Internal, err.Error())
	}
	resp, err := r.act.MemberAdd(ctx, id, req)
	return resp, translate(err)
}

// MemberList lists current membership.
func (r *Router) MemberList(ctx context.Context) (model.MemberListResponse, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return model.MemberListResponse{}, err
	}
	defer release()
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	resp, err := r.act.MemberList(ctx)
	return resp, translate(err)
}

// MemberRemove is a documented no-op (§6.1): answered from current
// membership without mutating the Document.
func (r *Router) MemberRemove(ctx context.Context, req model.MemberRemoveRequest) (model.MemberRemoveResponse, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return model.MemberRemoveResponse{}, err
	}
	defer release()
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	resp, err := r.act.MemberRemove(ctx, req)
	return resp, translate(err)
}

// MemberUpdate is a documented no-op (§6.1): answered from current
// membership without mutating the Document.
func (r *Router) MemberUpdate(ctx context.Context, req model.MemberUpdateRequest) (model.MemberUpdateResponse, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return model.MemberUpdateResponse{}, err
	}
	defer release()
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	resp, err := r.act.MemberUpdate(ctx, req)
	return resp, translate(err)
}

// MemberPromote is a documented no-op (§6.1): answered from current
// membership without mutating the Document.
func (r *Router) MemberPromote(ctx context.Context, req model.MemberPromoteRequest) (model.MemberPromoteResponse, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return model.MemberPromoteResponse{}, err
	}
	defer release()
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	resp, err := r.act.MemberPromote(ctx, req)
	return resp, translate(err)
}

// ReplicationStatus reports per-member dominance over req.Heads.
func (r *Router) ReplicationStatus(ctx context.Context, req model.ReplicationStatusRequest) (model.ReplicationStatusResponse, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return model.ReplicationStatusResponse{}, err
	}
	defer release()
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	resp, err := r.act.ReplicationStatus(ctx, req)
	return resp, translate(err)
}

// Compact is a documented no-op kept so the Maintenance-equivalent RPC
// has an answer.
func (r *Router) Compact(ctx context.Context) (model.Header, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return model.Header{}, err
	}
	defer release()
	ctx, cancel := r.deadline(ctx)
	defer cancel()
	resp, err := r.act.Compact(ctx)
	return resp, translate(err)
}
