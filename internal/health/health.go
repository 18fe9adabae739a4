// Package health implements the readiness probe and status reporting
// described in §4.9: a node is ready once the Document is loaded, a
// member id has been assigned, and the Actor answers a bounded probe
// within 5ms; a separate status view reports version, storage size,
// heads and member id for operators.
package health

import (
	"context"
	"time"

	"github.com/cuemby/dismerge/internal/actor"
	"github.com/cuemby/dismerge/internal/model"
	"github.com/cuemby/dismerge/internal/persister"
	"github.com/cuemby/dismerge/pkg/health"
)

// ProbeWindow bounds how long the readiness check waits on the Actor
// before declaring it unresponsive (§4.9's "within a 5 ms probe window").
const ProbeWindow = 5 * time.Millisecond

// Version is the build version reported by the status endpoint. Set by
// cmd/dismerge at link time or left as "dev" for local builds.
var Version = "dev"

// Checker implements pkg/health.Checker against a Document Actor: the
// Document-loaded/member-id-set/actor-responsive readiness probe of §4.9.
type Checker struct {
	act       *actor.Actor
	loaded    func() bool
	hasMember func() bool
}

// NewChecker builds a readiness Checker bound to act. loaded reports
// whether Actor.Load has completed; hasMember reports whether
// SetMemberID has run. Both are cheap, non-blocking predicates supplied
// by internal/node, which owns the startup sequence the Checker can't
// observe on its own.
func NewChecker(act *actor.Actor, loaded func() bool, hasMember func() bool) *Checker {
	return &Checker{act: act, loaded: loaded, hasMember: hasMember}
}

// Type reports the check kind, satisfying pkg/health.Checker.
func (c *Checker) Type() health.CheckType { return health.CheckType("document") }

// Check runs one readiness probe: the Document must be loaded, the
// member id must be set, and the Actor must answer Header within
// ProbeWindow.
func (c *Checker) Check(ctx context.Context) health.Result {
	start := time.Now()
	if !c.loaded() {
		return health.Result{Healthy: false, Message: "document not loaded", CheckedAt: start, Duration: time.Since(start)}
	}
	if !c.hasMember() {
		return health.Result{Healthy: false, Message: "member id not assigned", CheckedAt: start, Duration: time.Since(start)}
	}

	probeCtx, cancel := context.WithTimeout(ctx, ProbeWindow)
	defer cancel()
	if _, err := c.act.Header(probeCtx); err != nil {
		return health.Result{Healthy: false, Message: "actor unresponsive: " + err.Error(), CheckedAt: start, Duration: time.Since(start)}
	}
	return health.Result{Healthy: true, Message: "ready", CheckedAt: start, Duration: time.Since(start)}
}

// Status is the point-in-time snapshot the status endpoint reports.
type Status struct {
	Version   string             `json:"version"`
	MemberID  uint64             `json:"member_id"`
	ClusterID uint64             `json:"cluster_id"`
	Heads     []model.ChangeHash `json:"heads"`
	DBBytes   int64              `json:"db_bytes"`
}

// BuildStatus assembles a Status from the Actor's current header and the
// persister's on-disk footprint. Returns an error if the Actor cannot
// answer (e.g. stopped); callers should treat that the same as a failed
// readiness probe.
func BuildStatus(ctx context.Context, act *actor.Actor, p persister.Persister) (Status, error) {
	hdr, err := act.Header(ctx)
	if err != nil {
		return Status{}, err
	}
	sizes, err := p.Sizes()
	if err != nil {
		return Status{}, err
	}
	return Status{
		Version:   Version,
		MemberID:  hdr.MemberID,
		ClusterID: hdr.ClusterID,
		Heads:     hdr.Heads,
		DBBytes:   sizes.TotalBytes,
	}, nil
}
