// Package node assembles the persister, Document Actor, watch server,
// lease manager, sync engine, request router and health checker into one
// running replica, the way the teacher's pkg/manager.Manager assembles a
// Raft store, scheduler and reconciler into one running control plane.
package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/dismerge/internal/actor"
	"github.com/cuemby/dismerge/internal/document"
	"github.com/cuemby/dismerge/internal/health"
	"github.com/cuemby/dismerge/internal/lease"
	"github.com/cuemby/dismerge/internal/model"
	"github.com/cuemby/dismerge/internal/persister"
	"github.com/cuemby/dismerge/internal/router"
	"github.com/cuemby/dismerge/internal/sync"
	"github.com/cuemby/dismerge/internal/watch"
	"github.com/cuemby/dismerge/pkg/log"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Node owns every long-lived subsystem of one replica.
type Node struct {
	cfg Config

	persister persister.Persister
	actor     *actor.Actor
	watchSrv  *watch.Server
	leaseMgr  *lease.Manager
	syncEng   *sync.Engine
	router    *router.Router
	health    *health.Server

	mu      sync.RWMutex
	loaded  bool
	hasMemb bool

	log zerolog.Logger
}

// New validates cfg, opens the configured persister and wires every
// subsystem together, but does not start anything: call Start to load
// persisted state and begin serving.
func New(cfg Config) (*Node, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p, err := openPersister(cfg)
	if err != nil {
		return nil, fmt.Errorf("open persister: %w", err)
	}

	n := &Node{
		cfg:       cfg,
		persister: p,
		watchSrv:  watch.NewServer(),
		log:       log.WithComponent("node"),
	}

	// The Document's actor id attributes locally-created changes and is
	// unrelated to cfg.Name (the human-readable member identity): the
	// original implementation stamps each frontend actor with a fresh
	// uuid.Uuid::new_v4() (ecetcd/src/lib.rs), the same per-process random
	// identity convention the teacher uses via uuid.New().String() for its
	// own entity ids.
	doc := document.New(uuid.New().String())
	n.actor = actor.New(cfg.actorConfig(), doc, p, n.notifySync, n.dispatchWatch)
	n.leaseMgr = lease.NewManager(n.actor)

	checker := health.NewChecker(n.actor, n.isLoaded, n.isReady)
	n.health = health.NewServer(checker, n.actor, p)
	n.router = router.New(cfg.routerConfig(), n.actor, n.isReady)

	return n, nil
}

func openPersister(cfg Config) (persister.Persister, error) {
	switch cfg.Persister {
	case PersisterMemory, "":
		return persister.NewMemoryPersister(), nil
	case PersisterFS:
		return persister.NewFilePersister(cfg.DataDir)
	case PersisterSled:
		return persister.NewBoltPersister(cfg.DataDir)
	default:
		return nil, fmt.Errorf("unknown persister %q", cfg.Persister)
	}
}

// notifySync is the Actor's onChange hook; syncEng is nil until Start has
// determined this node's member id, so a change committed during startup
// (the Bootstrap/MemberAdd call itself) is simply not announced — the
// engine's own periodic tick picks it up once it exists.
func (n *Node) notifySync() {
	n.mu.RLock()
	eng := n.syncEng
	n.mu.RUnlock()
	if eng != nil {
		eng.Notify()
	}
}

func (n *Node) dispatchWatch(events []model.Event) {
	n.watchSrv.Dispatch(events)
}

func (n *Node) isLoaded() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.loaded
}

func (n *Node) isReady() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.loaded && n.hasMemb
}

// IsReady reports the same readiness state the health checker and
// router use, for cmd/dismerge's gRPC health-service wiring.
func (n *Node) IsReady() bool { return n.isReady() }

// Actor returns the Document Actor directly, for cmd/dismerge's inbound
// peer-sync HTTP handlers (internal/sync.NewSyncHandler/
// NewMemberListHandler take an *actor.Actor, not a Router).
func (n *Node) Actor() *actor.Actor { return n.actor }

// Start loads persisted state, establishes this node's cluster and member
// id (bootstrapping a new cluster or joining an existing one per
// InitialClusterState), then starts the lease manager and sync engine.
func (n *Node) Start(ctx context.Context, transport sync.Transport) error {
	if err := n.actor.Load(); err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	n.actor.Start()
	n.mu.Lock()
	n.loaded = true
	n.mu.Unlock()

	selfID, err := n.establishMembership(ctx, transport)
	if err != nil {
		n.actor.Stop()
		return err
	}

	n.mu.Lock()
	n.syncEng = sync.NewEngine(n.cfg.syncConfig(), n.actor, transport, selfID)
	n.hasMemb = true
	n.mu.Unlock()

	if err := n.leaseMgr.Reconcile(ctx); err != nil {
		n.log.Warn().Err(err).Msg("failed to reconcile leases at startup")
	}
	if err := n.syncEng.Refresh(ctx); err != nil {
		n.log.Warn().Err(err).Msg("failed to start initial sync workers")
	}

	n.log.Info().Str("name", n.cfg.Name).Uint64("member_id", selfID).Msg("node started")
	return nil
}

// establishMembership runs the §4.7 bootstrap/join flow and returns this
// node's member id.
func (n *Node) establishMembership(ctx context.Context, transport sync.Transport) (uint64, error) {
	self := model.Member{
		Name:       n.cfg.Name,
		PeerURLs:   n.cfg.ListenPeerURLs,
		ClientURLs: n.cfg.AdvertiseClientURLs,
	}
	selfURL := n.cfg.InitialAdvertisePeer
	if selfURL == "" && len(n.cfg.ListenPeerURLs) > 0 {
		selfURL = n.cfg.ListenPeerURLs[0]
	}

	switch n.cfg.InitialClusterState {
	case ClusterStateExisting:
		candidates := make([]model.Member, 0, len(n.cfg.InitialCluster))
		for _, p := range n.cfg.InitialCluster {
			candidates = append(candidates, model.Member{Name: p.Name, PeerURLs: []string{p.URL}})
		}
		_, memberID, err := sync.Discover(ctx, transport, candidates, selfURL)
		if err != nil {
			return 0, fmt.Errorf("discover cluster: %w", err)
		}
		// Unlike a brand-new cluster, a joining node must not call
		// Bootstrap: the cluster id and this node's own membership
		// record already exist in the document the admitting peer
		// committed (via its own MemberAdd), and will arrive here
		// through ordinary sync once the engine starts. Calling
		// Bootstrap here would locally fabricate a second, conflicting
		// opClusterInit/opMemberAdd pair instead of converging on the
		// one the cluster already agreed on.
		if err := n.actor.SetMemberID(ctx, memberID); err != nil {
			return 0, fmt.Errorf("set member id: %w", err)
		}
		return memberID, nil

	default: // ClusterStateNew
		clusterID, err := randID()
		if err != nil {
			return 0, err
		}
		memberID, err := randID()
		if err != nil {
			return 0, err
		}
		self.ID = memberID
		if _, err := n.actor.Bootstrap(ctx, clusterID, self); err != nil {
			return 0, fmt.Errorf("bootstrap cluster: %w", err)
		}
		if err := n.actor.SetMemberID(ctx, memberID); err != nil {
			return 0, fmt.Errorf("set member id: %w", err)
		}
		return memberID, nil
	}
}

// Stop tears down the sync engine and lease manager, then the Actor.
func (n *Node) Stop() {
	n.mu.RLock()
	eng := n.syncEng
	n.mu.RUnlock()
	if eng != nil {
		eng.Stop()
	}
	n.leaseMgr.Stop()
	n.actor.Stop()
}

// Router returns the request adapter layer. cmd/dismerge does not register
// a gRPC service against it; its gRPC server carries only the health
// service.
func (n *Node) Router() *router.Router { return n.router }

// WatchServer returns the watch registry cmd/dismerge's streaming RPC
// handler creates and cancels watchers against.
func (n *Node) WatchServer() *watch.Server { return n.watchSrv }

// LeaseManager returns the expiry tracker cmd/dismerge's LeaseGrant/Revoke
// handlers notify after a successful Actor call.
func (n *Node) LeaseManager() *lease.Manager { return n.leaseMgr }

// HealthServer returns the HTTP handler for the listen_metrics_urls
// listener.
func (n *Node) HealthServer() *health.Server { return n.health }

// SyncEngine returns the peer sync engine, non-nil only once Start has
// established this node's member id.
func (n *Node) SyncEngine() *sync.Engine {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.syncEng
}
