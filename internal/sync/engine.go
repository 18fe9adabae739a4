// Package sync runs the per-peer CRDT sync loops described in §4.7: one
// worker per known peer, woken by either a document-changed notification
// or a periodic tick, pulling the next outgoing sync message from the
// Document Actor and handing it to a Transport. Sync messages are
// unordered and idempotent by construction (the underlying merge is
// commutative), so a failed send is simply retried with capped
// exponential backoff rather than requiring any message-level recovery.
package sync

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/dismerge/internal/actor"
	"github.com/cuemby/dismerge/internal/model"
	"github.com/cuemby/dismerge/pkg/health"
	"github.com/cuemby/dismerge/pkg/log"
	"github.com/rs/zerolog"
)

const (
	minBackoff = time.Millisecond
	maxBackoff = 5 * time.Second
)

// Config tunes the per-peer tick interval. SyncInterval is the fallback
// poll; a Notify call wakes every worker immediately regardless.
type Config struct {
	SyncInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.SyncInterval <= 0 {
		c.SyncInterval = 200 * time.Millisecond
	}
	return c
}

type peerWorker struct {
	cancel context.CancelFunc
	notify chan struct{}
}

// Engine owns one worker per peer and reconciles that set against the
// Document's membership map on Refresh.
type Engine struct {
	cfg       Config
	act       *actor.Actor
	transport Transport
	selfID    uint64

	mu           sync.Mutex
	peers        map[uint64]*peerWorker
	reachability map[uint64]*health.Status
	wg           sync.WaitGroup

	healthCfg health.Config

	log zerolog.Logger
}

// NewEngine builds a sync engine for a node whose own member id is
// selfID. It does not start any peer workers; call Refresh once the
// Document Actor is loaded and selfID is known.
func NewEngine(cfg Config, act *actor.Actor, transport Transport, selfID uint64) *Engine {
	return &Engine{
		cfg:          cfg.withDefaults(),
		act:          act,
		transport:    transport,
		selfID:       selfID,
		peers:        map[uint64]*peerWorker{},
		reachability: map[uint64]*health.Status{},
		healthCfg:    health.DefaultConfig(),
		log:          log.WithComponent("sync"),
	}
}

// Notify wakes every running peer worker immediately instead of waiting
// for its next tick. Wire this as the Document Actor's onChange callback
// so a local mutation propagates without delay.
func (e *Engine) Notify() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.peers {
		select {
		case p.notify <- struct{}{}:
		default:
		}
	}
}

// Refresh reconciles running workers against the Document's current
// membership: one worker is spawned for every member not yet tracked
// (excluding self), and workers for members no longer present are torn
// down. Call this at startup and again whenever a membership-change
// event is observed.
func (e *Engine) Refresh(ctx context.Context) error {
	resp, err := e.act.MemberList(ctx)
	if err != nil {
		return err
	}
	live := make(map[uint64]model.Member, len(resp.Members))
	for _, m := range resp.Members {
		if m.ID == e.selfID {
			continue
		}
		live[m.ID] = m
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, member := range live {
		if _, ok := e.peers[id]; ok {
			continue
		}
		workerCtx, cancel := context.WithCancel(context.Background())
		p := &peerWorker{cancel: cancel, notify: make(chan struct{}, 1)}
		e.peers[id] = p
		e.reachability[id] = health.NewStatus()
		e.wg.Add(1)
		go e.runPeer(workerCtx, member, p)
	}
	for id, p := range e.peers {
		if _, ok := live[id]; !ok {
			p.cancel()
			delete(e.peers, id)
			delete(e.reachability, id)
		}
	}
	return nil
}

// Reachable reports whether the given peer's most recent TCP reachability
// probe (run ahead of each sync attempt in runPeer) considers it healthy.
// A peer with no tracked status (unknown, or not a current member) reports
// true, since runPeer hasn't had a chance to mark it otherwise yet.
func (e *Engine) Reachable(id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.reachability[id]
	if !ok {
		return true
	}
	return st.Healthy
}

// Stop cancels every peer worker and waits for them to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	for id, p := range e.peers {
		delete(e.peers, id)
		p.cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) runPeer(ctx context.Context, peer model.Member, p *peerWorker) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.SyncInterval)
	defer ticker.Stop()
	backoff := minBackoff

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.notify:
		case <-ticker.C:
		}

		// The reachability probe is advisory only: it feeds Reachable()
		// for callers like status reporting, but a peer whose TCP dial
		// fails still gets a real GenerateSyncMessage/SendSyncMessage
		// attempt below, which has its own failure handling (backoff).
		// Skipping sync outright on a failed probe would make an
		// unreachable-looking-but-actually-fine peer (e.g. a firewall
		// that drops bare TCP but a transport that tunnels around it)
		// starve forever instead of just paying for a wasted attempt.
		if addr, err := peerDialAddr(peer.PeerURLs); err != nil {
			e.log.Warn().Err(err).Uint64("peer_id", peer.ID).Msg("cannot derive peer address for reachability probe")
		} else {
			result := health.NewTCPChecker(addr).Check(ctx)
			e.mu.Lock()
			if st, ok := e.reachability[peer.ID]; ok {
				st.Update(result, e.healthCfg)
			}
			e.mu.Unlock()
		}

		msg, err := e.act.GenerateSyncMessage(ctx, peer.ID)
		if err != nil {
			e.log.Warn().Err(err).Uint64("peer_id", peer.ID).Msg("failed to generate sync message")
			continue
		}
		if msg == nil {
			continue
		}

		if err := e.transport.SendSyncMessage(ctx, peer, e.selfID, msg); err != nil {
			e.log.Warn().Err(err).Uint64("peer_id", peer.ID).Dur("backoff", backoff).Msg("sync send failed, backing off")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = minBackoff
		if err := e.act.PersistSyncState(ctx, peer.ID); err != nil {
			e.log.Warn().Err(err).Uint64("peer_id", peer.ID).Msg("failed to persist sync cursor")
		}
	}
}
