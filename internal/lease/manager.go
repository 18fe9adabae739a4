// Package lease drives cascading lease expiry: one goroutine per live
// lease, sleeping until its TTL elapses and re-checking the Document
// before revoking (§4.5). Keep-alives are applied directly against the
// Document Actor by the request router; this package only has to notice
// when a lease's remaining TTL, as last observed, has run out.
package lease

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cuemby/dismerge/internal/actor"
	"github.com/cuemby/dismerge/internal/model"
	"github.com/cuemby/dismerge/pkg/log"
	"github.com/rs/zerolog"
)

// errLeaseGone marks a lease the Document no longer knows about.
var errLeaseGone = errors.New("lease does not exist")

// Manager tracks one expiry worker per granted lease.
type Manager struct {
	act *actor.Actor

	mu      sync.Mutex
	workers map[uint64]context.CancelFunc
	wg      sync.WaitGroup

	log zerolog.Logger
}

// NewManager builds a lease manager bound to act. It does not start any
// workers on its own; call Reconcile once at startup to pick up leases
// that existed before this process started, and Track after every
// successful LeaseGrant thereafter.
func NewManager(act *actor.Actor) *Manager {
	return &Manager{
		act:     act,
		workers: map[uint64]context.CancelFunc{},
		log:     log.WithComponent("lease"),
	}
}

// Reconcile starts an expiry worker for every lease currently known to
// the Document, using its currently reported remaining TTL. Call this
// once after the Document Actor has loaded its persisted state.
func (m *Manager) Reconcile(ctx context.Context) error {
	resp, err := m.act.LeaseLeases(ctx)
	if err != nil {
		return err
	}
	for _, id := range resp.IDs {
		ttl, err := m.remaining(ctx, id)
		if err != nil {
			continue
		}
		m.Track(id, ttl)
	}
	return nil
}

// Track starts (or restarts) an expiry worker for lease id with the
// given initial wait, in seconds. Called after LeaseGrant and after
// Reconcile.
func (m *Manager) Track(id uint64, ttlSeconds int64) {
	m.mu.Lock()
	if cancel, ok := m.workers[id]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.workers[id] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx, id, ttlSeconds)
}

// Forget stops tracking id without revoking it, used when a lease is
// revoked directly (e.g. via an explicit LeaseRevoke RPC) so the worker
// doesn't later try to expire an already-gone lease.
func (m *Manager) Forget(id uint64) {
	m.mu.Lock()
	cancel, ok := m.workers[id]
	if ok {
		delete(m.workers, id)
	}
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// Stop cancels every tracked worker and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	for id, cancel := range m.workers {
		delete(m.workers, id)
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context, id uint64, ttlSeconds int64) {
	defer m.wg.Done()
	if ttlSeconds <= 0 {
		ttlSeconds = 1
	}
	timer := time.NewTimer(time.Duration(ttlSeconds) * time.Second)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		remaining, err := m.remaining(ctx, id)
		if err != nil {
			// Lease no longer exists or the node is unhealthy; either way
			// there is nothing left for this worker to do.
			m.mu.Lock()
			delete(m.workers, id)
			m.mu.Unlock()
			return
		}
		if remaining <= 0 {
			if err := m.act.ExpireLease(ctx, id); err != nil {
				m.log.Warn().Err(err).Uint64("lease_id", id).Msg("failed to expire lease, will retry")
				timer.Reset(time.Second)
				continue
			}
			m.mu.Lock()
			delete(m.workers, id)
			m.mu.Unlock()
			return
		}
		timer.Reset(time.Duration(remaining) * time.Second)
	}
}

// remaining returns the lease's current TTL as reported by the
// Document, or an error if it no longer exists.
func (m *Manager) remaining(ctx context.Context, id uint64) (int64, error) {
	resp, err := m.act.LeaseTimeToLive(ctx, model.LeaseTimeToLiveRequest{ID: id})
	if err != nil {
		return 0, err
	}
	if resp.TTL < 0 {
		return 0, errLeaseGone
	}
	return resp.TTL, nil
}
