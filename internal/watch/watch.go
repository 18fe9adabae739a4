// Package watch fans out Document mutations to registered range watchers,
// replaying history from a causal point on creation and dispatching live
// events thereafter without ever blocking the Document Actor that feeds it
// (§4.4).
package watch

import (
	"context"
	"sync"

	"github.com/cuemby/dismerge/internal/actor"
	"github.com/cuemby/dismerge/internal/model"
	"github.com/cuemby/dismerge/pkg/log"
	"github.com/cuemby/dismerge/pkg/metrics"
	"github.com/rs/zerolog"
)

// defaultCapacity bounds a watcher's outbound channel. A watcher that
// can't drain this many buffered events is considered slow and is
// dropped rather than allowed to make Dispatch block.
const defaultCapacity = 128

// Watcher is one registered range watch. Callers read Events() until
// Canceled() closes, then stop.
type Watcher struct {
	ID            model.WatchID
	Range         model.KeyRange
	IncludePrevKV bool

	events   chan model.Event
	canceled chan struct{}
	once     sync.Once
}

// Events delivers historical replay events (if any were requested)
// followed by live events, in that order.
func (w *Watcher) Events() <-chan model.Event { return w.events }

// Canceled closes when the watcher is removed, either explicitly or
// because it fell behind and was dropped.
func (w *Watcher) Canceled() <-chan struct{} { return w.canceled }

func (w *Watcher) close() {
	w.once.Do(func() { close(w.canceled) })
}

// Server is the registry of live watchers: one per process, shared by
// every Watch RPC stream.
type Server struct {
	mu       sync.Mutex
	next     model.WatchID
	watchers map[model.WatchID]*Watcher

	log zerolog.Logger
}

// NewServer builds an empty watch registry.
func NewServer() *Server {
	return &Server{
		watchers: map[model.WatchID]*Watcher{},
		log:      log.WithComponent("watch"),
	}
}

// Create assigns a watch id, optionally replays history from
// req.StartHeads to the document's current heads, and registers the
// watcher for subsequent live dispatch. If the replay alone overflows the
// watcher's buffer it is dropped and Create returns it already canceled,
// matching the "slow watcher" policy used for live delivery.
func (s *Server) Create(ctx context.Context, req model.WatchCreateRequest, act *actor.Actor) (*Watcher, error) {
	w := &Watcher{
		Range:         req.Range,
		IncludePrevKV: req.IncludePrevKV,
		events:        make(chan model.Event, defaultCapacity),
		canceled:      make(chan struct{}),
	}

	s.mu.Lock()
	s.next++
	w.ID = s.next
	s.watchers[w.ID] = w
	metrics.ActiveWatchers.Set(float64(len(s.watchers)))
	s.mu.Unlock()

	if req.StartHeads != nil {
		events, err := replay(ctx, act, req)
		if err != nil {
			s.Cancel(w.ID)
			return nil, err
		}
		for _, e := range events {
			if !s.deliverHistorical(w, e) {
				break
			}
		}
	}

	return w, nil
}

func (s *Server) deliverHistorical(w *Watcher, e model.Event) bool {
	select {
	case w.events <- e:
		metrics.WatchEventsTotal.WithLabelValues(eventLabel(e.Type)).Inc()
		return true
	default:
		s.log.Warn().Int64("watch_id", int64(w.ID)).Msg("historical replay overflowed watcher buffer, canceling")
		s.Cancel(w.ID)
		return false
	}
}

// Cancel unregisters id, if present, and closes its channel. Safe to call
// with an unknown or already-canceled id.
func (s *Server) Cancel(id model.WatchID) {
	s.mu.Lock()
	w, ok := s.watchers[id]
	if ok {
		delete(s.watchers, id)
	}
	metrics.ActiveWatchers.Set(float64(len(s.watchers)))
	s.mu.Unlock()

	if ok {
		w.close()
	}
}

// CancelAll unregisters every id in ids; used when a Watch stream closes
// to tear down all watchers it created.
func (s *Server) CancelAll(ids []model.WatchID) {
	for _, id := range ids {
		s.Cancel(id)
	}
}

// Dispatch fans events out to every registered watcher whose range
// contains the event's key. This is the Actor's onEvents hook: it must
// never block, so a watcher whose buffer is full is dropped rather than
// waited on.
func (s *Server) Dispatch(events []model.Event) {
	if len(events) == 0 {
		return
	}

	s.mu.Lock()
	targets := make([]*Watcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		targets = append(targets, w)
	}
	s.mu.Unlock()

	for _, e := range events {
		for _, w := range targets {
			if !w.Range.Contains(e.KV.Key) {
				continue
			}
			out := e
			if !w.IncludePrevKV {
				out.PrevKV = nil
			}
			select {
			case w.events <- out:
				metrics.WatchEventsTotal.WithLabelValues(eventLabel(e.Type)).Inc()
			default:
				s.log.Warn().Int64("watch_id", int64(w.ID)).Msg("slow watcher dropped")
				metrics.WatchEventsTotal.WithLabelValues("canceled").Inc()
				s.Cancel(w.ID)
			}
		}
	}
}

func eventLabel(t model.EventType) string {
	if t == model.EventPut {
		return "put"
	}
	return "delete"
}
