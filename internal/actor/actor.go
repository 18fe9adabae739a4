// Package actor is the single-threaded owner of a Document: every other
// component — the request router, the sync engine, the lease manager, the
// watch server — reaches the Document only by sending an Actor a message
// and waiting for a reply, never by touching it directly. This mirrors the
// DocumentHandle/DocumentMessage split the CRDT store this was distilled
// from uses to keep exactly one mutator alive at a time.
package actor

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cuemby/dismerge/internal/document"
	"github.com/cuemby/dismerge/internal/model"
	"github.com/cuemby/dismerge/internal/persister"
	"github.com/cuemby/dismerge/pkg/log"
	"github.com/cuemby/dismerge/pkg/metrics"
	"github.com/rs/zerolog"
)

// Config controls the actor's batching and back-pressure behavior.
type Config struct {
	// FlushInterval is the period of the periodic flush loop. Default 10ms.
	FlushInterval time.Duration
	// MaxOutstanding is the number of unflushed local changes at which the
	// actor starts refusing new mutations. 0 disables the limit.
	MaxOutstanding int
	// AutoFlush enables the periodic flush loop and the MaxOutstanding
	// back-pressure check. When false, every durable command flushes
	// synchronously before its reply is released.
	AutoFlush bool
	// AutoSync, when true, invokes onChange after every batch of local or
	// merged changes so the sync engine can notify peers promptly instead
	// of waiting for its own periodic tick.
	AutoSync bool
}

func (c Config) withDefaults() Config {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 10 * time.Millisecond
	}
	return c
}

// command is one unit of work submitted to the actor's goroutine.
type command struct {
	durable bool
	origin  string // "local" | "remote", for the changes_total metric
	run     func(*document.Document) (any, error)
	reply   chan result
}

type result struct {
	val any
	err error
}

// flushEntry is a completed durable command waiting for the next
// successful flush to release its reply.
type flushEntry struct {
	reply chan result
	res   result
}

// Actor owns a Document on a single goroutine. Construct with New, restore
// prior state with Load, then call Start; every other method may be called
// concurrently from any number of goroutines once Start has run.
type Actor struct {
	cfg       Config
	doc       *document.Document
	persister persister.Persister
	onChange  func()
	onEvents  func([]model.Event)

	cmds chan command
	stop chan struct{}
	done chan struct{}

	outstanding int
	flushBuf    []flushEntry
	failed      error // set once a persister call fails; refuses further mutations

	log zerolog.Logger
}

// New builds an Actor around doc and p. onChange is called (if non-nil)
// after a batch of changes when AutoSync is enabled, to let the sync
// engine notify peers without waiting for its periodic tick. onEvents
// receives drained watch events after every command that produced any.
func New(cfg Config, doc *document.Document, p persister.Persister, onChange func(), onEvents func([]model.Event)) *Actor {
	return &Actor{
		cfg:       cfg.withDefaults(),
		doc:       doc,
		persister: p,
		onChange:  onChange,
		onEvents:  onEvents,
		cmds:      make(chan command),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		log:       log.WithComponent("actor"),
	}
}

// Load restores the document's change log and per-peer sync state from the
// persister. Called once, before Start, with no concurrent access to the
// Actor yet possible.
func (a *Actor) Load() error {
	records, err := a.persister.GetChanges()
	if err != nil {
		return fmt.Errorf("load changes: %w", err)
	}

	changes := make([]*document.Change, 0, len(records))
	for _, rec := range records {
		c, err := document.DecodeChange(rec.Bytes)
		if err != nil {
			return fmt.Errorf("decode persisted change (actor=%s seq=%d): %w", rec.Actor, rec.Seq, err)
		}
		changes = append(changes, c)
	}
	if err := a.doc.LoadChanges(changes); err != nil {
		return fmt.Errorf("replay persisted changes: %w", err)
	}

	for _, m := range a.doc.MemberList().Members {
		raw, err := a.persister.GetSyncState(m.ID)
		if err != nil {
			return fmt.Errorf("load sync state for member %d: %w", m.ID, err)
		}
		if raw == nil {
			continue
		}
		snap, err := document.DecodePeerSyncState(raw)
		if err != nil {
			return fmt.Errorf("decode sync state for member %d: %w", m.ID, err)
		}
		a.doc.LoadSyncState(m.ID, snap.LastSent, snap.Theirs)
	}

	a.log.Info().Int("changes", len(changes)).Msg("loaded persisted state")
	return nil
}

// Start launches the actor's message loop in its own goroutine.
func (a *Actor) Start() {
	go a.run()
}

// Stop signals the message loop to flush and exit, and waits for it to do
// so. Safe to call once; callers own not calling it twice.
func (a *Actor) Stop() {
	close(a.stop)
	<-a.done
}

func (a *Actor) run() {
	defer close(a.done)

	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-a.cmds:
			a.handle(cmd)
		case <-ticker.C:
			if a.cfg.AutoFlush {
				a.flush()
			}
		case <-a.stop:
			a.flush()
			return
		}
	}
}

// handle processes exactly one command against the document: apply it,
// drain resulting events and changes, persist the changes, then either
// reply immediately (non-durable commands) or buffer the reply for release
// at the next successful flush (durable commands).
func (a *Actor) handle(cmd command) {
	if cmd.durable && a.failed != nil {
		cmd.reply <- result{err: model.NewError(model.KindInternal, "document actor disabled after persister failure: %v", a.failed)}
		return
	}
	if cmd.durable && a.cfg.AutoFlush && a.cfg.MaxOutstanding > 0 && a.outstanding >= a.cfg.MaxOutstanding {
		cmd.reply <- result{err: model.NewError(model.KindUnavailable, "document actor backlogged: %d outstanding changes", a.outstanding)}
		return
	}

	val, err := cmd.run(a.doc)

	if events := a.doc.DrainEvents(); len(events) > 0 && a.onEvents != nil {
		a.onEvents(events)
	}

	if changes := a.doc.DrainPendingChanges(); len(changes) > 0 {
		if perr := a.persistChanges(changes); perr != nil {
			a.failed = perr
			a.log.Error().Err(perr).Msg("persister failure, refusing further mutations")
			cmd.reply <- result{err: model.NewError(model.KindInternal, "persist changes: %v", perr)}
			return
		}
		a.outstanding += len(changes)
		metrics.OutstandingChanges.Set(float64(a.outstanding))
		metrics.ChangesTotal.WithLabelValues(cmd.origin).Add(float64(len(changes)))
		if a.cfg.AutoSync && a.onChange != nil {
			a.onChange()
		}
	}
	metrics.HeadsCount.Set(float64(len(a.doc.Heads())))

	if !cmd.durable {
		cmd.reply <- result{val: val, err: err}
		return
	}

	a.flushBuf = append(a.flushBuf, flushEntry{reply: cmd.reply, res: result{val: val, err: err}})
	if !a.cfg.AutoFlush {
		a.flush()
	}
}

// randLeaseID produces a random nonzero lease id, following the teacher's
// crypto/rand token-generation convention rather than math/rand.
func randLeaseID() (uint64, error) {
	var b [8]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 0, fmt.Errorf("generate lease id: %w", err)
		}
		id := binary.BigEndian.Uint64(b[:])
		if id != 0 {
			return id, nil
		}
	}
}
