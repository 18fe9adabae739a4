package actor

import (
	"github.com/cuemby/dismerge/internal/document"
	"github.com/cuemby/dismerge/internal/model"
	"github.com/cuemby/dismerge/internal/persister"
	"github.com/cuemby/dismerge/pkg/metrics"
)

// persistChanges hands freshly-applied changes to the persister, keyed by
// (actor, seq) as the interface requires.
func (a *Actor) persistChanges(changes []*document.Change) error {
	recs := make([]persister.ChangeRecord, 0, len(changes))
	for _, c := range changes {
		b, err := document.EncodeChange(c)
		if err != nil {
			return err
		}
		recs = append(recs, persister.ChangeRecord{Actor: c.Actor, Seq: c.Seq, Bytes: b})
	}
	return a.persister.InsertChanges(recs)
}

// flush calls Persister.Flush once and releases every reply buffered since
// the last call. On failure, every buffered reply is completed with an
// Internal error instead — per the propagation policy, a Persister failure
// is fatal to in-flight mutations, not silently retried.
func (a *Actor) flush() {
	if len(a.flushBuf) == 0 {
		return
	}

	timer := metrics.NewTimer()
	_, err := a.persister.Flush()
	timer.ObserveDuration(metrics.FlushDuration)

	buf := a.flushBuf
	a.flushBuf = nil

	if err != nil {
		a.failed = err
		a.log.Error().Err(err).Msg("persister flush failed, failing buffered replies")
		for _, e := range buf {
			e.reply <- result{err: model.NewError(model.KindInternal, "flush failed: %v", err)}
		}
		return
	}

	a.outstanding = 0
	metrics.OutstandingChanges.Set(0)
	for _, e := range buf {
		e.reply <- e.res
	}
}
