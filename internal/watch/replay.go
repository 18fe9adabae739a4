package watch

import (
	"context"

	"github.com/cuemby/dismerge/internal/actor"
	"github.com/cuemby/dismerge/internal/model"
)

// replay derives the Put/Delete events that occurred within req.Range
// between req.StartHeads and the document's current heads (§4.4), one
// event per intermediate change rather than a single net diff between
// the two frontiers, so a key that is written more than once (or written
// then deleted) in that span is reported as every transition it actually
// went through, in true causal order.
func replay(ctx context.Context, act *actor.Actor, req model.WatchCreateRequest) ([]model.Event, error) {
	return act.ReplayEvents(ctx, req.StartHeads, req.Range, req.IncludePrevKV)
}
