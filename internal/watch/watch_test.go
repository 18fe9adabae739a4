package watch

import (
	"context"
	"testing"

	"github.com/cuemby/dismerge/internal/actor"
	"github.com/cuemby/dismerge/internal/document"
	"github.com/cuemby/dismerge/internal/model"
	"github.com/cuemby/dismerge/internal/persister"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestActor(t *testing.T) *actor.Actor {
	t.Helper()
	p := persister.NewMemoryPersister()
	doc := document.New("watch-test")
	a := actor.New(actor.Config{}, doc, p, nil, nil)
	require.NoError(t, a.Load())
	a.Start()
	t.Cleanup(a.Stop)

	ctx := context.Background()
	_, err := a.Bootstrap(ctx, 1, model.Member{ID: 1, Name: "n1"})
	require.NoError(t, err)
	require.NoError(t, a.SetMemberID(ctx, 1))
	return a
}

func TestCreateWithoutStartHeadsOnlyDeliversLiveEvents(t *testing.T) {
	a := newTestActor(t)
	s := NewServer()
	ctx := context.Background()

	w, err := s.Create(ctx, model.WatchCreateRequest{Range: model.KeyRange{Start: []byte("a"), End: []byte("z")}}, a)
	require.NoError(t, err)
	t.Cleanup(func() { s.Cancel(w.ID) })

	_, err = a.Put(ctx, model.PutRequest{Key: []byte("k"), Value: model.NewBytesValue([]byte("v"))})
	require.NoError(t, err)
	s.Dispatch(drainActorEvents(t, a))

	select {
	case ev := <-w.Events():
		assert.Equal(t, model.EventPut, ev.Type)
		assert.Equal(t, []byte("k"), ev.KV.Key)
	default:
		t.Fatal("expected a live event to be buffered")
	}
}

func TestCreateReplaysHistoricalDiffBetweenFrontiers(t *testing.T) {
	a := newTestActor(t)
	s := NewServer()
	ctx := context.Background()

	_, err := a.Put(ctx, model.PutRequest{Key: []byte("k1"), Value: model.NewBytesValue([]byte("v1"))})
	require.NoError(t, err)
	startHeads, err := a.Heads(ctx)
	require.NoError(t, err)

	_, err = a.Put(ctx, model.PutRequest{Key: []byte("k2"), Value: model.NewBytesValue([]byte("v2"))})
	require.NoError(t, err)
	_, err = a.DeleteRange(ctx, model.DeleteRangeRequest{Range: model.KeyRange{Start: []byte("k1")}})
	require.NoError(t, err)

	w, err := s.Create(ctx, model.WatchCreateRequest{
		Range:      model.KeyRange{Start: []byte("a"), End: []byte("z")},
		StartHeads: startHeads,
	}, a)
	require.NoError(t, err)
	t.Cleanup(func() { s.Cancel(w.ID) })

	var events []model.Event
	for i := 0; i < 2; i++ {
		select {
		case ev := <-w.Events():
			events = append(events, ev)
		default:
			t.Fatalf("expected 2 historical events, got %d", i)
		}
	}

	byKey := map[string]model.Event{}
	for _, ev := range events {
		byKey[string(ev.KV.Key)] = ev
	}
	require.Contains(t, byKey, "k1")
	assert.Equal(t, model.EventDelete, byKey["k1"].Type)
	require.Contains(t, byKey, "k2")
	assert.Equal(t, model.EventPut, byKey["k2"].Type)
}

// TestCreateReplaysEveryIntermediateChangeNotJustNetDiff covers the case a
// snapshot-diff replay gets wrong: a key put, put again, then deleted
// between the watch's start heads and the current heads nets to "absent
// at both ends" and would otherwise emit nothing, but the watcher must
// still see all three transitions.
func TestCreateReplaysEveryIntermediateChangeNotJustNetDiff(t *testing.T) {
	a := newTestActor(t)
	s := NewServer()
	ctx := context.Background()

	startHeads, err := a.Heads(ctx)
	require.NoError(t, err)

	_, err = a.Put(ctx, model.PutRequest{Key: []byte("k"), Value: model.NewBytesValue([]byte("1"))})
	require.NoError(t, err)
	_, err = a.Put(ctx, model.PutRequest{Key: []byte("k"), Value: model.NewBytesValue([]byte("2"))})
	require.NoError(t, err)
	_, err = a.DeleteRange(ctx, model.DeleteRangeRequest{Range: model.KeyRange{Start: []byte("k")}})
	require.NoError(t, err)

	w, err := s.Create(ctx, model.WatchCreateRequest{
		Range:      model.KeyRange{Start: []byte("a"), End: []byte("z")},
		StartHeads: startHeads,
	}, a)
	require.NoError(t, err)
	t.Cleanup(func() { s.Cancel(w.ID) })

	var events []model.Event
	for i := 0; i < 3; i++ {
		select {
		case ev := <-w.Events():
			events = append(events, ev)
		default:
			t.Fatalf("expected 3 historical events (put, put, delete), got %d", i)
		}
	}

	require.Len(t, events, 3)
	assert.Equal(t, model.EventPut, events[0].Type)
	assert.Equal(t, []byte("1"), events[0].KV.Value.Bytes)
	assert.Equal(t, model.EventPut, events[1].Type)
	assert.Equal(t, []byte("2"), events[1].KV.Value.Bytes)
	assert.Equal(t, model.EventDelete, events[2].Type)
}

func TestCancelClosesCanceledChannel(t *testing.T) {
	a := newTestActor(t)
	s := NewServer()
	ctx := context.Background()

	w, err := s.Create(ctx, model.WatchCreateRequest{Range: model.KeyRange{Start: []byte("a"), End: []byte("z")}}, a)
	require.NoError(t, err)

	s.Cancel(w.ID)

	select {
	case <-w.Canceled():
	default:
		t.Fatal("expected Canceled() to be closed")
	}

	// canceling twice, or an unknown id, must not panic
	s.Cancel(w.ID)
	s.Cancel(999)
}

func TestDispatchDropsSlowWatcherWithoutBlocking(t *testing.T) {
	a := newTestActor(t)
	s := NewServer()
	ctx := context.Background()

	w, err := s.Create(ctx, model.WatchCreateRequest{Range: model.KeyRange{Start: []byte("a"), End: []byte("z")}}, a)
	require.NoError(t, err)

	events := make([]model.Event, 0, defaultCapacity+1)
	for i := 0; i < defaultCapacity+1; i++ {
		events = append(events, model.Event{Type: model.EventPut, KV: model.KeyValue{Key: []byte("k")}})
	}

	done := make(chan struct{})
	go func() {
		s.Dispatch(events)
		close(done)
	}()
	select {
	case <-done:
	default:
	}
	<-done // Dispatch must return even though nobody drains w.Events()

	select {
	case <-w.Canceled():
	default:
		t.Fatal("expected the overflowed watcher to be canceled")
	}
}

func drainActorEvents(t *testing.T, a *actor.Actor) []model.Event {
	t.Helper()
	// The actor already drained and would have handed these to onEvents
	// in production; tests without an onEvents hook re-derive them via a
	// fresh Range diff against an empty start, which is equivalent for a
	// single fresh key used immediately after Put in these tests.
	resp, err := a.Range(context.Background(), model.RangeRequest{Range: model.KeyRange{Start: []byte("a"), End: []byte("z")}})
	require.NoError(t, err)
	events := make([]model.Event, 0, len(resp.KVs))
	for _, kv := range resp.KVs {
		events = append(events, model.Event{Type: model.EventPut, KV: kv})
	}
	return events
}
