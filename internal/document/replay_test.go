package document

import (
	"testing"

	"github.com/cuemby/dismerge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayEventsEmitsEveryIntermediateChangeNotJustNetDiff(t *testing.T) {
	d := New("actor-a")
	startHeads := d.Heads()

	_, err := d.Put(model.PutRequest{Key: []byte("k"), Value: model.NewBytesValue([]byte("1"))})
	require.NoError(t, err)
	_, err = d.Put(model.PutRequest{Key: []byte("k"), Value: model.NewBytesValue([]byte("2"))})
	require.NoError(t, err)
	_, err = d.DeleteRange(model.DeleteRangeRequest{Range: model.SingleKey([]byte("k"))})
	require.NoError(t, err)

	events := d.ReplayEvents(startHeads, model.KeyRange{Start: []byte("a"), End: []byte("z")}, false)

	require.Len(t, events, 3)
	assert.Equal(t, model.EventPut, events[0].Type)
	assert.Equal(t, []byte("1"), events[0].KV.Value.Bytes)
	assert.Equal(t, model.EventPut, events[1].Type)
	assert.Equal(t, []byte("2"), events[1].KV.Value.Bytes)
	assert.Equal(t, model.EventDelete, events[2].Type)
}

func TestReplayEventsFiltersToRequestedRange(t *testing.T) {
	d := New("actor-a")
	startHeads := d.Heads()

	_, err := d.Put(model.PutRequest{Key: []byte("in"), Value: model.NewBytesValue([]byte("v"))})
	require.NoError(t, err)
	_, err = d.Put(model.PutRequest{Key: []byte("out-of-range"), Value: model.NewBytesValue([]byte("v"))})
	require.NoError(t, err)

	events := d.ReplayEvents(startHeads, model.SingleKey([]byte("in")), false)

	require.Len(t, events, 1)
	assert.Equal(t, []byte("in"), events[0].KV.Key)
}

func TestReplayEventsIncludesPrevKVOnlyWhenRequested(t *testing.T) {
	d := New("actor-a")
	_, err := d.Put(model.PutRequest{Key: []byte("k"), Value: model.NewBytesValue([]byte("1"))})
	require.NoError(t, err)
	startHeads := d.Heads()

	_, err = d.Put(model.PutRequest{Key: []byte("k"), Value: model.NewBytesValue([]byte("2"))})
	require.NoError(t, err)

	without := d.ReplayEvents(startHeads, model.SingleKey([]byte("k")), false)
	require.Len(t, without, 1)
	assert.Nil(t, without[0].PrevKV)

	with := d.ReplayEvents(startHeads, model.SingleKey([]byte("k")), true)
	require.Len(t, with, 1)
	require.NotNil(t, with[0].PrevKV)
	assert.Equal(t, []byte("1"), with[0].PrevKV.Value.Bytes)
}

func TestReplayEventsOnEmptyRangeReturnsNothing(t *testing.T) {
	d := New("actor-a")
	startHeads := d.Heads()
	_, err := d.Put(model.PutRequest{Key: []byte("k"), Value: model.NewBytesValue([]byte("v"))})
	require.NoError(t, err)

	events := d.ReplayEvents(startHeads, model.KeyRange{Start: []byte("k"), End: []byte("k")}, false)
	assert.Empty(t, events)
}
