package marketplace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLogSinceAndLimit(t *testing.T) {
	log := NewEventLog(3)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "a", "a"} {
		require.NoError(t, log.Publish(ctx, Event{Type: EventBidSealed, ListingID: id, At: t0.Add(time.Duration(i) * time.Second)}))
	}

	all := log.Since("", 0)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(2), all[0].Seq)
	assert.Equal(t, uint64(4), all[2].Seq)

	onlyA := log.Since("a", 2)
	require.Len(t, onlyA, 2)
	assert.Equal(t, uint64(3), onlyA[0].Seq)
}

func TestEventLogSubscribe(t *testing.T) {
	log := NewEventLog(0)
	ctx := context.Background()
	ch, cancel := log.Subscribe("a", 4)

	require.NoError(t, log.Publish(ctx, Event{Type: EventBidSealed, ListingID: "b"}))
	require.NoError(t, log.Publish(ctx, Event{Type: EventBidRevealed, ListingID: "a"}))

	select {
	case e := <-ch:
		assert.Equal(t, EventBidRevealed, e.Type)
		assert.Equal(t, uint64(2), e.Seq)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	require.NoError(t, log.Publish(ctx, Event{ListingID: "a"}))
}

type failingSink struct{ calls int }

func (f *failingSink) Publish(context.Context, Event) error {
	f.calls++
	return errors.New("queue down")
}

func TestMultiSink(t *testing.T) {
	log := NewEventLog(0)
	bad := &failingSink{}
	sink := MultiSink{bad, nil, log}

	err := sink.Publish(context.Background(), Event{ListingID: "a"})
	require.Error(t, err)
	assert.Equal(t, 1, bad.calls)
	assert.Len(t, log.Since("", 0), 1)
}
