package docstore

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(id string) Event {
	return Event{ID: uuid.New(), Kind: EventCreated, Ref: Ref{Collection: "c", ID: id}}
}

func collect(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestFeedFansOutToAllSubscribers(t *testing.T) {
	var f Feed
	a := f.Subscribe(1)
	b := f.Subscribe(1)

	f.Publish([]Event{event("1"), event("2")})
	f.Publish([]Event{event("3")})
	f.Close()

	for _, ch := range []<-chan Event{a, b} {
		got := collect(ch)
		require.Len(t, got, 3)
		assert.Equal(t, "1", got[0].Ref.ID)
		assert.Equal(t, "2", got[1].Ref.ID)
		assert.Equal(t, "3", got[2].Ref.ID)
	}
}

func TestFeedPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	var f Feed
	ch := f.Subscribe(0) // nobody reading yet

	for i := 0; i < 1000; i++ {
		f.Publish([]Event{event("x")})
	}
	f.Close()

	assert.Len(t, collect(ch), 1000)
}

func TestFeedSubscribeAfterCloseReturnsClosedChannel(t *testing.T) {
	var f Feed
	f.Close()
	ch := f.Subscribe(1)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestFeedPublishAfterCloseIsDropped(t *testing.T) {
	var f Feed
	ch := f.Subscribe(1)
	f.Close()
	f.Publish([]Event{event("1")})
	assert.Empty(t, collect(ch))
}
