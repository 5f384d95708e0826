package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvents(events chan Event, n int, t *testing.T) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case e := <-events:
			got = append(got, e)
		case <-timeout:
			t.Fatalf("timed out waiting for %d events, got %d", n, len(got))
		}
	}
	return got
}

func TestSubscriberDeliversValidatedEvents(t *testing.T) {
	broadcaster := newFakeBroadcaster()
	subscriber := NewSubscriber(broadcaster, zerolog.Nop(), nil)

	events := make(chan Event, 16)
	sub, err := subscriber.Subscribe(context.Background(), func(e Event) { events <- e },
		WebsiteChannel("w1"), OrganizationChannel("o1"))
	require.NoError(t, err)
	defer sub.Close()

	require.Len(t, broadcaster.streams, 1)
	stream := broadcaster.streams[0]
	assert.Equal(t, []Channel{"website:w1", "organization:o1"}, stream.channels)

	payload, err := Encode(VisitorPresence{WebsiteID: "w1", OrganizationID: "o1", VisitorID: "v1", Online: true})
	require.NoError(t, err)
	stream.inject(payload)

	got := collectEvents(events, 1, t)
	assert.Equal(t, KindVisitorOnline, got[0].Kind())
}

func TestSubscriberDropsMalformedPayloadsSilently(t *testing.T) {
	broadcaster := newFakeBroadcaster()

	drops := make(chan []byte, 16)
	subscriber := NewSubscriber(broadcaster, zerolog.Nop(), func(payload []byte, err error) {
		assert.Error(t, err)
		drops <- payload
	})

	events := make(chan Event, 16)
	sub, err := subscriber.Subscribe(context.Background(), func(e Event) { events <- e },
		WebsiteChannel("w1"))
	require.NoError(t, err)
	defer sub.Close()

	stream := broadcaster.streams[0]
	stream.inject([]byte("garbage"))
	stream.inject([]byte(`{"event":"unknown_kind","website_id":"w1","organization_id":"o1"}`))

	valid, err := Encode(NewMessage{
		ConversationID: "c1", WebsiteID: "w1", OrganizationID: "o1", MessageID: "m1",
	})
	require.NoError(t, err)
	stream.inject(valid)

	// The handler sees only the valid event; the two malformed
	// payloads went to the drop hook.
	got := collectEvents(events, 1, t)
	assert.Equal(t, KindNewMessage, got[0].Kind())

	dropped := 0
	timeout := time.After(2 * time.Second)
	for dropped < 2 {
		select {
		case <-drops:
			dropped++
		case <-timeout:
			t.Fatalf("expected 2 dropped payloads, saw %d", dropped)
		}
	}
	assert.Empty(t, events)
}

func TestSubscriptionCloseTearsDownStream(t *testing.T) {
	broadcaster := newFakeBroadcaster()
	subscriber := NewSubscriber(broadcaster, zerolog.Nop(), nil)

	sub, err := subscriber.Subscribe(context.Background(), func(Event) {},
		ConversationChannel("c1"), WebsiteChannel("w1"), OrganizationChannel("o1"))
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	assert.True(t, broadcaster.streams[0].closed)

	// Close is idempotent.
	assert.NoError(t, sub.Close())
}

func TestSubscribeListenFailure(t *testing.T) {
	broadcaster := newFakeBroadcaster()
	broadcaster.listenEr = listenError{}
	subscriber := NewSubscriber(broadcaster, zerolog.Nop(), nil)

	_, err := subscriber.Subscribe(context.Background(), func(Event) {}, ChannelGlobal)
	assert.Error(t, err)
}

type listenError struct{}

func (listenError) Error() string { return "listen failed" }
