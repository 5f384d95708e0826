package realtime

import (
	"context"
	"errors"
	"sync"
)

// fakeBroadcaster is an in-memory Broadcaster for tests. Pushes are
// recorded per channel; subscriptions receive whatever the test injects
// through its stream.
type fakeBroadcaster struct {
	mu       sync.Mutex
	pushes   map[Channel][][]byte
	failOn   map[Channel]bool
	listenEr error
	streams  []*fakeStream
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{
		pushes: make(map[Channel][][]byte),
		failOn: make(map[Channel]bool),
	}
}

func (b *fakeBroadcaster) Push(_ context.Context, channel Channel, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failOn[channel] {
		return errors.New("push failed")
	}
	b.pushes[channel] = append(b.pushes[channel], payload)
	return nil
}

func (b *fakeBroadcaster) Listen(_ context.Context, channels ...Channel) (Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listenEr != nil {
		return nil, b.listenEr
	}
	stream := &fakeStream{
		channels: channels,
		payloads: make(chan []byte, 64),
	}
	b.streams = append(b.streams, stream)
	return stream, nil
}

func (b *fakeBroadcaster) channelPayloads(channel Channel) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pushes[channel]
}

func (b *fakeBroadcaster) pushedChannels() []Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	channels := make([]Channel, 0, len(b.pushes))
	for ch := range b.pushes {
		channels = append(channels, ch)
	}
	return channels
}

type fakeStream struct {
	channels  []Channel
	payloads  chan []byte
	closeOnce sync.Once
	closed    bool
}

func (s *fakeStream) Payloads() <-chan []byte { return s.payloads }

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed = true
		close(s.payloads)
	})
	return nil
}

func (s *fakeStream) inject(payload []byte) {
	s.payloads <- payload
}
