package realtime

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Broadcaster is the external ordered, at-least-once, topic-addressed
// broadcast primitive. Its replication and durability are not this
// package's concern.
type Broadcaster interface {
	// Push publishes one payload to one channel.
	Push(ctx context.Context, channel Channel, payload []byte) error
	// Listen subscribes to the given channels and streams raw payloads
	// until the stream is closed.
	Listen(ctx context.Context, channels ...Channel) (Stream, error)
}

// Stream is one live subscription over one or more channels.
type Stream interface {
	// Payloads yields raw inbound payloads. The channel is closed when
	// the stream shuts down.
	Payloads() <-chan []byte
	// Close tears the subscription down.
	Close() error
}

// RedisBroadcaster implements Broadcaster over Redis Pub/Sub.
type RedisBroadcaster struct {
	client *redis.Client
}

// NewRedisBroadcaster wraps an existing Redis client.
func NewRedisBroadcaster(client *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{client: client}
}

// Push publishes payload on the named channel.
func (b *RedisBroadcaster) Push(ctx context.Context, channel Channel, payload []byte) error {
	return b.client.Publish(ctx, string(channel), payload).Err()
}

// Listen opens a Pub/Sub subscription on the given channels.
func (b *RedisBroadcaster) Listen(ctx context.Context, channels ...Channel) (Stream, error) {
	names := make([]string, len(channels))
	for i, ch := range channels {
		names[i] = string(ch)
	}

	pubsub := b.client.Subscribe(ctx, names...)
	// Force the SUBSCRIBE round-trip so setup errors surface here
	// rather than as a silent dead stream.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	stream := &redisStream{
		pubsub:   pubsub,
		payloads: make(chan []byte),
		done:     make(chan struct{}),
	}
	go stream.pump()
	return stream, nil
}

type redisStream struct {
	pubsub    *redis.PubSub
	payloads  chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *redisStream) pump() {
	defer close(s.payloads)
	for msg := range s.pubsub.Channel() {
		select {
		case s.payloads <- []byte(msg.Payload):
		case <-s.done:
			return
		}
	}
}

func (s *redisStream) Payloads() <-chan []byte {
	return s.payloads
}

func (s *redisStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}
