package realtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tetherchat/tether/internal/metrics"
)

// Handler receives validated events. It runs on the subscription's
// delivery goroutine; slow handlers delay subsequent deliveries on the
// same subscription.
type Handler func(Event)

// DropFunc observes payloads dropped for failing schema validation.
// Dropping stays silent toward handlers either way; the hook exists so
// payload-shape drift can be detected without changing the
// drop-don't-crash contract.
type DropFunc func(payload []byte, err error)

// Subscriber attaches handlers to channels, validating every inbound
// payload before delivery. Malformed payloads on a channel are noise,
// not faults: they are counted, optionally reported to the drop hook,
// and never reach the handler.
type Subscriber struct {
	broadcaster Broadcaster
	logger      zerolog.Logger
	onDrop      DropFunc
}

// NewSubscriber creates a subscriber. onDrop may be nil.
func NewSubscriber(broadcaster Broadcaster, logger zerolog.Logger, onDrop DropFunc) *Subscriber {
	return &Subscriber{
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "subscriber").Logger(),
		onDrop:      onDrop,
	}
}

// Subscription is the composite unsubscribe handle for one Subscribe
// call; closing it tears down every channel subscription behind it.
type Subscription struct {
	stream    Stream
	done      chan struct{}
	closeOnce sync.Once
}

// Close unsubscribes and stops delivery. Safe to call more than once.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.stream.Close()
		<-s.done
	})
	return err
}

// Subscribe attaches handler to the given channels and starts
// delivering validated events until the returned handle is closed.
func (s *Subscriber) Subscribe(ctx context.Context, handler Handler, channels ...Channel) (*Subscription, error) {
	stream, err := s.broadcaster.Listen(ctx, channels...)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		stream: stream,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		for payload := range stream.Payloads() {
			event, err := Decode(payload)
			if err != nil {
				metrics.DroppedPayloads.Inc()
				s.logger.Debug().Err(err).Msg("dropped malformed payload")
				if s.onDrop != nil {
					s.onDrop(payload, err)
				}
				continue
			}
			metrics.EventsDelivered.WithLabelValues(string(event.Kind())).Inc()
			handler(event)
		}
	}()

	return sub, nil
}
