package realtime

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tetherchat/tether/internal/metrics"
)

// Publisher serializes events once and fans them out to every channel
// the topology designates, concurrently.
type Publisher struct {
	broadcaster Broadcaster
	logger      zerolog.Logger
}

// NewPublisher creates a publisher over the given broadcast primitive.
func NewPublisher(broadcaster Broadcaster, logger zerolog.Logger) *Publisher {
	return &Publisher{
		broadcaster: broadcaster,
		logger:      logger.With().Str("component", "publisher").Logger(),
	}
}

// Publish pushes the identical serialized payload to every resolved
// channel. All pushes are issued concurrently and the call returns only
// when they have all settled. Failure is all-or-nothing: any channel
// push error fails the whole call, with no partial-success reporting
// and no internal retry. The fabric underneath is assumed durable per
// channel, so a failure here means a transport outage worth surfacing,
// not masking.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	payload, err := Encode(event)
	if err != nil {
		return err
	}

	channels := ChannelsFor(event)

	var g errgroup.Group
	for _, channel := range channels {
		channel := channel
		g.Go(func() error {
			return p.broadcaster.Push(ctx, channel, payload)
		})
	}

	if err := g.Wait(); err != nil {
		metrics.EventPublishFailures.Inc()
		p.logger.Error().
			Err(err).
			Str("kind", string(event.Kind())).
			Msg("channel push failed, publish aborted")
		return err
	}

	metrics.EventsPublished.WithLabelValues(string(event.Kind())).Inc()
	return nil
}
