package eventstream

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/cognition-sh/cognition/pkg/types"
)

// Bus fans out live CoreEvents to the one SSEStream subscribed to a given
// turn, backed by watermill's in-process gochannel transport. Each turn
// publishes to its own topic (the stream ID), so backpressure on one slow
// subscriber never affects another stream.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates a Bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
	}
}

// Publish sends event to every subscriber of streamID.
func (b *Bus) Publish(streamID string, event *types.CoreEvent) error {
	payload, err := marshalCoreEvent(event)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return b.pubsub.Publish(streamID, msg)
}

// Subscribe returns a channel of CoreEvents published to streamID. The
// channel closes when ctx is cancelled or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, streamID string) (<-chan *types.CoreEvent, error) {
	raw, err := b.pubsub.Subscribe(ctx, streamID)
	if err != nil {
		return nil, err
	}

	out := make(chan *types.CoreEvent)
	go func() {
		defer close(out)
		for msg := range raw {
			event, err := unmarshalCoreEvent(msg.Payload)
			msg.Ack()
			if err != nil {
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close releases the bus's resources.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
