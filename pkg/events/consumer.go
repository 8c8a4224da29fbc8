package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Consumer runs on the front-end process: it receives from the external
// bus's PipelineEventsTopic/WebConsumerGroup subscription and republishes
// each message into its own in-process Publisher, so connected clients see
// updates produced by the worker.
type Consumer struct {
	subscriber message.Subscriber
	publisher  *Publisher
}

// NewConsumer binds a bus subscriber to the local Publisher it republishes into.
func NewConsumer(subscriber message.Subscriber, publisher *Publisher) *Consumer {
	return &Consumer{subscriber: subscriber, publisher: publisher}
}

// Run subscribes to PipelineEventsTopic and republishes until ctx is done or
// the subscriber's channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	messages, err := c.subscriber.Subscribe(ctx, PipelineEventsTopic)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	var body struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}
	if err := json.Unmarshal(msg.Payload, &body); err != nil {
		slog.Warn("events: consumer dropped unparseable bus message", "error", err)
		return
	}
	c.publisher.Publish(ctx, Event{Type: body.Event, Data: body.Data})
}
