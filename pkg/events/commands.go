package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// CommandsTopic carries front-end commands to the worker, currently only
// publish requests. Commands ride the same bus as pipeline events but in
// the opposite direction.
const CommandsTopic = "pipeline-commands"

// WorkerConsumerGroup is the worker's consumer group for CommandsTopic.
const WorkerConsumerGroup = "worker-consumer"

// publishCommandType is the command metadata value for a publish request.
const publishCommandType = "publish"

type publishCommand struct {
	EditionID string `json:"edition_id"`
}

// SendPublishCommand enqueues a publish request for editionID on the
// command topic. It fails when the bus is unconfigured: unlike events,
// commands are not ephemeral and cannot be silently dropped.
func (b *SQLBus) SendPublishCommand(ctx context.Context, editionID string) error {
	if !b.Enabled() {
		return fmt.Errorf("events: publish command requires a configured bus")
	}
	body, err := json.Marshal(publishCommand{EditionID: editionID})
	if err != nil {
		return fmt.Errorf("events: marshal publish command: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), body)
	msg.Metadata.Set("command_type", publishCommandType)
	return b.publisher.Publish(CommandsTopic, msg)
}

// NewCommandSubscriber opens a bus subscriber bound to WorkerConsumerGroup
// for the worker's command consumer.
func NewCommandSubscriber(dsn string) (message.Subscriber, error) {
	return newSubscriber(dsn, WorkerConsumerGroup)
}

// CommandConsumer runs on the worker process: it receives commands from
// the front-end and dispatches them to the pipeline.
type CommandConsumer struct {
	subscriber message.Subscriber
	onPublish  func(ctx context.Context, editionID string) error
}

// NewCommandConsumer binds a command subscriber to the publish handler it
// dispatches to.
func NewCommandConsumer(subscriber message.Subscriber, onPublish func(ctx context.Context, editionID string) error) *CommandConsumer {
	return &CommandConsumer{subscriber: subscriber, onPublish: onPublish}
}

// Run consumes CommandsTopic until ctx is done or the subscriber's channel
// closes.
func (c *CommandConsumer) Run(ctx context.Context) error {
	messages, err := c.subscriber.Subscribe(ctx, CommandsTopic)
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

func (c *CommandConsumer) handle(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	if t := msg.Metadata.Get("command_type"); t != publishCommandType {
		slog.Warn("events: command consumer dropped unknown command", "command_type", t)
		return
	}
	var cmd publishCommand
	if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
		slog.Warn("events: command consumer dropped unparseable command", "error", err)
		return
	}
	if err := c.onPublish(ctx, cmd.EditionID); err != nil {
		slog.Error("events: publish command failed", "edition_id", cmd.EditionID, "error", err)
	}
}
