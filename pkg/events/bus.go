package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	watermillsql "github.com/ThreeDotsLabs/watermill-sql/v3/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
)

// PipelineEventsTopic is the durable topic the worker publishes pipeline
// events to, consumed by the front-end's `web-consumer` subscription.
const PipelineEventsTopic = "pipeline-events"

// WebConsumerGroup is the front-end's consumer group name for PipelineEventsTopic.
const WebConsumerGroup = "web-consumer"

// SQLBus backs the external fan-out path with Watermill's Postgres SQL
// transport: durable topics with named subscriptions, carried by the same
// database that already backs the document store, so no extra broker is
// needed.
type SQLBus struct {
	publisher message.Publisher
	enabled   bool
}

// NewSQLBus opens a Watermill SQL publisher against dsn. When dsn is empty,
// it returns a Bus with Enabled()==false: publish calls are a no-op and the
// caller logs a single startup warning.
func NewSQLBus(dsn string) (*SQLBus, error) {
	if dsn == "" {
		return &SQLBus{enabled: false}, nil
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("events: open bus db: %w", err)
	}

	pub, err := watermillsql.NewPublisher(
		db,
		watermillsql.PublisherConfig{
			SchemaAdapter:        watermillsql.DefaultPostgreSQLSchema{},
			AutoInitializeSchema: true,
		},
		slogAdapter{},
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("events: new bus publisher: %w", err)
	}

	return &SQLBus{publisher: pub, enabled: true}, nil
}

// Enabled reports whether a connection string was configured.
func (b *SQLBus) Enabled() bool {
	return b != nil && b.enabled
}

// Publish sends evt to PipelineEventsTopic as a JSON body `{event, data}`
// with a single `event_type` metadata property.
func (b *SQLBus) Publish(ctx context.Context, evt Event) error {
	if !b.Enabled() {
		return nil
	}
	body, err := json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: evt.Type, Data: evt.Data})
	if err != nil {
		return fmt.Errorf("events: marshal bus message: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), body)
	msg.Metadata.Set("event_type", evt.Type)
	return b.publisher.Publish(PipelineEventsTopic, msg)
}

// slogAdapter bridges log/slog to watermill.LoggerAdapter so library
// logging flows through the application's own structured logger.
type slogAdapter struct{ fields watermill.LogFields }

func (a slogAdapter) Error(msg string, err error, fields watermill.LogFields) {
	slog.Error(msg, append(fieldsToArgs(mergeFields(a.fields, fields)), "error", err)...)
}
func (a slogAdapter) Info(msg string, fields watermill.LogFields) {
	slog.Info(msg, fieldsToArgs(mergeFields(a.fields, fields))...)
}
func (a slogAdapter) Debug(msg string, fields watermill.LogFields) {
	slog.Debug(msg, fieldsToArgs(mergeFields(a.fields, fields))...)
}
func (a slogAdapter) Trace(msg string, fields watermill.LogFields) {
	slog.Debug(msg, fieldsToArgs(mergeFields(a.fields, fields))...)
}
func (a slogAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return slogAdapter{fields: mergeFields(a.fields, fields)}
}

func mergeFields(a, b watermill.LogFields) watermill.LogFields {
	out := make(watermill.LogFields, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func fieldsToArgs(fields watermill.LogFields) []any {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

// NewSubscriber opens a Watermill SQL subscriber bound to WebConsumerGroup,
// used by the front-end consumer role to receive events the
// worker process published.
func NewSubscriber(dsn string) (message.Subscriber, error) {
	return newSubscriber(dsn, WebConsumerGroup)
}

func newSubscriber(dsn, consumerGroup string) (message.Subscriber, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("events: open subscriber db: %w", err)
	}
	sub, err := watermillsql.NewSubscriber(
		db,
		watermillsql.SubscriberConfig{
			SchemaAdapter:    watermillsql.DefaultPostgreSQLSchema{},
			OffsetsAdapter:   watermillsql.DefaultPostgreSQLOffsetsAdapter{},
			InitializeSchema: true,
			ConsumerGroup:    consumerGroup,
		},
		slogAdapter{},
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("events: new subscriber: %w", err)
	}
	return sub, nil
}
