// Package bus provides typed NATS publish/subscribe helpers with
// OpenTelemetry trace propagation. Reindex events travel through it
// between the API, the indexer CLI, and the watch consumers.
package bus

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publish serializes v as JSON and publishes it. Trace context from ctx
// is injected into the message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	return PublishWith(ctx, nc, subject, v, nil)
}

// PublishWith is Publish with extra headers, for callers that thread
// their own metadata (retry counts) alongside the trace context.
func PublishWith[T any](ctx context.Context, nc *nats.Conn, subject string, v T, header nats.Header) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
	}
	if len(header) > 0 {
		msg.Header = make(nats.Header, len(header))
		for k, vals := range header {
			for _, val := range vals {
				msg.Header.Add(k, val)
			}
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return nc.PublishMsg(msg)
}

// Subscribe registers a handler for JSON messages of type T. Trace
// context is extracted from message headers. Malformed messages are
// dropped. The raw message rides along for consumers that need headers
// or manual acks.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T, *nats.Msg)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, wrap(handler))
}

// QueueSubscribe is Subscribe within a queue group: each message goes to
// exactly one member, so consumers scale horizontally.
func QueueSubscribe[T any](nc *nats.Conn, subject, queue string, handler func(context.Context, T, *nats.Msg)) (*nats.Subscription, error) {
	return nc.QueueSubscribe(subject, queue, wrap(handler))
}

func wrap[T any](handler func(context.Context, T, *nats.Msg)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return // drop malformed messages
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		handler(ctx, v, msg)
	}
}
