// Package events provides the process-internal domain event bus every
// mutating operation publishes to (spec §4, §5 "Suspension points"). It
// generalizes pkg/natsutil's typed Publish/Subscribe helpers over an
// embedded NATS server, so forest needs no external broker dependency.
package events

import (
	"context"
	"encoding/json"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/bwl/forest/internal/domain"
)

// Subject is the NATS subject a domain.Event is published to, namespaced by
// EventKind so subscribers can filter by subject wildcard (e.g. "forest.edge.*").
func Subject(kind domain.EventKind) string {
	return "forest." + string(kind)
}

// Bus wraps an embedded NATS server and connection. Embedding the server
// keeps forest a single process with no external broker to deploy,
// matching the "single process owns the store" concurrency model (spec §5).
type Bus struct {
	srv  *natsserver.Server
	conn *nats.Conn
}

// NewBus starts an embedded NATS server on a loose (OS-assigned) port and
// connects to it. Grounded on pkg/natsutil/coverage_boost_test.go's
// startTestNATS helper, promoted from test-only scaffolding to the
// production event bus bootstrap.
func NewBus() (*Bus, error) {
	opts := &natsserver.Options{Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, err
	}
	srv.Start()
	if !srv.ReadyForConnections(readyTimeout) {
		srv.Shutdown()
		return nil, errNATSNotReady
	}
	conn, err := nats.Connect(srv.ClientURL())
	if err != nil {
		srv.Shutdown()
		return nil, err
	}
	return &Bus{srv: srv, conn: conn}, nil
}

// Close closes the connection (without draining it) and shuts down the
// embedded server.
func (b *Bus) Close() {
	b.conn.Close()
	b.srv.Shutdown()
}

// Publish emits a domain event on its kind-namespaced subject.
func (b *Bus) Publish(ctx context.Context, e domain.Event) error {
	return publish(ctx, b.conn, Subject(e.Kind), e)
}

// Subscribe registers a handler for events on the given subject (use
// Subject(kind) for a single kind, or a wildcard like "forest.edge.*").
func (b *Bus) Subscribe(subject string, handler func(context.Context, domain.Event)) (*nats.Subscription, error) {
	return subscribe(b.conn, subject, handler)
}

// natsHeaderCarrier adapts nats.Msg headers to OTel's TextMapCarrier,
// grounded verbatim on pkg/natsutil.natsHeaderCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// publish serializes v as JSON and publishes to subject, injecting trace
// context from ctx into message headers.
func publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return nc.PublishMsg(msg)
}

// subscribe registers a handler deserializing JSON messages of type T,
// extracting trace context from message headers. Malformed messages are
// silently dropped, matching pkg/natsutil.Subscribe.
func subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		handler(ctx, v)
	})
}
