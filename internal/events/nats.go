package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"blogger/internal/observability"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// NatsSubjectWildcard matches every post event subject.
const NatsSubjectWildcard = "post.*"

// NatsPublisher publishes events on subjects named after the event type.
type NatsPublisher struct {
	nc *nats.Conn
}

// NewNatsPublisher wraps an established connection.
func NewNatsPublisher(nc *nats.Conn) *NatsPublisher {
	return &NatsPublisher{nc: nc}
}

// ConnectNats dials url and returns a publisher owning the connection.
func ConnectNats(url string) (*NatsPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("blogger"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewNatsPublisher(nc), nil
}

func (p *NatsPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &nats.Msg{
		Subject: ev.Type,
		Data:    data,
		Header:  nats.Header{},
	}
	// Carry the trace context so consumers can link their spans to this request.
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	observability.Logger.DebugContext(ctx, "publishing post event", slog.String("subject", msg.Subject), slog.String("post_id", ev.PostID))
	return p.nc.PublishMsg(msg)
}

// Subscribe delivers events from every post subject until ctx is cancelled.
func (p *NatsPublisher) Subscribe(ctx context.Context, h Handler) error {
	sub, err := p.nc.Subscribe(NatsSubjectWildcard, func(msg *nats.Msg) {
		msgCtx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.HeaderCarrier(msg.Header))
		msgCtx, span := observability.Tracer.Start(msgCtx, "events.consume "+msg.Subject, trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
		deliver(msgCtx, msg.Data, h)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", NatsSubjectWildcard, err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

func (p *NatsPublisher) Name() string { return "nats" }

// Close drains pending messages and closes the connection.
func (p *NatsPublisher) Close() error {
	if p.nc == nil || p.nc.IsClosed() {
		return nil
	}
	return p.nc.Drain()
}

// Ping reports whether the connection to the server is up.
func (p *NatsPublisher) Ping() error {
	if p.nc == nil || !p.nc.IsConnected() {
		return fmt.Errorf("nats: not connected")
	}
	return nil
}
