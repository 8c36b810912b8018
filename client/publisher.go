package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValerySidorin/nsqc/proto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Event is a single message to publish. A positive Delay asks nsqd to defer
// delivery by at least that long.
type Event struct {
	Topic string
	Body  []byte
	Delay time.Duration
}

func (e Event) Validate() error {
	if e.Topic == "" {
		return ErrEmptyTopic
	}
	if e.Delay < 0 {
		return ErrNegativeDelay
	}
	return nil
}

type Publisher struct {
	conn *Conn

	mu     sync.Mutex
	closed atomic.Bool
}

func (c *Conn) ConnectPublisher() (*Publisher, error) {
	if err := c.claim(); err != nil {
		return nil, fmt.Errorf("connect publisher: %w", err)
	}

	return &Publisher{conn: c}, nil
}

// Publish writes exactly one PUB or DPUB frame and waits for its
// acknowledgment. It never retries.
func (p *Publisher) Publish(ctx context.Context, ev Event) (err error) {
	if p.closed.Load() {
		return ErrPublisherClosed
	}

	if err := ev.Validate(); err != nil {
		return fmt.Errorf("validate event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, span := p.conn.tracer.Start(ctx, "nsq.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "nsq"),
			attribute.String("messaging.destination.name", ev.Topic),
			attribute.Int("messaging.message.body.size", len(ev.Body)),
			attribute.Int64("nsq.delay_ms", ev.Delay.Milliseconds()),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()

	frame, err := p.conn.roundTrip(ctx, proto.Publish(ev.Topic, ev.Body, ev.Delay))
	if err != nil {
		var perr *proto.Error
		if errors.As(err, &perr) {
			p.conn.metrics.IncError("publish")
			return fmt.Errorf("%w: %w", ErrPublishRejected, perr)
		}
		return fmt.Errorf("publish: %w", err)
	}

	if !frame.IsOK() {
		p.conn.fail()
		return fmt.Errorf("publish: %w: unexpected response %q", ErrTransport, frame.Data)
	}

	p.conn.metrics.ObservePublishLatency(time.Since(start))
	p.conn.l.Debug("published", "topic", ev.Topic, "size", len(ev.Body), "delay", ev.Delay)

	return nil
}

// Close releases the owned connection.
func (p *Publisher) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	return p.conn.Close()
}
