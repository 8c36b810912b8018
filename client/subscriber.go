package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ValerySidorin/nsqc/proto"
	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Handler is called synchronously for every delivered message, one at a time
// and in receive order.
type Handler func(msg *Msg)

type Subscriber struct {
	conf SubscriberConfig
	conn *Conn
	h    Handler

	msgs chan *Msg

	stopping    atomic.Bool
	stopOnce    sync.Once
	closeWaitCh chan struct{}
	closeWait   sync.Once

	inFlight  atomic.Int64
	settledCh chan struct{}

	done chan struct{}
	err  error

	l *slog.Logger
}

// ConnectSubscriber claims the connection, subscribes to conf.Topic/conf.Channel
// and starts delivering messages to handler. ctx bounds the subscribe
// handshake only.
func (c *Conn) ConnectSubscriber(ctx context.Context, conf SubscriberConfig, handler Handler) (*Subscriber, error) {
	if err := conf.ValidateAndSetDefaults(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if handler == nil {
		return nil, ErrEmptyHandler
	}

	if err := c.claim(); err != nil {
		return nil, fmt.Errorf("connect subscriber: %w", err)
	}

	if maxRdy := c.negotiated.MaxRdyCount; maxRdy > 0 && int64(conf.MaxInFlight) > maxRdy {
		c.l.Warn("max in flight exceeds server max rdy count, clamping",
			"max_in_flight", conf.MaxInFlight, "max_rdy_count", maxRdy)
		conf.MaxInFlight = int(maxRdy)
	}

	frame, err := c.roundTrip(ctx, nsq.Subscribe(conf.Topic, conf.Channel))
	if err != nil {
		var perr *proto.Error
		if errors.As(err, &perr) {
			c.metrics.IncError("subscribe")
			return nil, fmt.Errorf("%w: %w", ErrSubscribeRejected, perr)
		}
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	if !frame.IsOK() {
		c.fail()
		return nil, fmt.Errorf("subscribe: %w: unexpected response %q", ErrTransport, frame.Data)
	}

	if err := c.Send(nsq.Ready(conf.MaxInFlight)); err != nil {
		return nil, fmt.Errorf("rdy: %w", err)
	}

	s := &Subscriber{
		conf:        conf,
		conn:        c,
		h:           handler,
		msgs:        make(chan *Msg, conf.MaxInFlight),
		closeWaitCh: make(chan struct{}),
		settledCh:   make(chan struct{}, 1),
		done:        make(chan struct{}),
		l:           c.l.With("topic", conf.Topic, "channel", conf.Channel),
	}

	var g errgroup.Group
	g.Go(s.readLoop)
	g.Go(s.dispatchLoop)

	go func() {
		s.err = g.Wait()
		if err := s.conn.Close(); err != nil {
			s.l.Error("close connection", "err", err)
		}
		close(s.done)
	}()

	s.l.Info("subscribed", "max_in_flight", conf.MaxInFlight)

	return s, nil
}

// Stop asks the subscriber to stop without waiting for it. Messages not yet
// handed to the handler are not delivered.
func (s *Subscriber) Stop() {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		go s.shutdown()
	})
}

// Close stops the subscriber and waits for the loop to end. It must not be
// called from the handler; use Stop there.
func (s *Subscriber) Close() error {
	s.Stop()
	<-s.done
	return s.err
}

// Wait blocks until the loop ends. A clean end of stream is reported as nil.
func (s *Subscriber) Wait() error {
	<-s.done
	return s.err
}

func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// InFlight returns the number of delivered messages that are not settled yet.
func (s *Subscriber) InFlight() int {
	return int(s.inFlight.Load())
}

func (s *Subscriber) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.conf.CloseGracePeriod)
	defer cancel()

	if err := s.conn.Send(nsq.StartClose()); err == nil {
		select {
		case <-s.closeWaitCh:
		case <-s.done:
		case <-ctx.Done():
			s.l.Warn("close wait timed out")
		}
	}

wait:
	for s.inFlight.Load() > 0 {
		select {
		case <-s.settledCh:
		case <-s.done:
			break wait
		case <-ctx.Done():
			s.l.Warn("closing with unsettled messages", "in_flight", s.inFlight.Load())
			break wait
		}
	}

	if err := s.conn.Close(); err != nil {
		s.l.Error("close connection", "err", err)
	}
}

func (s *Subscriber) readLoop() error {
	defer close(s.msgs)

	for {
		frame, err := s.conn.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) || s.stopping.Load() {
				return nil
			}
			s.conn.metrics.IncError("receive")
			return fmt.Errorf("receive: %w", err)
		}

		switch frame.Type {
		case proto.FRAME_TYPE_RESPONSE:
			switch {
			case frame.IsHeartbeat():
				if err := s.conn.Send(nsq.Nop()); err != nil {
					if s.stopping.Load() {
						return nil
					}
					return fmt.Errorf("nop: %w", err)
				}
			case frame.IsCloseWait():
				s.closeWait.Do(func() { close(s.closeWaitCh) })
			default:
				s.l.Debug("unexpected response", "data", string(frame.Data))
			}
		case proto.FRAME_TYPE_ERROR:
			perr := frame.Err()
			if !perr.Fatal() {
				s.l.Warn("server error", "err", perr)
				continue
			}
			s.conn.metrics.IncError("server")
			return fmt.Errorf("%w: %w", ErrTransport, perr)
		case proto.FRAME_TYPE_MESSAGE:
			m, err := nsq.DecodeMessage(frame.Data)
			if err != nil {
				return fmt.Errorf("%w: decode message: %w", ErrTransport, err)
			}

			if s.stopping.Load() {
				s.requeue(m.ID)
				continue
			}

			s.inFlight.Add(1)
			s.msgs <- newMsg(m, s)
		}
	}
}

func (s *Subscriber) dispatchLoop() error {
	for msg := range s.msgs {
		if s.stopping.Load() || s.conn.State() != StateOpen {
			s.requeue(msg.ID)
			s.release()
			continue
		}
		s.deliver(msg)
	}
	return nil
}

// requeue hands back a message that will not reach the handler, so nsqd
// redelivers it without waiting for its message timeout.
func (s *Subscriber) requeue(id nsq.MessageID) {
	if err := s.conn.Send(nsq.Requeue(id, 0)); err != nil {
		s.l.Debug("requeue undelivered message", "id", string(id[:]), "err", err)
	}
}

func (s *Subscriber) deliver(msg *Msg) {
	s.conn.metrics.AddInFlight(1)
	s.conn.metrics.IncOp("MSG")

	_, span := s.conn.tracer.Start(context.Background(), "nsq.message",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "nsq"),
			attribute.String("messaging.destination.name", s.conf.Topic),
			attribute.String("messaging.consumer.group.name", s.conf.Channel),
			attribute.String("messaging.message.id", string(msg.ID[:])),
			attribute.Int("nsq.attempts", int(msg.Attempts)),
		))
	defer span.End()

	s.h(msg)
}

func (s *Subscriber) settled() {
	s.conn.metrics.AddInFlight(-1)
	s.release()
}

func (s *Subscriber) release() {
	s.inFlight.Add(-1)

	select {
	case s.settledCh <- struct{}{}:
	default:
	}
}
