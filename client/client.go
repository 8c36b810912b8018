package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValerySidorin/nsqc/proto"
	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	DefaultDialTimeout       = 5 * time.Second
	DefaultReadTimeout       = 60 * time.Second
	DefaultWriteTimeout      = 1 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second

	UserAgent = "nsqc/1.0"

	ReadBufferSize  = 16 * 1024
	WriteBufferSize = 16 * 1024
)

type connConfig struct {
	dial              DialFunc
	dialTimeout       time.Duration
	timeout           time.Duration
	readTimeout       time.Duration
	writeTimeout      time.Duration
	heartbeatInterval time.Duration
	msgTimeout        time.Duration
	clientID          string
	hostname          string
	userAgent         string
	tls               *tls.Config
	authSecret        string
	maxFrameSize      int32
}

// Conn is a single connection to one nsqd endpoint. It is owned by exactly one
// Publisher or Subscriber.
type Conn struct {
	endpoint Endpoint
	conf     connConfig

	mu sync.Mutex
	nc net.Conn
	r  *bufio.Reader

	wmu sync.Mutex
	w   *bufio.Writer

	state   atomic.Int32
	owned   atomic.Bool
	release sync.Once

	negotiated proto.IdentifyResponse

	metrics Metrics
	tracer  trace.Tracer

	id string
	l  *slog.Logger
}

func NewConn(endpoint Endpoint, opts ...Option) *Conn {
	hostname, _ := os.Hostname()
	clientID, _, _ := strings.Cut(hostname, ".")

	d := &net.Dialer{}

	c := &Conn{
		endpoint: endpoint,
		conf: connConfig{
			dial:              d.DialContext,
			dialTimeout:       DefaultDialTimeout,
			readTimeout:       DefaultReadTimeout,
			writeTimeout:      DefaultWriteTimeout,
			heartbeatInterval: DefaultHeartbeatInterval,
			clientID:          clientID,
			hostname:          hostname,
			userAgent:         UserAgent,
		},
		metrics: noopMetrics{},
		tracer:  noop.NewTracerProvider().Tracer("nsqc"),
		id:      uuid.NewString(),
		l:       slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.conf.heartbeatInterval > 0 && c.conf.readTimeout > 0 &&
		c.conf.readTimeout < 2*c.conf.heartbeatInterval {
		c.conf.readTimeout = 2 * c.conf.heartbeatInterval
	}

	c.l = c.l.With("conn_id", c.id, "addr", endpoint.Addr())

	return c
}

// Connect creates a Conn and makes exactly one connection attempt.
func Connect(ctx context.Context, endpoint Endpoint, opts ...Option) (*Conn, error) {
	c := NewConn(endpoint, opts...)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

func (c *Conn) Endpoint() Endpoint {
	return c.endpoint
}

// Negotiated returns the IDENTIFY response. It is zero for servers without
// feature negotiation.
func (c *Conn) Negotiated() proto.IdentifyResponse {
	return c.negotiated
}

// Connect dials the endpoint and performs the protocol handshake. It is never
// retried: any failure leaves the Conn failed.
func (c *Conn) Connect(ctx context.Context) error {
	if c == nil {
		return ErrConnClosed
	}

	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateConnecting)) {
		return fmt.Errorf("connect: %w: %s", ErrInvalidState, c.State())
	}

	if err := c.endpoint.Validate(); err != nil {
		c.fail()
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	dialCtx := ctx
	if c.conf.dialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.conf.dialTimeout)
		defer cancel()
	}

	nc, err := c.conf.dial(dialCtx, "tcp", c.endpoint.Addr())
	if err != nil {
		c.fail()
		c.metrics.IncError("dial")
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return fmt.Errorf("%w: dial: %w", ErrConnection, err)
	}

	c.mu.Lock()
	if c.State() != StateConnecting {
		c.mu.Unlock()
		nc.Close()
		return fmt.Errorf("connect: %w", ErrConnClosed)
	}
	c.nc = nc
	c.r = bufio.NewReaderSize(nc, ReadBufferSize)
	c.w = bufio.NewWriterSize(nc, WriteBufferSize)
	c.mu.Unlock()

	if err := c.handshake(ctx); err != nil {
		c.fail()
		c.metrics.IncError("handshake")
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return fmt.Errorf("%w: handshake: %w", ErrConnection, err)
	}

	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return fmt.Errorf("connect: %w", ErrConnClosed)
	}

	c.l.Debug("connected",
		"version", c.negotiated.Version,
		"tls", c.negotiated.TLSv1,
		"max_rdy_count", c.negotiated.MaxRdyCount)
	c.metrics.IncOp("CONNECT")

	return nil
}

func (c *Conn) handshake(ctx context.Context) error {
	if c.conf.dialTimeout > 0 {
		_ = c.nc.SetDeadline(time.Now().Add(c.conf.dialTimeout))
	}

	nc := c.nc
	stop := context.AfterFunc(ctx, func() {
		_ = nc.SetDeadline(time.Unix(1, 0))
	})
	defer func() {
		if stop() {
			_ = c.nc.SetDeadline(time.Time{})
		}
	}()

	if _, err := c.w.Write(proto.MAGIC_V2); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}

	heartbeat := int64(-1)
	if c.conf.heartbeatInterval > 0 {
		heartbeat = c.conf.heartbeatInterval.Milliseconds()
	}

	identify, err := proto.Identify(proto.IdentifyRequest{
		ClientID:           c.conf.clientID,
		Hostname:           c.conf.hostname,
		UserAgent:          c.conf.userAgent,
		HeartbeatInterval:  heartbeat,
		FeatureNegotiation: true,
		TLSv1:              c.conf.tls != nil,
		MsgTimeout:         c.conf.msgTimeout.Milliseconds(),
	})
	if err != nil {
		return err
	}

	if err := c.writeCommand(identify); err != nil {
		return fmt.Errorf("write identify: %w", err)
	}

	frame, err := c.readHandshakeFrame()
	if err != nil {
		return fmt.Errorf("read identify: %w", err)
	}

	resp, negotiated, err := proto.ParseIdentifyResponse(frame.Data)
	if err != nil {
		return err
	}
	c.negotiated = resp

	if !negotiated {
		return nil
	}

	if resp.TLSv1 {
		if err := c.upgradeTLS(); err != nil {
			return fmt.Errorf("tls: %w", err)
		}
	}

	if resp.AuthRequired {
		if err := c.auth(); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if c.conf.maxFrameSize == 0 && resp.MaxMsgSize > 0 {
		c.conf.maxFrameSize = proto.MaxFrameSize(resp.MaxMsgSize)
	}

	if resp.HeartbeatInterval > 0 && c.conf.readTimeout > 0 {
		if hb := time.Duration(resp.HeartbeatInterval) * time.Millisecond; c.conf.readTimeout < 2*hb {
			c.conf.readTimeout = 2 * hb
		}
	}

	return nil
}

// readHandshakeFrame reads a frame and turns an error frame into an error.
func (c *Conn) readHandshakeFrame() (proto.Frame, error) {
	frame, err := proto.ReadFrame(c.r, c.conf.maxFrameSize)
	if err != nil {
		return frame, err
	}
	if perr := frame.Err(); perr != nil {
		return frame, fmt.Errorf("rejected: %w", perr)
	}
	return frame, nil
}

func (c *Conn) upgradeTLS() error {
	if c.conf.tls == nil {
		return errors.New("server requires tls")
	}

	conf := c.conf.tls.Clone()
	if conf.ServerName == "" {
		conf.ServerName = c.endpoint.Host
	}

	tlsConn := tls.Client(c.nc, conf)
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	c.mu.Lock()
	c.nc = tlsConn
	c.r = bufio.NewReaderSize(tlsConn, ReadBufferSize)
	c.w = bufio.NewWriterSize(tlsConn, WriteBufferSize)
	c.mu.Unlock()

	frame, err := c.readHandshakeFrame()
	if err != nil {
		return err
	}
	if !frame.IsOK() {
		return fmt.Errorf("unexpected response %q", frame.Data)
	}

	return nil
}

func (c *Conn) auth() error {
	if c.conf.authSecret == "" {
		return errors.New("server requires auth, but no secret provided")
	}

	if err := c.writeCommand(proto.Auth(c.conf.authSecret)); err != nil {
		return err
	}

	frame, err := c.readHandshakeFrame()
	if err != nil {
		return err
	}

	resp, err := proto.ParseAuthResponse(frame.Data)
	if err != nil {
		return err
	}

	c.l.Info("authenticated",
		"identity", resp.Identity,
		"identity_url", resp.IdentityURL,
		"permission_count", resp.PermissionCount)

	return nil
}

// Send writes one command. Only valid while the Conn is open.
func (c *Conn) Send(cmd *nsq.Command) error {
	if c == nil || c.State() != StateOpen {
		return ErrConnClosed
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.conf.writeTimeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.conf.writeTimeout))
	}

	if err := c.writeCommand(cmd); err != nil {
		if s := c.State(); s == StateClosing || s == StateClosed {
			return ErrConnClosed
		}
		c.fail()
		c.metrics.IncError("send")
		return fmt.Errorf("%w: send %s: %w", ErrTransport, cmd.Name, err)
	}

	c.metrics.IncOp(string(cmd.Name))
	return nil
}

func (c *Conn) writeCommand(cmd *nsq.Command) error {
	if _, err := cmd.WriteTo(c.w); err != nil {
		return err
	}
	return c.w.Flush()
}

// Receive blocks until a full frame arrives. End of stream, whether the peer
// closed the connection or Close was called, is reported as io.EOF.
func (c *Conn) Receive() (proto.Frame, error) {
	return c.receive(time.Time{})
}

// receive reads one frame before deadline. A zero deadline falls back to the
// per-frame read timeout.
func (c *Conn) receive(deadline time.Time) (proto.Frame, error) {
	if c == nil || c.State() != StateOpen {
		return proto.Frame{}, io.EOF
	}

	if deadline.IsZero() && c.conf.readTimeout > 0 {
		deadline = time.Now().Add(c.conf.readTimeout)
	}
	_ = c.nc.SetReadDeadline(deadline)

	frame, err := proto.ReadFrame(c.r, c.conf.maxFrameSize)
	if err == nil {
		return frame, nil
	}

	switch s := c.State(); {
	case s == StateClosing || s == StateClosed:
		return frame, io.EOF
	case s == StateFailed:
		return frame, fmt.Errorf("%w: %w", ErrTransport, ErrConnClosed)
	}

	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return frame, ErrTimeout
	case errors.Is(err, io.EOF):
		c.l.Debug("connection closed by peer")
		if c.state.CompareAndSwap(int32(StateOpen), int32(StateClosed)) {
			_ = c.releaseConn()
		}
		return frame, io.EOF
	}

	c.fail()
	c.metrics.IncError("receive")
	return frame, fmt.Errorf("%w: receive: %w", ErrTransport, err)
}

// Close releases the underlying socket. It is safe to call any number of times
// from any state.
func (c *Conn) Close() error {
	if c == nil {
		return nil
	}

	for {
		s := c.State()
		switch s {
		case StateIdle:
			if c.state.CompareAndSwap(int32(s), int32(StateClosed)) {
				return nil
			}
		case StateConnecting, StateOpen:
			if c.state.CompareAndSwap(int32(s), int32(StateClosing)) {
				err := c.releaseConn()
				c.state.Store(int32(StateClosed))
				return err
			}
		default:
			return c.releaseConn()
		}
	}
}

// fail moves a connecting or open Conn to failed and releases the socket.
func (c *Conn) fail() {
	for {
		s := c.State()
		if s != StateConnecting && s != StateOpen {
			break
		}
		if c.state.CompareAndSwap(int32(s), int32(StateFailed)) {
			c.l.Debug("connection failed", "from", s)
			break
		}
	}
	_ = c.releaseConn()
}

func (c *Conn) releaseConn() (err error) {
	c.release.Do(func() {
		c.mu.Lock()
		nc := c.nc
		c.mu.Unlock()

		if nc == nil {
			return
		}

		if cerr := nc.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = fmt.Errorf("close: %w", cerr)
		}
		c.l.Debug("connection released")
	})
	return err
}

// claim marks the Conn as owned by a publisher or subscriber.
func (c *Conn) claim() error {
	if c == nil || c.State() != StateOpen {
		return ErrConnClosed
	}
	if !c.owned.CompareAndSwap(false, true) {
		return ErrConnInUse
	}
	return nil
}

// roundTrip sends cmd and waits for its response, answering heartbeats in the
// meantime. Error frames are returned as *proto.Error; fatal ones fail the Conn.
// Cancelling ctx fails the Conn, since the response stream can no longer be
// matched to requests.
func (c *Conn) roundTrip(ctx context.Context, cmd *nsq.Command) (proto.Frame, error) {
	stop := context.AfterFunc(ctx, c.fail)
	defer stop()

	if err := c.Send(cmd); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return proto.Frame{}, ctxErr
		}
		return proto.Frame{}, err
	}

	var deadline time.Time
	if c.conf.timeout > 0 {
		deadline = time.Now().Add(c.conf.timeout)
	}

	for {
		frame, err := c.receive(deadline)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return frame, ctxErr
			}
			if errors.Is(err, ErrTimeout) {
				c.fail()
				c.metrics.IncError("timeout")
			}
			return frame, err
		}

		switch frame.Type {
		case proto.FRAME_TYPE_RESPONSE:
			if frame.IsHeartbeat() {
				if err := c.Send(nsq.Nop()); err != nil {
					return frame, err
				}
				continue
			}
			return frame, nil
		case proto.FRAME_TYPE_ERROR:
			perr := frame.Err()
			if perr.Fatal() {
				c.fail()
			}
			return frame, perr
		default:
			c.fail()
			return frame, fmt.Errorf("%w: unexpected %s frame", ErrTransport, frame.Type)
		}
	}
}
