package client

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/otel/trace"
)

type Option func(c *Conn)

// DialFunc opens the underlying stream. It matches (*net.Dialer).DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) {
		c.l = l
	}
}

func WithDialer(dial DialFunc) Option {
	return func(c *Conn) {
		c.conf.dial = dial
	}
}

// WithDialTimeout bounds the dial and the protocol handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Conn) {
		c.conf.dialTimeout = d
	}
}

// WithTimeout bounds request/response exchanges such as waiting for a publish
// acknowledgment. Zero removes the overall bound, but every frame read is still
// limited by the read timeout (see WithReadTimeout), so a silent nsqd fails the
// exchange once that expires. Heartbeats keep the wait alive.
func WithTimeout(d time.Duration) Option {
	return func(c *Conn) {
		c.conf.timeout = d
	}
}

// WithReadTimeout sets the per-frame liveness deadline. Zero disables it.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Conn) {
		c.conf.readTimeout = d
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *Conn) {
		c.conf.writeTimeout = d
	}
}

// WithHeartbeatInterval asks nsqd for a heartbeat interval. A negative value
// disables heartbeats.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *Conn) {
		c.conf.heartbeatInterval = d
	}
}

// WithMsgTimeout asks nsqd for a per-connection message timeout.
func WithMsgTimeout(d time.Duration) Option {
	return func(c *Conn) {
		c.conf.msgTimeout = d
	}
}

func WithClientID(id string) Option {
	return func(c *Conn) {
		c.conf.clientID = id
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Conn) {
		c.conf.userAgent = ua
	}
}

// WithTLSConfig requests a TLS upgrade during IDENTIFY.
func WithTLSConfig(conf *tls.Config) Option {
	return func(c *Conn) {
		c.conf.tls = conf
	}
}

func WithAuthSecret(secret string) Option {
	return func(c *Conn) {
		c.conf.authSecret = secret
	}
}

// WithMaxFrameSize caps the size of inbound frames. Zero takes the limit
// advertised by nsqd, if any.
func WithMaxFrameSize(n int32) Option {
	return func(c *Conn) {
		c.conf.maxFrameSize = n
	}
}

func WithMetrics(m Metrics) Option {
	return func(c *Conn) {
		c.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Conn) {
		c.tracer = t
	}
}
