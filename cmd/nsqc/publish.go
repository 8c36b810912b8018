package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ValerySidorin/nsqc/client"
	"github.com/ValerySidorin/nsqc/internal/console"
	"github.com/ValerySidorin/nsqc/internal/observability"
	"github.com/urfave/cli/v2"
)

const shutdownTimeout = 5 * time.Second

func (r *runner) publish(c *cli.Context) error {
	if c.NArg() < 1 || c.NArg() > 2 {
		return fmt.Errorf("%w: publish takes <topic> [data]", console.ErrUsage)
	}
	topic := c.Args().Get(0)

	delay, err := parseDuration(c.String("delay"))
	if err != nil {
		return fmt.Errorf("delay: %w", err)
	}

	timeout := r.conf.NSQ.Timeout
	if c.IsSet("timeout") || timeout == 0 {
		timeout, err = parseDuration(c.String("timeout"))
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
	}

	host := r.host(c)
	ep, err := parseEndpoint(host)
	if err != nil {
		return err
	}

	body, err := console.ReadBody(c.Args().Get(1), c.NArg() == 2, r.stdin, r.isTerminal)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs, shutdown, err := r.observe(ctx, r.publishObservability())
	if err != nil {
		return err
	}
	defer shutdown()

	opts, err := r.clientOptions(obs.ClientOptions()...)
	if err != nil {
		return err
	}
	opts = append(opts, client.WithTimeout(timeout))

	conn, err := client.Connect(ctx, ep, opts...)
	if err != nil {
		return connectError(host, err)
	}
	defer conn.Close()

	pub, err := conn.ConnectPublisher()
	if err != nil {
		return err
	}
	defer pub.Close()

	if err := pub.Publish(ctx, client.Event{Topic: topic, Body: body, Delay: delay}); err != nil {
		return err
	}

	r.l.Info("published", "topic", topic, "size", len(body), "delay", delay)

	return pub.Close()
}

// publishObservability is the configured observability without the metrics
// server, which a single publish would not live long enough to be scraped.
func (r *runner) publishObservability() observability.Config {
	conf := r.conf.Observability
	conf.Metrics.Enabled = false
	return conf
}

// observe starts the observability stack. The returned func flushes pending
// spans and stops the metrics server.
func (r *runner) observe(ctx context.Context, conf observability.Config) (*observability.Provider, func(), error) {
	obs, err := observability.Init(ctx, conf, r.l)
	if err != nil {
		return nil, nil, fmt.Errorf("init observability: %w", err)
	}

	return obs, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			r.l.Error("shutdown observability", "err", err)
		}
	}, nil
}

func (r *runner) host(c *cli.Context) string {
	if !c.IsSet("host") && r.conf.NSQ.Host != "" {
		return r.conf.NSQ.Host
	}
	return c.String("host")
}

func (r *runner) clientOptions(extra ...client.Option) ([]client.Option, error) {
	opts, err := r.conf.NSQ.ClientOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts, client.WithLogger(r.l))
	return append(opts, extra...), nil
}

func connectError(host string, err error) error {
	return fmt.Errorf("could not connect to NSQ (%q), got error: %w", host, err)
}

