package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ValerySidorin/nsqc/client"
	"github.com/ValerySidorin/nsqc/internal/console"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func (r *runner) subscribe(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("%w: subscribe takes <topic> <channel>", console.ErrUsage)
	}
	topic, channel := c.Args().Get(0), c.Args().Get(1)

	format, err := console.ParseFormat(c.String("format"))
	if err != nil {
		return err
	}

	maxInFlight := r.conf.NSQ.MaxInFlight
	if c.IsSet("max-in-flight") {
		maxInFlight = c.Int("max-in-flight")
	}

	host := r.host(c)
	ep, err := parseEndpoint(host)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	obsConf := r.conf.Observability
	if addr := c.String("metrics-addr"); addr != "" {
		obsConf.Metrics.Enabled = true
		obsConf.Metrics.Addr = addr
	}

	obs, shutdown, err := r.observe(ctx, obsConf)
	if err != nil {
		return err
	}
	defer shutdown()

	opts, err := r.clientOptions(obs.ClientOptions()...)
	if err != nil {
		return err
	}

	conn, err := client.Connect(ctx, ep, opts...)
	if err != nil {
		return connectError(host, err)
	}
	defer conn.Close()

	out := console.NewRenderer(r.stdout, format)

	sub, err := conn.ConnectSubscriber(ctx, client.SubscriberConfig{
		Topic:            topic,
		Channel:          channel,
		MaxInFlight:      maxInFlight,
		CloseGracePeriod: r.conf.NSQ.CloseGracePeriod,
	}, func(msg *client.Msg) {
		if err := out.Render(msg); err != nil {
			r.l.Error("write message", "id", string(msg.ID[:]), "err", err)
			if err := msg.Requeue(0); err != nil {
				r.l.Error("requeue", "id", string(msg.ID[:]), "err", err)
			}
			return
		}
		if err := msg.Finish(); err != nil {
			r.l.Warn("finish", "id", string(msg.ID[:]), "err", err)
		}
	})
	if err != nil {
		return err
	}

	done, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		defer cancel()
		return sub.Wait()
	})
	g.Go(func() error {
		<-done.Done()
		return sub.Close()
	})

	return g.Wait()
}
