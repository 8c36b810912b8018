package main

import (
	"github.com/urfave/cli/v2"
)

func hostFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "host",
		Aliases:     []string{"h"},
		Usage:       "the target nsq host and port",
		Value:       defaultHost(),
		DefaultText: "nsq://$NSQ_HOST:$NSQ_PORT",
	}
}

func publishFlags() []cli.Flag {
	return []cli.Flag{
		hostFlag(),
		&cli.StringFlag{
			Name:    "delay",
			Aliases: []string{"d"},
			Usage:   "defer delivery by a duration (1m30s) or milliseconds",
			Value:   "0",
		},
		&cli.StringFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Usage:   "bound the wait for the publish acknowledgment, 0 waits for as long as the connection is alive",
			Value:   "0",
		},
	}
}

func subscribeFlags() []cli.Flag {
	return []cli.Flag{
		hostFlag(),
		&cli.IntFlag{
			Name:  "max-in-flight",
			Usage: "messages nsqd may have in flight on the connection",
		},
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Usage:   "output format (raw, line, json)",
			Value:   "raw",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "serve prometheus metrics on this address",
		},
	}
}
