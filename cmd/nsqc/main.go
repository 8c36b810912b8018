package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ValerySidorin/nsqc/config"
	"github.com/ValerySidorin/nsqc/internal/console"
	"github.com/urfave/cli/v2"
)

var (
	Commit string
)

func main() {
	app := newApp(os.Stdin, os.Stdout, os.Stderr, console.StdinIsTerminal)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type runner struct {
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
	isTerminal func() bool

	conf config.Config
	l    *slog.Logger
}

func newApp(stdin io.Reader, stdout, stderr io.Writer, isTerminal func() bool) *cli.App {
	r := &runner{
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
		isTerminal: isTerminal,
	}

	// -h selects the host.
	cli.HelpFlag = &cli.BoolFlag{
		Name:               "help",
		Usage:              "show help",
		DisableDefaultText: true,
	}

	return &cli.App{
		Name:      "nsqc",
		Usage:     "publish to and subscribe from NSQ",
		UsageText: "nsqc [global options] <command> [args]",
		Version:   Commit,
		Reader:    stdin,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a yaml config file",
				EnvVars: []string{"NSQC_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level (debug, info, warn, error)",
				EnvVars: []string{"NSQC_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "log format (text, json)",
				EnvVars: []string{"NSQC_LOG_FORMAT"},
			},
		},
		Before: r.setup,
		Commands: []*cli.Command{
			{
				Name:      "publish",
				Usage:     "publish an event",
				ArgsUsage: "<topic> [data]",
				Description: "Publishes data to topic. Without data the event body is read " +
					"from stdin until EOF.",
				Flags:  publishFlags(),
				Action: r.publish,
			},
			{
				Name:      "subscribe",
				Usage:     "subscribe to a channel",
				ArgsUsage: "<topic> <channel>",
				Description: "Streams message bodies from topic/channel to stdout, finishing " +
					"each one after it is written.",
				Flags:  subscribeFlags(),
				Action: r.subscribe,
			},
		},
	}
}

func (r *runner) setup(c *cli.Context) error {
	conf, path, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	if c.IsSet("log-level") {
		conf.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		conf.Log.Format = c.String("log-format")
	}

	r.conf = conf
	r.l = newLogger(r.stderr, conf.Log)

	if path != "" {
		r.l.Debug("found config file", "path", path)
	}

	return nil
}

func newLogger(w io.Writer, conf config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(conf.Level),
	}

	switch conf.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts))
	default:
		return slog.New(slog.NewTextHandler(w, opts))
	}
}

func parseLogLevel(name string) slog.Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
