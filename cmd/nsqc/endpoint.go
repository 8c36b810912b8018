package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ValerySidorin/nsqc/client"
	"github.com/ValerySidorin/nsqc/internal/console"
)

const (
	DefaultHost = "localhost"
	DefaultPort = 4150
)

func defaultHost() string {
	return defaultHostFromEnv(os.Getenv)
}

func defaultHostFromEnv(getenv func(string) string) string {
	host := getenv("NSQ_HOST")
	if host == "" {
		host = DefaultHost
	}

	port, err := strconv.Atoi(getenv("NSQ_PORT"))
	if err != nil || port <= 0 {
		port = DefaultPort
	}

	return fmt.Sprintf("nsq://%s:%d", host, port)
}

// parseEndpoint accepts nsq://host:port URLs as well as bare host:port. A
// missing port defaults to 4150.
func parseEndpoint(raw string) (client.Endpoint, error) {
	if !strings.Contains(raw, "://") {
		raw = "nsq://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return client.Endpoint{}, fmt.Errorf("%w: invalid host %q: %w", console.ErrUsage, raw, err)
	}

	ep := client.Endpoint{Host: u.Hostname(), Port: DefaultPort}
	if p := u.Port(); p != "" {
		ep.Port, err = strconv.Atoi(p)
		if err != nil {
			return client.Endpoint{}, fmt.Errorf("%w: invalid port %q", console.ErrUsage, p)
		}
	}

	if err := ep.Validate(); err != nil {
		return client.Endpoint{}, fmt.Errorf("%w: %w", console.ErrUsage, err)
	}

	return ep, nil
}

// parseDuration reads a Go duration or a bare number of milliseconds.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("%w: negative duration %q", console.ErrUsage, s)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid duration %q", console.ErrUsage, s)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: negative duration %q", console.ErrUsage, s)
	}

	return d, nil
}
