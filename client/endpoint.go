package client

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint is a resolved nsqd TCP address.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) Validate() error {
	if e.Host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidEndpoint)
	}
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, e.Port)
	}
	return nil
}

func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return e.Addr()
}
