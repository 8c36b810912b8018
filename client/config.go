package client

import "time"

const (
	DefaultMaxInFlight      = 1
	DefaultCloseGracePeriod = time.Second
)

type SubscriberConfig struct {
	Topic   string
	Channel string

	// MaxInFlight is the RDY count sent after SUB: the number of messages nsqd
	// may have in flight on this connection.
	MaxInFlight int

	// CloseGracePeriod bounds how long Stop waits for CLOSE_WAIT and for
	// in-flight messages to settle before closing the connection.
	CloseGracePeriod time.Duration
}

func (c *SubscriberConfig) ValidateAndSetDefaults() error {
	if c.Topic == "" {
		return ErrEmptyTopic
	}

	if c.Channel == "" {
		return ErrEmptyChannel
	}

	if c.MaxInFlight <= 0 {
		c.MaxInFlight = DefaultMaxInFlight
	}

	if c.CloseGracePeriod <= 0 {
		c.CloseGracePeriod = DefaultCloseGracePeriod
	}

	return nil
}
