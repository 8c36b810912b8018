package client

import "errors"

var (
	ErrConnection        = errors.New("connection error")
	ErrPublishRejected   = errors.New("publish rejected")
	ErrSubscribeRejected = errors.New("subscribe rejected")
	ErrTimeout           = errors.New("timeout")
	ErrTransport         = errors.New("transport error")

	ErrConnClosed      = errors.New("connection closed")
	ErrConnInUse       = errors.New("connection already in use")
	ErrInvalidState    = errors.New("invalid connection state")
	ErrPublisherClosed = errors.New("publisher closed")
	ErrMsgSettled      = errors.New("message already settled")

	ErrInvalidEndpoint = errors.New("invalid endpoint")
	ErrEmptyTopic      = errors.New("empty topic")
	ErrEmptyChannel    = errors.New("empty channel")
	ErrNegativeDelay   = errors.New("negative delay")
	ErrEmptyHandler    = errors.New("empty handler")
)
