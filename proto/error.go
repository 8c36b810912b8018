package proto

import "strings"

// Non-fatal error codes. Every other error frame makes nsqd drop the connection.
const (
	E_FIN_FAILED   = "E_FIN_FAILED"
	E_REQ_FAILED   = "E_REQ_FAILED"
	E_TOUCH_FAILED = "E_TOUCH_FAILED"
)

// Error is the payload of an error frame, e.g. "E_BAD_TOPIC PUB topic name "a b" is not valid".
type Error struct {
	Code        string
	Description string
}

func ParseError(data []byte) *Error {
	code, desc, _ := strings.Cut(strings.TrimSpace(string(data)), " ")
	return &Error{
		Code:        code,
		Description: desc,
	}
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + " " + e.Description
}

func (e *Error) Fatal() bool {
	switch e.Code {
	case E_FIN_FAILED, E_REQ_FAILED, E_TOUCH_FAILED:
		return false
	}
	return true
}
