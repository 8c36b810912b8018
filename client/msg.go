package client

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nsqio/go-nsq"
)

// Msg is a message delivered to a subscriber handler. The handler must settle
// it with exactly one call to Finish or Requeue.
type Msg struct {
	ID        nsq.MessageID
	Body      []byte
	Attempts  uint16
	Timestamp time.Time

	settled atomic.Bool
	s       *Subscriber
}

func newMsg(m *nsq.Message, s *Subscriber) *Msg {
	return &Msg{
		ID:        m.ID,
		Body:      m.Body,
		Attempts:  m.Attempts,
		Timestamp: time.Unix(0, m.Timestamp),
		s:         s,
	}
}

// Finish acknowledges the message, removing it from the queue.
func (m *Msg) Finish() error {
	if !m.settle() {
		return ErrMsgSettled
	}

	if err := m.s.conn.Send(nsq.Finish(m.ID)); err != nil {
		return fmt.Errorf("fin: %w", err)
	}
	return nil
}

// Requeue reports a processing failure. nsqd redelivers the message after
// delay, subject to its own retry policy.
func (m *Msg) Requeue(delay time.Duration) error {
	if delay < 0 {
		return ErrNegativeDelay
	}

	if !m.settle() {
		return ErrMsgSettled
	}

	if err := m.s.conn.Send(nsq.Requeue(m.ID, delay)); err != nil {
		return fmt.Errorf("req: %w", err)
	}
	return nil
}

// Touch resets the server side timeout of an unsettled message.
func (m *Msg) Touch() error {
	if m.settled.Load() {
		return ErrMsgSettled
	}

	if err := m.s.conn.Send(nsq.Touch(m.ID)); err != nil {
		return fmt.Errorf("touch: %w", err)
	}
	return nil
}

func (m *Msg) IsSettled() bool {
	return m.settled.Load()
}

func (m *Msg) settle() bool {
	if !m.settled.CompareAndSwap(false, true) {
		return false
	}
	m.s.settled()
	return true
}

func (m *Msg) String() string {
	return string(m.Body)
}
