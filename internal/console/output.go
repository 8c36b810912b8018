package console

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ValerySidorin/nsqc/client"
	"github.com/bytedance/sonic"
)

type Format string

const (
	FormatRaw  Format = "raw"
	FormatLine Format = "line"
	FormatJSON Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case "", FormatRaw:
		return FormatRaw, nil
	case FormatLine, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("%w: unknown format %q", ErrUsage, s)
}

type jsonMsg struct {
	ID        string    `json:"id"`
	Attempts  uint16    `json:"attempts"`
	Timestamp time.Time `json:"timestamp"`
	Body      string    `json:"body"`
}

// Renderer writes delivered messages to w and flushes after each one.
type Renderer struct {
	mu     sync.Mutex
	w      *bufio.Writer
	format Format
}

func NewRenderer(w io.Writer, format Format) *Renderer {
	return &Renderer{
		w:      bufio.NewWriter(w),
		format: format,
	}
}

func (r *Renderer) Render(msg *client.Msg) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.format {
	case FormatLine:
		r.w.Write(msg.Body)
		r.w.WriteByte('\n')
	case FormatJSON:
		data, err := sonic.Marshal(jsonMsg{
			ID:        string(msg.ID[:]),
			Attempts:  msg.Attempts,
			Timestamp: msg.Timestamp.UTC(),
			Body:      string(msg.Body),
		})
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		r.w.Write(data)
		r.w.WriteByte('\n')
	default:
		r.w.Write(msg.Body)
	}

	if err := r.w.Flush(); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}
