package console_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ValerySidorin/nsqc/client"
	"github.com/ValerySidorin/nsqc/internal/console"
	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("boom")
}

func TestReadBody(t *testing.T) {
	tty := func() bool { return true }
	pipe := func() bool { return false }

	t.Run("explicit data wins", func(t *testing.T) {
		body, err := console.ReadBody("hello", true, strings.NewReader("ignored"), tty)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(body))
	})

	t.Run("explicit empty data", func(t *testing.T) {
		body, err := console.ReadBody("", true, strings.NewReader("ignored"), pipe)
		require.NoError(t, err)
		assert.Empty(t, body)
	})

	t.Run("stdin", func(t *testing.T) {
		body, err := console.ReadBody("", false, strings.NewReader("line1\nline2\n"), pipe)
		require.NoError(t, err)
		assert.Equal(t, "line1\nline2\n", string(body))
	})

	t.Run("terminal", func(t *testing.T) {
		_, err := console.ReadBody("", false, strings.NewReader("x"), tty)
		assert.ErrorIs(t, err, console.ErrUsage)
	})

	t.Run("read error", func(t *testing.T) {
		_, err := console.ReadBody("", false, failingReader{}, pipe)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, console.ErrUsage)
	})
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]console.Format{
		"":     console.FormatRaw,
		"raw":  console.FormatRaw,
		"line": console.FormatLine,
		"json": console.FormatJSON,
	} {
		got, err := console.ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := console.ParseFormat("xml")
	assert.ErrorIs(t, err, console.ErrUsage)
}

func TestRenderer(t *testing.T) {
	msg := &client.Msg{
		Body:      []byte("payload"),
		Attempts:  2,
		Timestamp: time.Unix(1700000000, 0),
	}
	copy(msg.ID[:], "0123456789abcdef")

	t.Run("raw", func(t *testing.T) {
		var buf bytes.Buffer
		r := console.NewRenderer(&buf, console.FormatRaw)

		require.NoError(t, r.Render(msg))
		require.NoError(t, r.Render(msg))
		assert.Equal(t, "payloadpayload", buf.String())
	})

	t.Run("line", func(t *testing.T) {
		var buf bytes.Buffer
		r := console.NewRenderer(&buf, console.FormatLine)

		require.NoError(t, r.Render(msg))
		assert.Equal(t, "payload\n", buf.String())
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		r := console.NewRenderer(&buf, console.FormatJSON)

		require.NoError(t, r.Render(msg))
		require.True(t, strings.HasSuffix(buf.String(), "\n"))

		var got map[string]any
		require.NoError(t, sonic.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, "0123456789abcdef", got["id"])
		assert.Equal(t, float64(2), got["attempts"])
		assert.Equal(t, "payload", got["body"])
		assert.Equal(t, "2023-11-14T22:13:20Z", got["timestamp"])
	})
}
