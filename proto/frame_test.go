package proto_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"testing"

	"github.com/ValerySidorin/nsqc/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFrame(t *testing.T) {
	t.Run("sequence", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, proto.WriteFrame(&buf, proto.FRAME_TYPE_RESPONSE, proto.OK_RESP))
		require.NoError(t, proto.WriteFrame(&buf, proto.FRAME_TYPE_RESPONSE, proto.HEARTBEAT_RESP))
		require.NoError(t, proto.WriteFrame(&buf, proto.FRAME_TYPE_ERROR, []byte("E_INVALID bad")))

		f, err := proto.ReadFrame(&buf, 0)
		require.NoError(t, err)
		assert.True(t, f.IsOK())
		assert.Nil(t, f.Err())

		f, err = proto.ReadFrame(&buf, 0)
		require.NoError(t, err)
		assert.True(t, f.IsHeartbeat())

		f, err = proto.ReadFrame(&buf, 0)
		require.NoError(t, err)
		assert.Equal(t, proto.FRAME_TYPE_ERROR, f.Type)
		require.NotNil(t, f.Err())
		assert.Equal(t, "E_INVALID", f.Err().Code)

		_, err = proto.ReadFrame(&buf, 0)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("empty data", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, proto.WriteFrame(&buf, proto.FRAME_TYPE_RESPONSE, nil))

		f, err := proto.ReadFrame(&buf, 0)
		require.NoError(t, err)
		assert.Empty(t, f.Data)
	})

	t.Run("truncated", func(t *testing.T) {
		wire := proto.AppendFrame(nil, proto.FRAME_TYPE_RESPONSE, []byte("CLOSE_WAIT"))

		_, err := proto.ReadFrame(bytes.NewReader(wire[:len(wire)-2]), 0)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

		_, err = proto.ReadFrame(bytes.NewReader(wire[:2]), 0)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("too large", func(t *testing.T) {
		wire := proto.AppendFrame(nil, proto.FRAME_TYPE_MESSAGE, make([]byte, 64))

		_, err := proto.ReadFrame(bytes.NewReader(wire), 32)
		assert.ErrorIs(t, err, proto.ErrFrameTooLarge)
	})

	t.Run("bad size", func(t *testing.T) {
		wire := binary.BigEndian.AppendUint32(nil, 2)

		_, err := proto.ReadFrame(bytes.NewReader(append(wire, 0, 0)), 0)
		assert.ErrorIs(t, err, proto.ErrBadFrame)
	})

	t.Run("unknown type", func(t *testing.T) {
		wire := proto.AppendFrame(nil, proto.FrameType(7), []byte("x"))

		_, err := proto.ReadFrame(bytes.NewReader(wire), 0)
		assert.ErrorIs(t, err, proto.ErrBadFrame)
	})
}

func TestFrameCloseWait(t *testing.T) {
	assert.True(t, proto.Frame{Type: proto.FRAME_TYPE_RESPONSE, Data: proto.CLOSE_WAIT_RESP}.IsCloseWait())
	assert.False(t, proto.Frame{Type: proto.FRAME_TYPE_ERROR, Data: proto.CLOSE_WAIT_RESP}.IsCloseWait())
	assert.False(t, proto.Frame{Type: proto.FRAME_TYPE_ERROR, Data: proto.OK_RESP}.IsOK())
}

func TestMaxFrameSize(t *testing.T) {
	assert.EqualValues(t, 1024+30, proto.MaxFrameSize(1024))
	assert.EqualValues(t, math.MaxInt32, proto.MaxFrameSize(math.MaxInt32-10))
	assert.EqualValues(t, math.MaxInt32, proto.MaxFrameSize(1<<32-10))
	assert.EqualValues(t, math.MaxInt32, proto.MaxFrameSize(math.MaxInt64))
}

func TestParseError(t *testing.T) {
	tests := []struct {
		data  string
		code  string
		desc  string
		fatal bool
	}{
		{`E_BAD_TOPIC PUB topic name "a b" is not valid`, "E_BAD_TOPIC", `PUB topic name "a b" is not valid`, true},
		{"E_FIN_FAILED FIN 0123456789abcdef failed", proto.E_FIN_FAILED, "FIN 0123456789abcdef failed", false},
		{"E_REQ_FAILED REQ failed", proto.E_REQ_FAILED, "REQ failed", false},
		{"E_TOUCH_FAILED TOUCH failed", proto.E_TOUCH_FAILED, "TOUCH failed", false},
		{"E_INVALID", "E_INVALID", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			perr := proto.ParseError([]byte(tt.data))
			assert.Equal(t, tt.code, perr.Code)
			assert.Equal(t, tt.desc, perr.Description)
			assert.Equal(t, tt.fatal, perr.Fatal())
			assert.Equal(t, tt.data, perr.Error())
		})
	}
}
