package proto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/nsqio/go-nsq"
)

type FrameType int32

const (
	FRAME_TYPE_RESPONSE FrameType = FrameType(nsq.FrameTypeResponse)
	FRAME_TYPE_ERROR    FrameType = FrameType(nsq.FrameTypeError)
	FRAME_TYPE_MESSAGE  FrameType = FrameType(nsq.FrameTypeMessage)
)

const (
	Int32Len = 4

	// timestamp(8) + attempts(2) + id(16)
	MessageHeaderLen = 26
)

var (
	ErrBadFrame      = errors.New("bad frame")
	ErrFrameTooLarge = errors.New("frame too large")
)

var (
	MAGIC_V2 = nsq.MagicV2

	OK_RESP         = []byte("OK")
	HEARTBEAT_RESP  = []byte("_heartbeat_")
	CLOSE_WAIT_RESP = []byte("CLOSE_WAIT")
)

// MaxFrameSize returns the largest frame that can carry a message body of
// maxMsgSize bytes, capped at math.MaxInt32.
func MaxFrameSize(maxMsgSize int64) int32 {
	size := maxMsgSize + MessageHeaderLen + Int32Len
	if maxMsgSize > math.MaxInt32 || size > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(size)
}

func (t FrameType) String() string {
	switch t {
	case FRAME_TYPE_RESPONSE:
		return "response"
	case FRAME_TYPE_ERROR:
		return "error"
	case FRAME_TYPE_MESSAGE:
		return "message"
	}
	return fmt.Sprintf("unknown(%d)", int32(t))
}

// Frame is a single server frame with the size prefix stripped.
type Frame struct {
	Type FrameType
	Data []byte
}

func (f Frame) IsOK() bool {
	return f.Type == FRAME_TYPE_RESPONSE && bytes.Equal(f.Data, OK_RESP)
}

func (f Frame) IsHeartbeat() bool {
	return f.Type == FRAME_TYPE_RESPONSE && bytes.Equal(f.Data, HEARTBEAT_RESP)
}

func (f Frame) IsCloseWait() bool {
	return f.Type == FRAME_TYPE_RESPONSE && bytes.Equal(f.Data, CLOSE_WAIT_RESP)
}

// Err returns the parsed error payload of an error frame and nil otherwise.
func (f Frame) Err() *Error {
	if f.Type != FRAME_TYPE_ERROR {
		return nil
	}
	return ParseError(f.Data)
}

// ReadFrame reads one frame:
//
//	[x][x][x][x][x][x][x][x][x][x][x][x]...
//	|  (int32) ||  (int32) || (binary)
//	|  4-byte  ||  4-byte  || N-byte
//	------------------------------------...
//	    size      frame type     data
//
// A maxSize of 0 disables the size check. io.EOF is only returned when the stream
// ends on a frame boundary.
func ReadFrame(r io.Reader, maxSize int32) (Frame, error) {
	var hdr [Int32Len]byte

	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}

	size := int32(binary.BigEndian.Uint32(hdr[:]))
	if size < Int32Len {
		return Frame{}, fmt.Errorf("%w: size %d", ErrBadFrame, size)
	}
	if maxSize > 0 && size > maxSize {
		return Frame{}, fmt.Errorf("%w: size %d exceeds %d", ErrFrameTooLarge, size, maxSize)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}

	typ := FrameType(binary.BigEndian.Uint32(buf[:Int32Len]))
	switch typ {
	case FRAME_TYPE_RESPONSE, FRAME_TYPE_ERROR, FRAME_TYPE_MESSAGE:
	default:
		return Frame{}, fmt.Errorf("%w: type %d", ErrBadFrame, int32(typ))
	}

	return Frame{Type: typ, Data: buf[Int32Len:]}, nil
}

// AppendFrame appends the wire form of a frame to buf.
func AppendFrame(buf []byte, typ FrameType, data []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(Int32Len+len(data)))
	buf = binary.BigEndian.AppendUint32(buf, uint32(typ))
	return append(buf, data...)
}

func WriteFrame(w io.Writer, typ FrameType, data []byte) error {
	buf := make([]byte, 0, 2*Int32Len+len(data))
	if _, err := w.Write(AppendFrame(buf, typ, data)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
