// Package test runs a scriptable in-process nsqd speaking the TCP protocol V2,
// for client tests.
package test

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValerySidorin/nsqc/client"
	"github.com/ValerySidorin/nsqc/proto"
	"github.com/bytedance/sonic"
	"github.com/nsqio/go-nsq"
)

var DefaultIdentifyResponse = proto.IdentifyResponse{
	MaxRdyCount:       2500,
	Version:           "1.3.0",
	MaxMsgTimeout:     900000,
	MsgTimeout:        60000,
	HeartbeatInterval: 30000,
}

type Command struct {
	Name   string
	Params []string
	Body   []byte
}

type Options struct {
	// IdentifyError rejects the handshake with an error frame.
	IdentifyError string
	// LegacyIdentify answers IDENTIFY with a bare OK.
	LegacyIdentify bool
	// Identify replaces DefaultIdentifyResponse when non-zero.
	Identify proto.IdentifyResponse

	// PublishError answers PUB/DPUB with an error frame.
	PublishError string
	// NoPublishAck never answers PUB/DPUB.
	NoPublishAck bool
	// HeartbeatBeforeAck sends a heartbeat before answering PUB/DPUB/SUB.
	HeartbeatBeforeAck bool

	SubscribeError string
	// HeartbeatAfterSubscribe sends a heartbeat right after SUB is acknowledged.
	HeartbeatAfterSubscribe bool
	// Messages are streamed after SUB, honoring RDY credit.
	Messages [][]byte
	// CloseAfterMessages closes the connection once every message is settled.
	CloseAfterMessages bool
	// IgnoreClose never answers CLS.
	IgnoreClose bool
}

type Server struct {
	opts Options
	ln   net.Listener

	mu    sync.Mutex
	cmds  []Command
	sent  []string
	conns map[net.Conn]struct{}
	cond  *sync.Cond

	wg sync.WaitGroup
	t  testing.TB
}

func RunServer(t testing.TB, opts Options) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("nsqd: listen: %v", err)
	}

	s := &Server{
		opts:  opts,
		ln:    ln,
		conns: make(map[net.Conn]struct{}),
		t:     t,
	}
	s.cond = sync.NewCond(&s.mu)

	s.wg.Add(1)
	go s.acceptLoop()

	t.Cleanup(s.Shutdown)

	return s
}

func (s *Server) Endpoint() client.Endpoint {
	addr := s.ln.Addr().(*net.TCPAddr)
	return client.Endpoint{Host: "127.0.0.1", Port: addr.Port}
}

// Commands returns every command received so far, in order.
func (s *Server) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Command(nil), s.cmds...)
}

// Sent returns the IDs of every message written to subscribers, in order.
func (s *Server) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.sent...)
}

// CommandsNamed returns the received commands with the given name.
func (s *Server) CommandsNamed(name string) []Command {
	var out []Command
	for _, c := range s.Commands() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// WaitCommands blocks until n commands named name were received or timeout
// expires.
func (s *Server) WaitCommands(name string, n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		count := 0
		for _, c := range s.cmds {
			if c.Name == name {
				count++
			}
		}
		if count >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		s.cond.Wait()
	}
}

func (s *Server) Shutdown() {
	s.ln.Close()

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns[nc] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, nc)
				s.mu.Unlock()
				nc.Close()
			}()
			s.serve(nc)
		}()
	}
}

func (s *Server) record(cmd Command) {
	s.mu.Lock()
	s.cmds = append(s.cmds, cmd)
	s.cond.Broadcast()
	s.mu.Unlock()
}

type session struct {
	s  *Server
	nc net.Conn

	subscribed bool
	rdy        int
	inFlight   int
	next       int
}

func (ss *session) write(typ proto.FrameType, data []byte) error {
	return proto.WriteFrame(ss.nc, typ, data)
}

func (ss *session) ok() error {
	return ss.write(proto.FRAME_TYPE_RESPONSE, proto.OK_RESP)
}

func (ss *session) heartbeat() error {
	return ss.write(proto.FRAME_TYPE_RESPONSE, proto.HEARTBEAT_RESP)
}

// pump sends messages while RDY credit allows.
func (ss *session) pump() error {
	msgs := ss.s.opts.Messages
	for ss.subscribed && ss.inFlight < ss.rdy && ss.next < len(msgs) {
		var id nsq.MessageID
		copy(id[:], fmt.Sprintf("%016x", ss.next))

		m := nsq.NewMessage(id, msgs[ss.next])
		m.Attempts = 1

		var buf bytes.Buffer
		if _, err := m.WriteTo(&buf); err != nil {
			return err
		}
		if err := ss.write(proto.FRAME_TYPE_MESSAGE, buf.Bytes()); err != nil {
			return err
		}

		ss.s.mu.Lock()
		ss.s.sent = append(ss.s.sent, string(id[:]))
		ss.s.mu.Unlock()

		ss.next++
		ss.inFlight++
	}
	return nil
}

func (ss *session) drained() bool {
	return ss.next >= len(ss.s.opts.Messages) && ss.inFlight == 0
}

func (s *Server) serve(nc net.Conn) {
	r := bufio.NewReader(nc)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return
	}
	if !bytes.Equal(magic[:], proto.MAGIC_V2) {
		_ = proto.WriteFrame(nc, proto.FRAME_TYPE_ERROR, []byte("E_BAD_PROTOCOL bad magic"))
		return
	}

	ss := &session{s: s, nc: nc}

	for {
		cmd, err := readCommand(r)
		if err != nil {
			return
		}
		s.record(cmd)

		if !s.handle(ss, cmd) {
			return
		}
	}
}

// handle answers one command and reports whether the connection stays open.
func (s *Server) handle(ss *session, cmd Command) bool {
	switch cmd.Name {
	case "IDENTIFY":
		if s.opts.IdentifyError != "" {
			_ = ss.write(proto.FRAME_TYPE_ERROR, []byte(s.opts.IdentifyError))
			return false
		}
		if s.opts.LegacyIdentify {
			return ss.ok() == nil
		}
		resp := s.opts.Identify
		if resp == (proto.IdentifyResponse{}) {
			resp = DefaultIdentifyResponse
		}
		data, err := sonic.Marshal(resp)
		if err != nil {
			return false
		}
		return ss.write(proto.FRAME_TYPE_RESPONSE, data) == nil
	case "AUTH":
		data, _ := sonic.Marshal(proto.AuthResponse{Identity: "test", PermissionCount: 1})
		return ss.write(proto.FRAME_TYPE_RESPONSE, data) == nil
	case "PUB", "DPUB":
		if s.opts.HeartbeatBeforeAck {
			if err := ss.heartbeat(); err != nil {
				return false
			}
		}
		switch {
		case s.opts.NoPublishAck:
			return true
		case s.opts.PublishError != "":
			perr := proto.ParseError([]byte(s.opts.PublishError))
			_ = ss.write(proto.FRAME_TYPE_ERROR, []byte(s.opts.PublishError))
			return !perr.Fatal()
		}
		return ss.ok() == nil
	case "SUB":
		if s.opts.SubscribeError != "" {
			_ = ss.write(proto.FRAME_TYPE_ERROR, []byte(s.opts.SubscribeError))
			return false
		}
		if s.opts.HeartbeatBeforeAck {
			if err := ss.heartbeat(); err != nil {
				return false
			}
		}
		if err := ss.ok(); err != nil {
			return false
		}
		ss.subscribed = true
		if s.opts.HeartbeatAfterSubscribe {
			if err := ss.heartbeat(); err != nil {
				return false
			}
		}
		return true
	case "RDY":
		if len(cmd.Params) > 0 {
			ss.rdy, _ = strconv.Atoi(cmd.Params[0])
		}
		return ss.pump() == nil
	case "FIN", "REQ":
		ss.inFlight--
		if s.opts.CloseAfterMessages && ss.drained() {
			return false
		}
		return ss.pump() == nil
	case "CLS":
		if s.opts.IgnoreClose {
			return true
		}
		ss.subscribed = false
		return ss.write(proto.FRAME_TYPE_RESPONSE, proto.CLOSE_WAIT_RESP) == nil
	case "NOP", "TOUCH":
		return true
	}

	_ = ss.write(proto.FRAME_TYPE_ERROR, []byte("E_INVALID invalid command "+cmd.Name))
	return false
}

func readCommand(r *bufio.Reader) (Command, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return Command{}, err
	}

	parts := strings.Split(strings.TrimSuffix(line, "\n"), " ")
	cmd := Command{Name: parts[0], Params: parts[1:]}

	switch cmd.Name {
	case "IDENTIFY", "AUTH", "PUB", "DPUB", "MPUB":
		var size uint32
		if err := binary.Read(r, binary.BigEndian, &size); err != nil {
			return cmd, err
		}
		cmd.Body = make([]byte, size)
		if _, err := io.ReadFull(r, cmd.Body); err != nil {
			return cmd, err
		}
	}

	return cmd, nil
}
