package proto

import (
	"bytes"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/nsqio/go-nsq"
)

type IdentifyRequest struct {
	ClientID           string `json:"client_id"`
	Hostname           string `json:"hostname"`
	UserAgent          string `json:"user_agent"`
	HeartbeatInterval  int64  `json:"heartbeat_interval"` // ms, -1 disables heartbeats
	FeatureNegotiation bool   `json:"feature_negotiation"`
	TLSv1              bool   `json:"tls_v1"`
	MsgTimeout         int64  `json:"msg_timeout,omitempty"` // ms
}

type IdentifyResponse struct {
	MaxRdyCount       int64  `json:"max_rdy_count"`
	Version           string `json:"version"`
	MaxMsgTimeout     int64  `json:"max_msg_timeout"`
	MsgTimeout        int64  `json:"msg_timeout"`
	TLSv1             bool   `json:"tls_v1"`
	Deflate           bool   `json:"deflate"`
	Snappy            bool   `json:"snappy"`
	AuthRequired      bool   `json:"auth_required"`
	MaxMsgSize        int64  `json:"max_msg_size,omitempty"`
	HeartbeatInterval int64  `json:"heartbeat_interval"`
	SampleRate        int32  `json:"sample_rate"`
}

type AuthResponse struct {
	Identity        string `json:"identity"`
	IdentityURL     string `json:"identity_url"`
	PermissionCount int64  `json:"permission_count"`
}

func Identify(req IdentifyRequest) (*nsq.Command, error) {
	body, err := sonic.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal identify: %w", err)
	}

	return &nsq.Command{Name: []byte("IDENTIFY"), Body: body}, nil
}

// ParseIdentifyResponse decodes the IDENTIFY reply. Servers without feature
// negotiation answer with a bare OK, reported by negotiated == false.
func ParseIdentifyResponse(data []byte) (resp IdentifyResponse, negotiated bool, err error) {
	if bytes.Equal(data, OK_RESP) {
		return resp, false, nil
	}

	if err := sonic.Unmarshal(data, &resp); err != nil {
		return resp, false, fmt.Errorf("unmarshal identify response: %w", err)
	}

	return resp, true, nil
}

func Auth(secret string) *nsq.Command {
	return &nsq.Command{Name: []byte("AUTH"), Body: []byte(secret)}
}

func ParseAuthResponse(data []byte) (AuthResponse, error) {
	var resp AuthResponse
	if err := sonic.Unmarshal(data, &resp); err != nil {
		return resp, fmt.Errorf("unmarshal auth response: %w", err)
	}
	return resp, nil
}

// Publish picks the immediate (PUB) or deferred (DPUB) variant from delay.
// A nil body is sent as an empty one.
func Publish(topic string, body []byte, delay time.Duration) *nsq.Command {
	if body == nil {
		body = []byte{}
	}
	if delay > 0 {
		return nsq.DeferredPublish(topic, delay, body)
	}
	return nsq.Publish(topic, body)
}
