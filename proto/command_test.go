package proto_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/ValerySidorin/nsqc/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish(t *testing.T) {
	t.Run("immediate", func(t *testing.T) {
		cmd := proto.Publish("orders", []byte("hello"), 0)

		var buf bytes.Buffer
		_, err := cmd.WriteTo(&buf)
		require.NoError(t, err)
		assert.Equal(t, "PUB orders\n\x00\x00\x00\x05hello", buf.String())
	})

	t.Run("nil body", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := proto.Publish("orders", nil, 0).WriteTo(&buf)
		require.NoError(t, err)
		assert.Equal(t, "PUB orders\n\x00\x00\x00\x00", buf.String())

		buf.Reset()
		_, err = proto.Publish("orders", nil, time.Second).WriteTo(&buf)
		require.NoError(t, err)
		assert.Equal(t, "DPUB orders 1000\n\x00\x00\x00\x00", buf.String())
	})

	t.Run("deferred", func(t *testing.T) {
		cmd := proto.Publish("orders", []byte("hello"), 1500*time.Millisecond)

		assert.Equal(t, "DPUB", string(cmd.Name))
		require.Len(t, cmd.Params, 2)
		assert.Equal(t, "1500", string(cmd.Params[1]))
	})
}

func TestParseIdentifyResponse(t *testing.T) {
	t.Run("negotiated", func(t *testing.T) {
		resp, negotiated, err := proto.ParseIdentifyResponse([]byte(`{"max_rdy_count":2500,"version":"1.3.0","tls_v1":false,"auth_required":true,"heartbeat_interval":30000}`))
		require.NoError(t, err)
		assert.True(t, negotiated)
		assert.Equal(t, int64(2500), resp.MaxRdyCount)
		assert.Equal(t, "1.3.0", resp.Version)
		assert.True(t, resp.AuthRequired)
	})

	t.Run("legacy", func(t *testing.T) {
		_, negotiated, err := proto.ParseIdentifyResponse(proto.OK_RESP)
		require.NoError(t, err)
		assert.False(t, negotiated)
	})

	t.Run("garbage", func(t *testing.T) {
		_, _, err := proto.ParseIdentifyResponse([]byte("{"))
		assert.Error(t, err)
	})
}

func TestIdentify(t *testing.T) {
	cmd, err := proto.Identify(proto.IdentifyRequest{
		ClientID:           "worker",
		HeartbeatInterval:  30000,
		FeatureNegotiation: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "IDENTIFY", string(cmd.Name))
	assert.Contains(t, string(cmd.Body), `"feature_negotiation":true`)
	assert.Contains(t, string(cmd.Body), `"heartbeat_interval":30000`)
	assert.NotContains(t, string(cmd.Body), "msg_timeout")
}
