package client_test

import (
	"context"
	"testing"
	"time"

	"github.com/ValerySidorin/nsqc/client"
	"github.com/ValerySidorin/nsqc/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectPublisher(t *testing.T, srv *test.Server, opts ...client.Option) (*client.Conn, *client.Publisher) {
	t.Helper()

	conn, err := client.Connect(context.Background(), srv.Endpoint(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	pub, err := conn.ConnectPublisher()
	require.NoError(t, err)

	return conn, pub
}

func TestPublish(t *testing.T) {
	t.Run("immediate", func(t *testing.T) {
		srv := test.RunServer(t, test.Options{})
		conn, pub := connectPublisher(t, srv)

		err := pub.Publish(context.Background(), client.Event{Topic: "orders", Body: []byte("hello")})
		require.NoError(t, err)

		pubs := srv.CommandsNamed("PUB")
		require.Len(t, pubs, 1)
		assert.Equal(t, []string{"orders"}, pubs[0].Params)
		assert.Equal(t, "hello", string(pubs[0].Body))
		assert.Empty(t, srv.CommandsNamed("DPUB"))

		require.NoError(t, pub.Close())
		assert.Equal(t, client.StateClosed, conn.State())
		assert.NoError(t, pub.Close())
	})

	t.Run("deferred", func(t *testing.T) {
		srv := test.RunServer(t, test.Options{})
		_, pub := connectPublisher(t, srv)
		defer pub.Close()

		err := pub.Publish(context.Background(), client.Event{
			Topic: "orders",
			Body:  []byte("later"),
			Delay: 5 * time.Second,
		})
		require.NoError(t, err)

		dpubs := srv.CommandsNamed("DPUB")
		require.Len(t, dpubs, 1)
		assert.Equal(t, []string{"orders", "5000"}, dpubs[0].Params)
		assert.Equal(t, "later", string(dpubs[0].Body))
		assert.Empty(t, srv.CommandsNamed("PUB"))
	})

	t.Run("empty body", func(t *testing.T) {
		srv := test.RunServer(t, test.Options{})
		_, pub := connectPublisher(t, srv)
		defer pub.Close()

		require.NoError(t, pub.Publish(context.Background(), client.Event{Topic: "orders"}))

		pubs := srv.CommandsNamed("PUB")
		require.Len(t, pubs, 1)
		assert.Empty(t, pubs[0].Body)
	})

	t.Run("rejected", func(t *testing.T) {
		srv := test.RunServer(t, test.Options{PublishError: `E_BAD_TOPIC PUB topic name "orders!" is not valid`})
		conn, pub := connectPublisher(t, srv)
		defer pub.Close()

		err := pub.Publish(context.Background(), client.Event{Topic: "orders!", Body: []byte("x")})
		require.ErrorIs(t, err, client.ErrPublishRejected)
		assert.ErrorContains(t, err, "E_BAD_TOPIC")
		assert.Equal(t, client.StateFailed, conn.State())
	})

	t.Run("timeout", func(t *testing.T) {
		srv := test.RunServer(t, test.Options{NoPublishAck: true})
		conn, pub := connectPublisher(t, srv, client.WithTimeout(100*time.Millisecond))
		defer pub.Close()

		err := pub.Publish(context.Background(), client.Event{Topic: "orders", Body: []byte("x")})
		require.ErrorIs(t, err, client.ErrTimeout)
		assert.Equal(t, client.StateFailed, conn.State())
	})

	t.Run("no timeout still bounded by read timeout", func(t *testing.T) {
		resp := test.DefaultIdentifyResponse
		resp.HeartbeatInterval = -1
		srv := test.RunServer(t, test.Options{Identify: resp, NoPublishAck: true})
		conn, pub := connectPublisher(t, srv,
			client.WithTimeout(0),
			client.WithHeartbeatInterval(-1),
			client.WithReadTimeout(100*time.Millisecond),
		)
		defer pub.Close()

		start := time.Now()
		err := pub.Publish(context.Background(), client.Event{Topic: "orders", Body: []byte("x")})
		require.ErrorIs(t, err, client.ErrTimeout)
		assert.Less(t, time.Since(start), 5*time.Second)
		assert.Equal(t, client.StateFailed, conn.State())
	})

	t.Run("context deadline", func(t *testing.T) {
		srv := test.RunServer(t, test.Options{NoPublishAck: true})
		conn, pub := connectPublisher(t, srv)
		defer pub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		err := pub.Publish(ctx, client.Event{Topic: "orders", Body: []byte("x")})
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, client.StateFailed, conn.State())
	})

	t.Run("heartbeat while waiting", func(t *testing.T) {
		srv := test.RunServer(t, test.Options{HeartbeatBeforeAck: true})
		_, pub := connectPublisher(t, srv)
		defer pub.Close()

		require.NoError(t, pub.Publish(context.Background(), client.Event{Topic: "orders", Body: []byte("x")}))
		assert.True(t, srv.WaitCommands("NOP", 1, 5*time.Second))
		assert.Len(t, srv.CommandsNamed("PUB"), 1)
	})

	t.Run("invalid event", func(t *testing.T) {
		srv := test.RunServer(t, test.Options{})
		_, pub := connectPublisher(t, srv)
		defer pub.Close()

		err := pub.Publish(context.Background(), client.Event{Body: []byte("x")})
		assert.ErrorIs(t, err, client.ErrEmptyTopic)

		err = pub.Publish(context.Background(), client.Event{Topic: "orders", Delay: -time.Second})
		assert.ErrorIs(t, err, client.ErrNegativeDelay)

		assert.Empty(t, srv.CommandsNamed("PUB"))
	})

	t.Run("after close", func(t *testing.T) {
		srv := test.RunServer(t, test.Options{})
		_, pub := connectPublisher(t, srv)
		require.NoError(t, pub.Close())

		err := pub.Publish(context.Background(), client.Event{Topic: "orders"})
		assert.ErrorIs(t, err, client.ErrPublisherClosed)
	})
}
