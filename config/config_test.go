package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValerySidorin/nsqc/client"
	"github.com/ValerySidorin/nsqc/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("explicit path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nsqc.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  format: json
nsq:
  host: nsq://nsqd.local:4150
  timeout: 3s
  client_id: worker-1
  max_in_flight: 16
observability:
  metrics:
    enabled: true
    addr: ":9100"
`), 0o600))

		conf, used, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, path, used)

		assert.Equal(t, "debug", conf.Log.Level)
		assert.Equal(t, "json", conf.Log.Format)
		assert.Equal(t, "nsq://nsqd.local:4150", conf.NSQ.Host)
		assert.Equal(t, 3*time.Second, conf.NSQ.Timeout)
		assert.Equal(t, "worker-1", conf.NSQ.ClientID)
		assert.Equal(t, 16, conf.NSQ.MaxInFlight)
		assert.Equal(t, client.DefaultDialTimeout, conf.NSQ.DialTimeout)
		assert.True(t, conf.Observability.Metrics.Enabled)
		assert.Equal(t, ":9100", conf.Observability.Metrics.Addr)
		assert.Equal(t, "/metrics", conf.Observability.Metrics.Path)
	})

	t.Run("explicit path missing", func(t *testing.T) {
		_, _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("no default file", func(t *testing.T) {
		t.Chdir(t.TempDir())

		conf, used, err := config.Load("")
		require.NoError(t, err)
		assert.Empty(t, used)
		assert.Equal(t, "WARN", conf.Log.Level)
		assert.Equal(t, "text", conf.Log.Format)
		assert.Equal(t, client.DefaultMaxInFlight, conf.NSQ.MaxInFlight)
		assert.Equal(t, client.UserAgent, conf.NSQ.UserAgent)
	})

	t.Run("default path", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "conf"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "conf", "nsqc.yaml"), []byte("nsq:\n  client_id: from-conf\n"), 0o600))
		t.Chdir(dir)

		conf, used, err := config.Load("")
		require.NoError(t, err)
		assert.Equal(t, "conf/nsqc.yaml", used)
		assert.Equal(t, "from-conf", conf.NSQ.ClientID)
	})

	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nsqc.yaml")
		require.NoError(t, os.WriteFile(path, []byte("nsq: ["), 0o600))

		_, _, err := config.Load(path)
		assert.Error(t, err)
	})
}

func TestClientOptions(t *testing.T) {
	var conf config.Config
	conf.SetDefaults()
	conf.NSQ.ClientID = "worker-1"
	conf.NSQ.AuthSecret = "s3cr3t"

	opts, err := conf.NSQ.ClientOptions()
	require.NoError(t, err)
	assert.Len(t, opts, 9)

	conf.NSQ.TLS.Enabled = true
	conf.NSQ.TLS.ClientKeyPEMPath = "key.pem"

	_, err = conf.NSQ.ClientOptions()
	assert.Error(t, err)
}
