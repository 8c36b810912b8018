package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/ValerySidorin/nsqc/client"
	tls_config "github.com/ValerySidorin/nsqc/config/tls"
	"github.com/ValerySidorin/nsqc/internal/observability"
	"gopkg.in/yaml.v3"
)

var DefaultPaths = []string{"./nsqc.yaml", "conf/nsqc.yaml", "config/nsqc.yaml"}

type Config struct {
	Log           LogConfig            `yaml:"log"`
	NSQ           NSQConfig            `yaml:"nsq"`
	Observability observability.Config `yaml:"observability"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type NSQConfig struct {
	// Host is an nsq:// URL or host:port. Empty means NSQ_HOST/NSQ_PORT.
	Host string `yaml:"host"`

	DialTimeout       time.Duration `yaml:"dial_timeout"`
	Timeout           time.Duration `yaml:"timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MsgTimeout        time.Duration `yaml:"msg_timeout"`

	ClientID   string `yaml:"client_id"`
	UserAgent  string `yaml:"user_agent"`
	AuthSecret string `yaml:"auth_secret"`

	MaxInFlight      int           `yaml:"max_in_flight"`
	CloseGracePeriod time.Duration `yaml:"close_grace_period"`

	TLS tls_config.TLSConfig `yaml:"tls"`
}

func (c *Config) SetDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "WARN"
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		c.Log.Format = "text"
	}

	if c.NSQ.DialTimeout == 0 {
		c.NSQ.DialTimeout = client.DefaultDialTimeout
	}

	if c.NSQ.ReadTimeout == 0 {
		c.NSQ.ReadTimeout = client.DefaultReadTimeout
	}

	if c.NSQ.WriteTimeout == 0 {
		c.NSQ.WriteTimeout = client.DefaultWriteTimeout
	}

	if c.NSQ.HeartbeatInterval == 0 {
		c.NSQ.HeartbeatInterval = client.DefaultHeartbeatInterval
	}

	if c.NSQ.UserAgent == "" {
		c.NSQ.UserAgent = client.UserAgent
	}

	if c.NSQ.MaxInFlight <= 0 {
		c.NSQ.MaxInFlight = client.DefaultMaxInFlight
	}

	if c.NSQ.CloseGracePeriod <= 0 {
		c.NSQ.CloseGracePeriod = client.DefaultCloseGracePeriod
	}

	c.Observability.SetDefaults()
}

// Load reads the config at filePath, or the first of DefaultPaths that exists
// when filePath is empty. A missing default file is not an error: defaults are
// returned and path is empty.
func Load(filePath string) (conf Config, path string, err error) {
	paths := DefaultPaths
	if filePath != "" {
		paths = []string{filePath}
	}

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && filePath == "" {
				continue
			}
			return conf, "", fmt.Errorf("read config: %w", err)
		}

		if err := yaml.Unmarshal(data, &conf); err != nil {
			return conf, "", fmt.Errorf("unmarshal config %s: %w", p, err)
		}

		conf.SetDefaults()
		return conf, p, nil
	}

	conf.SetDefaults()
	return conf, "", nil
}

// ClientOptions turns the nsq section into connection options.
func (c *NSQConfig) ClientOptions() ([]client.Option, error) {
	opts := []client.Option{
		client.WithDialTimeout(c.DialTimeout),
		client.WithTimeout(c.Timeout),
		client.WithReadTimeout(c.ReadTimeout),
		client.WithWriteTimeout(c.WriteTimeout),
		client.WithHeartbeatInterval(c.HeartbeatInterval),
		client.WithMsgTimeout(c.MsgTimeout),
		client.WithUserAgent(c.UserAgent),
	}

	if c.ClientID != "" {
		opts = append(opts, client.WithClientID(c.ClientID))
	}

	if c.AuthSecret != "" {
		opts = append(opts, client.WithAuthSecret(c.AuthSecret))
	}

	tlsConf, err := c.TLS.Parse()
	if err != nil {
		return nil, fmt.Errorf("parse TLS conf: %w", err)
	}
	if tlsConf != nil {
		opts = append(opts, client.WithTLSConfig(tlsConf))
	}

	return opts, nil
}
