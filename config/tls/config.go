package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// TLSConfig describes the client side of the TLS upgrade nsqd offers after
// IDENTIFY.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CACertPEMPath      string `yaml:"ca_cert_pem_path"`
	ClientCertPEMPath  string `yaml:"client_cert_pem_path"`
	ClientKeyPEMPath   string `yaml:"client_key_pem_path"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

func (c *TLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.ClientCertPEMPath == "" && c.ClientKeyPEMPath != "" {
		return errors.New("client key specified without client cert")
	}

	if c.ClientCertPEMPath != "" && c.ClientKeyPEMPath == "" {
		return errors.New("client cert specified without client key")
	}

	return nil
}

// Parse builds a client tls.Config. It returns nil when TLS is disabled.
func (c *TLSConfig) Parse() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	conf := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}

	if c.CACertPEMPath != "" {
		ca, err := os.ReadFile(c.CACertPEMPath)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(ca) {
			return nil, fmt.Errorf("no certificates found in %s", c.CACertPEMPath)
		}
		conf.RootCAs = pool
	}

	if c.ClientCertPEMPath != "" {
		cert, err := tls.LoadX509KeyPair(c.ClientCertPEMPath, c.ClientKeyPEMPath)
		if err != nil {
			return nil, fmt.Errorf("load x509 key pair: %w", err)
		}
		conf.Certificates = []tls.Certificate{cert}
	}

	return conf, nil
}
