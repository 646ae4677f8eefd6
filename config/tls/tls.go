package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// TLSConfig holds the transport security options a caller can set for the
// HTTP client. Everything is optional: a zero value means system roots and
// full verification.
type TLSConfig struct {
	CACertPEMPath      string `yaml:"ca_cert_pem_path"`
	ClientCertPEMPath  string `yaml:"client_cert_pem_path"`
	ClientKeyPEMPath   string `yaml:"client_key_pem_path"`
	ClientKeyPass      string `yaml:"client_key_pass"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	ServerName         string `yaml:"server_name"`
}

func (c *TLSConfig) Validate() error {
	if (c.ClientCertPEMPath == "") != (c.ClientKeyPEMPath == "") {
		return errors.New("client cert and key must be specified together")
	}

	return nil
}

// Parse materializes the options into a *tls.Config. A nil result with a nil
// error means the zero config: the transport should use its defaults.
func (c *TLSConfig) Parse() (*tls.Config, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}

	if c.CACertPEMPath == "" && c.ClientCertPEMPath == "" &&
		!c.InsecureSkipVerify && c.ServerName == "" {
		return nil, nil
	}

	conf := &tls.Config{
		InsecureSkipVerify: c.InsecureSkipVerify,
		ServerName:         c.ServerName,
	}

	if c.CACertPEMPath != "" {
		caCertPool := x509.NewCertPool()
		caCert, err := os.ReadFile(c.CACertPEMPath)
		if err != nil {
			return nil, fmt.Errorf("read CA cert: %w", err)
		}
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("parse CA cert: no certificates in %s", c.CACertPEMPath)
		}
		conf.RootCAs = caCertPool
	}

	if c.ClientCertPEMPath != "" {
		cert, err := c.loadKeyPair()
		if err != nil {
			return nil, fmt.Errorf("load x509 key pair: %w", err)
		}
		conf.Certificates = []tls.Certificate{cert}
	}

	return conf, nil
}

func (c *TLSConfig) loadKeyPair() (tls.Certificate, error) {
	certPEM, err := os.ReadFile(c.ClientCertPEMPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read client cert: %w", err)
	}

	keyPEM, err := os.ReadFile(c.ClientKeyPEMPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read client key: %w", err)
	}

	if c.ClientKeyPass != "" {
		keyPEM, err = decryptKeyPEM(keyPEM, c.ClientKeyPass)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("decrypt client key: %w", err)
		}
	}

	return tls.X509KeyPair(certPEM, keyPEM)
}

// Legacy RFC 1423 PEM encryption is still what passphrase-protected client
// keys in the field use. The stdlib deprecated these helpers in Go 1.16
// without a replacement, so we keep them knowingly.
func decryptKeyPEM(keyPEM []byte, pass string) ([]byte, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("no PEM block in client key")
	}

	if !x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		return keyPEM, nil
	}

	der, err := x509.DecryptPEMBlock(block, []byte(pass)) //nolint:staticcheck
	if err != nil {
		return nil, err
	}

	return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
}
