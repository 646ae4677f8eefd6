// Package auth provides the credential strategies a channel can be
// configured with. A strategy decorates outgoing requests and owns its token
// cache; Reset drops the cache so the next request re-acquires.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	tls_config "github.com/opendxl/opendxl-streaming-client-go/config/tls"
)

// Authenticator decorates an outgoing request with credentials.
//
// Authenticate fails with a cerr.PermanentAuthenticationError when the auth
// endpoint rejects the configured credentials, and with a
// cerr.TemporaryAuthenticationError when the endpoint is unreachable or
// answers something unexpected. Implementations must be safe for use by
// multiple channels at once.
type Authenticator interface {
	Authenticate(ctx context.Context, req *http.Request) error
	Reset()
}

type options struct {
	hc *http.Client
	l  *slog.Logger
}

type Option func(o *options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.l = l
	}
}

// WithHTTPClient overrides the client built from the TLS options.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.hc = hc
	}
}

func buildOptions(tlsConf tls_config.TLSConfig, opts []Option) (*options, error) {
	o := &options{
		l: slog.Default(),
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.hc == nil {
		hc, err := newHTTPClient(tlsConf)
		if err != nil {
			return nil, err
		}
		o.hc = hc
	}

	return o, nil
}

func newHTTPClient(tlsConf tls_config.TLSConfig) (*http.Client, error) {
	conf, err := tlsConf.Parse()
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = conf

	return &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
	}, nil
}
