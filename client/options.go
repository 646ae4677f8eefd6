package client

import (
	"log/slog"
	"net/http"

	"github.com/opendxl/opendxl-streaming-client-go/client/auth"
)

type Option func(ch *Channel)

func WithLogger(l *slog.Logger) Option {
	return func(ch *Channel) {
		ch.l = l
	}
}

// WithAuth sets the credential strategy applied to every request. The
// strategy may be shared between channels.
func WithAuth(a auth.Authenticator) Option {
	return func(ch *Channel) {
		ch.auth = a
	}
}

// WithHTTPClient overrides the client built from the channel's TLS options.
func WithHTTPClient(hc *http.Client) Option {
	return func(ch *Channel) {
		ch.hc = hc
	}
}
