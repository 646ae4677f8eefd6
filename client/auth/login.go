package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/opendxl/opendxl-streaming-client-go/cerr"
	tls_config "github.com/opendxl/opendxl-streaming-client-go/config/tls"
	"golang.org/x/sync/singleflight"
)

const loginPath = "/identity/v1/login"

type LoginConfig struct {
	Base     string               `yaml:"base"`
	User     string               `yaml:"user"`
	Password string               `yaml:"password"`
	TLS      tls_config.TLSConfig `yaml:"tls"`
}

func (c *LoginConfig) Validate() error {
	if c.Base == "" {
		return fmt.Errorf("base not defined")
	}
	if c.User == "" {
		return fmt.Errorf("user not defined")
	}

	return nil
}

// Login authenticates against the identity login endpoint with basic
// credentials, caches the returned bearer token and attaches it to every
// decorated request.
type Login struct {
	conf LoginConfig

	hc *http.Client
	l  *slog.Logger

	mu    sync.Mutex
	token string
	sf    singleflight.Group
}

func NewLogin(conf LoginConfig, opts ...Option) (*Login, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	o, err := buildOptions(conf.TLS, opts)
	if err != nil {
		return nil, fmt.Errorf("build http client: %w", err)
	}

	return &Login{
		conf: conf,
		hc:   o.hc,
		l:    o.l,
	}, nil
}

func (a *Login) Authenticate(ctx context.Context, req *http.Request) error {
	token, err := a.currentToken(ctx)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (a *Login) Reset() {
	a.mu.Lock()
	a.token = ""
	a.mu.Unlock()
}

func (a *Login) currentToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	token := a.token
	a.mu.Unlock()

	if token != "" {
		return token, nil
	}

	// Channels sharing this strategy collapse into a single login request.
	v, err, _ := a.sf.Do("token", func() (any, error) {
		token, err := a.acquire(ctx)
		if err != nil {
			return nil, err
		}

		a.mu.Lock()
		a.token = token
		a.mu.Unlock()

		return token, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

func (a *Login) acquire(ctx context.Context) (string, error) {
	u, err := url.JoinPath(a.conf.Base, loginPath)
	if err != nil {
		return "", cerr.PermanentAuth("join login url: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", cerr.PermanentAuth("build login request: %v", err)
	}
	req.SetBasicAuth(a.conf.User, a.conf.Password)

	resp, err := a.hc.Do(req)
	if err != nil {
		return "", cerr.TemporaryAuth("login: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", cerr.TemporaryAuth("read login response: %v", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", cerr.PermanentAuth("login rejected: status %d", resp.StatusCode)
	default:
		return "", cerr.TemporaryAuth("login: unexpected status %d", resp.StatusCode)
	}

	var parsed struct {
		AuthorizationToken string `json:"AuthorizationToken"`
	}
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		return "", cerr.TemporaryAuth("parse login response: %v", err)
	}
	if parsed.AuthorizationToken == "" {
		return "", cerr.PermanentAuth("login response missing AuthorizationToken")
	}

	a.l.Debug("login token acquired", "base", a.conf.Base, "user", a.conf.User)

	return parsed.AuthorizationToken, nil
}
