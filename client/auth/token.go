package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/opendxl/opendxl-streaming-client-go/cerr"
	tls_config "github.com/opendxl/opendxl-streaming-client-go/config/tls"
	"golang.org/x/sync/singleflight"
)

const tokenPath = "/iam/v1.4/token"

type ClientCredentialsConfig struct {
	Base         string               `yaml:"base"`
	ClientID     string               `yaml:"client_id"`
	ClientSecret string               `yaml:"client_secret"`
	Scope        string               `yaml:"scope"`
	GrantType    string               `yaml:"grant_type"`
	Audience     string               `yaml:"audience"`
	TLS          tls_config.TLSConfig `yaml:"tls"`
}

func (c *ClientCredentialsConfig) ValidateAndSetDefaults() error {
	if c.Base == "" {
		return fmt.Errorf("base not defined")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client id not defined")
	}

	if c.GrantType == "" {
		c.GrantType = "client_credentials"
	}

	return nil
}

// ClientCredentials implements the OAuth2 client-credentials flow against the
// token endpoint. The access token is cached until Reset.
type ClientCredentials struct {
	conf ClientCredentialsConfig

	hc *http.Client
	l  *slog.Logger

	mu    sync.Mutex
	token string
	sf    singleflight.Group
}

func NewClientCredentials(conf ClientCredentialsConfig, opts ...Option) (*ClientCredentials, error) {
	if err := conf.ValidateAndSetDefaults(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	o, err := buildOptions(conf.TLS, opts)
	if err != nil {
		return nil, fmt.Errorf("build http client: %w", err)
	}

	return &ClientCredentials{
		conf: conf,
		hc:   o.hc,
		l:    o.l,
	}, nil
}

func (a *ClientCredentials) Authenticate(ctx context.Context, req *http.Request) error {
	token, err := a.currentToken(ctx)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (a *ClientCredentials) Reset() {
	a.mu.Lock()
	a.token = ""
	a.mu.Unlock()
}

func (a *ClientCredentials) currentToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	token := a.token
	a.mu.Unlock()

	if token != "" {
		return token, nil
	}

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

func (a *ClientCredentials) acquire(ctx context.Context) (string, error) {
	u, err := url.JoinPath(a.conf.Base, tokenPath)
	if err != nil {
		return "", cerr.PermanentAuth("join token url: %v", err)
	}

	form := url.Values{}
	form.Set("grant_type", a.conf.GrantType)
	if a.conf.Scope != "" {
		form.Set("scope", a.conf.Scope)
	}
	if a.conf.Audience != "" {
		form.Set("audience", a.conf.Audience)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return "", cerr.PermanentAuth("build token request: %v", err)
	}
	req.SetBasicAuth(a.conf.ClientID, a.conf.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.hc.Do(req)
	if err != nil {
		return "", cerr.TemporaryAuth("token: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", cerr.TemporaryAuth("read token response: %v", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", cerr.PermanentAuth("token rejected: status %d", resp.StatusCode)
	default:
		return "", cerr.TemporaryAuth("token: unexpected status %d", resp.StatusCode)
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
	}
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		return "", cerr.TemporaryAuth("parse token response: %v", err)
	}
	if parsed.AccessToken == "" {
		return "", cerr.PermanentAuth("token response missing access_token")
	}

	a.l.Debug("access token acquired", "base", a.conf.Base, "client_id", a.conf.ClientID)

	return parsed.AccessToken, nil
}
