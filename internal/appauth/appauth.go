// Package appauth builds the authentication strategy for a GitHub App: an
// app-level transport that signs JWTs with the app's private key, and
// installation-level transports that exchange that JWT for installation
// tokens on demand.
package appauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/golang-jwt/jwt/v4"
)

// DefaultAPIURL is the public GitHub REST API.
const DefaultAPIURL = "https://api.github.com"

// Config holds the credentials of the app. ClientID and ClientSecret are
// only set when the app is also configured for OAuth.
type Config struct {
	AppID         int64
	PrivateKey    string
	PrivateKeyARN string

	ClientID     string
	ClientSecret string

	// APIURL overrides DefaultAPIURL, for GitHub Enterprise or testing.
	APIURL string
}

type strategyConfig struct {
	transport http.RoundTripper
	signer    ghinstallation.Signer
}

type Option func(*strategyConfig)

// WithTransport sets the transport used for token requests and wrapped by
// the authenticating transports. Defaults to http.DefaultTransport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *strategyConfig) {
		c.transport = rt
	}
}

// WithSigner replaces the signer derived from the key configuration.
func WithSigner(s ghinstallation.Signer) Option {
	return func(c *strategyConfig) {
		c.signer = s
	}
}

// Strategy owns the app's authentication. Token caching and locking is
// handled by the ghinstallation transports it creates.
type Strategy struct {
	cfg  Config
	apps *ghinstallation.AppsTransport
}

// New creates the app authentication strategy. No network calls are made:
// the private key is parsed (or the KMS client configured) and tokens are
// only requested when a transport is first used.
func New(ctx context.Context, cfg Config, opts ...Option) (*Strategy, error) {
	sc := &strategyConfig{
		transport: http.DefaultTransport,
	}
	for _, o := range opts {
		o(sc)
	}

	signer := sc.signer
	if signer == nil {
		var err error
		signer, err = createSigner(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("could not create signer for GitHub transport: %w", err)
		}
	}

	apps, err := ghinstallation.NewAppsTransportWithOptions(
		sc.transport,
		cfg.AppID,
		ghinstallation.WithSigner(signer),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create GitHub transport: %w", err)
	}
	apps.BaseURL = apiBaseURL(cfg.APIURL)

	return &Strategy{
		cfg:  cfg,
		apps: apps,
	}, nil
}

// AppID returns the numeric identifier of the app.
func (s *Strategy) AppID() int64 {
	return s.cfg.AppID
}

// OAuthCredentials returns the OAuth client credentials, if configured.
func (s *Strategy) OAuthCredentials() (clientID string, clientSecret string, ok bool) {
	if s.cfg.ClientID == "" {
		return "", "", false
	}
	return s.cfg.ClientID, s.cfg.ClientSecret, true
}

// AppTransport authenticates requests as the app itself, using a JWT.
func (s *Strategy) AppTransport() *ghinstallation.AppsTransport {
	return s.apps
}

// InstallationTransport returns a new transport that authenticates as the
// given installation. The installation token is requested on first use, and
// cached by the transport until it nears expiry.
func (s *Strategy) InstallationTransport(installationID int64) *ghinstallation.Transport {
	return ghinstallation.NewFromAppsTransport(s.apps, installationID)
}

func createSigner(ctx context.Context, cfg Config) (ghinstallation.Signer, error) {
	if cfg.PrivateKeyARN != "" {
		return NewAWSKMSSigner(ctx, cfg.PrivateKeyARN)
	}

	if cfg.PrivateKey != "" {
		key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("could not parse private key: %s", err)
		}

		return ghinstallation.NewRSASigner(jwt.SigningMethodRS256, key), nil
	}

	return nil, errors.New("no private key configuration specified")
}

// apiBaseURL normalises the API URL to the form ghinstallation expects: no
// trailing slash.
func apiBaseURL(apiURL string) string {
	if apiURL == "" {
		return DefaultAPIURL
	}
	return strings.TrimSuffix(apiURL, "/")
}
