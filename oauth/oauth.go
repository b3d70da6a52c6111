// Package oauth implements the OAuth flows of a GitHub App: the web and
// device flows that create user tokens, and the client-authenticated
// endpoints that check, reset, refresh and delete them.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chinmina/ghapp/internal/cache"
	"github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// DefaultPathPrefix is the path the OAuth routes are served under unless
// Config.PathPrefix is set.
const DefaultPathPrefix = "/api/github/oauth"

const (
	defaultStateTTL        = 10 * time.Minute
	defaultStateCacheLimit = 10_000
)

var (
	// ErrInvalidState is returned when the state of a web flow callback was
	// not issued by this app, has already been used or has expired.
	ErrInvalidState = errors.New("oauth: unknown or expired state")
	// ErrMissingCredentials is returned by New without client credentials.
	ErrMissingCredentials = errors.New("oauth: client ID and client secret are required")
)

// AuthorizationState is stored between the start of a web flow and its
// callback.
type AuthorizationState struct {
	RedirectURL string    `json:"redirectUrl,omitempty"`
	Scopes      []string  `json:"scopes,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// StateStore keeps web flow state. Use a shared store (such as Redis) when
// more than one process serves the OAuth routes.
type StateStore = cache.Cache[AuthorizationState]

// Config configures an App.
type Config struct {
	ClientID     string
	ClientSecret string
	// AllowSignup controls whether the authorization page offers to create
	// a GitHub account. Unset leaves the GitHub default.
	AllowSignup *bool
	RedirectURL string
	// DefaultScopes are requested when a web flow does not name its own.
	DefaultScopes []string

	// WebURL is the GitHub web URL, for GitHub Enterprise Server. Defaults to
	// https://github.com.
	WebURL string
	// APIURL is the REST API URL. Defaults to https://api.github.com.
	APIURL string

	PathPrefix string

	// HTTPClient is used for every outgoing request. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// States defaults to an in-memory store.
	States StateStore
}

// App is the OAuth client of a GitHub App.
type App struct {
	clientID     string
	clientSecret string
	allowSignup  *bool
	redirectURL  string
	scopes       []string
	prefix       string

	oauth      *oauth2.Config
	httpClient *http.Client
	api        *github.Client
	states     StateStore

	mu    sync.RWMutex
	hooks map[string][]TokenHandlerFunc
}

// New creates an App. No requests are made.
func New(cfg Config) (*App, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}

	endpoint, err := endpointFor(cfg.WebURL)
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	// The token endpoints are authenticated with the client credentials.
	basicAuth := &github.BasicAuthTransport{
		Username:  cfg.ClientID,
		Password:  cfg.ClientSecret,
		Transport: httpClient.Transport,
	}
	api := github.NewClient(basicAuth.Client())
	if cfg.APIURL != "" {
		api.BaseURL, err = url.Parse(withTrailingSlash(cfg.APIURL))
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL: %w", err)
		}
	}

	states := cfg.States
	if states == nil {
		memory, err := cache.NewMemory[AuthorizationState](defaultStateTTL, defaultStateCacheLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to create state store: %w", err)
		}
		states = cache.NewInstrumented(memory, "memory")
	}

	prefix := strings.TrimSuffix(cfg.PathPrefix, "/")
	if prefix == "" {
		prefix = DefaultPathPrefix
	}

	return &App{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		allowSignup:  cfg.AllowSignup,
		redirectURL:  cfg.RedirectURL,
		scopes:       cfg.DefaultScopes,
		prefix:       prefix,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.DefaultScopes,
		},
		httpClient: httpClient,
		api:        api,
		states:     states,
		hooks:      map[string][]TokenHandlerFunc{},
	}, nil
}

// ClientID returns the OAuth client ID of the app.
func (a *App) ClientID() string {
	return a.clientID
}

// ClientSecret returns the OAuth client secret of the app.
func (a *App) ClientSecret() string {
	return a.clientSecret
}

// AllowSignup returns the configured signup preference, or nil if unset.
func (a *App) AllowSignup() *bool {
	return a.allowSignup
}

// PathPrefix returns the prefix the OAuth routes are served under.
func (a *App) PathPrefix() string {
	return a.prefix
}

// Close releases the state store.
func (a *App) Close() error {
	return a.states.Close()
}

// exchangeContext carries the configured client to x/oauth2.
func (a *App) exchangeContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

func endpointFor(webURL string) (oauth2.Endpoint, error) {
	if webURL == "" {
		return endpoints.GitHub, nil
	}

	base, err := url.Parse(strings.TrimSuffix(webURL, "/"))
	if err != nil {
		return oauth2.Endpoint{}, fmt.Errorf("invalid GitHub web URL: %w", err)
	}

	return oauth2.Endpoint{
		AuthURL:       base.JoinPath("login/oauth/authorize").String(),
		TokenURL:      base.JoinPath("login/oauth/access_token").String(),
		DeviceAuthURL: base.JoinPath("login/device/code").String(),
		AuthStyle:     oauth2.AuthStyleInParams,
	}, nil
}

func withTrailingSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}
