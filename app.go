// Package ghapp configures a GitHub App in one place: the API client that
// authenticates as the app, clients scoped to each of its installations,
// iteration over installations and repositories, and the webhook and OAuth
// request handling that the app receives.
package ghapp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/chinmina/ghapp/internal/appauth"
	"github.com/chinmina/ghapp/oauth"
	"github.com/chinmina/ghapp/webhooks"
	"github.com/google/go-github/v80/github"
)

// Options configures an App. Only AppID and one of PrivateKey or
// PrivateKeyARN are required; the remaining settings enable optional
// features or replace defaults. The values are not validated here: invalid
// credentials are reported by GitHub when a client is first used.
type Options struct {
	AppID int64

	// PrivateKey is the PEM encoded private key of the app.
	PrivateKey string
	// PrivateKeyARN identifies an AWS KMS key used to sign app tokens in
	// place of PrivateKey.
	PrivateKeyARN string

	// Webhooks enables App.Webhooks when set.
	Webhooks *WebhooksOptions
	// OAuth enables App.OAuth when set.
	OAuth *OAuthOptions

	// BaseURL is the REST API URL, for GitHub Enterprise Server or testing.
	// It is used both for API clients and for installation token requests.
	BaseURL string
	// WebURL is the GitHub web URL used for the OAuth flows.
	WebURL string

	// Transport is the base transport for all outgoing requests. Defaults
	// to http.DefaultTransport.
	Transport http.RoundTripper

	// NewClient replaces the construction of API clients. It receives an
	// HTTP client that authenticates as the app or an installation.
	NewClient ClientFactory

	// PerPage sets the page size used when iterating. Zero uses the
	// platform default.
	PerPage int

	// Log overrides levels of the default logger.
	Log Log
}

// WebhooksOptions configures the webhook dispatcher.
type WebhooksOptions struct {
	Secret string
	// Path the dispatcher accepts deliveries on. Defaults to
	// webhooks.DefaultPath.
	Path string
}

// OAuthOptions configures the OAuth flows of the app.
type OAuthOptions struct {
	ClientID     string
	ClientSecret string
	AllowSignup  *bool
	RedirectURL  string
	Scopes       []string
	// PathPrefix the OAuth routes are served under. Defaults to
	// oauth.DefaultPathPrefix.
	PathPrefix string
	// States stores web flow state between the login and callback requests.
	// Defaults to an in-memory store.
	States oauth.StateStore
}

// ClientFactory creates an API client that uses the supplied HTTP client.
type ClientFactory func(httpClient *http.Client) (*github.Client, error)

// App is a configured GitHub App.
type App struct {
	// Octokit authenticates as the app itself. It is shared by all
	// operations and is not modified after construction.
	Octokit *github.Client
	Log     Log

	auth      *appauth.Strategy
	transport http.RoundTripper
	newClient ClientFactory
	baseURL   *url.URL
	perPage   int

	webhooks optional[*webhooks.Webhooks]
	oauth    optional[*oauth.App]
}

// New configures an App. No network requests are made: tokens are requested
// when a client is first used. Missing optional configuration is not an
// error here; it is reported when the feature is accessed.
func New(ctx context.Context, opts Options) (*App, error) {
	authConfig := appauth.Config{
		AppID:         opts.AppID,
		PrivateKey:    opts.PrivateKey,
		PrivateKeyARN: opts.PrivateKeyARN,
		APIURL:        opts.BaseURL,
	}
	if opts.OAuth != nil {
		authConfig.ClientID = opts.OAuth.ClientID
		authConfig.ClientSecret = opts.OAuth.ClientSecret
	}

	var authOpts []appauth.Option
	if opts.Transport != nil {
		authOpts = append(authOpts, appauth.WithTransport(opts.Transport))
	}

	auth, err := appauth.New(ctx, authConfig, authOpts...)
	if err != nil {
		return nil, fmt.Errorf("app authentication configuration failed: %w", err)
	}

	app := &App{
		Log:       DefaultLog().Merge(opts.Log),
		auth:      auth,
		transport: opts.Transport,
		newClient: opts.NewClient,
		perPage:   opts.PerPage,
		webhooks:  unconfigured[*webhooks.Webhooks]("webhooks"),
		oauth:     unconfigured[*oauth.App]("oauth.ClientID / oauth.ClientSecret"),
	}

	if app.newClient == nil {
		app.newClient = defaultClient
	}
	if app.transport == nil {
		app.transport = http.DefaultTransport
	}

	if opts.BaseURL != "" {
		u, err := parseBaseURL(opts.BaseURL)
		if err != nil {
			return nil, err
		}
		app.baseURL = u
	}

	app.Octokit, err = app.client(auth.AppTransport())
	if err != nil {
		return nil, fmt.Errorf("app client configuration failed: %w", err)
	}

	if opts.Webhooks != nil {
		wh := webhooks.New(
			opts.Webhooks.Secret,
			webhooks.WithPath(opts.Webhooks.Path),
			webhooks.WithEventContext(app.eventContext),
		)
		app.webhooks = configured("webhooks", wh)
	}

	if opts.OAuth != nil {
		// the strategy owns the client credentials alongside the app key
		clientID, clientSecret, _ := auth.OAuthCredentials()

		oauthConfig := oauth.Config{
			ClientID:      clientID,
			ClientSecret:  clientSecret,
			AllowSignup:   opts.OAuth.AllowSignup,
			RedirectURL:   opts.OAuth.RedirectURL,
			DefaultScopes: opts.OAuth.Scopes,
			PathPrefix:    opts.OAuth.PathPrefix,
			States:        opts.OAuth.States,
			WebURL:        opts.WebURL,
			APIURL:        opts.BaseURL,
		}
		if opts.Transport != nil {
			oauthConfig.HTTPClient = &http.Client{Transport: opts.Transport}
		}

		oa, err := oauth.New(oauthConfig)
		if err != nil {
			return nil, fmt.Errorf("oauth configuration failed: %w", err)
		}
		app.oauth = configured(app.oauth.option, oa)
	}

	return app, nil
}

// Webhooks returns the webhook dispatcher, or a ConfigurationError if the
// app was created without webhook options.
func (a *App) Webhooks() (*webhooks.Webhooks, error) {
	return a.webhooks.get()
}

// OAuth returns the OAuth flows of the app, or a ConfigurationError if the
// app was created without OAuth options.
func (a *App) OAuth() (*oauth.App, error) {
	return a.oauth.get()
}

// AppID returns the numeric identifier of the app.
func (a *App) AppID() int64 {
	return a.auth.AppID()
}

// InstallationClient returns a new API client that authenticates as the
// given installation. The installation token is requested when the client
// makes its first request, so an invalid installation ID is reported then.
// Clients are not cached: every call returns an independent client.
func (a *App) InstallationClient(ctx context.Context, installationID int64) (*github.Client, error) {
	return a.client(a.auth.InstallationTransport(installationID))
}

func (a *App) client(rt http.RoundTripper) (*github.Client, error) {
	c, err := a.newClient(&http.Client{Transport: rt})
	if err != nil {
		return nil, err
	}

	if a.baseURL != nil {
		c.BaseURL = a.baseURL
	}

	return c, nil
}

func defaultClient(httpClient *http.Client) (*github.Client, error) {
	c := github.NewClient(httpClient)
	c.UserAgent = userAgent
	return c, nil
}

// parseBaseURL ensures the trailing slash that go-github requires of its
// base URL.
func parseBaseURL(apiURL string) (*url.URL, error) {
	if !strings.HasSuffix(apiURL, "/") {
		apiURL += "/"
	}

	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid GitHub API URL %q: %w", apiURL, err)
	}
	return u, nil
}
