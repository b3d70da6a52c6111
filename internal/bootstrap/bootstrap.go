// Package bootstrap builds the App from environment configuration. It is
// shared by the server and inventory commands.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"

	"github.com/chinmina/ghapp"
	"github.com/chinmina/ghapp/internal/cache"
	"github.com/chinmina/ghapp/internal/config"
	"github.com/chinmina/ghapp/internal/observe"
	"github.com/chinmina/ghapp/oauth"
	"github.com/rs/zerolog/log"
)

// HTTPTransport returns the transport for outgoing GitHub requests: a pooled
// transport sized by the server configuration, traced when telemetry is
// enabled.
func HTTPTransport(cfg config.Config) http.RoundTripper {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.Server.OutgoingHTTPMaxIdleConns
	transport.MaxConnsPerHost = cfg.Server.OutgoingHTTPMaxConnsPerHost

	return observe.HTTPTransport(transport, cfg.Observe)
}

// NewApp configures an App from cfg. Webhooks and OAuth are enabled when
// their credentials are present. When OAuth is enabled, web flow state is
// kept in the configured cache; close it with the OAuth App.
func NewApp(ctx context.Context, cfg config.Config, transport http.RoundTripper) (*ghapp.App, error) {
	opts := ghapp.Options{
		AppID:         cfg.Github.ApplicationID,
		PrivateKey:    cfg.Github.PrivateKey,
		PrivateKeyARN: cfg.Github.PrivateKeyARN,
		BaseURL:       cfg.Github.APIURL,
		WebURL:        cfg.Github.WebURL,
		Transport:     transport,
		PerPage:       cfg.Github.PerPage,
		Log:           zerologLog(),
	}

	if cfg.Webhooks.Enabled() {
		opts.Webhooks = &ghapp.WebhooksOptions{
			Secret: cfg.Webhooks.Secret,
			Path:   cfg.Webhooks.Path,
		}
	}

	if cfg.OAuth.Enabled() {
		states, err := cache.NewFromConfig[oauth.AuthorizationState](ctx, cfg.Cache)
		if err != nil {
			return nil, fmt.Errorf("oauth state store configuration failed: %w", err)
		}

		opts.OAuth = &ghapp.OAuthOptions{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			AllowSignup:  cfg.OAuth.AllowSignup,
			RedirectURL:  cfg.OAuth.RedirectURL,
			Scopes:       cfg.OAuth.Scopes,
			PathPrefix:   cfg.OAuth.PathPrefix,
			States:       states,
		}
	}

	app, err := ghapp.New(ctx, opts)
	if err != nil {
		if opts.OAuth != nil {
			_ = opts.OAuth.States.Close()
		}
		return nil, err
	}

	log.Info().
		Int64("app_id", app.AppID()).
		Bool("webhooks", opts.Webhooks != nil).
		Bool("oauth", opts.OAuth != nil).
		Msg("github app configured")

	return app, nil
}

// zerologLog sends the debug and info messages of the App to zerolog, so
// that they are subject to the configured level rather than discarded.
func zerologLog() ghapp.Log {
	return ghapp.Log{
		Debug: func(msg string, fields map[string]any) {
			log.Debug().Fields(fields).Msg(msg)
		},
		Info: func(msg string, fields map[string]any) {
			log.Info().Fields(fields).Msg(msg)
		},
	}
}
