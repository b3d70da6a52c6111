package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/chinmina/ghapp"
	"github.com/chinmina/ghapp/internal/audit"
	"github.com/chinmina/ghapp/internal/observe"
	"github.com/chinmina/ghapp/internal/respond"
	"github.com/chinmina/ghapp/oauth"
	"github.com/chinmina/ghapp/webhooks"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"
)

// webhookRequestLimit matches the largest delivery GitHub sends.
const webhookRequestLimit = int64(25 << 20) // 25 MB

// oauthRequestLimit bounds the JSON bodies of the OAuth token routes.
const oauthRequestLimit = int64(64 << 10) // 64 KB

func configureServerRoutes(app *ghapp.App) (http.Handler, error) {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	wh, whErr := app.Webhooks()
	oa, oaErr := app.OAuth()
	if whErr != nil && oaErr != nil {
		return nil, errors.New("nothing to serve: configure GITHUB_WEBHOOK_SECRET or the GITHUB_OAUTH_* client credentials")
	}

	standardRouteMiddleware := alice.New(audit.Middleware())

	webhookMiddleware := standardRouteMiddleware.Append(maxRequestSize(webhookRequestLimit))
	oauthMiddleware := standardRouteMiddleware.Append(maxRequestSize(oauthRequestLimit))

	if oaErr == nil {
		logTokenEvents(oa)

		// the combined middleware serves both the OAuth routes and webhook
		// deliveries
		combined, err := ghapp.Middleware(app)
		if err != nil {
			return nil, err
		}

		mux.Handle(oa.PathPrefix()+"/", oauthMiddleware.Then(combined))
		if whErr == nil {
			logWebhookEvents(wh)
			mux.Handle("POST "+wh.Path(), webhookMiddleware.Then(combined))
		}
	} else {
		logWebhookEvents(wh)
		mux.Handle("POST "+wh.Path(), webhookMiddleware.Then(wh))
	}

	// healthchecks are not included in telemetry
	muxWithoutTelemetry.Handle("GET /healthcheck", handleHealthCheck())

	return mux, nil
}

func logWebhookEvents(wh *webhooks.Webhooks) {
	wh.OnAny(func(ctx context.Context, event webhooks.Event) error {
		entry := audit.Log(ctx)
		entry.DeliveryID = event.ID
		entry.Event = event.QualifiedName()
		entry.InstallationID = event.InstallationID

		log.Ctx(ctx).Info().
			Str("delivery", event.ID).
			Str("event", event.QualifiedName()).
			Int64("installation_id", event.InstallationID).
			Msg("webhook received")
		return nil
	})

	wh.OnError(func(ctx context.Context, event webhooks.Event, err error) {
		audit.Log(ctx).Error = err.Error()

		log.Ctx(ctx).Warn().Err(err).
			Str("delivery", event.ID).
			Str("event", event.QualifiedName()).
			Msg("webhook handler failed")
	})
}

func logTokenEvents(oa *oauth.App) {
	oa.OnToken(func(ctx context.Context, event oauth.TokenEvent) error {
		entry := audit.Log(ctx)
		entry.TokenEvents = append(entry.TokenEvents, event.Name)

		ev := log.Ctx(ctx).Info().Str("event", event.Name)
		if event.Authentication.User != nil {
			entry.User = event.Authentication.User.GetLogin()
			ev = ev.Str("user", entry.User)
		}
		ev.Msg("oauth token event")
		return nil
	},
		oauth.EventTokenCreated,
		oauth.EventTokenReset,
		oauth.EventTokenRefreshed,
		oauth.EventTokenDeleted,
		oauth.EventAuthorizationDeleted,
	)
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer respond.DrainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}
