// Package ginapp serves the webhook and OAuth routes of a GitHub App from a
// gin engine.
package ginapp

import (
	"github.com/chinmina/ghapp"
	"github.com/gin-gonic/gin"
)

// Handler adapts ghapp.Middleware to gin. OAuth must be configured.
func Handler(app *ghapp.App) (gin.HandlerFunc, error) {
	h, err := ghapp.Middleware(app)
	if err != nil {
		return nil, err
	}

	return gin.WrapH(h), nil
}

// Mount registers the routes of app on r: webhook deliveries at the
// webhook path when webhooks are configured, and every method under the
// OAuth path prefix.
func Mount(r gin.IRoutes, app *ghapp.App) error {
	h, err := Handler(app)
	if err != nil {
		return err
	}

	oa, err := app.OAuth()
	if err != nil {
		return err
	}
	r.Any(oa.PathPrefix()+"/*route", h)

	if wh, err := app.Webhooks(); err == nil {
		r.POST(wh.Path(), h)
	}

	return nil
}
