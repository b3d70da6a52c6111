package ghapp

import (
	"net/http"

	"github.com/chinmina/ghapp/internal/respond"
)

// Middleware returns a handler serving the OAuth routes of the app, and
// passing every other request to the webhook dispatcher. Requests neither
// recognises receive the dispatcher's 404 response.
//
// OAuth must be configured. When webhooks are not, requests that reach the
// dispatcher are logged and answered with a 500.
func Middleware(app *App) (http.Handler, error) {
	oa, err := app.OAuth()
	if err != nil {
		return nil, err
	}

	fallback := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wh, err := app.Webhooks()
		if err != nil {
			app.Log.Error("webhook request received without webhook configuration", map[string]any{
				"error":  err.Error(),
				"method": r.Method,
				"path":   r.URL.Path,
			})
			respond.Error(w, http.StatusInternalServerError, err.Error())
			return
		}

		wh.ServeHTTP(w, r)
	})

	return oa.Handler(fallback), nil
}

// GetMiddleware returns the same handler as Middleware.
//
// Deprecated: use Middleware.
func GetMiddleware(app *App) (http.Handler, error) {
	app.Log.Warn("GetMiddleware is deprecated, use Middleware instead", nil)
	return Middleware(app)
}
