package ghapp

import (
	"context"
	"net/http"

	"github.com/chinmina/ghapp/webhooks"
	"github.com/google/go-github/v80/github"
)

type eventClientKey struct{}

// EventClient returns the client attached to the context of a webhook
// handler. Events delivered for an installation carry a client authenticated
// as that installation. Other events carry an unauthenticated client, as
// there is no installation to authenticate as.
//
// Requests made by the client carry the X-GitHub-Delivery header of the
// event.
func EventClient(ctx context.Context) (*github.Client, bool) {
	c, ok := ctx.Value(eventClientKey{}).(*github.Client)
	return c, ok
}

// eventContext attaches the client for an event before its handlers run.
func (a *App) eventContext(ctx context.Context, event webhooks.Event) (context.Context, error) {
	rt := a.transport
	if event.InstallationID != 0 {
		rt = a.auth.InstallationTransport(event.InstallationID)
	} else {
		a.Log.Debug("webhook event has no installation, using an unauthenticated client", map[string]any{
			"delivery": event.ID,
			"event":    event.QualifiedName(),
		})
	}

	client, err := a.client(deliveryTransport{next: rt, deliveryID: event.ID})
	if err != nil {
		return ctx, err
	}

	return context.WithValue(ctx, eventClientKey{}, client), nil
}

// deliveryTransport tags requests with the delivery that caused them.
type deliveryTransport struct {
	next       http.RoundTripper
	deliveryID string
}

func (t deliveryTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if t.deliveryID == "" {
		return t.next.RoundTrip(r)
	}

	r = r.Clone(r.Context())
	r.Header.Set("X-GitHub-Delivery", t.deliveryID)
	return t.next.RoundTrip(r)
}
