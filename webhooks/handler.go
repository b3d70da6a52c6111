package webhooks

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/chinmina/ghapp/internal/respond"
	"github.com/google/go-github/v80/github"
	"github.com/palantir/go-githubapp/githubapp"
	"github.com/rs/zerolog/log"
)

// DefaultPayloadLimit is the largest delivery accepted. GitHub caps payloads
// at 25MB.
const DefaultPayloadLimit = int64(25 << 20)

const (
	eventHeader     = "X-GitHub-Event"
	deliveryHeader  = "X-GitHub-Delivery"
	signatureHeader = "X-Hub-Signature-256"
)

// ServeHTTP accepts deliveries posted to the configured path. Any other
// request is answered with a 404.
//
// Signature validation and dispatch by event type are done by a go-githubapp
// event dispatcher. Deliveries of event types unknown to go-github are
// acknowledged without calling handlers; Receive accepts them.
func (w *Webhooks) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	defer respond.DrainRequestBody(r)

	if r.Method != http.MethodPost || r.URL.Path != w.path {
		respond.Error(rw, http.StatusNotFound, "unknown route: "+r.Method+" "+r.URL.Path)
		return
	}

	if !isJSON(r.Header.Get("Content-Type")) {
		respond.Error(rw, http.StatusUnsupportedMediaType, "unsupported content type, expected application/json")
		return
	}

	var missing []string
	for _, h := range []string{eventHeader, deliveryHeader, signatureHeader} {
		if r.Header.Get(h) == "" {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		log.Info().Strs("headers", missing).Msg("webhook request missing required headers")
		respond.Error(rw, http.StatusBadRequest, "required headers missing")
		return
	}

	body := &limitedBody{ReadCloser: http.MaxBytesReader(rw, r.Body, w.payloadLimit)}
	r.Body = body

	d := &dispatch{body: body}
	w.dispatcher.ServeHTTP(rw, r.WithContext(context.WithValue(r.Context(), dispatchKey{}, d)))
}

// dispatch carries the outcome of a delivery from the handler to the
// dispatcher callbacks.
type dispatch struct {
	body *limitedBody
	err  error
}

type dispatchKey struct{}

func dispatchFrom(ctx context.Context) *dispatch {
	if d, ok := ctx.Value(dispatchKey{}).(*dispatch); ok {
		return d
	}
	return &dispatch{body: &limitedBody{}}
}

// eventHandler adapts the registered handlers to the dispatcher. It claims
// every event type go-github knows, and routes by action itself.
type eventHandler struct {
	webhooks *Webhooks
}

var _ githubapp.EventHandler = eventHandler{}

func (h eventHandler) Handles() []string {
	return github.MessageTypes()
}

func (h eventHandler) Handle(ctx context.Context, eventType, deliveryID string, payload []byte) error {
	d := dispatchFrom(ctx)

	event, err := ParseEvent(deliveryID, eventType, payload)
	if err == nil {
		log.Ctx(ctx).Debug().
			Str("delivery", deliveryID).
			Str("event", event.QualifiedName()).
			Int64("installation", event.InstallationID).
			Msg("webhook received")

		err = h.webhooks.Receive(ctx, event)
	}

	d.err = err
	return err
}

// onDispatchError answers deliveries that failed validation or whose
// handlers failed.
func onDispatchError(rw http.ResponseWriter, r *http.Request, err error) {
	d := dispatchFrom(r.Context())
	id := r.Header.Get(deliveryHeader)
	name := r.Header.Get(eventHeader)

	switch {
	case d.body.exceeded:
		log.Info().Str("delivery", id).Str("event", name).Msg("webhook payload too large")
		respond.Error(rw, http.StatusRequestEntityTooLarge, "payload too large")

	case d.err != nil:
		writeHandlerError(rw, id, name, d.err)

	default:
		log.Warn().Err(err).
			Str("delivery", id).
			Str("event", name).
			Str("remote_addr", r.RemoteAddr).
			Msg("webhook signature verification failed")
		respond.Error(rw, http.StatusUnauthorized, ErrInvalidSignature.Error())
	}
}

// onDispatchResponse answers deliveries that were dispatched, or that no
// handler claimed.
func onDispatchResponse(rw http.ResponseWriter, r *http.Request, _ string, _ bool) {
	if d := dispatchFrom(r.Context()); d.err != nil {
		writeHandlerError(rw, r.Header.Get(deliveryHeader), r.Header.Get(eventHeader), d.err)
		return
	}

	rw.Header().Set("Content-Type", "text/plain")
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte("ok\n"))
}

func writeHandlerError(rw http.ResponseWriter, id, name string, err error) {
	if errors.Is(err, ErrInvalidPayload) {
		log.Info().Err(err).Str("delivery", id).Str("event", name).Msg("webhook payload rejected")
		respond.Error(rw, http.StatusBadRequest, ErrInvalidPayload.Error())
		return
	}

	log.Error().Err(err).Str("delivery", id).Str("event", name).Msg("webhook handler failed")
	respond.Error(rw, http.StatusInternalServerError, err.Error())
}

// limitedBody records whether the request body exceeded its limit, as the
// dispatcher reports read failures as validation errors.
type limitedBody struct {
	io.ReadCloser
	exceeded bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		b.exceeded = true
	}
	return n, err
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}
