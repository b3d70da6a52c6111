// Package webhooks verifies GitHub webhook deliveries and dispatches them to
// handlers registered by event name.
package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/go-github/v80/github"
	"github.com/palantir/go-githubapp/githubapp"
	"github.com/rs/zerolog/log"
)

// DefaultPath is the path deliveries are accepted on unless WithPath is
// supplied.
const DefaultPath = "/api/github/webhooks"

var (
	// ErrInvalidSignature is returned when the signature of a delivery does
	// not match its payload.
	ErrInvalidSignature = errors.New("signature does not match event payload and secret")
	// ErrInvalidPayload is returned when a delivery cannot be parsed.
	ErrInvalidPayload = errors.New("invalid webhook payload")
)

// Event is a single webhook delivery.
type Event struct {
	// ID is the delivery ID (X-GitHub-Delivery).
	ID string
	// Name is the event name (X-GitHub-Event), for example "issues".
	Name string
	// Action is the action of the payload, if it has one.
	Action string
	// InstallationID is the installation the event was delivered for, or
	// zero when the event is not related to an installation.
	InstallationID int64
	// Payload is the parsed go-github event type, for example
	// *github.IssuesEvent. It is nil for events go-github does not know.
	Payload any
	// RawPayload is the body of the delivery.
	RawPayload []byte
}

// QualifiedName returns "name.action", or just the name when the event has
// no action.
func (e Event) QualifiedName() string {
	if e.Action == "" {
		return e.Name
	}
	return e.Name + "." + e.Action
}

// HandlerFunc handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// ErrorHandlerFunc is called when handlers for an event fail. err joins the
// errors of every handler that failed.
type ErrorHandlerFunc func(ctx context.Context, event Event, err error)

// ContextFunc prepares the context handlers of an event will receive.
type ContextFunc func(ctx context.Context, event Event) (context.Context, error)

type Option func(*Webhooks)

// WithPath sets the path deliveries are accepted on. An empty path keeps
// DefaultPath.
func WithPath(path string) Option {
	return func(w *Webhooks) {
		if path != "" {
			w.path = path
		}
	}
}

// WithPayloadLimit sets the largest delivery ServeHTTP accepts. Larger
// deliveries are answered with a 413. Values below one keep
// DefaultPayloadLimit.
func WithPayloadLimit(bytes int64) Option {
	return func(w *Webhooks) {
		if bytes > 0 {
			w.payloadLimit = bytes
		}
	}
}

// WithEventContext sets a function that prepares the handler context of
// each event.
func WithEventContext(fn ContextFunc) Option {
	return func(w *Webhooks) {
		w.eventContext = fn
	}
}

// Webhooks routes verified deliveries to registered handlers. Handlers can
// be registered at any time, and are called in registration order.
type Webhooks struct {
	secret       []byte
	path         string
	payloadLimit int64
	eventContext ContextFunc
	dispatcher   http.Handler

	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
	any      []HandlerFunc
	onError  []ErrorHandlerFunc
}

// New creates a dispatcher that verifies deliveries with secret.
func New(secret string, opts ...Option) *Webhooks {
	w := &Webhooks{
		secret:       []byte(secret),
		path:         DefaultPath,
		payloadLimit: DefaultPayloadLimit,
		handlers:     map[string][]HandlerFunc{},
	}
	for _, o := range opts {
		o(w)
	}

	w.dispatcher = githubapp.NewEventDispatcher(
		[]githubapp.EventHandler{eventHandler{webhooks: w}},
		secret,
		githubapp.WithErrorCallback(onDispatchError),
		githubapp.WithResponseCallback(onDispatchResponse),
	)

	return w
}

// Secret returns the secret deliveries are verified with.
func (w *Webhooks) Secret() string {
	return string(w.secret)
}

// Path returns the path deliveries are accepted on.
func (w *Webhooks) Path() string {
	return w.path
}

// On registers fn for each of the given event names. A name is either an
// event ("issues"), which matches every action, or an event and action
// ("issues.opened").
func (w *Webhooks) On(fn HandlerFunc, names ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, name := range names {
		w.handlers[name] = append(w.handlers[name], fn)
	}
}

// OnAny registers fn for every event.
func (w *Webhooks) OnAny(fn HandlerFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.any = append(w.any, fn)
}

// OnError registers fn to be called when handlers fail.
func (w *Webhooks) OnError(fn ErrorHandlerFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.onError = append(w.onError, fn)
}

// Verify checks the X-Hub-Signature-256 value of a delivery against its
// payload.
func (w *Webhooks) Verify(payload []byte, signature string) error {
	if err := github.ValidateSignature(signature, payload, w.secret); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return nil
}

// Receive calls the handlers registered for the event. Every matching
// handler is called, in order: the handlers for the event name, then those
// for the name and action, then those registered with OnAny. The returned
// error joins the errors of all failed handlers.
func (w *Webhooks) Receive(ctx context.Context, event Event) error {
	if w.eventContext != nil {
		var err error
		ctx, err = w.eventContext(ctx, event)
		if err != nil {
			return fmt.Errorf("could not prepare context for event %s: %w", event.QualifiedName(), err)
		}
	}

	var errs []error
	for _, fn := range w.handlersFor(event) {
		if err := fn(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		w.mu.RLock()
		onError := w.onError
		w.mu.RUnlock()

		for _, fn := range onError {
			fn(ctx, event, err)
		}
	}

	return err
}

// VerifyAndReceive verifies the signature of a delivery, parses it and
// passes it to Receive.
func (w *Webhooks) VerifyAndReceive(ctx context.Context, id, name, signature string, payload []byte) error {
	if err := w.Verify(payload, signature); err != nil {
		return err
	}

	event, err := ParseEvent(id, name, payload)
	if err != nil {
		return err
	}

	log.Ctx(ctx).Debug().
		Str("delivery", id).
		Str("event", event.QualifiedName()).
		Int64("installation", event.InstallationID).
		Msg("webhook received")

	return w.Receive(ctx, event)
}

func (w *Webhooks) handlersFor(event Event) []HandlerFunc {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var fns []HandlerFunc
	fns = append(fns, w.handlers[event.Name]...)
	if event.Action != "" {
		fns = append(fns, w.handlers[event.QualifiedName()]...)
	}
	fns = append(fns, w.any...)

	return fns
}

// ParseEvent builds an Event from a delivery. Unknown event names are
// accepted: Payload is left nil and handlers can decode RawPayload.
func ParseEvent(id, name string, payload []byte) (Event, error) {
	var head struct {
		Action       string `json:"action"`
		Installation *struct {
			ID int64 `json:"id"`
		} `json:"installation"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	event := Event{
		ID:         id,
		Name:       name,
		Action:     head.Action,
		RawPayload: payload,
	}
	if head.Installation != nil {
		event.InstallationID = head.Installation.ID
	}

	parsed, err := github.ParseWebHook(name, payload)
	if err != nil {
		if !isUnknownEvent(err) {
			return Event{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
	} else {
		event.Payload = parsed
	}

	return event, nil
}

func isUnknownEvent(err error) bool {
	// go-github reports unknown message types without a typed error.
	return strings.HasPrefix(err.Error(), "unknown X-Github-Event")
}
