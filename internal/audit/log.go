// Package audit writes one structured entry for every request received by
// ghapp-server. Handlers add what they learn about the request (the webhook
// delivery, the OAuth token event) to the entry in the request context.
package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the level audit entries are written at. It is above every
// standard level so that entries are not filtered out.
const Level = zerolog.Level(20)

// Entry describes a single request.
type Entry struct {
	Method    string
	Path      string
	UserAgent string
	SourceIP  string
	Status    int
	Error     string

	// Webhook deliveries
	DeliveryID     string
	Event          string
	InstallationID int64

	// OAuth routes
	TokenEvents []string
	User        string
}

func (e *Entry) MarshalZerologObject(ev *zerolog.Event) {
	ev.Dict("request", zerolog.Dict().
		Str("method", e.Method).
		Str("path", e.Path).
		Str("userAgent", e.UserAgent).
		Str("sourceIP", e.SourceIP).
		Int("status", e.Status),
	)

	webhook := NewOptionalEvent(nil).
		Str("deliveryID", e.DeliveryID).
		Str("event", e.Event).
		Int64("installationID", e.InstallationID)
	webhook.Set(ev, "webhook")

	oauth := NewOptionalEvent(nil).
		Strs("tokenEvents", e.TokenEvents).
		Str("user", e.User)
	oauth.Set(ev, "oauth")

	if e.Error != "" {
		ev.Str("error", e.Error)
	}
}

// Begin records the details of the request.
func (e *Entry) Begin(r *http.Request) {
	e.Method = r.Method
	e.Path = r.URL.Path
	e.UserAgent = r.UserAgent()
	e.SourceIP = sourceIP(r)
}

// End returns a function that writes the entry. It is deferred by the
// middleware so that the entry is written even when the handler panics.
func (e *Entry) End(ctx context.Context) func() {
	return func() {
		if r := recover(); r != nil {
			if e.Error != "" {
				e.Error += "; "
			}
			e.Error += fmt.Sprintf("panic: %v", r)

			defer panic(r)
		}

		if e.Status == 0 {
			e.Status = http.StatusOK
		}

		log.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg("audit")
	}
}

type key struct{}

// Context returns the entry attached to ctx, attaching a new entry if there
// is none.
func Context(ctx context.Context) (context.Context, *Entry) {
	if e, ok := ctx.Value(key{}).(*Entry); ok {
		return ctx, e
	}

	e := &Entry{}
	return context.WithValue(ctx, key{}, e), e
}

// Log returns the entry attached to ctx. Outside of an audited request the
// returned entry is discarded.
func Log(ctx context.Context) *Entry {
	_, e := Context(ctx)
	return e
}

// Middleware writes an audit entry for each request passed to the wrapped
// handler.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())

			entry.Begin(r)
			defer entry.End(ctx)()

			next.ServeHTTP(&statusRecorder{ResponseWriter: w, entry: entry}, r.WithContext(ctx))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	entry *Entry
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.entry.Status == 0 {
		s.entry.Status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.entry.Status == 0 {
		s.entry.Status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func sourceIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
