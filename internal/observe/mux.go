package observe

import (
	"net/http"
	"slices"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Multiplexer is satisfied by *http.ServeMux.
type Multiplexer interface {
	Handle(pattern string, handler http.Handler)
	http.Handler
}

// Mux traces every handler registered with it.
type Mux struct {
	wrapped Multiplexer
}

func NewMux(wrapped Multiplexer) *Mux {
	return &Mux{wrapped: wrapped}
}

// Handle registers handler, naming its spans with SpanName.
func (mux *Mux) Handle(pattern string, handler http.Handler) {
	route := TrimMethod(pattern)

	traced := otelhttp.NewHandler(handler, route,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return SpanName(route, r)
		}),
	)

	mux.wrapped.Handle(pattern, traced)
}

func (mux *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux.wrapped.ServeHTTP(w, r)
}

// SpanName names the span of a request served by route. A prefix route (one
// ending in "/") serves a family of endpoints, such as the OAuth routes, so
// its spans are named after the path requested.
func SpanName(route string, r *http.Request) string {
	if strings.HasSuffix(route, "/") && strings.HasPrefix(r.URL.Path, route) {
		return r.Method + " " + r.URL.Path
	}
	return r.Method + " " + route
}

var methods = []string{
	http.MethodConnect,
	http.MethodDelete,
	http.MethodGet,
	http.MethodHead,
	http.MethodOptions,
	http.MethodPatch,
	http.MethodPost,
	http.MethodPut,
	http.MethodTrace,
}

// TrimMethod removes the method from a route pattern.
func TrimMethod(pattern string) string {
	method, resource, hasMethod := strings.Cut(pattern, " ")
	if hasMethod && slices.Contains(methods, method) {
		return resource
	}
	return pattern
}
