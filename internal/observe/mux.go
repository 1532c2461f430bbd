// Package observe wires the bridge into OpenTelemetry: traced inbound
// routes, an instrumented outbound HTTP transport, and SDK lifecycle
// management.
package observe

import (
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Multiplexer is the subset of http.ServeMux the traced mux builds on.
type Multiplexer interface {
	Handle(pattern string, handler http.Handler)
	http.Handler
}

// Mux registers handlers wrapped with per-route tracing, so spans carry the
// route pattern rather than the raw request path. Tile URLs would otherwise
// explode into one span name per tile address.
type Mux struct {
	wrapped Multiplexer
}

// NewMux wraps a multiplexer with route-tagged tracing.
func NewMux(wrapped Multiplexer) *Mux {
	return &Mux{
		wrapped: wrapped,
	}
}

// Handle registers the handler under the pattern, traced with the pattern's
// path as the span name.
func (mux *Mux) Handle(pattern string, handler http.Handler) {
	mux.wrapped.Handle(pattern, otelhttp.NewHandler(handler, TrimMethod(pattern)))
}

func (mux *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux.wrapped.ServeHTTP(w, r)
}

var methods = map[string]bool{
	http.MethodConnect: true,
	http.MethodDelete:  true,
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodPatch:   true,
	http.MethodPut:     true,
	http.MethodPost:    true,
	http.MethodTrace:   true,
}

// TrimMethod reduces a Go 1.22 mux pattern like "GET /tile/{layer}" to its
// path part. Patterns without a recognized method prefix pass through
// unchanged.
func TrimMethod(pattern string) string {
	method, resource, hasMethod := strings.Cut(pattern, " ")
	if hasMethod && methods[method] {
		return resource
	}
	return pattern
}
