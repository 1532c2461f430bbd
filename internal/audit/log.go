// Package audit accumulates one record per request and writes it as a
// single structured log line when the request completes. Handlers add what
// they know (tile address, upstream queried, failure detail) as the request
// passes through them.
package audit

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level is the level audit records are written at. They are operational
// records rather than diagnostics, so they stay visible at the default
// filter.
const Level = zerolog.InfoLevel

// Entry is the audit record for one request. Fields are exported so
// handlers can set them directly via Log.
type Entry struct {
	RequestID string
	Method    string
	Path      string
	Status    int
	SourceIP  string
	UserAgent string

	// tile request details, set by the tile handler
	Layer      string
	Zoom       int
	X          int
	Y          int
	Date       string
	TileSource string

	// upstream query details, set by the weather and river handlers
	Provider       string
	Location       string
	UpstreamStatus int

	Error string
}

type contextKey struct{}

// Context returns a context carrying an audit entry, creating one when the
// context has none, along with the entry itself.
func Context(ctx context.Context) (context.Context, *Entry) {
	if entry, ok := ctx.Value(contextKey{}).(*Entry); ok {
		return ctx, entry
	}

	entry := &Entry{}
	return context.WithValue(ctx, contextKey{}, entry), entry
}

// Log returns the audit entry carried by the context. A context without one
// yields a detached entry whose fields are discarded, so callers never need
// to nil-check.
func Log(ctx context.Context) *Entry {
	if entry, ok := ctx.Value(contextKey{}).(*Entry); ok {
		return entry
	}
	return &Entry{}
}

// Middleware attaches an audit entry to each request's context and writes
// it when the request completes. A panic in the handler chain is recorded
// on the entry, written, and re-raised.
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

// Begin populates the entry from the inbound request. Status starts at 200:
// a handler that never calls WriteHeader has implicitly succeeded.
func (e *Entry) Begin(r *http.Request) {
	e.RequestID = uuid.NewString()
	e.Method = r.Method
	e.Path = r.URL.Path
	e.Status = http.StatusOK
	e.SourceIP = sourceIP(r)
	e.UserAgent = r.UserAgent()
}

// End returns the function that writes the entry, for use with defer. Run
// inside the deferred call it observes an in-flight panic, records it, and
// re-raises after the entry is written so no request dies unlogged.
func (e *Entry) End(ctx context.Context) func() {
	return func() {
		if cause := recover(); cause != nil {
			if e.Error != "" {
				e.Error = fmt.Sprintf("%s; panic: %v", e.Error, cause)
			} else {
				e.Error = fmt.Sprintf("panic: %v", cause)
			}

			e.write(ctx)
			panic(cause)
		}

		e.write(ctx)
	}
}

func (e *Entry) write(ctx context.Context) {
	log.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg("audit")
}

// MarshalZerologObject writes the entry as nested dicts: request details
// always, tile and query details only when the request touched them.
func (e *Entry) MarshalZerologObject(ev *zerolog.Event) {
	ev.Dict("request", zerolog.Dict().
		Str("requestID", e.RequestID).
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent))

	if e.Layer != "" {
		// zero is a valid tile coordinate, so z/x/y always accompany the
		// layer rather than being elided
		tile := zerolog.Dict().
			Str("layer", e.Layer).
			Int("z", e.Zoom).
			Int("x", e.X).
			Int("y", e.Y).
			Str("date", e.Date)
		if e.TileSource != "" {
			tile.Str("source", e.TileSource)
		}
		ev.Dict("tile", tile)
	}

	query := NewOptionalEvent(zerolog.Dict())
	query.Str("provider", e.Provider)
	query.Str("location", e.Location)
	query.Int("upstreamStatus", e.UpstreamStatus)
	query.Set(ev, "query")

	if e.Error != "" {
		ev.Str("error", e.Error)
	}
}

// statusRecorder keeps the handler's response status on the entry.
type statusRecorder struct {
	http.ResponseWriter
	entry *Entry
}

func (w *statusRecorder) WriteHeader(code int) {
	w.entry.Status = code
	w.ResponseWriter.WriteHeader(code)
}

func sourceIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if trimmed := strings.TrimSpace(first); trimmed != "" {
			return trimmed
		}
	}
	return r.RemoteAddr
}
