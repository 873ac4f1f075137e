package repotest

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Handler is a http.Handler that returns an error.
type Handler func(ctx context.Context, w http.ResponseWriter, r *http.Request) error

// Middleware defines a signature to chain Handler together.
type Middleware func(handler Handler) Handler

type ctxKey int

const traceKey ctxKey = 1

// app routes requests through a middleware stack.
type app struct {
	mux    *http.ServeMux
	mw     []Middleware
	logger *slog.Logger
}

func newApp(logger *slog.Logger, mw ...Middleware) *app {
	return &app{
		mux:    http.NewServeMux(),
		mw:     mw,
		logger: logger,
	}
}

func (a *app) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// handle registers fn for method and pattern. GET patterns also answer
// HEAD, and an empty method matches every method.
func (a *app) handle(method, pattern string, fn Handler, mw ...Middleware) {
	fn = wrap(mw, fn)
	fn = wrap(a.mw, fn)

	h := func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		traceID := trace.SpanContextFromContext(ctx).TraceID()
		id := traceID.String()
		if !traceID.IsValid() {
			id = uuid.NewString()
		}
		ctx = context.WithValue(ctx, traceKey, id)

		if err := fn(ctx, w, r.WithContext(ctx)); err != nil {
			a.logger.Error("handling request", "path", r.URL.Path, "error", err)
		}
	}

	if method != "" {
		pattern = method + " " + pattern
	}
	a.mux.HandleFunc(pattern, h)
}

// TraceID returns the trace ID of the request carrying ctx.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey).(string)
	return id
}

// wrap middleware around the handler and execute in order given.
func wrap(mw []Middleware, handler Handler) Handler {
	for _, mwFn := range slices.Backward(mw) {
		if mwFn != nil {
			handler = mwFn(handler)
		}
	}

	return handler
}
