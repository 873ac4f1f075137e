package repotest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func logger(log *slog.Logger) Middleware {
	m := func(handler Handler) Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			now := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			log.Debug("request started", "method", r.Method, "path", r.URL.Path, "trace_id", TraceID(ctx))

			err := handler(ctx, rec, r)

			log.Debug("request completed", "method", r.Method, "path", r.URL.Path, "trace_id", TraceID(ctx), "statusCode", rec.status, "since", time.Since(now).String())

			return err
		}

		return h
	}

	return m
}

// errorsMW writes errors coming out of the call chain as JSON. Errors
// other than *Error are reported as 500 without their message.
func errorsMW(log *slog.Logger) Middleware {
	m := func(handler Handler) Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			err := handler(ctx, w, r)
			if err == nil {
				return nil
			}

			var repoErr *Error
			if !errors.As(err, &repoErr) {
				log.Error(err.Error(), "trace_id", TraceID(ctx))
				repoErr = newError(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
			}

			return respondJSON(w, repoErr.Code, repoErr)
		}

		return h
	}

	return m
}

// panics recovers from panics if they occur.
func panics() Middleware {
	m := func(handler Handler) Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("PANIC [%v] TRACE[%s]", rec, string(debug.Stack()))
				}
			}()

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

// basicAuth challenges requests under the private prefixes that do not
// carry the credentials of a known user.
func basicAuth(realm string, users map[string]string, private []string) Middleware {
	m := func(handler Handler) Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			if !isPrivate(r.URL.Path, private) {
				return handler(ctx, w, r)
			}

			user, pass, ok := r.BasicAuth()
			if want, found := users[user]; !ok || !found || want != pass {
				w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", realm))
				return newError(http.StatusUnauthorized, "authentication required")
			}

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

func isPrivate(path string, private []string) bool {
	for _, prefix := range private {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}

	return false
}
