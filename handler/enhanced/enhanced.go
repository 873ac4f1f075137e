// Package enhanced provides a Handler built on the transaction model of
// github.com/gogama/httpx: every response body is buffered in full
// before it is examined. Linking the package registers it with the
// registry under the "httpx" capability.
package enhanced

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/gogama/httpx"
	"github.com/gogama/httpx/request"
	"github.com/gogama/httpx/retry"
	"github.com/gogama/httpx/timeout"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/adamwoolhether/urlfetch/handler"
	"github.com/adamwoolhether/urlfetch/handler/progress"
	"github.com/adamwoolhether/urlfetch/registry"
)

// Capability is the registry name of this handler.
const Capability = "httpx"

func init() {
	registry.RegisterCapability(Capability, func() (handler.Handler, error) {
		return New()
	})
}

// Option is a functional option for configuring a [Handler] via [New].
type Option func(*options) error

type options struct {
	basic          []handler.Option
	attemptTimeout time.Duration
}

// WithHandlerOptions configures the underlying client the same way
// [handler.NewBasic] does.
func WithHandlerOptions(opts ...handler.Option) Option {
	return func(o *options) error {
		o.basic = append(o.basic, opts...)
		return nil
	}
}

// WithAttemptTimeout bounds each request, body read included. Requests
// are unbounded otherwise.
func WithAttemptTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return errors.New("attempt timeout must be positive")
		}
		o.attemptTimeout = d
		return nil
	}
}

// Handler implements handler.Handler on an httpx.Client. Requests are
// never retried.
type Handler struct {
	basic  *handler.Basic
	c      *httpx.Client
	logger *slog.Logger
}

var _ handler.Handler = (*Handler)(nil)

// New builds a Handler.
func New(optFns ...Option) (*Handler, error) {
	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying enhanced option: %w", err)
		}
	}

	basic, err := handler.NewBasic(opts.basic...)
	if err != nil {
		return nil, fmt.Errorf("building base client: %w", err)
	}

	policy := timeout.Infinite
	if opts.attemptTimeout > 0 {
		policy = timeout.Fixed(opts.attemptTimeout)
	}

	h := &Handler{
		basic:  basic,
		logger: basic.Logger(),
	}

	handlers := &httpx.HandlerGroup{}
	handlers.PushBack(httpx.BeforeAttempt, httpx.HandlerFunc(h.beforeAttempt))
	handlers.PushBack(httpx.AfterAttempt, httpx.HandlerFunc(h.afterAttempt))

	h.c = &httpx.Client{
		HTTPDoer:      basic.Client(),
		RetryPolicy:   retry.Never,
		TimeoutPolicy: policy,
		Handlers:      handlers,
	}

	return h, nil
}

// beforeAttempt propagates the trace context of the plan.
func (h *Handler) beforeAttempt(_ httpx.Event, e *request.Execution) {
	hdr := e.Request.Header.Clone()
	otel.GetTextMapPropagator().Inject(e.Plan.Context(), propagation.HeaderCarrier(hdr))
	e.Request.Header = hdr
}

func (h *Handler) afterAttempt(_ httpx.Event, e *request.Execution) {
	h.logger.Debug("request attempt finished",
		"method", e.Plan.Method,
		"url", e.Plan.URL.Redacted(),
		"status", e.StatusCode(),
		"timeout", e.Timeout(),
		"error", e.Err,
	)
}

// Probe implements handler.Handler. Non-HTTP URLs are probed by the
// base handler.
func (h *Handler) Probe(ctx context.Context, u *url.URL, opts ...handler.ProbeOption) handler.URLInfo {
	if !handler.IsHTTP(u) {
		return h.basic.Probe(ctx, u, opts...)
	}

	ctx, cancel := handler.ProbeContext(ctx, opts)
	defer cancel()

	h.basic.InstallAuthenticator(u)
	nu := handler.NormalizeURL(u)
	logger := h.opLogger("probe")

	method := h.basic.RequestMethod()
	e, err := h.do(ctx, method, nu, nil, nil)
	if err != nil {
		handler.LogRequestError(logger, nu, err)
		return handler.Unavailable
	}

	if !handler.CheckStatus(logger, method, nu, e.StatusCode(), e.Response.Status) {
		return handler.Unavailable
	}

	return handler.URLInfo{
		Available:     true,
		ContentLength: e.Response.ContentLength,
		LastModified:  handler.ParseLastModified(e.Header()),
		Charset:       handler.CharsetFromContentType(e.Header().Get("Content-Type")),
	}
}

// OpenStream implements handler.Handler.
func (h *Handler) OpenStream(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	if !handler.IsHTTP(u) {
		return h.basic.OpenStream(ctx, u)
	}

	h.basic.InstallAuthenticator(u)
	nu := handler.NormalizeURL(u)

	e, err := h.get(ctx, h.opLogger("open"), "open", nu)
	if err != nil {
		return nil, err
	}

	body, err := handler.Decode(e.Header().Get("Content-Encoding"), bytes.NewReader(e.Body))
	if err != nil {
		return nil, transferErr("open", nu, err)
	}
	defer body.Close()

	var buf bytes.Buffer
	if _, err := progress.Copy(ctx, &buf, body, handler.UnknownLength, nil); err != nil {
		return nil, transferErr("open", nu, err)
	}

	return io.NopCloser(&buf), nil
}

// Download implements handler.Handler.
func (h *Handler) Download(ctx context.Context, src *url.URL, dest string, l progress.Listener) error {
	return h.DownloadVerified(ctx, src, dest, l)
}

// DownloadVerified is Download with extra checks on the written file.
func (h *Handler) DownloadVerified(ctx context.Context, src *url.URL, dest string, l progress.Listener, opts ...progress.Option) error {
	if !handler.IsHTTP(src) {
		return h.basic.DownloadVerified(ctx, src, dest, l, opts...)
	}

	h.basic.InstallAuthenticator(src)
	nu := handler.NormalizeURL(src)
	logger := h.opLogger("download")

	e, err := h.get(ctx, logger, "download", nu)
	if err != nil {
		return err
	}

	encoding := e.Header().Get("Content-Encoding")
	body, err := handler.Decode(encoding, bytes.NewReader(e.Body))
	if err != nil {
		return transferErr("download", nu, err)
	}
	defer body.Close()

	length := e.Response.ContentLength
	if handler.IsEncoded(encoding) || e.Response.Uncompressed {
		length = handler.UnknownLength
	}

	if _, err := progress.ToFile(ctx, body, length, dest, l, logger, opts...); err != nil {
		return handler.DownloadError(nu, err)
	}

	if lm := handler.ParseLastModified(e.Header()); !lm.IsZero() {
		if err := os.Chtimes(dest, lm, lm); err != nil {
			logger.Debug("setting modification time", "dest", dest, "error", err)
		}
	}

	return nil
}

// Upload implements handler.Handler. The file is read into memory
// before it is sent.
func (h *Handler) Upload(ctx context.Context, src string, dest *url.URL, l progress.Listener) error {
	if !handler.IsHTTP(dest) {
		return &handler.Error{Op: "upload", URL: dest.Redacted(), Err: fmt.Errorf("%w: URL repository only supports HTTP PUT at the moment", handler.ErrUnsupportedOperation)}
	}

	h.basic.InstallAuthenticator(dest)
	nu := handler.NormalizeURL(dest)
	logger := h.opLogger("upload")

	f, err := os.Open(src)
	if err != nil {
		return transferErr("upload", nu, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return transferErr("upload", nu, err)
	}

	var buf bytes.Buffer
	if _, err := progress.Copy(ctx, &buf, f, fi.Size(), l); err != nil {
		return transferErr("upload", nu, err)
	}

	e, err := h.do(ctx, "PUT", nu, buf.Bytes(), map[string]string{"Content-Type": "application/octet-stream"})
	if err != nil {
		handler.LogRequestError(logger, nu, err)
		return transferErr("upload", nu, err)
	}

	if err := handler.ValidatePutStatus(e.StatusCode(), e.Response.Status); err != nil {
		return &handler.Error{Op: "upload", URL: nu.Redacted(), Err: err}
	}

	return nil
}

func (h *Handler) get(ctx context.Context, logger *slog.Logger, op string, u *url.URL) (*request.Execution, error) {
	e, err := h.do(ctx, "GET", u, nil, map[string]string{"Accept-Encoding": "gzip,deflate"})
	if err != nil {
		handler.LogRequestError(logger, u, err)
		// The body is buffered here, so a connection closed before the
		// declared Content-Length fails the read itself.
		if op == "download" && errors.Is(err, io.ErrUnexpectedEOF) && e != nil && e.Response != nil && e.Response.ContentLength >= 0 {
			return nil, handler.DownloadError(u, &progress.Error{
				Err:    progress.ErrContentLengthMismatch,
				Detail: fmt.Sprintf("expected %d bytes, got %d", e.Response.ContentLength, len(e.Body)),
			})
		}
		return nil, transferErr(op, u, err)
	}

	if !handler.CheckStatus(logger, "GET", u, e.StatusCode(), e.Response.Status) {
		return nil, &handler.Error{Op: op, URL: u.Redacted(), Err: handler.NewStatusError(e.StatusCode(), e.Response.Status, e.Body, handler.ErrStatusRejected)}
	}

	return e, nil
}

func (h *Handler) do(ctx context.Context, method string, u *url.URL, body []byte, headers map[string]string) (*request.Execution, error) {
	var planBody any
	if body != nil {
		planBody = body
	}

	p, err := request.NewPlanWithContext(ctx, method, u.String(), planBody)
	if err != nil {
		return nil, fmt.Errorf("creating plan: %w", err)
	}
	for k, v := range headers {
		p.Header.Set(k, v)
	}

	return h.c.Do(p)
}

func (h *Handler) opLogger(op string) *slog.Logger {
	return h.logger.With("op", op, "trace_id", uuid.NewString(), "handler", Capability)
}

func transferErr(op string, u *url.URL, err error) error {
	return &handler.Error{Op: op, URL: u.Redacted(), Err: fmt.Errorf("%w: %w", handler.ErrTransfer, err)}
}
