package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/urlfetch/auth"
	"github.com/adamwoolhether/urlfetch/handler/progress"
	"github.com/adamwoolhether/urlfetch/handler/throttle"
)

const tracerName = "github.com/adamwoolhether/urlfetch/handler"

// Basic is the Handler built on net/http. It handles http, https and
// file URLs; uploads are http(s) only.
type Basic struct {
	c             *http.Client
	logger        *slog.Logger
	tracer        trace.Tracer
	userAgent     string
	requestMethod string
	probeTimeout  time.Duration
	authCfg       auth.Config
	authEnabled   bool

	// scoped answers challenges from the store and properties given
	// to this handler; nil when the process-wide defaults apply.
	scoped *auth.Scoped
}

var _ Handler = (*Basic)(nil)

// NewBasic builds a Basic handler. Without options it probes with HEAD,
// takes the proxy from the environment and answers Basic challenges
// from [credentials.Default].
func NewBasic(optFns ...Option) (*Basic, error) {
	opts, err := buildOptions(optFns)
	if err != nil {
		return nil, err
	}

	h := &Basic{
		logger:        slog.Default(),
		tracer:        otel.Tracer(tracerName),
		userAgent:     opts.UserAgent,
		requestMethod: opts.RequestMethod,
		probeTimeout:  opts.ProbeTimeout,
		authEnabled:   !opts.NoAuth,
	}
	if opts.Logger != nil {
		h.logger = opts.Logger
	}
	if opts.Tracer != nil {
		h.tracer = opts.Tracer
	}
	h.authCfg = auth.Config{
		Store:      opts.Store,
		Properties: opts.Properties,
		Logger:     h.logger,
	}
	if h.authEnabled && (opts.Store != nil || opts.Properties != nil) {
		h.scoped = auth.NewScoped(h.authCfg)
	}

	client := &http.Client{}
	if opts.Client != nil {
		cpy := *opts.Client
		client = &cpy
	}
	if opts.Timeout > 0 {
		client.Timeout = opts.Timeout
	}

	var transport http.RoundTripper
	switch {
	case opts.Transport != nil:
		transport = opts.Transport
	case opts.Client != nil && opts.Client.Transport != nil:
		transport = opts.Client.Transport
	default:
		transport = h.defaultTransport()
	}
	transport = userAgent{value: h.userAgent, base: transport}
	if opts.Throttle != nil {
		rt, err := throttle.New(*opts.Throttle, h.logger, transport)
		if err != nil {
			return nil, fmt.Errorf("configuring throttle: %w", err)
		}
		transport = rt
	}
	if h.authEnabled {
		rt := &auth.Transport{Base: transport, Logger: h.logger}
		if h.scoped != nil {
			rt.Authenticator = h.scoped
		}
		transport = rt
	}
	client.Transport = transport
	h.c = client

	return h, nil
}

// defaultTransport leaves Content-Encoding handling to Decode so that
// the advertised length can be checked against the raw body.
func (h *Basic) defaultTransport() http.RoundTripper {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = http.ProxyFromEnvironment
	tr.DisableCompression = true
	switch {
	case h.scoped != nil:
		tr.GetProxyConnectHeader = auth.ProxyConnectHeaderFor(h.scoped)
	case h.authEnabled:
		tr.GetProxyConnectHeader = auth.ProxyConnectHeader
	}

	return tr
}

// Client returns the underlying client. Its transport carries the
// User-Agent, throttle and challenge handling of h.
func (h *Basic) Client() *http.Client {
	return h.c
}

// Logger returns the logger of h.
func (h *Basic) Logger() *slog.Logger {
	return h.logger
}

// RequestMethod returns the probe method.
func (h *Basic) RequestMethod() string {
	return h.requestMethod
}

// Probe implements Handler.
func (h *Basic) Probe(ctx context.Context, u *url.URL, opts ...ProbeOption) URLInfo {
	if h.probeTimeout > 0 {
		opts = append([]ProbeOption{WithProbeTimeout(h.probeTimeout)}, opts...)
	}
	ctx, cancel := ProbeContext(ctx, opts)
	defer cancel()

	h.InstallAuthenticator(u)
	nu := NormalizeURL(u)

	ctx, span, logger := h.begin(ctx, "probe", nu)
	defer span.End()

	var info URLInfo
	switch {
	case nu.Scheme == "file":
		info = h.probeFile(logger, nu)
	case IsHTTP(nu):
		info = h.probeHTTP(ctx, logger, nu)
	default:
		logger.Debug("unsupported scheme", "url", nu.Redacted())
		info = Unavailable
	}

	span.SetAttributes(attribute.Bool("urlfetch.available", info.Available))
	return info
}

func (h *Basic) probeHTTP(ctx context.Context, logger *slog.Logger, u *url.URL) URLInfo {
	req, err := h.newRequest(ctx, h.requestMethod, u, nil)
	if err != nil {
		logger.Error("building request", "url", u.Redacted(), "error", err)
		return Unavailable
	}

	resp, err := h.c.Do(req)
	if err != nil {
		LogRequestError(logger, u, err)
		return Unavailable
	}
	defer h.disconnect(logger, resp)

	if !CheckStatus(logger, req.Method, u, resp.StatusCode, resp.Status) {
		return Unavailable
	}

	return URLInfo{
		Available:     true,
		ContentLength: resp.ContentLength,
		LastModified:  ParseLastModified(resp.Header),
		Charset:       CharsetFromContentType(resp.Header.Get("Content-Type")),
	}
}

func (h *Basic) probeFile(logger *slog.Logger, u *url.URL) URLInfo {
	fi, err := os.Stat(u.Path)
	if err != nil || fi.IsDir() {
		logger.Debug("local resource not available", "path", u.Path, "error", err)
		return Unavailable
	}

	return URLInfo{
		Available:     true,
		ContentLength: fi.Size(),
		LastModified:  fi.ModTime(),
		Charset:       DefaultCharset,
	}
}

// OpenStream implements Handler. The body is decoded and buffered in
// full so the connection is released before OpenStream returns.
func (h *Basic) OpenStream(ctx context.Context, u *url.URL) (rc io.ReadCloser, err error) {
	h.InstallAuthenticator(u)
	nu := NormalizeURL(u)

	ctx, span, logger := h.begin(ctx, "open", nu)
	defer func() { endSpan(span, err) }()

	if nu.Scheme == "file" {
		b, err := os.ReadFile(nu.Path)
		if err != nil {
			return nil, transferErr("open", nu.Redacted(), err)
		}
		return io.NopCloser(bytes.NewReader(b)), nil
	}

	resp, err := h.get(ctx, logger, "open", nu)
	if err != nil {
		return nil, err
	}
	defer h.disconnect(logger, resp)

	body, err := Decode(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		return nil, transferErr("open", nu.Redacted(), err)
	}
	defer body.Close()

	var buf bytes.Buffer
	if _, err := progress.Copy(ctx, &buf, body, UnknownLength, nil); err != nil {
		return nil, transferErr("open", nu.Redacted(), err)
	}

	return io.NopCloser(&buf), nil
}

// Download implements Handler.
func (h *Basic) Download(ctx context.Context, src *url.URL, dest string, l progress.Listener) error {
	return h.DownloadVerified(ctx, src, dest, l)
}

// DownloadVerified is Download with extra checks on the written file,
// such as [progress.WithChecksum].
func (h *Basic) DownloadVerified(ctx context.Context, src *url.URL, dest string, l progress.Listener, opts ...progress.Option) (err error) {
	h.InstallAuthenticator(src)
	nu := NormalizeURL(src)

	ctx, span, logger := h.begin(ctx, "download", nu)
	defer func() { endSpan(span, err) }()

	if nu.Scheme == "file" {
		return h.copyFile(ctx, logger, nu, dest, l, opts)
	}

	resp, err := h.get(ctx, logger, "download", nu)
	if err != nil {
		return err
	}
	defer h.disconnect(logger, resp)

	encoding := resp.Header.Get("Content-Encoding")
	body, err := Decode(encoding, resp.Body)
	if err != nil {
		return transferErr("download", nu.Redacted(), err)
	}
	defer body.Close()

	// The advertised length describes the encoded body.
	length := resp.ContentLength
	if IsEncoded(encoding) || resp.Uncompressed {
		length = UnknownLength
	}

	n, err := progress.ToFile(ctx, body, length, dest, l, logger, opts...)
	if err != nil {
		return DownloadError(nu, err)
	}

	if lm := ParseLastModified(resp.Header); !lm.IsZero() {
		if err := os.Chtimes(dest, lm, lm); err != nil {
			logger.Debug("setting modification time", "dest", dest, "error", err)
		}
	}

	span.SetAttributes(attribute.Int64("urlfetch.bytes", n))
	logger.Debug("download complete", "url", nu.Redacted(), "dest", dest, "bytes", n)

	return nil
}

func (h *Basic) copyFile(ctx context.Context, logger *slog.Logger, u *url.URL, dest string, l progress.Listener, opts []progress.Option) error {
	f, err := os.Open(u.Path)
	if err != nil {
		return transferErr("download", u.Redacted(), err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return transferErr("download", u.Redacted(), err)
	}

	if _, err := progress.ToFile(ctx, f, fi.Size(), dest, l, logger, opts...); err != nil {
		return transferErr("download", u.Redacted(), err)
	}

	if err := os.Chtimes(dest, fi.ModTime(), fi.ModTime()); err != nil {
		logger.Debug("setting modification time", "dest", dest, "error", err)
	}

	return nil
}

// Upload implements Handler.
func (h *Basic) Upload(ctx context.Context, src string, dest *url.URL, l progress.Listener) (err error) {
	if !IsHTTP(dest) {
		return &Error{Op: "upload", URL: dest.Redacted(), Err: fmt.Errorf("%w: URL repository only supports HTTP PUT at the moment", ErrUnsupportedOperation)}
	}

	h.InstallAuthenticator(dest)
	nu := NormalizeURL(dest)

	ctx, span, logger := h.begin(ctx, "upload", nu)
	defer func() { endSpan(span, err) }()

	f, err := os.Open(src)
	if err != nil {
		return transferErr("upload", nu.Redacted(), err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return transferErr("upload", nu.Redacted(), err)
	}
	size := fi.Size()

	req, err := h.newRequest(ctx, http.MethodPut, nu, nil)
	if err != nil {
		return transferErr("upload", nu.Redacted(), err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = size

	// An empty file must go out as NoBody to keep Content-Length: 0.
	body := progress.NewBody(size, l)
	if size == 0 {
		req.Body = http.NoBody
		req.GetBody = func() (io.ReadCloser, error) { return http.NoBody, nil }
	} else {
		req.Body = io.NopCloser(body.Attempt(ctx, f))
		// A challenged PUT is resent from a fresh handle.
		req.GetBody = func() (io.ReadCloser, error) {
			rf, err := os.Open(src)
			if err != nil {
				return nil, err
			}
			return struct {
				io.Reader
				io.Closer
			}{body.Attempt(ctx, rf), rf}, nil
		}
	}

	resp, err := h.c.Do(req)
	if err != nil {
		LogRequestError(logger, nu, err)
		return transferErr("upload", nu.Redacted(), err)
	}
	defer h.disconnect(logger, resp)

	if err := ValidatePutStatus(resp.StatusCode, resp.Status); err != nil {
		return &Error{Op: "upload", URL: nu.Redacted(), Err: err}
	}

	body.Finish()
	logger.Debug("upload complete", "src", src, "url", nu.Redacted(), "bytes", size, "status", resp.StatusCode)

	return nil
}

// get issues a GET that accepts compressed bodies and rejects any
// status other than 200.
func (h *Basic) get(ctx context.Context, logger *slog.Logger, op string, u *url.URL) (*http.Response, error) {
	req, err := h.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, transferErr(op, u.Redacted(), err)
	}
	req.Header.Set("Accept-Encoding", "gzip,deflate")

	resp, err := h.c.Do(req)
	if err != nil {
		LogRequestError(logger, u, err)
		return nil, transferErr(op, u.Redacted(), err)
	}

	if !CheckStatus(logger, req.Method, u, resp.StatusCode, resp.Status) {
		serr := newStatusError(resp, ErrStatusRejected)
		h.disconnect(logger, resp)
		return nil, &Error{Op: op, URL: u.Redacted(), Err: serr}
	}

	return resp, nil
}

func (h *Basic) newRequest(ctx context.Context, method string, u *url.URL, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("User-Agent", h.userAgent)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	return req, nil
}

// disconnect releases the connection of resp. Bodies of non-HEAD
// responses are drained first so the connection can be reused.
func (h *Basic) disconnect(logger *slog.Logger, resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}

	if resp.Request == nil || resp.Request.Method != http.MethodHead {
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			logger.Debug("draining response body", "error", err)
		}
	}

	if err := resp.Body.Close(); err != nil {
		logger.Debug("closing response body", "error", err)
	}
}

// InstallAuthenticator makes the credential-resolving authenticator
// process-wide before a transfer to an http(s) URL. The first install
// in a process fixes the store and properties of the shared Delegate;
// handlers built with [WithCredentials] or [WithProperties] consult
// their own first.
func (h *Basic) InstallAuthenticator(u *url.URL) {
	if h.authEnabled && IsHTTP(u) {
		auth.Install(h.authCfg)
	}
}

// begin starts the span of op and returns a logger carrying its trace
// id, or a fresh uuid when no tracer provider is set.
func (h *Basic) begin(ctx context.Context, op string, u *url.URL) (context.Context, trace.Span, *slog.Logger) {
	ctx, span := h.tracer.Start(ctx, "urlfetch."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("url.full", u.Redacted()),
		attribute.String("url.scheme", u.Scheme),
	)

	traceID := span.SpanContext().TraceID()
	id := traceID.String()
	if !traceID.IsValid() {
		id = uuid.NewString()
	}

	return ctx, span, h.logger.With("op", op, "trace_id", id)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// LogRequestError logs a failed request, with a proxy hint for unknown
// hosts.
func LogRequestError(logger *slog.Logger, u *url.URL, err error) {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		logger.Warn("host not found; if a proxy is required, set HTTPS_PROXY or HTTP_PROXY", "host", u.Hostname(), "url", u.Redacted())
		return
	}

	logger.Error("server access error", "url", u.Redacted(), "error", err)
}

// ParseLastModified returns the Last-Modified time of h, or the zero
// time when absent or malformed.
func ParseLastModified(h http.Header) time.Time {
	v := h.Get("Last-Modified")
	if v == "" {
		return time.Time{}
	}

	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}
	}

	return t
}
