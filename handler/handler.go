package handler

import (
	"context"
	"io"
	"net/url"
	"time"

	"github.com/adamwoolhether/urlfetch/handler/progress"
)

// Version is reported in the default User-Agent.
const Version = "1.0.0"

// DefaultUserAgent is sent when no User-Agent is configured.
const DefaultUserAgent = "urlfetch/" + Version

// UnknownLength is the content length of a resource that does not
// advertise one.
const UnknownLength int64 = -1

// Handler transfers resources identified by URLs.
type Handler interface {
	// Probe fetches metadata about u. It never fails: any problem is
	// logged and reported as Unavailable.
	Probe(ctx context.Context, u *url.URL, opts ...ProbeOption) URLInfo

	// OpenStream reads the whole decoded body of u into memory.
	OpenStream(ctx context.Context, u *url.URL) (io.ReadCloser, error)

	// Download writes the decoded body of src to dest.
	Download(ctx context.Context, src *url.URL, dest string, l progress.Listener) error

	// Upload sends the file at src to dest with an HTTP PUT.
	Upload(ctx context.Context, src string, dest *url.URL, l progress.Listener) error
}

// URLInfo is the result of a probe.
type URLInfo struct {
	Available     bool
	ContentLength int64
	LastModified  time.Time
	Charset       string
}

// Unavailable is returned by probes that failed.
var Unavailable = URLInfo{}

// ProbeOption defines optional settings for a probe.
type ProbeOption func(*probeOpts)

type probeOpts struct {
	timeout time.Duration
}

// WithProbeTimeout bounds the whole probe, connection included.
func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(o *probeOpts) {
		o.timeout = d
	}
}

// ProbeContext applies opts to ctx. The returned cancel func must be
// called.
func ProbeContext(ctx context.Context, opts []ProbeOption) (context.Context, context.CancelFunc) {
	var po probeOpts
	for _, opt := range opts {
		opt(&po)
	}

	if po.timeout > 0 {
		return context.WithTimeout(ctx, po.timeout)
	}

	return ctx, func() {}
}

// IsReachable reports whether a probe of u succeeds.
func IsReachable(ctx context.Context, h Handler, u *url.URL, opts ...ProbeOption) bool {
	return h.Probe(ctx, u, opts...).Available
}

// ContentLength probes u and returns its advertised length, 0 when the
// probe fails.
func ContentLength(ctx context.Context, h Handler, u *url.URL, opts ...ProbeOption) int64 {
	return h.Probe(ctx, u, opts...).ContentLength
}

// LastModified probes u and returns its modification time, the zero
// time when unknown.
func LastModified(ctx context.Context, h Handler, u *url.URL, opts ...ProbeOption) time.Time {
	return h.Probe(ctx, u, opts...).LastModified
}

// IsHTTP reports whether u uses the http or https scheme.
func IsHTTP(u *url.URL) bool {
	return u.Scheme == "http" || u.Scheme == "https"
}
