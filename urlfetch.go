// Package urlfetch probes, downloads and uploads resources identified
// by URLs through a process-wide default handler.
//
// Credentials added with AddCredentials answer HTTP Basic challenges
// from servers; proxy credentials come from the http.proxyUser and
// http.proxyPassword properties (see package auth).
package urlfetch

import (
	"context"
	"io"
	"net/url"
	"time"

	"github.com/adamwoolhether/urlfetch/credentials"
	"github.com/adamwoolhether/urlfetch/handler"
	"github.com/adamwoolhether/urlfetch/handler/progress"
	"github.com/adamwoolhether/urlfetch/registry"
)

// NewHandler instantiates a new basic handler with the provided options.
func NewHandler(opts ...handler.Option) (handler.Handler, error) {
	return handler.NewBasic(opts...)
}

// DefaultHandler returns the handler used by the package functions.
func DefaultHandler() handler.Handler {
	return registry.Default()
}

// SetDefaultHandler replaces the handler used by the package functions.
func SetDefaultHandler(h handler.Handler) {
	registry.SetDefault(h)
}

// Probe returns metadata about u. Failures are logged and reported as
// handler.Unavailable.
func Probe(ctx context.Context, u *url.URL, opts ...handler.ProbeOption) handler.URLInfo {
	return DefaultHandler().Probe(ctx, u, opts...)
}

// IsReachable reports whether u can be probed within timeout. A zero
// timeout leaves the probe unbounded.
func IsReachable(ctx context.Context, u *url.URL, timeout time.Duration) bool {
	return handler.IsReachable(ctx, DefaultHandler(), u, handler.WithProbeTimeout(timeout))
}

// OpenStream returns the decoded body of u.
func OpenStream(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	return DefaultHandler().OpenStream(ctx, u)
}

// Download writes the decoded body of src to dest.
func Download(ctx context.Context, src *url.URL, dest string, l progress.Listener) error {
	return DefaultHandler().Download(ctx, src, dest, l)
}

// Upload sends the file at src to dest with an HTTP PUT.
func Upload(ctx context.Context, src string, dest *url.URL, l progress.Listener) error {
	return DefaultHandler().Upload(ctx, src, dest, l)
}

// AddCredentials stores credentials for a realm on a host in the
// process-wide store. An empty userName is ignored.
func AddCredentials(realm, host, userName, password string) {
	credentials.Default().Add(realm, host, userName, password)
}

// HasCredentials reports whether the process-wide store holds
// credentials for host in any realm.
func HasCredentials(host string) bool {
	return credentials.Default().HasCredentials(host)
}
