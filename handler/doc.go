// Package handler probes, reads, downloads and uploads resources
// identified by URLs.
//
// [Basic] is built on net/http and understands http, https and file
// URLs. Every HTTP operation first installs the process-wide
// authenticator from package auth, so Basic challenges are answered
// from the configured credentials store and proxy properties.
//
// Probes never fail: problems are logged and reported as
// [Unavailable]. The other operations return a [*Error] naming the URL,
// which wraps one of the sentinel errors:
//
//	err := h.Download(ctx, src, "lib/app.jar", nil)
//	switch {
//	case errors.Is(err, handler.ErrAccessRefused):
//		// check credentials
//	case errors.Is(err, handler.ErrSizeMismatch):
//		// truncated transfer, retry
//	}
package handler
