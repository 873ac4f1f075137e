package repotest

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
)

// Proxy is a forward HTTP proxy requiring Basic proxy authentication.
// It does not tunnel CONNECT requests.
type Proxy struct {
	user      string
	password  string
	logger    *slog.Logger
	transport *http.Transport

	server     *httptest.Server
	challenged atomic.Int32
	forwarded  atomic.Int32
}

// NewProxy starts a Proxy that is closed when tb finishes.
func NewProxy(tb testing.TB, user, password string) *Proxy {
	tb.Helper()

	p := &Proxy{
		user:      user,
		password:  password,
		logger:    slog.New(slog.DiscardHandler),
		transport: &http.Transport{},
	}

	a := newApp(p.logger, logger(p.logger), errorsMW(p.logger), panics())
	a.handle("", "/", p.forward)

	p.server = httptest.NewServer(a)
	tb.Cleanup(func() {
		p.server.Close()
		p.transport.CloseIdleConnections()
	})

	return p
}

// URL returns the proxy URL.
func (p *Proxy) URL() *url.URL {
	u, _ := url.Parse(p.server.URL)
	return u
}

// Challenged reports how many requests were answered with 407.
func (p *Proxy) Challenged() int {
	return int(p.challenged.Load())
}

// Forwarded reports how many requests reached the origin.
func (p *Proxy) Forwarded() int {
	return int(p.forwarded.Load())
}

func (p *Proxy) forward(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if r.Method == http.MethodConnect {
		return newError(http.StatusMethodNotAllowed, "CONNECT is not supported")
	}

	check := &http.Request{Header: http.Header{"Authorization": r.Header.Values("Proxy-Authorization")}}
	user, pass, ok := check.BasicAuth()
	if !ok || user != p.user || pass != p.password {
		p.challenged.Add(1)
		w.Header().Set("Proxy-Authenticate", `Basic realm="proxy"`)
		return newError(http.StatusProxyAuthRequired, "proxy authentication required")
	}

	out := r.Clone(ctx)
	out.RequestURI = ""
	out.Header.Del("Proxy-Authorization")
	out.Header.Del("Proxy-Connection")

	resp, err := p.transport.RoundTrip(out)
	if err != nil {
		return newError(http.StatusBadGateway, err.Error())
	}
	defer resp.Body.Close()
	p.forwarded.Add(1)

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	_, err = io.Copy(w, resp.Body)
	return err
}
